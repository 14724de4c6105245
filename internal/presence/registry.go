// Package presence tracks which users currently hold live connections.
package presence

import (
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

type entry struct {
	user     types.UserSummary
	conns    map[string]struct{}
	lastSeen time.Time
}

// Registry maps users to their open connections. A user is online while at
// least one connection is registered. Registry is not safe for concurrent
// use; the chat server mutates it from a single goroutine.
type Registry struct {
	users map[string]*entry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*entry),
		now:   time.Now,
	}
}

// Register records connId as a connection of the user and reports whether
// this is the user's first connection.
func (r *Registry) Register(userId, connId string, user types.UserSummary) bool {
	e, ok := r.users[userId]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		r.users[userId] = e
	}

	e.user = user
	e.conns[connId] = struct{}{}
	e.lastSeen = r.now().UTC()

	return !ok
}

// Unregister removes connId and reports whether it was the user's last
// connection. Unknown users or connections are ignored.
func (r *Registry) Unregister(userId, connId string) bool {
	e, ok := r.users[userId]
	if !ok {
		return false
	}

	if _, ok := e.conns[connId]; !ok {
		return false
	}

	delete(e.conns, connId)
	if len(e.conns) > 0 {
		return false
	}

	delete(r.users, userId)
	return true
}

// Remove drops the user and all of their connections.
func (r *Registry) Remove(userId string) {
	delete(r.users, userId)
}

func (r *Registry) IsOnline(userId string) bool {
	_, ok := r.users[userId]
	return ok
}

func (r *Registry) Connections(userId string) []string {
	e, ok := r.users[userId]
	if !ok {
		return nil
	}

	conns := make([]string, 0, len(e.conns))
	for id := range e.conns {
		conns = append(conns, id)
	}
	return conns
}

// Snapshot returns the online subset of userIds in the order given.
func (r *Registry) Snapshot(userIds []string) []types.OnlineUser {
	online := make([]types.OnlineUser, 0, len(userIds))
	for _, id := range userIds {
		e, ok := r.users[id]
		if !ok {
			continue
		}
		online = append(online, types.OnlineUser{
			UserId:   id,
			User:     e.user,
			LastSeen: e.lastSeen,
		})
	}
	return online
}

func (r *Registry) Count() int {
	return len(r.users)
}

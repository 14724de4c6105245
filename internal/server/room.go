package server

import (
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/rs/zerolog"
)

// Room is the set of connections subscribed to one conversation's
// broadcasts. Presence is addressed by participation instead, see
// membership. Rooms are created on first join and dropped when empty; only
// the chat server goroutine touches them.
type Room struct {
	conversationId string
	clients        map[*Client]struct{}
	log            zerolog.Logger
}

func newRoom(conversationId string, logger zerolog.Logger) *Room {
	return &Room{
		conversationId: conversationId,
		clients:        make(map[*Client]struct{}),
		log:            logger.With().Str("conversation_id", conversationId).Logger(),
	}
}

// addClient subscribes c and reports whether it was newly added.
func (r *Room) addClient(c *Client) bool {
	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = struct{}{}
	c.rooms[r.conversationId] = struct{}{}

	r.log.Debug().Str("conn_id", c.id).Msg("client joined room")
	return true
}

// removeClient unsubscribes c and reports whether it was a member.
func (r *Room) removeClient(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	delete(c.rooms, r.conversationId)

	r.log.Debug().Str("conn_id", c.id).Msg("client left room")
	return true
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// broadcast queues ev on every member except the connection excludeConn.
func (r *Room) broadcast(ev *events.ServerEvent, excludeConn string) {
	for c := range r.clients {
		if excludeConn != "" && c.id == excludeConn {
			continue
		}
		c.queueMessage(ev)
	}
}

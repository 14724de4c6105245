// Package chat implements conversation and message operations shared by the
// websocket session handler and the REST API. Operations validate and
// authorize against the store, mutate it, and return the dispatches that the
// chat server must apply so that both paths broadcast identically.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultEditWindow   = 15 * time.Minute
	DefaultDeleteWindow = time.Hour

	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Actor is the authenticated user performing an operation. ConnId is empty
// for requests that did not arrive over a websocket.
type Actor struct {
	User   types.UserSummary
	ConnId string
}

func (a Actor) UserId() string { return a.User.Id }

type Options struct {
	EditWindow   time.Duration
	DeleteWindow time.Duration
}

type Service struct {
	db           database.ChatRepository
	log          zerolog.Logger
	now          func() time.Time
	editWindow   time.Duration
	deleteWindow time.Duration
}

func NewService(logger zerolog.Logger, db database.ChatRepository, opts Options) *Service {
	if opts.EditWindow <= 0 {
		opts.EditWindow = DefaultEditWindow
	}
	if opts.DeleteWindow <= 0 {
		opts.DeleteWindow = DefaultDeleteWindow
	}

	return &Service{
		db:           db,
		log:          logger.With().Str("component", "chat").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
		editWindow:   opts.EditWindow,
		deleteWindow: opts.DeleteWindow,
	}
}

func validId(id, what string) error {
	if id == "" {
		return ErrValidation("%s id is required", what)
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrValidation("invalid %s id format", what)
	}
	return nil
}

// conversationFor loads a conversation the user participates in.
func (s *Service) conversationFor(ctx context.Context, userId, conversationId string) (database.Conversation, error) {
	if err := validId(conversationId, "conversation"); err != nil {
		return database.Conversation{}, err
	}

	conv, err := s.db.GetConversation(ctx, conversationId)
	if err != nil {
		return database.Conversation{}, storeErr(err, "conversation")
	}

	if !conv.HasParticipant(userId) {
		return database.Conversation{}, ErrAuthorization("not a participant of this conversation")
	}

	return conv, nil
}

// messageFor loads a message in a conversation the user participates in.
func (s *Service) messageFor(ctx context.Context, userId, messageId string) (database.Message, database.Conversation, error) {
	if err := validId(messageId, "message"); err != nil {
		return database.Message{}, database.Conversation{}, err
	}

	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		return database.Message{}, database.Conversation{}, storeErr(err, "message")
	}

	conv, err := s.db.GetConversation(ctx, msg.ConversationId)
	if err != nil {
		return database.Message{}, database.Conversation{}, storeErr(err, "conversation")
	}

	if !conv.HasParticipant(userId) {
		return database.Message{}, database.Conversation{}, ErrAuthorization("not a participant of this conversation")
	}

	return msg, conv, nil
}

// ConversationIds lists the rooms a connecting user is subscribed to.
func (s *Service) ConversationIds(ctx context.Context, userId string) ([]string, error) {
	ids, err := s.db.ListConversationIds(ctx, userId)
	if err != nil {
		return nil, ErrInternal(err)
	}
	return ids, nil
}

// JoinRoom subscribes the actor's connection to a conversation it
// participates in.
func (s *Service) JoinRoom(ctx context.Context, actor Actor, conversationId string) ([]Dispatch, error) {
	if _, err := s.conversationFor(ctx, actor.UserId(), conversationId); err != nil {
		return nil, err
	}

	return []Dispatch{
		{Scope: JoinConn, ConnId: actor.ConnId, ConversationId: conversationId},
		toConn(actor.ConnId, events.NewJoinedRoom(conversationId)),
		toRoom(conversationId, events.NewUserJoinedRoom(actor.User, conversationId), actor.ConnId),
	}, nil
}

// LeaveRoom unsubscribes the actor's connection. Leaving a room that was
// never joined succeeds.
func (s *Service) LeaveRoom(ctx context.Context, actor Actor, conversationId string) ([]Dispatch, error) {
	if conversationId == "" {
		return nil, ErrValidation("conversation id is required")
	}

	return []Dispatch{
		{Scope: LeaveConn, ConnId: actor.ConnId, ConversationId: conversationId},
		toConn(actor.ConnId, events.NewLeftRoom(conversationId)),
		toRoom(conversationId, events.NewUserLeftRoom(actor.User, conversationId), actor.ConnId),
	}, nil
}

func (s *Service) Typing(ctx context.Context, actor Actor, conversationId string, isTyping bool) ([]Dispatch, error) {
	if _, err := s.conversationFor(ctx, actor.UserId(), conversationId); err != nil {
		return nil, err
	}

	return []Dispatch{
		toRoom(conversationId, events.NewUserTyping(actor.User, conversationId, isTyping), actor.ConnId),
	}, nil
}

func (s *Service) OnlineUsers(ctx context.Context, actor Actor, conversationId string) ([]Dispatch, error) {
	conv, err := s.conversationFor(ctx, actor.UserId(), conversationId)
	if err != nil {
		return nil, err
	}

	return []Dispatch{{
		Scope:          OnlineUsers,
		ConnId:         actor.ConnId,
		ConversationId: conversationId,
		UserIds:        conv.ParticipantIds(),
	}}, nil
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return limit, (page - 1) * limit
}

func others(ids []string, userId string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userId {
			out = append(out, id)
		}
	}
	return out
}

func trimContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrValidation("message content cannot be empty")
	}
	return content, nil
}

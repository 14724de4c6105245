package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ChatRepository is the conversation and message store shared by the
// realtime layer and the REST API.
type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUsersByIds(ctx context.Context, ids []string) ([]User, error)

	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (Conversation, error)
	ListConversationIds(ctx context.Context, userId string) ([]string, error)
	ListConversations(ctx context.Context, userId string, limit, offset int) ([]Conversation, error)
	AddParticipant(ctx context.Context, conversationId, userId string, at time.Time) error
	RemoveParticipant(ctx context.Context, conversationId, userId string, at time.Time) error

	// CreateMessage stores the message and points the conversation's last
	// message at it in the same transaction.
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListMessages returns a page newest first. Messages the viewer deleted
	// for themselves are omitted.
	ListMessages(ctx context.Context, conversationId, viewerId string, limit, offset int) ([]Message, error)
	// MarkMessageRead records a read receipt for userId. changed is false when
	// the receipt already existed.
	MarkMessageRead(ctx context.Context, messageId, userId string, at time.Time) (msg Message, changed bool, err error)
	MarkConversationRead(ctx context.Context, conversationId, userId string, at time.Time) (int, error)
	UpdateMessageContent(ctx context.Context, messageId, content string, at time.Time) (Message, error)
	SoftDeleteMessage(ctx context.Context, messageId string, at time.Time) (Message, error)
	// DeleteMessage removes the record and returns the conversation's last
	// message pointer after the deletion.
	DeleteMessage(ctx context.Context, messageId string) (*string, error)
	CountUnread(ctx context.Context, userId, conversationId string) (int, error)
}

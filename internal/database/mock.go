package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUsersByIds(ctx context.Context, ids []string) ([]User, error) {
	args := m.Called(ids)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) FindDirectConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	args := m.Called(userA, userB)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) ListConversationIds(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(userId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListConversations(ctx context.Context, userId string, limit, offset int) ([]Conversation, error) {
	args := m.Called(userId, limit, offset)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	args := m.Called(conversationId, userId, at)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	args := m.Called(conversationId, userId, at)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, conversationId, viewerId string, limit, offset int) ([]Message, error) {
	args := m.Called(conversationId, viewerId, limit, offset)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) MarkMessageRead(ctx context.Context, messageId, userId string, at time.Time) (Message, bool, error) {
	args := m.Called(messageId, userId, at)
	return args.Get(0).(Message), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) MarkConversationRead(ctx context.Context, conversationId, userId string, at time.Time) (int, error) {
	args := m.Called(conversationId, userId, at)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string, at time.Time) (Message, error) {
	args := m.Called(messageId, content, at)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) SoftDeleteMessage(ctx context.Context, messageId string, at time.Time) (Message, error) {
	args := m.Called(messageId, at)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, messageId string) (*string, error) {
	args := m.Called(messageId)
	if id, ok := args.Get(0).(*string); ok {
		return id, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CountUnread(ctx context.Context, userId, conversationId string) (int, error) {
	args := m.Called(userId, conversationId)
	return args.Int(0), args.Error(1)
}

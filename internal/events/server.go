package events

import (
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

var serverPayloads = map[string]decoder{}

func init() {
	register[Connected](serverPayloads)
	register[JoinedRoom](serverPayloads)
	register[LeftRoom](serverPayloads)
	register[UserJoinedRoom](serverPayloads)
	register[UserLeftRoom](serverPayloads)
	register[UserTyping](serverPayloads)
	register[ReceiveMessage](serverPayloads)
	register[MessageDelivered](serverPayloads)
	register[MessageRead](serverPayloads)
	register[AllMessagesRead](serverPayloads)
	register[MessageEdited](serverPayloads)
	register[MessageDeleted](serverPayloads)
	register[MessageDeletedForEveryone](serverPayloads)
	register[UserOnline](serverPayloads)
	register[UserOffline](serverPayloads)
	register[OnlineUsers](serverPayloads)
	register[NewMessageNotification](serverPayloads)
	register[ConversationCreated](serverPayloads)
	register[ParticipantAdded](serverPayloads)
	register[ParticipantRemoved](serverPayloads)
	register[Error](serverPayloads)
}

type Connected struct {
	UserId    string            `json:"userId"`
	User      types.UserSummary `json:"user"`
	Timestamp time.Time         `json:"timestamp"`
}

type JoinedRoom struct {
	ConversationId string `json:"conversationId"`
}

type LeftRoom struct {
	ConversationId string `json:"conversationId"`
}

type UserJoinedRoom struct {
	UserId         string            `json:"userId"`
	User           types.UserSummary `json:"user"`
	ConversationId string            `json:"conversationId"`
	Timestamp      time.Time         `json:"timestamp"`
}

type UserLeftRoom struct {
	UserId         string            `json:"userId"`
	User           types.UserSummary `json:"user"`
	ConversationId string            `json:"conversationId"`
	Timestamp      time.Time         `json:"timestamp"`
}

type UserTyping struct {
	UserId         string            `json:"userId"`
	User           types.UserSummary `json:"user"`
	ConversationId string            `json:"conversationId"`
	IsTyping       bool              `json:"isTyping"`
	Timestamp      time.Time         `json:"timestamp"`
}

type ReceiveMessage struct {
	types.Message
	ClientId string `json:"clientId,omitempty"`
}

type MessageDelivered struct {
	MessageId      string    `json:"messageId"`
	ConversationId string    `json:"conversationId"`
	ClientId       string    `json:"clientId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageRead announces that ReadBy read a message. Receipts is the
// message's full receipt set after the read.
type MessageRead struct {
	MessageId      string              `json:"messageId"`
	ConversationId string              `json:"conversationId"`
	ReadBy         string              `json:"readBy"`
	Reader         types.UserSummary   `json:"reader"`
	Receipts       []types.ReadReceipt `json:"receipts"`
	ReadAt         time.Time           `json:"readAt"`
}

type AllMessagesRead struct {
	ConversationId string    `json:"conversationId"`
	UserId         string    `json:"userId"`
	Count          int       `json:"count"`
	ReadAt         time.Time `json:"readAt"`
}

type MessageEdited struct {
	types.Message
}

type MessageDeleted struct {
	MessageId      string    `json:"messageId"`
	ConversationId string    `json:"conversationId"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type MessageDeletedForEveryone struct {
	MessageId      string  `json:"messageId"`
	ConversationId string  `json:"conversationId"`
	LastMessageId  *string `json:"lastMessageId"`
}

type UserOnline struct {
	UserId    string            `json:"userId"`
	User      types.UserSummary `json:"user"`
	Timestamp time.Time         `json:"timestamp"`
}

type UserOffline struct {
	UserId   string            `json:"userId"`
	User     types.UserSummary `json:"user"`
	LastSeen time.Time         `json:"lastSeen"`
}

type OnlineUsers struct {
	ConversationId string             `json:"conversationId"`
	OnlineUsers    []types.OnlineUser `json:"onlineUsers"`
}

type NewMessageNotification struct {
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	SenderName     string    `json:"senderName"`
	Preview        string    `json:"preview"`
	Timestamp      time.Time `json:"timestamp"`
}

type ConversationCreated struct {
	types.Conversation
}

type ParticipantAdded struct {
	ConversationId string            `json:"conversationId"`
	UserId         string            `json:"userId"`
	User           types.UserSummary `json:"user"`
	AddedBy        string            `json:"addedBy"`
}

type ParticipantRemoved struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	RemovedBy      string `json:"removedBy"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (Connected) EventName() string                 { return "connected" }
func (JoinedRoom) EventName() string                { return "joinedRoom" }
func (LeftRoom) EventName() string                  { return "leftRoom" }
func (UserJoinedRoom) EventName() string            { return "userJoinedRoom" }
func (UserLeftRoom) EventName() string              { return "userLeftRoom" }
func (UserTyping) EventName() string                { return "userTyping" }
func (ReceiveMessage) EventName() string            { return "receiveMessage" }
func (MessageDelivered) EventName() string          { return "messageDelivered" }
func (MessageRead) EventName() string               { return "messageRead" }
func (AllMessagesRead) EventName() string           { return "allMessagesRead" }
func (MessageEdited) EventName() string             { return "messageEdited" }
func (MessageDeleted) EventName() string            { return "messageDeleted" }
func (MessageDeletedForEveryone) EventName() string { return "messageDeletedForEveryone" }
func (UserOnline) EventName() string                { return "userOnline" }
func (UserOffline) EventName() string               { return "userOffline" }
func (OnlineUsers) EventName() string               { return "onlineUsers" }
func (NewMessageNotification) EventName() string    { return "newMessageNotification" }
func (ConversationCreated) EventName() string       { return "conversationCreated" }
func (ParticipantAdded) EventName() string          { return "participantAdded" }
func (ParticipantRemoved) EventName() string        { return "participantRemoved" }
func (Error) EventName() string                     { return "error" }

func newServerEvent(ts time.Time, p Payload) *ServerEvent {
	return &ServerEvent{Timestamp: ts, Payload: p}
}

func NewConnected(user types.UserSummary) *ServerEvent {
	now := Now()
	return newServerEvent(now, Connected{UserId: user.Id, User: user, Timestamp: now})
}

func NewJoinedRoom(conversationId string) *ServerEvent {
	return newServerEvent(Now(), JoinedRoom{ConversationId: conversationId})
}

func NewLeftRoom(conversationId string) *ServerEvent {
	return newServerEvent(Now(), LeftRoom{ConversationId: conversationId})
}

func NewUserJoinedRoom(user types.UserSummary, conversationId string) *ServerEvent {
	now := Now()
	return newServerEvent(now, UserJoinedRoom{
		UserId:         user.Id,
		User:           user,
		ConversationId: conversationId,
		Timestamp:      now,
	})
}

func NewUserLeftRoom(user types.UserSummary, conversationId string) *ServerEvent {
	now := Now()
	return newServerEvent(now, UserLeftRoom{
		UserId:         user.Id,
		User:           user,
		ConversationId: conversationId,
		Timestamp:      now,
	})
}

func NewUserTyping(user types.UserSummary, conversationId string, isTyping bool) *ServerEvent {
	now := Now()
	return newServerEvent(now, UserTyping{
		UserId:         user.Id,
		User:           user,
		ConversationId: conversationId,
		IsTyping:       isTyping,
		Timestamp:      now,
	})
}

func NewReceiveMessage(msg types.Message, clientId string) *ServerEvent {
	return newServerEvent(Now(), ReceiveMessage{Message: msg, ClientId: clientId})
}

func NewMessageDelivered(msg types.Message, clientId string) *ServerEvent {
	now := Now()
	return newServerEvent(now, MessageDelivered{
		MessageId:      msg.Id,
		ConversationId: msg.ConversationId,
		ClientId:       clientId,
		Timestamp:      now,
	})
}

func NewMessageRead(msg types.Message, reader types.UserSummary, readAt time.Time) *ServerEvent {
	return newServerEvent(Now(), MessageRead{
		MessageId:      msg.Id,
		ConversationId: msg.ConversationId,
		ReadBy:         reader.Id,
		Reader:         reader,
		Receipts:       msg.ReadBy,
		ReadAt:         readAt,
	})
}

func NewAllMessagesRead(conversationId, userId string, count int, readAt time.Time) *ServerEvent {
	return newServerEvent(Now(), AllMessagesRead{
		ConversationId: conversationId,
		UserId:         userId,
		Count:          count,
		ReadAt:         readAt,
	})
}

func NewMessageEdited(msg types.Message) *ServerEvent {
	return newServerEvent(Now(), MessageEdited{Message: msg})
}

func NewMessageDeleted(messageId, conversationId string, deletedAt time.Time) *ServerEvent {
	return newServerEvent(Now(), MessageDeleted{
		MessageId:      messageId,
		ConversationId: conversationId,
		DeletedAt:      deletedAt,
	})
}

func NewMessageDeletedForEveryone(messageId, conversationId string, lastMessageId *string) *ServerEvent {
	return newServerEvent(Now(), MessageDeletedForEveryone{
		MessageId:      messageId,
		ConversationId: conversationId,
		LastMessageId:  lastMessageId,
	})
}

func NewUserOnline(user types.UserSummary, at time.Time) *ServerEvent {
	return newServerEvent(Now(), UserOnline{UserId: user.Id, User: user, Timestamp: at})
}

func NewUserOffline(user types.UserSummary, lastSeen time.Time) *ServerEvent {
	return newServerEvent(Now(), UserOffline{UserId: user.Id, User: user, LastSeen: lastSeen})
}

func NewOnlineUsers(conversationId string, online []types.OnlineUser) *ServerEvent {
	if online == nil {
		online = []types.OnlineUser{}
	}
	return newServerEvent(Now(), OnlineUsers{ConversationId: conversationId, OnlineUsers: online})
}

// previewLength is the number of runes of content carried in a notification.
const previewLength = 50

func NewNewMessageNotification(msg types.Message) *ServerEvent {
	now := Now()
	preview := []rune(msg.Content)
	if len(preview) > previewLength {
		preview = append(preview[:previewLength], '…')
	}

	return newServerEvent(now, NewMessageNotification{
		ConversationId: msg.ConversationId,
		MessageId:      msg.Id,
		SenderName:     msg.Sender.Name,
		Preview:        string(preview),
		Timestamp:      now,
	})
}

func NewConversationCreated(conv types.Conversation) *ServerEvent {
	return newServerEvent(Now(), ConversationCreated{Conversation: conv})
}

func NewParticipantAdded(conversationId string, user types.UserSummary, addedBy string) *ServerEvent {
	return newServerEvent(Now(), ParticipantAdded{
		ConversationId: conversationId,
		UserId:         user.Id,
		User:           user,
		AddedBy:        addedBy,
	})
}

func NewParticipantRemoved(conversationId, userId, removedBy string) *ServerEvent {
	return newServerEvent(Now(), ParticipantRemoved{
		ConversationId: conversationId,
		UserId:         userId,
		RemovedBy:      removedBy,
	})
}

func NewError(id, code int, message string) *ServerEvent {
	e := newServerEvent(Now(), Error{Code: code, Message: message})
	e.Id = id
	return e
}

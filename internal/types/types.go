package types

import (
	"time"
)

const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

type User struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email,omitempty"`
	AvatarUrl    string    `json:"avatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// UserSummary is the denormalized form of a user carried in broadcasts.
type UserSummary struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	AvatarUrl string `json:"avatar,omitempty"`
}

func (u User) Summary() UserSummary {
	return UserSummary{Id: u.Id, Name: u.Name, AvatarUrl: u.AvatarUrl}
}

type ConversationSettings struct {
	CanParticipantsAddMembers bool `json:"canParticipantsAddMembers"`
}

type Conversation struct {
	Id            string                `json:"id"`
	Participants  []UserSummary         `json:"participants"`
	IsGroup       bool                  `json:"isGroup"`
	Title         string                `json:"title,omitempty"`
	Description   string                `json:"description,omitempty"`
	AdminId       string                `json:"adminId,omitempty"`
	Settings      *ConversationSettings `json:"settings,omitempty"`
	LastMessageId *string               `json:"lastMessageId"`
	LastMessage   *Message              `json:"lastMessage,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type ReadReceipt struct {
	UserId string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type Message struct {
	Id                string        `json:"id"`
	ConversationId    string        `json:"conversationId"`
	Sender            UserSummary   `json:"sender"`
	Content           string        `json:"content"`
	MessageType       string        `json:"messageType"`
	FileUrl           string        `json:"fileUrl,omitempty"`
	FileName          string        `json:"fileName,omitempty"`
	FileSize          int64         `json:"fileSize,omitempty"`
	ReplyTo           *string       `json:"replyTo,omitempty"`
	Status            string        `json:"status"`
	ReadAt            *time.Time    `json:"readAt,omitempty"`
	ReadBy            []ReadReceipt `json:"readBy,omitempty"`
	IsEdited          bool          `json:"isEdited"`
	EditedAt          *time.Time    `json:"editedAt,omitempty"`
	IsDeletedBySender bool          `json:"isDeletedBySender"`
	DeletedAt         *time.Time    `json:"deletedAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

type OnlineUser struct {
	UserId   string      `json:"userId"`
	User     UserSummary `json:"user"`
	LastSeen time.Time   `json:"lastSeen"`
}

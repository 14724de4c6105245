package database

import (
	"slices"
	"time"
)

type User struct {
	Id           string
	Name         string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Participant struct {
	Id        string
	Name      string
	AvatarUrl string
}

type Conversation struct {
	Id                        string
	Participants              []Participant
	IsGroup                   bool
	Title                     string
	Description               string
	AdminId                   string
	CanParticipantsAddMembers bool
	LastMessageId             *string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (c Conversation) ParticipantIds() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.Id
	}
	return ids
}

func (c Conversation) HasParticipant(userId string) bool {
	return slices.ContainsFunc(c.Participants, func(p Participant) bool {
		return p.Id == userId
	})
}

type ReadReceipt struct {
	UserId string
	ReadAt time.Time
}

type Message struct {
	Id                string
	ConversationId    string
	SenderId          string
	SenderName        string
	SenderAvatarUrl   string
	Content           string
	MessageType       string
	FileUrl           string
	FileName          string
	FileSize          int64
	ReplyTo           *string
	Status            string
	ReadAt            *time.Time
	ReadBy            []ReadReceipt
	IsEdited          bool
	EditedAt          *time.Time
	IsDeletedBySender bool
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CreateUserParams struct {
	Name         string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
}

type CreateConversationParams struct {
	ParticipantIds            []string
	IsGroup                   bool
	Title                     string
	Description               string
	AdminId                   string
	CanParticipantsAddMembers bool
	CreatedAt                 time.Time
}

type CreateMessageParams struct {
	ConversationId string
	SenderId       string
	Content        string
	MessageType    string
	FileUrl        string
	FileName       string
	FileSize       int64
	ReplyTo        *string
	CreatedAt      time.Time
}

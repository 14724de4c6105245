package chat

import (
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/types"
)

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Name:         u.Name,
		EmailAddress: u.EmailAddress,
		AvatarUrl:    u.AvatarUrl,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func toMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		Sender: types.UserSummary{
			Id:        m.SenderId,
			Name:      m.SenderName,
			AvatarUrl: m.SenderAvatarUrl,
		},
		Content:           m.Content,
		MessageType:       m.MessageType,
		FileUrl:           m.FileUrl,
		FileName:          m.FileName,
		FileSize:          m.FileSize,
		ReplyTo:           m.ReplyTo,
		Status:            m.Status,
		ReadAt:            m.ReadAt,
		IsEdited:          m.IsEdited,
		EditedAt:          m.EditedAt,
		IsDeletedBySender: m.IsDeletedBySender,
		DeletedAt:         m.DeletedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}

	for _, r := range m.ReadBy {
		msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: r.UserId, ReadAt: r.ReadAt})
	}

	return msg
}

func toConversation(c database.Conversation, last *types.Message) types.Conversation {
	conv := types.Conversation{
		Id:            c.Id,
		Participants:  make([]types.UserSummary, len(c.Participants)),
		IsGroup:       c.IsGroup,
		Title:         c.Title,
		Description:   c.Description,
		AdminId:       c.AdminId,
		LastMessageId: c.LastMessageId,
		LastMessage:   last,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}

	for i, p := range c.Participants {
		conv.Participants[i] = types.UserSummary{Id: p.Id, Name: p.Name, AvatarUrl: p.AvatarUrl}
	}

	if c.IsGroup {
		conv.Settings = &types.ConversationSettings{
			CanParticipantsAddMembers: c.CanParticipantsAddMembers,
		}
	}

	return conv
}

package chat

import (
	"context"
	"slices"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type SendMessageParams struct {
	ConversationId string
	Content        string
	MessageType    string
	FileUrl        string
	FileName       string
	FileSize       int64
	ReplyTo        *string
	ClientId       string
}

func validMessageType(t string) bool {
	switch t {
	case types.MessageTypeText, types.MessageTypeImage, types.MessageTypeFile, types.MessageTypeVoice:
		return true
	}
	return false
}

// SendMessage stores a new message and broadcasts it to the conversation.
// The originating connection, if any, also gets a delivery acknowledgement.
func (s *Service) SendMessage(ctx context.Context, actor Actor, params SendMessageParams) (types.Message, []Dispatch, error) {
	content, err := trimContent(params.Content)
	if err != nil {
		return types.Message{}, nil, err
	}

	if params.MessageType == "" {
		params.MessageType = types.MessageTypeText
	}
	if !validMessageType(params.MessageType) {
		return types.Message{}, nil, ErrValidation("invalid message type %q", params.MessageType)
	}

	conv, err := s.conversationFor(ctx, actor.UserId(), params.ConversationId)
	if err != nil {
		return types.Message{}, nil, err
	}

	if params.ReplyTo != nil {
		if err := validId(*params.ReplyTo, "reply"); err != nil {
			return types.Message{}, nil, err
		}
		parent, err := s.db.GetMessage(ctx, *params.ReplyTo)
		if err != nil {
			return types.Message{}, nil, storeErr(err, "reply target")
		}
		if parent.ConversationId != conv.Id {
			return types.Message{}, nil, ErrValidation("reply target belongs to another conversation")
		}
	}

	stored, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId: conv.Id,
		SenderId:       actor.UserId(),
		Content:        content,
		MessageType:    params.MessageType,
		FileUrl:        params.FileUrl,
		FileName:       params.FileName,
		FileSize:       params.FileSize,
		ReplyTo:        params.ReplyTo,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return types.Message{}, nil, storeErr(err, "conversation")
	}

	msg := toMessage(stored)
	s.log.Debug().
		Str("message_id", msg.Id).
		Str("conversation_id", conv.Id).
		Str("sender_id", actor.UserId()).
		Msg("message created")

	return msg, s.messageDispatches(actor, conv, msg, params.ClientId), nil
}

func (s *Service) messageDispatches(actor Actor, conv database.Conversation, msg types.Message, clientId string) []Dispatch {
	m := msg
	ds := []Dispatch{
		toRoom(conv.Id, events.NewReceiveMessage(msg, clientId), ""),
	}

	if actor.ConnId != "" {
		ds = append(ds, toConn(actor.ConnId, events.NewMessageDelivered(msg, clientId)))
	}

	if recipients := others(conv.ParticipantIds(), actor.UserId()); len(recipients) > 0 {
		ds = append(ds, Dispatch{
			Scope:          NotifyParticipants,
			ConversationId: conv.Id,
			UserIds:        recipients,
			Message:        &m,
		})
	}

	return ds
}

// ListMessages returns a page of the conversation oldest first. Pages are
// counted from the newest message.
func (s *Service) ListMessages(ctx context.Context, userId, conversationId string, page, limit int) ([]types.Message, error) {
	if _, err := s.conversationFor(ctx, userId, conversationId); err != nil {
		return nil, err
	}

	limit, offset := pageBounds(page, limit)
	stored, err := s.db.ListMessages(ctx, conversationId, userId, limit, offset)
	if err != nil {
		return nil, ErrInternal(err)
	}

	msgs := make([]types.Message, len(stored))
	for i, m := range stored {
		msgs[i] = toMessage(m)
	}
	slices.Reverse(msgs)

	return msgs, nil
}

// MarkRead records that the actor read a message from another participant.
// Marking an already read message is a no-op.
func (s *Service) MarkRead(ctx context.Context, actor Actor, messageId string) (types.Message, []Dispatch, error) {
	stored, conv, err := s.messageFor(ctx, actor.UserId(), messageId)
	if err != nil {
		return types.Message{}, nil, err
	}

	if stored.SenderId == actor.UserId() {
		return types.Message{}, nil, ErrAuthorization("cannot mark your own message as read")
	}

	now := s.now()
	updated, changed, err := s.db.MarkMessageRead(ctx, messageId, actor.UserId(), now)
	if err != nil {
		return types.Message{}, nil, storeErr(err, "message")
	}

	msg := toMessage(updated)
	if !changed {
		return msg, nil, nil
	}

	return msg, []Dispatch{
		toRoom(conv.Id, events.NewMessageRead(msg, actor.User, now), ""),
	}, nil
}

// MarkAllRead marks every message from other participants as read.
func (s *Service) MarkAllRead(ctx context.Context, actor Actor, conversationId string) (int, []Dispatch, error) {
	if _, err := s.conversationFor(ctx, actor.UserId(), conversationId); err != nil {
		return 0, nil, err
	}

	now := s.now()
	count, err := s.db.MarkConversationRead(ctx, conversationId, actor.UserId(), now)
	if err != nil {
		return 0, nil, storeErr(err, "conversation")
	}

	return count, []Dispatch{
		toRoom(conversationId, events.NewAllMessagesRead(conversationId, actor.UserId(), count, now), ""),
	}, nil
}

// EditMessage replaces the content of the actor's own message while the edit
// window is open.
func (s *Service) EditMessage(ctx context.Context, actor Actor, messageId, content string) (types.Message, []Dispatch, error) {
	content, err := trimContent(content)
	if err != nil {
		return types.Message{}, nil, err
	}

	stored, conv, err := s.messageFor(ctx, actor.UserId(), messageId)
	if err != nil {
		return types.Message{}, nil, err
	}

	if stored.SenderId != actor.UserId() {
		return types.Message{}, nil, ErrAuthorization("only the sender can edit this message")
	}
	if stored.IsDeletedBySender {
		return types.Message{}, nil, ErrNotFound("message not found")
	}

	now := s.now()
	if now.Sub(stored.CreatedAt) >= s.editWindow {
		return types.Message{}, nil, ErrTimeWindow("messages can only be edited within %s of sending", s.editWindow)
	}

	updated, err := s.db.UpdateMessageContent(ctx, messageId, content, now)
	if err != nil {
		return types.Message{}, nil, storeErr(err, "message")
	}

	msg := toMessage(updated)
	return msg, []Dispatch{
		toRoom(conv.Id, events.NewMessageEdited(msg), ""),
	}, nil
}

// DeleteMessage removes the actor's own message. Without forEveryone the
// message is only hidden from the sender; with it the record is removed for
// all participants while the delete window is open.
func (s *Service) DeleteMessage(ctx context.Context, actor Actor, messageId string, forEveryone bool) ([]Dispatch, error) {
	stored, conv, err := s.messageFor(ctx, actor.UserId(), messageId)
	if err != nil {
		return nil, err
	}

	if stored.SenderId != actor.UserId() {
		return nil, ErrAuthorization("only the sender can delete this message")
	}

	now := s.now()
	if !forEveryone {
		deleted, err := s.db.SoftDeleteMessage(ctx, messageId, now)
		if err != nil {
			return nil, storeErr(err, "message")
		}

		return []Dispatch{
			toUsers([]string{actor.UserId()}, events.NewMessageDeleted(messageId, conv.Id, *deleted.DeletedAt)),
		}, nil
	}

	if now.Sub(stored.CreatedAt) >= s.deleteWindow {
		return nil, ErrTimeWindow("messages can only be deleted for everyone within %s of sending", s.deleteWindow)
	}

	lastMessageId, err := s.db.DeleteMessage(ctx, messageId)
	if err != nil {
		return nil, storeErr(err, "message")
	}

	s.log.Debug().
		Str("message_id", messageId).
		Str("conversation_id", conv.Id).
		Msg("message deleted for everyone")

	return []Dispatch{
		toRoom(conv.Id, events.NewMessageDeletedForEveryone(messageId, conv.Id, lastMessageId), ""),
	}, nil
}

// UnreadCount counts messages from others the user has not read, across all
// conversations or within one.
func (s *Service) UnreadCount(ctx context.Context, userId, conversationId string) (int, error) {
	if conversationId != "" {
		if _, err := s.conversationFor(ctx, userId, conversationId); err != nil {
			return 0, err
		}
	}

	n, err := s.db.CountUnread(ctx, userId, conversationId)
	if err != nil {
		return 0, ErrInternal(err)
	}
	return n, nil
}

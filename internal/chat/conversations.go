package chat

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type CreateConversationParams struct {
	ParticipantIds            []string
	IsGroup                   bool
	Title                     string
	Description               string
	CanParticipantsAddMembers *bool
	InitialMessage            string
}

// CreateConversation starts a conversation between the actor and
// ParticipantIds. A direct conversation that already exists is returned with
// created set to false and no side effects.
func (s *Service) CreateConversation(ctx context.Context, actor Actor, params CreateConversationParams) (types.Conversation, bool, []Dispatch, error) {
	ids := []string{actor.UserId()}
	for _, id := range params.ParticipantIds {
		if err := validId(id, "participant"); err != nil {
			return types.Conversation{}, false, nil, err
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	if len(ids) < 2 {
		return types.Conversation{}, false, nil, ErrValidation("a conversation requires at least 2 participants")
	}

	title := strings.TrimSpace(params.Title)
	if params.IsGroup {
		if title == "" {
			return types.Conversation{}, false, nil, ErrValidation("group conversations require a title")
		}
	} else {
		if len(ids) != 2 {
			return types.Conversation{}, false, nil, ErrValidation("direct conversations have exactly 2 participants")
		}
		if title != "" || params.Description != "" {
			return types.Conversation{}, false, nil, ErrValidation("direct conversations cannot have a title")
		}

		existing, err := s.db.FindDirectConversation(ctx, ids[0], ids[1])
		if err == nil {
			conv, err := s.withLastMessage(ctx, existing)
			return conv, false, nil, err
		}
		if !errors.Is(err, database.ErrNotFound) {
			return types.Conversation{}, false, nil, ErrInternal(err)
		}
	}

	users, err := s.db.GetUsersByIds(ctx, ids)
	if err != nil {
		return types.Conversation{}, false, nil, ErrInternal(err)
	}
	if len(users) != len(ids) {
		return types.Conversation{}, false, nil, ErrNotFound("participant not found")
	}

	createParams := database.CreateConversationParams{
		ParticipantIds: ids,
		IsGroup:        params.IsGroup,
		CreatedAt:      s.now(),
	}
	if params.IsGroup {
		createParams.Title = title
		createParams.Description = strings.TrimSpace(params.Description)
		createParams.AdminId = actor.UserId()
		createParams.CanParticipantsAddMembers = true
		if params.CanParticipantsAddMembers != nil {
			createParams.CanParticipantsAddMembers = *params.CanParticipantsAddMembers
		}
	}

	stored, err := s.db.CreateConversation(ctx, createParams)
	if err != nil {
		return types.Conversation{}, false, nil, storeErr(err, "participant")
	}

	s.log.Info().
		Str("conversation_id", stored.Id).
		Bool("is_group", stored.IsGroup).
		Int("participants", len(ids)).
		Msg("conversation created")

	conv := toConversation(stored, nil)
	ds := []Dispatch{
		{Scope: JoinUsers, ConversationId: conv.Id, UserIds: ids},
		toUsers(ids, events.NewConversationCreated(conv)),
	}

	if strings.TrimSpace(params.InitialMessage) != "" {
		msg, msgDs, err := s.SendMessage(ctx, Actor{User: actor.User}, SendMessageParams{
			ConversationId: conv.Id,
			Content:        params.InitialMessage,
		})
		if err != nil {
			return types.Conversation{}, false, nil, err
		}

		conv.LastMessageId = &msg.Id
		conv.LastMessage = &msg
		conv.UpdatedAt = msg.CreatedAt
		ds = append(ds, msgDs...)
	}

	return conv, true, ds, nil
}

func (s *Service) withLastMessage(ctx context.Context, c database.Conversation) (types.Conversation, error) {
	if c.LastMessageId == nil {
		return toConversation(c, nil), nil
	}

	stored, err := s.db.GetMessage(ctx, *c.LastMessageId)
	if errors.Is(err, database.ErrNotFound) {
		return toConversation(c, nil), nil
	}
	if err != nil {
		return types.Conversation{}, ErrInternal(err)
	}

	last := toMessage(stored)
	return toConversation(c, &last), nil
}

func (s *Service) GetConversation(ctx context.Context, userId, conversationId string) (types.Conversation, error) {
	stored, err := s.conversationFor(ctx, userId, conversationId)
	if err != nil {
		return types.Conversation{}, err
	}
	return s.withLastMessage(ctx, stored)
}

// ListConversations returns the user's conversations, most recently updated
// first.
func (s *Service) ListConversations(ctx context.Context, userId string, page, limit int) ([]types.Conversation, error) {
	limit, offset := pageBounds(page, limit)
	stored, err := s.db.ListConversations(ctx, userId, limit, offset)
	if err != nil {
		return nil, ErrInternal(err)
	}

	convs := make([]types.Conversation, 0, len(stored))
	for _, c := range stored {
		conv, err := s.withLastMessage(ctx, c)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// AddParticipant adds a user to a group conversation. The admin may always
// add members; other participants only when the group allows it.
func (s *Service) AddParticipant(ctx context.Context, actor Actor, conversationId, userId string) (types.Conversation, []Dispatch, error) {
	if err := validId(userId, "user"); err != nil {
		return types.Conversation{}, nil, err
	}

	conv, err := s.conversationFor(ctx, actor.UserId(), conversationId)
	if err != nil {
		return types.Conversation{}, nil, err
	}

	if !conv.IsGroup {
		return types.Conversation{}, nil, ErrValidation("participants can only be added to group conversations")
	}
	if conv.AdminId != actor.UserId() && !conv.CanParticipantsAddMembers {
		return types.Conversation{}, nil, ErrAuthorization("only the group admin can add participants")
	}
	if conv.HasParticipant(userId) {
		return types.Conversation{}, nil, ErrConflict("user is already a participant")
	}

	user, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return types.Conversation{}, nil, storeErr(err, "user")
	}

	if err := s.db.AddParticipant(ctx, conversationId, userId, s.now()); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return types.Conversation{}, nil, ErrConflict("user is already a participant")
		}
		return types.Conversation{}, nil, storeErr(err, "conversation")
	}

	updated, err := s.GetConversation(ctx, actor.UserId(), conversationId)
	if err != nil {
		return types.Conversation{}, nil, err
	}

	summary := toUser(user).Summary()
	return updated, []Dispatch{
		{Scope: JoinUsers, ConversationId: conversationId, UserIds: []string{userId}},
		toRoom(conversationId, events.NewParticipantAdded(conversationId, summary, actor.UserId()), ""),
		toUsers([]string{userId}, events.NewConversationCreated(updated)),
	}, nil
}

// RemoveParticipant removes a user from a group conversation. The admin may
// remove anyone but themselves; other participants may only leave.
func (s *Service) RemoveParticipant(ctx context.Context, actor Actor, conversationId, userId string) (types.Conversation, []Dispatch, error) {
	if err := validId(userId, "user"); err != nil {
		return types.Conversation{}, nil, err
	}

	conv, err := s.conversationFor(ctx, actor.UserId(), conversationId)
	if err != nil {
		return types.Conversation{}, nil, err
	}

	if !conv.IsGroup {
		return types.Conversation{}, nil, ErrValidation("participants can only be removed from group conversations")
	}
	if actor.UserId() != conv.AdminId && actor.UserId() != userId {
		return types.Conversation{}, nil, ErrAuthorization("only the group admin can remove other participants")
	}
	if userId == conv.AdminId {
		return types.Conversation{}, nil, ErrValidation("the group admin cannot be removed")
	}
	if !conv.HasParticipant(userId) {
		return types.Conversation{}, nil, ErrNotFound("participant not found")
	}
	if len(conv.Participants) <= 2 {
		return types.Conversation{}, nil, ErrValidation("a group requires at least 2 participants")
	}

	if err := s.db.RemoveParticipant(ctx, conversationId, userId, s.now()); err != nil {
		return types.Conversation{}, nil, storeErr(err, "participant")
	}

	stored, err := s.db.GetConversation(ctx, conversationId)
	if err != nil {
		return types.Conversation{}, nil, storeErr(err, "conversation")
	}
	updated, err := s.withLastMessage(ctx, stored)
	if err != nil {
		return types.Conversation{}, nil, err
	}

	return updated, []Dispatch{
		toRoom(conversationId, events.NewParticipantRemoved(conversationId, userId, actor.UserId()), ""),
		{Scope: LeaveUsers, ConversationId: conversationId, UserIds: []string{userId}},
	}, nil
}

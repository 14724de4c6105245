package database

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryChatRepository is a ChatRepository held in process memory. It is
// used for development and tests.
type MemoryChatRepository struct {
	mu            sync.Mutex
	users         map[string]User
	emails        map[string]string
	conversations map[string]*Conversation
	messages      map[string]*Message
	reads         map[string]map[string]time.Time
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		users:         make(map[string]User),
		emails:        make(map[string]string),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		reads:         make(map[string]map[string]time.Time),
	}
}

func (r *MemoryChatRepository) Ping(ctx context.Context) error { return ctx.Err() }

func (r *MemoryChatRepository) Close() error { return nil }

func (r *MemoryChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(params.EmailAddress)
	if _, ok := r.emails[email]; ok {
		return User{}, ErrDuplicate
	}

	now := time.Now().UTC()
	u := User{
		Id:           uuid.NewString(),
		Name:         params.Name,
		EmailAddress: email,
		AvatarUrl:    params.AvatarUrl,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[u.Id] = u
	r.emails[email] = u.Id

	u.PasswordHash = ""
	return u, nil
}

func (r *MemoryChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.PasswordHash = ""
	return u, nil
}

func (r *MemoryChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.emails[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return r.users[id], nil
}

func (r *MemoryChatRepository) GetUsersByIds(ctx context.Context, ids []string) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			u.PasswordHash = ""
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *MemoryChatRepository) participant(id string) (Participant, bool) {
	u, ok := r.users[id]
	if !ok {
		return Participant{}, false
	}
	return Participant{Id: u.Id, Name: u.Name, AvatarUrl: u.AvatarUrl}, true
}

func (r *MemoryChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Conversation{
		Id:                        uuid.NewString(),
		IsGroup:                   params.IsGroup,
		Title:                     params.Title,
		Description:               params.Description,
		AdminId:                   params.AdminId,
		CanParticipantsAddMembers: params.CanParticipantsAddMembers,
		CreatedAt:                 params.CreatedAt,
		UpdatedAt:                 params.CreatedAt,
	}

	for _, id := range params.ParticipantIds {
		p, ok := r.participant(id)
		if !ok {
			return Conversation{}, ErrNotFound
		}
		if c.HasParticipant(id) {
			return Conversation{}, ErrDuplicate
		}
		c.Participants = append(c.Participants, p)
	}

	r.conversations[c.Id] = c
	return copyConversation(c), nil
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	if c.LastMessageId != nil {
		id := *c.LastMessageId
		out.LastMessageId = &id
	}
	return out
}

func (r *MemoryChatRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return copyConversation(c), nil
}

func (r *MemoryChatRepository) FindDirectConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conversations {
		if !c.IsGroup && c.HasParticipant(userA) && c.HasParticipant(userB) {
			return copyConversation(c), nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (r *MemoryChatRepository) ListConversationIds(ctx context.Context, userId string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, c := range r.conversations {
		if c.HasParticipant(userId) {
			ids = append(ids, c.Id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *MemoryChatRepository) ListConversations(ctx context.Context, userId string, limit, offset int) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var convs []Conversation
	for _, c := range r.conversations {
		if c.HasParticipant(userId) {
			convs = append(convs, copyConversation(c))
		}
	}

	slices.SortFunc(convs, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Id, a.Id)
	})

	return page(convs, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *MemoryChatRepository) AddParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationId]
	if !ok {
		return ErrNotFound
	}
	p, ok := r.participant(userId)
	if !ok {
		return ErrNotFound
	}
	if c.HasParticipant(userId) {
		return ErrDuplicate
	}

	c.Participants = append(c.Participants, p)
	c.UpdatedAt = at
	return nil
}

func (r *MemoryChatRepository) RemoveParticipant(ctx context.Context, conversationId, userId string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationId]
	if !ok {
		return ErrNotFound
	}

	i := slices.IndexFunc(c.Participants, func(p Participant) bool { return p.Id == userId })
	if i < 0 {
		return ErrNotFound
	}

	c.Participants = slices.Delete(c.Participants, i, i+1)
	c.UpdatedAt = at
	return nil
}

func (r *MemoryChatRepository) copyMessage(m *Message) Message {
	out := *m
	out.ReadBy = nil
	for userId, at := range r.reads[m.Id] {
		out.ReadBy = append(out.ReadBy, ReadReceipt{UserId: userId, ReadAt: at})
	}
	slices.SortFunc(out.ReadBy, func(a, b ReadReceipt) int {
		if c := a.ReadAt.Compare(b.ReadAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserId, b.UserId)
	})

	if u, ok := r.users[m.SenderId]; ok {
		out.SenderName = u.Name
		out.SenderAvatarUrl = u.AvatarUrl
	}
	return out
}

func (r *MemoryChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[params.ConversationId]
	if !ok {
		return Message{}, ErrNotFound
	}
	if _, ok := r.users[params.SenderId]; !ok {
		return Message{}, ErrNotFound
	}

	m := &Message{
		Id:             uuid.NewString(),
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		Content:        params.Content,
		MessageType:    params.MessageType,
		FileUrl:        params.FileUrl,
		FileName:       params.FileName,
		FileSize:       params.FileSize,
		ReplyTo:        params.ReplyTo,
		Status:         "unread",
		CreatedAt:      params.CreatedAt,
		UpdatedAt:      params.CreatedAt,
	}
	r.messages[m.Id] = m

	id := m.Id
	c.LastMessageId = &id
	c.UpdatedAt = params.CreatedAt

	return r.copyMessage(m), nil
}

func (r *MemoryChatRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return r.copyMessage(m), nil
}

// newestFirst orders messages by creation time descending, breaking ties on
// id the same way the Postgres index does.
func newestFirst(a, b *Message) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.Id, a.Id)
}

func (r *MemoryChatRepository) conversationMessages(conversationId string) []*Message {
	var msgs []*Message
	for _, m := range r.messages {
		if m.ConversationId == conversationId {
			msgs = append(msgs, m)
		}
	}
	slices.SortFunc(msgs, newestFirst)
	return msgs
}

func (r *MemoryChatRepository) ListMessages(ctx context.Context, conversationId, viewerId string, limit, offset int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var visible []*Message
	for _, m := range r.conversationMessages(conversationId) {
		if m.IsDeletedBySender && m.SenderId == viewerId {
			continue
		}
		visible = append(visible, m)
	}

	visible = page(visible, limit, offset)
	msgs := make([]Message, len(visible))
	for i, m := range visible {
		msgs[i] = r.copyMessage(m)
	}
	return msgs, nil
}

func (r *MemoryChatRepository) markRead(m *Message, userId string, at time.Time) bool {
	receipts, ok := r.reads[m.Id]
	if !ok {
		receipts = make(map[string]time.Time)
		r.reads[m.Id] = receipts
	}
	if _, ok := receipts[userId]; ok {
		return false
	}

	receipts[userId] = at
	m.Status = "read"
	if m.ReadAt == nil {
		t := at
		m.ReadAt = &t
	}
	m.UpdatedAt = at
	return true
}

func (r *MemoryChatRepository) MarkMessageRead(ctx context.Context, messageId, userId string, at time.Time) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return Message{}, false, ErrNotFound
	}

	changed := r.markRead(m, userId, at)
	return r.copyMessage(m), changed, nil
}

func (r *MemoryChatRepository) MarkConversationRead(ctx context.Context, conversationId, userId string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[conversationId]; !ok {
		return 0, ErrNotFound
	}

	count := 0
	for _, m := range r.conversationMessages(conversationId) {
		if m.SenderId != userId && r.markRead(m, userId, at) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string, at time.Time) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return Message{}, ErrNotFound
	}

	t := at
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &t
	m.UpdatedAt = at
	return r.copyMessage(m), nil
}

func (r *MemoryChatRepository) SoftDeleteMessage(ctx context.Context, messageId string, at time.Time) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return Message{}, ErrNotFound
	}

	t := at
	m.IsDeletedBySender = true
	m.DeletedAt = &t
	m.UpdatedAt = at
	return r.copyMessage(m), nil
}

func (r *MemoryChatRepository) DeleteMessage(ctx context.Context, messageId string) (*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.messages, messageId)
	delete(r.reads, messageId)

	for _, other := range r.messages {
		if other.ReplyTo != nil && *other.ReplyTo == messageId {
			other.ReplyTo = nil
		}
	}

	c, ok := r.conversations[m.ConversationId]
	if !ok {
		return nil, nil
	}

	if c.LastMessageId != nil && *c.LastMessageId != messageId {
		id := *c.LastMessageId
		return &id, nil
	}

	c.LastMessageId = nil
	if remaining := r.conversationMessages(m.ConversationId); len(remaining) > 0 {
		id := remaining[0].Id
		c.LastMessageId = &id
	}

	if c.LastMessageId == nil {
		return nil, nil
	}
	id := *c.LastMessageId
	return &id, nil
}

func (r *MemoryChatRepository) CountUnread(ctx context.Context, userId, conversationId string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, m := range r.messages {
		if conversationId != "" && m.ConversationId != conversationId {
			continue
		}
		if m.SenderId == userId {
			continue
		}
		c, ok := r.conversations[m.ConversationId]
		if !ok || !c.HasParticipant(userId) {
			continue
		}
		if _, read := r.reads[m.Id][userId]; read {
			continue
		}
		count++
	}
	return count, nil
}

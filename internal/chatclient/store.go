// Package chatclient keeps a client-side view of the conversations a user
// takes part in, reconciled from REST pages and websocket events.
package chatclient

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const defaultTypingTimeout = 3 * time.Second

// tempIdPrefix marks message ids minted locally for messages that have not
// been acknowledged by the server yet.
const tempIdPrefix = "tmp-"

type conversationState struct {
	messages []types.Message
	typing   map[string]*time.Timer
	unread   int
	counted  map[string]struct{}
}

type pendingSend struct {
	conversationId string
	requestId      int
}

type StoreOption func(*Store)

// WithTypingTimeout sets how long a typing indicator survives without a
// fresh isTyping=true event.
func WithTypingTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.typingTimeout = d
	}
}

// Store is safe for concurrent use. Typing expiry runs on timer goroutines.
type Store struct {
	mu            sync.Mutex
	log           zerolog.Logger
	self          string
	typingTimeout time.Duration
	conversations map[string]*conversationState
	meta          map[string]types.Conversation
	online        map[string]bool
	pending       map[string]pendingSend
}

func NewStore(selfId string, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		log:           logger.With().Str("component", "store").Logger(),
		self:          selfId,
		typingTimeout: defaultTypingTimeout,
		conversations: make(map[string]*conversationState),
		meta:          make(map[string]types.Conversation),
		online:        make(map[string]bool),
		pending:       make(map[string]pendingSend),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Self() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Store) conversation(id string) *conversationState {
	c, ok := s.conversations[id]
	if !ok {
		c = &conversationState{
			typing:  make(map[string]*time.Timer),
			counted: make(map[string]struct{}),
		}
		s.conversations[id] = c
	}
	return c
}

func compareMessages(a, b types.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Id, b.Id)
}

func (c *conversationState) index(messageId string) int {
	return slices.IndexFunc(c.messages, func(m types.Message) bool { return m.Id == messageId })
}

func (c *conversationState) upsert(msg types.Message) {
	if i := c.index(msg.Id); i >= 0 {
		if c.messages[i].CreatedAt.Equal(msg.CreatedAt) {
			c.messages[i] = msg
			return
		}
		c.messages = slices.Delete(c.messages, i, i+1)
	}

	pos, _ := slices.BinarySearchFunc(c.messages, msg, compareMessages)
	c.messages = slices.Insert(c.messages, pos, msg)
}

func (c *conversationState) remove(messageId string) bool {
	i := c.index(messageId)
	if i < 0 {
		return false
	}
	c.messages = slices.Delete(c.messages, i, i+1)
	return true
}

func (c *conversationState) countUnread(messageId string) {
	if _, ok := c.counted[messageId]; ok {
		return
	}
	c.counted[messageId] = struct{}{}
	c.unread++
}

// Upsert inserts msg if its id is unknown and replaces the cached copy
// otherwise.
func (s *Store) Upsert(msg types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation(msg.ConversationId).upsert(msg)
}

// ApplyPage merges a page of messages fetched over REST. Messages seen this
// way never count as unread; use SetUnread with the server's count instead.
func (s *Store) ApplyPage(conversationId string, page []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversation(conversationId)
	for _, msg := range page {
		c.upsert(msg)
		c.counted[msg.Id] = struct{}{}
	}
}

// Remove drops a message from the cache and reports whether it was present.
func (s *Store) Remove(conversationId, messageId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation(conversationId).remove(messageId)
}

// Messages returns the cached messages of a conversation oldest first,
// including pending sends.
func (s *Store) Messages(conversationId string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationId]
	if !ok {
		return nil
	}
	return slices.Clone(c.messages)
}

func (s *Store) Message(conversationId, messageId string) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationId]
	if !ok {
		return types.Message{}, false
	}
	i := c.index(messageId)
	if i < 0 {
		return types.Message{}, false
	}
	return c.messages[i], true
}

func (s *Store) Unread(conversationId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[conversationId]; ok {
		return c.unread
	}
	return 0
}

func (s *Store) SetUnread(conversationId string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation(conversationId).unread = n
}

// Typing returns the ids of users currently typing in a conversation,
// sorted.
func (s *Store) Typing(conversationId string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationId]
	if !ok {
		return nil
	}

	users := make([]string, 0, len(c.typing))
	for userId := range c.typing {
		users = append(users, userId)
	}
	slices.Sort(users)
	return users
}

func (s *Store) setTyping(conversationId, userId string, isTyping bool) {
	c := s.conversation(conversationId)
	if t, ok := c.typing[userId]; ok {
		t.Stop()
		delete(c.typing, userId)
	}
	if !isTyping {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(s.typingTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// a restarted indicator owns a different timer
		if cur, ok := c.typing[userId]; ok && cur == t {
			delete(c.typing, userId)
		}
	})
	c.typing[userId] = t
}

func (s *Store) IsOnline(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userId]
}

// SetConversations replaces the cached conversation list.
func (s *Store) SetConversations(convs []types.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.meta)
	for _, conv := range convs {
		s.meta[conv.Id] = conv
	}
}

// Conversations returns the cached conversations, most recently updated
// first.
func (s *Store) Conversations() []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Conversation, 0, len(s.meta))
	for _, conv := range s.meta {
		out = append(out, conv)
	}
	slices.SortFunc(out, func(a, b types.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})
	return out
}

// BeginSend records an optimistic message under a temporary id. The message
// is committed when the server echoes it back and rolled back when the
// request identified by requestId fails.
func (s *Store) BeginSend(conversationId, content string, requestId int) (types.Message, error) {
	clientId, err := shortid.Generate()
	if err != nil {
		return types.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	msg := types.Message{
		Id:             tempIdPrefix + clientId,
		ConversationId: conversationId,
		Sender:         types.UserSummary{Id: s.self},
		Content:        strings.TrimSpace(content),
		MessageType:    types.MessageTypeText,
		Status:         types.StatusUnread,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.conversation(conversationId).upsert(msg)
	s.pending[msg.Id] = pendingSend{conversationId: conversationId, requestId: requestId}
	return msg, nil
}

// Rollback discards a pending message. It reports whether clientId was
// pending.
func (s *Store) Rollback(clientId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback(clientId)
}

func (s *Store) rollback(clientId string) bool {
	p, ok := s.pending[clientId]
	if !ok {
		return false
	}
	delete(s.pending, clientId)
	s.conversation(p.conversationId).remove(clientId)
	return true
}

func (s *Store) IsPending(clientId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[clientId]
	return ok
}

// commit swaps a pending message for its acknowledged copy.
func (s *Store) commit(clientId string, msg types.Message) {
	p, ok := s.pending[clientId]
	if !ok {
		return
	}
	delete(s.pending, clientId)

	c := s.conversation(p.conversationId)
	c.remove(clientId)
	c.upsert(msg)
}

// Apply folds a server event into the cache.
func (s *Store) Apply(ev *events.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := ev.Payload.(type) {
	case events.Connected:
		s.self = p.UserId
		s.online[p.UserId] = true

	case events.ReceiveMessage:
		if p.ClientId != "" && p.Sender.Id == s.self {
			if _, ok := s.pending[p.ClientId]; ok {
				s.commit(p.ClientId, p.Message)
				return
			}
		}

		c := s.conversation(p.ConversationId)
		c.upsert(p.Message)
		if p.Sender.Id != s.self {
			c.countUnread(p.Id)
		}

	case events.MessageDelivered:
		// the sender may not be in the room, in which case no receiveMessage
		// arrives and the pending copy is promoted under the real id
		c := s.conversation(p.ConversationId)
		i := c.index(p.ClientId)
		if _, ok := s.pending[p.ClientId]; !ok || i < 0 {
			return
		}
		msg := c.messages[i]
		msg.Id = p.MessageId
		if c.index(p.MessageId) >= 0 {
			delete(s.pending, p.ClientId)
			c.remove(p.ClientId)
			return
		}
		s.commit(p.ClientId, msg)

	case events.MessageEdited:
		c := s.conversation(p.ConversationId)
		if c.index(p.Id) >= 0 {
			c.upsert(p.Message)
		}

	case events.MessageDeleted:
		s.conversation(p.ConversationId).remove(p.MessageId)

	case events.MessageDeletedForEveryone:
		s.conversation(p.ConversationId).remove(p.MessageId)
		if conv, ok := s.meta[p.ConversationId]; ok {
			conv.LastMessageId = p.LastMessageId
			conv.LastMessage = nil
			s.meta[p.ConversationId] = conv
		}

	case events.MessageRead:
		c := s.conversation(p.ConversationId)
		i := c.index(p.MessageId)
		if i < 0 {
			return
		}
		msg := &c.messages[i]
		msg.Status = types.StatusRead
		switch {
		case len(p.Receipts) > 0:
			msg.ReadBy = slices.Clone(p.Receipts)
		case !hasReceipt(msg.ReadBy, p.ReadBy):
			msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: p.ReadBy, ReadAt: p.ReadAt})
		}
		if msg.ReadAt == nil {
			readAt := p.ReadAt
			msg.ReadAt = &readAt
		}

	case events.AllMessagesRead:
		c := s.conversation(p.ConversationId)
		if p.UserId == s.self {
			c.unread = 0
			return
		}
		for i := range c.messages {
			msg := &c.messages[i]
			if msg.Sender.Id != s.self || hasReceipt(msg.ReadBy, p.UserId) {
				continue
			}
			msg.Status = types.StatusRead
			msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: p.UserId, ReadAt: p.ReadAt})
			if msg.ReadAt == nil {
				readAt := p.ReadAt
				msg.ReadAt = &readAt
			}
		}

	case events.UserTyping:
		if p.UserId != s.self {
			s.setTyping(p.ConversationId, p.UserId, p.IsTyping)
		}

	case events.NewMessageNotification:
		s.conversation(p.ConversationId).countUnread(p.MessageId)

	case events.UserOnline:
		s.online[p.UserId] = true

	case events.UserOffline:
		delete(s.online, p.UserId)

	case events.OnlineUsers:
		for _, u := range p.OnlineUsers {
			s.online[u.UserId] = true
		}

	case events.ConversationCreated:
		s.meta[p.Id] = p.Conversation

	case events.ParticipantAdded:
		conv, ok := s.meta[p.ConversationId]
		if !ok || slices.ContainsFunc(conv.Participants, func(u types.UserSummary) bool { return u.Id == p.UserId }) {
			return
		}
		conv.Participants = append(slices.Clone(conv.Participants), p.User)
		s.meta[p.ConversationId] = conv

	case events.ParticipantRemoved:
		if p.UserId == s.self {
			s.forget(p.ConversationId)
			return
		}
		if conv, ok := s.meta[p.ConversationId]; ok {
			conv.Participants = slices.DeleteFunc(slices.Clone(conv.Participants), func(u types.UserSummary) bool {
				return u.Id == p.UserId
			})
			s.meta[p.ConversationId] = conv
		}

	case events.Error:
		s.log.Debug().Int("id", ev.Id).Int("code", p.Code).Str("message", p.Message).Msg("server error")
		if ev.Id == 0 {
			return
		}
		for clientId, ps := range s.pending {
			if ps.requestId == ev.Id {
				s.rollback(clientId)
			}
		}
	}
}

func (s *Store) forget(conversationId string) {
	if c, ok := s.conversations[conversationId]; ok {
		for _, t := range c.typing {
			t.Stop()
		}
	}
	delete(s.conversations, conversationId)
	delete(s.meta, conversationId)
	for clientId, ps := range s.pending {
		if ps.conversationId == conversationId {
			delete(s.pending, clientId)
		}
	}
}

func hasReceipt(receipts []types.ReadReceipt, userId string) bool {
	return slices.ContainsFunc(receipts, func(r types.ReadReceipt) bool { return r.UserId == userId })
}

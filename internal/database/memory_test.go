package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUsers(t *testing.T, r *MemoryChatRepository, names ...string) []User {
	t.Helper()

	users := make([]User, len(names))
	for i, name := range names {
		u, err := r.CreateUser(context.Background(), CreateUserParams{
			Name:         name,
			EmailAddress: name + "@example.com",
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		users[i] = u
	}
	return users
}

func TestMemoryCreateUser(t *testing.T) {
	r := NewMemoryChatRepository()
	ctx := context.Background()

	u, err := r.CreateUser(ctx, CreateUserParams{Name: "alice", EmailAddress: "Alice@Example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.EmailAddress, "expected email to be lowercased")
	assert.Empty(t, u.PasswordHash, "expected password hash to be withheld")

	_, err = r.CreateUser(ctx, CreateUserParams{Name: "alice2", EmailAddress: "alice@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)

	byEmail, err := r.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", byEmail.PasswordHash, "expected hash on lookup by email")

	_, err = r.GetUserById(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConversations(t *testing.T) {
	r := NewMemoryChatRepository()
	ctx := context.Background()
	users := seedUsers(t, r, "a", "b", "c")
	now := time.Now()

	direct, err := r.CreateConversation(ctx, CreateConversationParams{
		ParticipantIds: []string{users[0].Id, users[1].Id},
		CreatedAt:      now,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{users[0].Id, users[1].Id}, direct.ParticipantIds())

	found, err := r.FindDirectConversation(ctx, users[1].Id, users[0].Id)
	require.NoError(t, err)
	assert.Equal(t, direct.Id, found.Id)

	_, err = r.FindDirectConversation(ctx, users[0].Id, users[2].Id)
	assert.ErrorIs(t, err, ErrNotFound)

	group, err := r.CreateConversation(ctx, CreateConversationParams{
		ParticipantIds: []string{users[0].Id, users[1].Id},
		IsGroup:        true,
		Title:          "team",
		AdminId:        users[0].Id,
		CreatedAt:      now.Add(time.Second),
	})
	require.NoError(t, err)

	require.NoError(t, r.AddParticipant(ctx, group.Id, users[2].Id, now.Add(2*time.Second)))
	assert.ErrorIs(t, r.AddParticipant(ctx, group.Id, users[2].Id, now), ErrDuplicate)

	got, err := r.GetConversation(ctx, group.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{users[0].Id, users[1].Id, users[2].Id}, got.ParticipantIds(), "expected join order to be kept")

	list, err := r.ListConversations(ctx, users[0].Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, group.Id, list[0].Id, "expected most recently updated first")

	require.NoError(t, r.RemoveParticipant(ctx, group.Id, users[1].Id, now))
	assert.ErrorIs(t, r.RemoveParticipant(ctx, group.Id, users[1].Id, now), ErrNotFound)

	ids, err := r.ListConversationIds(ctx, users[1].Id)
	require.NoError(t, err)
	assert.Equal(t, []string{direct.Id}, ids)
}

func TestMemoryMessages(t *testing.T) {
	r := NewMemoryChatRepository()
	ctx := context.Background()
	users := seedUsers(t, r, "a", "b", "c")
	now := time.Now()

	conv, err := r.CreateConversation(ctx, CreateConversationParams{
		ParticipantIds: []string{users[0].Id, users[1].Id, users[2].Id},
		IsGroup:        true,
		Title:          "team",
		AdminId:        users[0].Id,
		CreatedAt:      now,
	})
	require.NoError(t, err)

	send := func(sender User, content string, at time.Time) Message {
		m, err := r.CreateMessage(ctx, CreateMessageParams{
			ConversationId: conv.Id,
			SenderId:       sender.Id,
			Content:        content,
			MessageType:    "text",
			CreatedAt:      at,
		})
		require.NoError(t, err)
		return m
	}

	first := send(users[0], "one", now.Add(time.Second))
	second := send(users[0], "two", now.Add(2*time.Second))
	assert.Equal(t, "a", second.SenderName)
	assert.Equal(t, "unread", second.Status)

	c, err := r.GetConversation(ctx, conv.Id)
	require.NoError(t, err)
	require.NotNil(t, c.LastMessageId)
	assert.Equal(t, second.Id, *c.LastMessageId)

	t.Run("mark read is idempotent", func(t *testing.T) {
		readAt := now.Add(time.Minute)
		m, changed, err := r.MarkMessageRead(ctx, first.Id, users[1].Id, readAt)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "read", m.Status)
		require.NotNil(t, m.ReadAt)
		assert.Equal(t, readAt, *m.ReadAt)

		m, changed, err = r.MarkMessageRead(ctx, first.Id, users[1].Id, readAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, readAt, *m.ReadAt, "expected readAt to be unchanged")

		m, changed, err = r.MarkMessageRead(ctx, first.Id, users[2].Id, readAt.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, readAt, *m.ReadAt, "expected first read time to be kept")
		assert.Len(t, m.ReadBy, 2)
	})

	t.Run("unread counts", func(t *testing.T) {
		n, err := r.CountUnread(ctx, users[1].Id, conv.Id)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = r.CountUnread(ctx, users[0].Id, "")
		require.NoError(t, err)
		assert.Equal(t, 0, n, "expected own messages to be excluded")

		marked, err := r.MarkConversationRead(ctx, conv.Id, users[1].Id, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, marked)

		n, err = r.CountUnread(ctx, users[1].Id, "")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("soft delete hides message from sender only", func(t *testing.T) {
		_, err := r.SoftDeleteMessage(ctx, first.Id, now.Add(time.Hour))
		require.NoError(t, err)

		own, err := r.ListMessages(ctx, conv.Id, users[0].Id, 10, 0)
		require.NoError(t, err)
		assert.Len(t, own, 1)

		other, err := r.ListMessages(ctx, conv.Id, users[1].Id, 10, 0)
		require.NoError(t, err)
		require.Len(t, other, 2)
		assert.Equal(t, second.Id, other[0].Id, "expected newest first")
	})

	t.Run("hard delete recomputes last message", func(t *testing.T) {
		last, err := r.DeleteMessage(ctx, second.Id)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, first.Id, *last)

		last, err = r.DeleteMessage(ctx, first.Id)
		require.NoError(t, err)
		assert.Nil(t, last)

		c, err := r.GetConversation(ctx, conv.Id)
		require.NoError(t, err)
		assert.Nil(t, c.LastMessageId)

		_, _, err = r.MarkMessageRead(ctx, first.Id, users[1].Id, now)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tcases := []struct {
		name          string
		limit, offset int
		expected      []int
	}{
		{"first page", 2, 0, []int{1, 2}},
		{"last partial page", 2, 4, []int{5}},
		{"past the end", 2, 10, []int{}},
		{"unbounded", -1, 1, []int{2, 3, 4, 5}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, page(items, tc.limit, tc.offset))
		})
	}
}

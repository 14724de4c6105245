package presence

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRegister(t *testing.T) {
	r := newTestRegistry()
	alice := types.UserSummary{Id: "u1", Name: "alice"}

	assert.True(t, r.Register("u1", "c1", alice), "expected first connection to bring the user online")
	assert.True(t, r.IsOnline("u1"))
	assert.False(t, r.Register("u1", "c2", alice), "expected second device not to be reported as first")
	assert.ElementsMatch(t, []string{"c1", "c2"}, r.Connections("u1"))
	assert.Equal(t, 1, r.Count())
}

func TestUnregister(t *testing.T) {
	tcases := []struct {
		name         string
		conns        []string
		unregister   []string
		expectLast   []bool
		expectOnline bool
	}{
		{
			name:         "single connection",
			conns:        []string{"c1"},
			unregister:   []string{"c1"},
			expectLast:   []bool{true},
			expectOnline: false,
		},
		{
			name:         "one of two devices",
			conns:        []string{"c1", "c2"},
			unregister:   []string{"c1"},
			expectLast:   []bool{false},
			expectOnline: true,
		},
		{
			name:         "both devices",
			conns:        []string{"c1", "c2"},
			unregister:   []string{"c2", "c1"},
			expectLast:   []bool{false, true},
			expectOnline: false,
		},
		{
			name:         "idempotent",
			conns:        []string{"c1"},
			unregister:   []string{"c1", "c1"},
			expectLast:   []bool{true, false},
			expectOnline: false,
		},
		{
			name:         "unknown connection",
			conns:        []string{"c1"},
			unregister:   []string{"c9"},
			expectLast:   []bool{false},
			expectOnline: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry()
			for _, c := range tc.conns {
				r.Register("u1", c, types.UserSummary{Id: "u1"})
			}

			for i, c := range tc.unregister {
				assert.Equal(t, tc.expectLast[i], r.Unregister("u1", c), "unexpected last flag for %s", c)
			}
			assert.Equal(t, tc.expectOnline, r.IsOnline("u1"))
		})
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry()
	r.Register("u1", "c1", types.UserSummary{Id: "u1"})
	r.Register("u1", "c2", types.UserSummary{Id: "u1"})

	r.Remove("u1")
	r.Remove("u1")
	assert.False(t, r.IsOnline("u1"))
	assert.Nil(t, r.Connections("u1"))
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry()
	r.Register("u1", "c1", types.UserSummary{Id: "u1", Name: "alice"})
	r.Register("u2", "c2", types.UserSummary{Id: "u2", Name: "bob"})
	r.Register("u3", "c3", types.UserSummary{Id: "u3", Name: "carol"})
	r.Unregister("u2", "c2")

	snap := r.Snapshot([]string{"u3", "u2", "u1", "u4"})
	assert.Len(t, snap, 2, "expected only registered users")
	assert.Equal(t, "u3", snap[0].UserId, "expected candidate order to be kept")
	assert.Equal(t, "alice", snap[1].User.Name)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), snap[1].LastSeen)

	assert.Empty(t, r.Snapshot(nil))
}

package server

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMembership(t *testing.T) {
	m := newMembership()
	m.add("alice", "c1")
	m.add("alice", "c2")
	m.add("bob", "c1")
	m.add("carol", "c2")

	tcases := []struct {
		name     string
		userId   string
		convs    []string
		expected []string
	}{
		{"shared conversation", "alice", []string{"c1"}, []string{"bob"}},
		{"every conversation", "alice", []string{"c1", "c2"}, []string{"bob", "carol"}},
		{"excludes the user", "bob", []string{"c1"}, []string{"alice"}},
		{"unknown conversation", "alice", []string{"c9"}, nil},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for id := range m.peers(tc.userId, tc.convs) {
				got = append(got, id)
			}
			slices.Sort(got)
			assert.Equal(t, tc.expected, got)
		})
	}

	m.remove("bob", "c1")
	assert.Empty(t, m.peers("alice", []string{"c1"}))
	assert.NotContains(t, m.byUser, "bob", "expected users without conversations to be dropped")

	convs := m.dropUser("alice")
	slices.Sort(convs)
	assert.Equal(t, []string{"c1", "c2"}, convs)
	assert.Empty(t, m.conversations("alice"))
	assert.NotContains(t, m.byConv, "c1")
	assert.Equal(t, map[string]struct{}{"carol": {}}, m.byConv["c2"])
}

package server

// membership records which conversations each online user participates in,
// independent of the rooms their connections have joined. Presence notices
// are addressed through it. Only the chat server goroutine touches it.
type membership struct {
	byUser map[string]map[string]struct{}
	byConv map[string]map[string]struct{}
}

func newMembership() *membership {
	return &membership{
		byUser: make(map[string]map[string]struct{}),
		byConv: make(map[string]map[string]struct{}),
	}
}

func (m *membership) add(userId, conversationId string) {
	convs, ok := m.byUser[userId]
	if !ok {
		convs = make(map[string]struct{})
		m.byUser[userId] = convs
	}
	convs[conversationId] = struct{}{}

	users, ok := m.byConv[conversationId]
	if !ok {
		users = make(map[string]struct{})
		m.byConv[conversationId] = users
	}
	users[userId] = struct{}{}
}

func (m *membership) remove(userId, conversationId string) {
	if convs, ok := m.byUser[userId]; ok {
		delete(convs, conversationId)
		if len(convs) == 0 {
			delete(m.byUser, userId)
		}
	}

	if users, ok := m.byConv[conversationId]; ok {
		delete(users, userId)
		if len(users) == 0 {
			delete(m.byConv, conversationId)
		}
	}
}

func (m *membership) conversations(userId string) []string {
	convs := make([]string, 0, len(m.byUser[userId]))
	for id := range m.byUser[userId] {
		convs = append(convs, id)
	}
	return convs
}

// dropUser forgets userId and returns the conversations they were in.
func (m *membership) dropUser(userId string) []string {
	convs := m.conversations(userId)
	for _, id := range convs {
		m.remove(userId, id)
	}
	return convs
}

// peers returns the other tracked users sharing any of conversationIds
// with userId.
func (m *membership) peers(userId string, conversationIds []string) map[string]struct{} {
	peers := make(map[string]struct{})
	for _, id := range conversationIds {
		for other := range m.byConv[id] {
			if other != userId {
				peers[other] = struct{}{}
			}
		}
	}
	return peers
}

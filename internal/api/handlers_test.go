package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findCookie returns the named cookie set on the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestCreateAccountHandler(t *testing.T) {
	ta := newTestApp(t)

	tcases := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"valid account", RegisterRequest{Name: "alice", Email: "alice@example.com", Password: "secret"}, http.StatusCreated},
		{"duplicate email", RegisterRequest{Name: "alice2", Email: "Alice@example.com", Password: "secret"}, http.StatusConflict},
		{"missing password", RegisterRequest{Name: "bob", Email: "bob@example.com"}, http.StatusBadRequest},
		{"invalid email", RegisterRequest{Name: "bob", Email: "bob", Password: "secret"}, http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ta.do(t, http.MethodPost, "/api/auth/register", "", tc.body)
			assert.Equal(t, tc.expectedStatus, rr.Code, rr.Body.String())

			if tc.expectedStatus == http.StatusCreated {
				u := decodeBody[types.User](t, rr)
				assert.NotEmpty(t, u.Id)
				assert.Equal(t, "alice", u.Name)
				assert.NotContains(t, rr.Body.String(), "password", "expected the hash to stay private")
			}
		})
	}
}

func Test_login(t *testing.T) {
	ta := newTestApp(t)
	alice, _ := ta.user(t, "alice")

	tcases := []struct {
		name           string
		body           LoginRequest
		expectedStatus int
	}{
		{"valid credentials", LoginRequest{Email: "alice@example.com", Password: "password"}, http.StatusOK},
		{"wrong password", LoginRequest{Email: "alice@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown email", LoginRequest{Email: "carol@example.com", Password: "password"}, http.StatusUnauthorized},
		{"missing fields", LoginRequest{Email: "alice@example.com"}, http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ta.do(t, http.MethodPost, "/api/auth/login", "", tc.body)
			require.Equal(t, tc.expectedStatus, rr.Code, rr.Body.String())

			if tc.expectedStatus != http.StatusOK {
				assert.Nil(t, findCookie(rr, tokenCookieKey))
				return
			}

			resp := decodeBody[LoginResponse](t, rr)
			assert.Equal(t, alice.Id, resp.User.Id)
			assert.NotEmpty(t, resp.Token)

			cookie := findCookie(rr, tokenCookieKey)
			require.NotNil(t, cookie, "expected a session cookie")
			assert.Equal(t, resp.Token, cookie.Value)
			assert.True(t, cookie.HttpOnly)
		})
	}
}

func Test_session(t *testing.T) {
	ta := newTestApp(t)
	alice, token := ta.user(t, "alice")

	t.Run("bearer token", func(t *testing.T) {
		rr := ta.do(t, http.MethodGet, "/api/auth/session", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, alice.Id, decodeBody[types.User](t, rr).Id)
		assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		rr := httptest.NewRecorder()
		ta.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rejected tokens", func(t *testing.T) {
		other := &GoChatApp{signingKey: []byte("other")}
		forged, err := other.createJwtForSession(alice, time.Hour)
		require.NoError(t, err)
		expired, err := ta.app.createJwtForSession(alice, -time.Hour)
		require.NoError(t, err)
		ghost, err := ta.app.createJwtForSession(types.User{Id: "5b0f4c1e-3c7e-4d5e-9d47-0c1f7c0b8a11"}, time.Hour)
		require.NoError(t, err)

		for name, tok := range map[string]string{
			"missing":      "",
			"forged":       forged,
			"expired":      expired,
			"unknown user": ghost,
		} {
			rr := ta.do(t, http.MethodGet, "/api/auth/session", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
		}
	})
}

func Test_logout(t *testing.T) {
	ta := newTestApp(t)
	_, token := ta.user(t, "alice")

	rr := ta.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.Expires.Before(time.Now()), "expected the cookie to be expired")
}

func Test_conversations(t *testing.T) {
	ta := newTestApp(t)
	alice, aliceToken := ta.user(t, "alice")
	bob, bobToken := ta.user(t, "bob")
	carol, carolToken := ta.user(t, "carol")

	body := CreateConversationRequest{ParticipantIds: []string{bob.Id}}
	rr := ta.do(t, http.MethodPost, "/api/conversations", aliceToken, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	direct := decodeBody[types.Conversation](t, rr)
	assert.Len(t, direct.Participants, 2)
	assert.False(t, direct.IsGroup)

	rr = ta.do(t, http.MethodPost, "/api/conversations", bobToken, CreateConversationRequest{ParticipantIds: []string{alice.Id}})
	require.Equal(t, http.StatusOK, rr.Code, "expected the existing direct conversation")
	assert.Equal(t, direct.Id, decodeBody[types.Conversation](t, rr).Id)

	rr = ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{
		ParticipantIds: []string{bob.Id, carol.Id},
		IsGroup:        true,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "expected groups to require a title")

	rr = ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{
		ParticipantIds: []string{bob.Id},
		IsGroup:        true,
		Title:          "team",
		InitialMessage: "welcome",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	group := decodeBody[types.Conversation](t, rr)
	assert.Equal(t, alice.Id, group.AdminId)
	require.NotNil(t, group.LastMessage)
	assert.Equal(t, "welcome", group.LastMessage.Content)

	t.Run("list", func(t *testing.T) {
		rr := ta.do(t, http.MethodGet, "/api/conversations?page=1&limit=10", aliceToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		convs := decodeBody[[]types.Conversation](t, rr)
		require.Len(t, convs, 2)
		assert.Equal(t, group.Id, convs[0].Id, "expected the most recently updated conversation first")

		rr = ta.do(t, http.MethodGet, "/api/conversations?page=zero", aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("get", func(t *testing.T) {
		rr := ta.do(t, http.MethodGet, "/api/conversations/"+direct.Id, bobToken, nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = ta.do(t, http.MethodGet, "/api/conversations/"+direct.Id, carolToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = ta.do(t, http.MethodGet, "/api/conversations/not-a-uuid", aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("participants", func(t *testing.T) {
		rr := ta.do(t, http.MethodPost, "/api/conversations/"+direct.Id+"/participants", aliceToken, AddParticipantRequest{UserId: carol.Id})
		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected direct conversations to be closed")

		rr = ta.do(t, http.MethodPost, "/api/conversations/"+group.Id+"/participants", aliceToken, AddParticipantRequest{UserId: carol.Id})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Len(t, decodeBody[types.Conversation](t, rr).Participants, 3)

		rr = ta.do(t, http.MethodPost, "/api/conversations/"+group.Id+"/participants", aliceToken, AddParticipantRequest{UserId: carol.Id})
		assert.Equal(t, http.StatusConflict, rr.Code)

		rr = ta.do(t, http.MethodDelete, "/api/conversations/"+group.Id+"/participants/"+carol.Id, bobToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code, "expected only the admin or the user to remove")

		rr = ta.do(t, http.MethodDelete, "/api/conversations/"+group.Id+"/participants/"+carol.Id, carolToken, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Len(t, decodeBody[types.Conversation](t, rr).Participants, 2)
	})
}

func Test_messages(t *testing.T) {
	ta := newTestApp(t)
	_, aliceToken := ta.user(t, "alice")
	bob, bobToken := ta.user(t, "bob")

	rr := ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{ParticipantIds: []string{bob.Id}})
	require.Equal(t, http.StatusCreated, rr.Code)
	conv := decodeBody[types.Conversation](t, rr)

	send := func(content string) types.Message {
		rr := ta.do(t, http.MethodPost, "/api/messages", aliceToken, events.SendMessage{ConversationId: conv.Id, Content: content})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		return decodeBody[types.Message](t, rr)
	}

	first := send("  first  ")
	assert.Equal(t, "first", first.Content, "expected content to be trimmed")
	second := send("second")

	rr = ta.do(t, http.MethodPost, "/api/messages", aliceToken, events.SendMessage{ConversationId: conv.Id, Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	t.Run("list oldest first", func(t *testing.T) {
		rr := ta.do(t, http.MethodGet, "/api/conversations/"+conv.Id+"/messages", bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		msgs := decodeBody[[]types.Message](t, rr)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.Id, msgs[0].Id)
		assert.Equal(t, second.Id, msgs[1].Id)
	})

	t.Run("unread and read", func(t *testing.T) {
		rr := ta.do(t, http.MethodGet, "/api/messages/unread", bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 2, decodeBody[CountResponse](t, rr).Count)

		rr = ta.do(t, http.MethodPut, "/api/messages/"+first.Id+"/read", bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		read := decodeBody[types.Message](t, rr)
		assert.Equal(t, types.StatusRead, read.Status)
		require.NotNil(t, read.ReadAt)

		rr = ta.do(t, http.MethodPut, "/api/messages/"+first.Id+"/read", bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code, "expected marking twice to succeed")
		assert.Equal(t, read.ReadAt, decodeBody[types.Message](t, rr).ReadAt, "expected readAt to be unchanged")

		rr = ta.do(t, http.MethodPut, "/api/messages/"+first.Id+"/read", aliceToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code, "expected senders not to read their own messages")

		rr = ta.do(t, http.MethodGet, "/api/messages/unread?conversationId="+conv.Id, bobToken, nil)
		assert.Equal(t, 1, decodeBody[CountResponse](t, rr).Count)

		rr = ta.do(t, http.MethodPut, "/api/conversations/"+conv.Id+"/read", bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, decodeBody[CountResponse](t, rr).Count)
	})

	t.Run("edit", func(t *testing.T) {
		rr := ta.do(t, http.MethodPut, "/api/messages/"+second.Id, aliceToken, EditMessageRequest{Content: " edited "})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		edited := decodeBody[types.Message](t, rr)
		assert.Equal(t, "edited", edited.Content)
		assert.True(t, edited.IsEdited)

		rr = ta.do(t, http.MethodPut, "/api/messages/"+second.Id, bobToken, EditMessageRequest{Content: "mine now"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rr := ta.do(t, http.MethodDelete, "/api/messages/"+second.Id+"?everyone=maybe", aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = ta.do(t, http.MethodDelete, "/api/messages/"+first.Id, aliceToken, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = ta.do(t, http.MethodGet, "/api/conversations/"+conv.Id+"/messages", aliceToken, nil)
		assert.Len(t, decodeBody[[]types.Message](t, rr), 1, "expected the soft deleted message to be hidden from its sender")

		rr = ta.do(t, http.MethodDelete, "/api/messages/"+second.Id+"?everyone=true", aliceToken, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = ta.do(t, http.MethodGet, "/api/conversations/"+conv.Id, bobToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, &first.Id, decodeBody[types.Conversation](t, rr).LastMessageId, "expected the pointer to fall back to the previous message")
	})
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func readEvent(t *testing.T, conn *websocket.Conn, name string) events.ServerEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev events.ServerEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Name() == name {
			return ev
		}
	}
}

func Test_serveWs(t *testing.T) {
	ta := newTestApp(t)
	alice, aliceToken := ta.user(t, "alice")
	bob, bobToken := ta.user(t, "bob")

	srv := httptest.NewServer(ta.handler)
	t.Cleanup(srv.Close)

	t.Run("unauthenticated handshake", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "garbage"), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, bobToken), http.Header{"Origin": {"http://evil.example"}})
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	rr := ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{ParticipantIds: []string{bob.Id}})
	require.Equal(t, http.StatusCreated, rr.Code)
	conv := decodeBody[types.Conversation](t, rr)

	bobConn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, bobToken), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		bobConn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, ta.cs.Shutdown(ctx), "expected the client pumps to exit before the test ends")
	})

	connected := readEvent(t, bobConn, "connected")
	assert.Equal(t, bob.Id, connected.Payload.(events.Connected).UserId)

	t.Run("REST send reaches the room", func(t *testing.T) {
		rr := ta.do(t, http.MethodPost, "/api/messages", aliceToken, events.SendMessage{ConversationId: conv.Id, Content: "over rest"})
		require.Equal(t, http.StatusCreated, rr.Code)

		ev := readEvent(t, bobConn, "receiveMessage")
		msg := ev.Payload.(events.ReceiveMessage)
		assert.Equal(t, "over rest", msg.Content)
		assert.Equal(t, alice.Id, msg.Sender.Id)
	})

	t.Run("socket send", func(t *testing.T) {
		require.NoError(t, bobConn.WriteJSON(events.ClientEvent{Id: 11, Payload: events.SendMessage{
			ConversationId: conv.Id,
			Content:        "over socket",
			ClientId:       "tmp-9",
		}}))

		ack := readEvent(t, bobConn, "messageDelivered")
		assert.Equal(t, 11, ack.Id)
		assert.Equal(t, "tmp-9", ack.Payload.(events.MessageDelivered).ClientId)
	})

	t.Run("group creation joins live connections", func(t *testing.T) {
		rr := ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{
			ParticipantIds: []string{bob.Id},
			IsGroup:        true,
			Title:          "team",
			InitialMessage: "hello team",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		created := readEvent(t, bobConn, "conversationCreated")
		assert.Equal(t, "team", created.Payload.(events.ConversationCreated).Title)

		ev := readEvent(t, bobConn, "receiveMessage")
		assert.Equal(t, "hello team", ev.Payload.(events.ReceiveMessage).Content, "expected the new room to be joined before the initial message")
	})
}

func Test_attachClient(t *testing.T) {
	ta := newTestApp(t)
	alice, aliceToken := ta.user(t, "alice")
	carol, _ := ta.user(t, "carol")

	ctx := context.Background()
	stale, err := ta.svc.ConversationIds(ctx, carol.Id)
	require.NoError(t, err)
	require.Empty(t, stale)

	// carol's socket registers with the room list loaded above
	upgrader := websocket.Upgrader{}
	carolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := server.NewClient(carol.Summary(), conn, ta.cs, ta.svc, testutil.TestLogger(t))
		if err := ta.app.attachClient(r.Context(), c, carol.Id, stale); err != nil {
			conn.Close()
			return
		}
		if err := ta.cs.Serve(c); err != nil {
			conn.Close()
		}
	}))
	t.Cleanup(carolSrv.Close)

	srv := httptest.NewServer(ta.handler)
	t.Cleanup(srv.Close)

	aliceConn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, aliceToken), nil)
	require.NoError(t, err)
	readEvent(t, aliceConn, "connected")

	// the conversation is created, and its dispatches applied, before carol
	// registers
	rr := ta.do(t, http.MethodPost, "/api/conversations", aliceToken, CreateConversationRequest{ParticipantIds: []string{carol.Id}})
	require.Equal(t, http.StatusCreated, rr.Code)
	conv := decodeBody[types.Conversation](t, rr)
	readEvent(t, aliceConn, "conversationCreated")

	carolConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(carolSrv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		aliceConn.Close()
		carolConn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, ta.cs.Shutdown(ctx))
	})
	readEvent(t, carolConn, "connected")

	rr = ta.do(t, http.MethodPost, "/api/messages", aliceToken, events.SendMessage{ConversationId: conv.Id, Content: "hi carol"})
	require.Equal(t, http.StatusCreated, rr.Code)

	ev := readEvent(t, carolConn, "receiveMessage")
	msg := ev.Payload.(events.ReceiveMessage)
	assert.Equal(t, "hi carol", msg.Content)
	assert.Equal(t, alice.Id, msg.Sender.Id)
}

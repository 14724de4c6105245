package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientEvent(t *testing.T) {
	tcases := []struct {
		name        string
		frame       string
		expectedId  int
		expected    Payload
		expectedErr error
	}{
		{
			name:       "join room",
			frame:      `{"event":"joinRoom","id":3,"data":{"conversationId":"c1"}}`,
			expectedId: 3,
			expected:   JoinRoom{ConversationId: "c1"},
		},
		{
			name:     "typing",
			frame:    `{"event":"typing","data":{"conversationId":"c1","isTyping":true}}`,
			expected: Typing{ConversationId: "c1", IsTyping: true},
		},
		{
			name:     "send message",
			frame:    `{"event":"sendMessage","data":{"conversationId":"c1","content":"hi","messageType":"text","clientId":"tmp-1"}}`,
			expected: SendMessage{ConversationId: "c1", Content: "hi", MessageType: "text", ClientId: "tmp-1"},
		},
		{
			name:     "missing data decodes to zero payload",
			frame:    `{"event":"getOnlineUsers"}`,
			expected: GetOnlineUsers{},
		},
		{
			name:        "unknown event keeps the request id",
			frame:       `{"event":"dance","id":9}`,
			expectedId:  9,
			expectedErr: ErrUnknownEvent,
		},
		{
			name:        "server event names are not accepted from clients",
			frame:       `{"event":"receiveMessage","data":{}}`,
			expectedErr: ErrUnknownEvent,
		},
		{
			name:        "wrong field type",
			frame:       `{"event":"typing","id":4,"data":{"conversationId":"c1","isTyping":"yes"}}`,
			expectedId:  4,
			expectedErr: ErrMalformedPayload,
		},
		{
			name:        "not json",
			frame:       `hello`,
			expectedErr: ErrMalformedPayload,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeClientEvent([]byte(tc.frame))
			assert.Equal(t, tc.expectedId, ev.Id, "expected request id to match")
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, ev.Payload)
		})
	}
}

func TestClientEventRoundTrip(t *testing.T) {
	ev := ClientEvent{Id: 7, Payload: MarkMessageAsRead{MessageId: "m1"}}

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"markMessageAsRead","id":7,"data":{"messageId":"m1"}}`, string(b))

	var decoded ClientEvent
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestServerEventEnvelope(t *testing.T) {
	user := types.UserSummary{Id: "u1", Name: "alice"}
	ev := NewUserTyping(user, "c1", true)

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, `"userTyping"`, string(raw["event"]))
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "id", "expected id to be omitted on broadcasts")

	var decoded ServerEvent
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, ev.Timestamp, decoded.Timestamp)

	typing, ok := decoded.Payload.(UserTyping)
	require.True(t, ok, "expected a UserTyping payload, got %T", decoded.Payload)
	assert.Equal(t, "u1", typing.UserId)
	assert.Equal(t, "c1", typing.ConversationId)
	assert.True(t, typing.IsTyping)
}

func TestReceiveMessageFlattensMessage(t *testing.T) {
	msg := types.Message{
		Id:             "m1",
		ConversationId: "c1",
		Sender:         types.UserSummary{Id: "u1", Name: "alice"},
		Content:        "hi",
		MessageType:    types.MessageTypeText,
		Status:         types.StatusUnread,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	b, err := json.Marshal(NewReceiveMessage(msg, "tmp-1"))
	require.NoError(t, err)

	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, "hi", env.Data["content"])
	assert.Equal(t, "c1", env.Data["conversationId"])
	assert.Equal(t, "unread", env.Data["status"])
	assert.Equal(t, "tmp-1", env.Data["clientId"])

	var decoded ServerEvent
	require.NoError(t, json.Unmarshal(b, &decoded))
	rm, ok := decoded.Payload.(ReceiveMessage)
	require.True(t, ok)
	assert.Equal(t, msg, rm.Message)
}

func TestMessageReadCarriesReaderId(t *testing.T) {
	readAt := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	msg := types.Message{
		Id:             "m1",
		ConversationId: "c1",
		ReadBy:         []types.ReadReceipt{{UserId: "u2", ReadAt: readAt}},
	}

	b, err := json.Marshal(NewMessageRead(msg, types.UserSummary{Id: "u2", Name: "bob"}, readAt))
	require.NoError(t, err)

	var env struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, `"u2"`, string(env.Data["readBy"]), "expected readBy to be the reader's id")
	assert.Contains(t, env.Data, "receipts")

	var decoded ServerEvent
	require.NoError(t, json.Unmarshal(b, &decoded))
	read, ok := decoded.Payload.(MessageRead)
	require.True(t, ok)
	assert.Equal(t, "u2", read.ReadBy)
	assert.Equal(t, "bob", read.Reader.Name)
	assert.Equal(t, msg.ReadBy, read.Receipts)
}

func TestNewError(t *testing.T) {
	ev := NewError(5, 403, "not a participant")
	assert.Equal(t, 5, ev.Id)
	assert.Equal(t, "error", ev.Name())
	assert.Equal(t, Error{Code: 403, Message: "not a participant"}, ev.Payload)
}

func TestWithId(t *testing.T) {
	ev := NewJoinedRoom("c1")
	reply := ev.WithId(12)
	assert.Equal(t, 12, reply.Id)
	assert.Equal(t, 0, ev.Id, "expected original event to be unchanged")
}

func TestNotificationPreview(t *testing.T) {
	tcases := []struct {
		name     string
		content  string
		expected string
	}{
		{"short content is kept", "hello", "hello"},
		{"long content is truncated on a rune boundary", strings.Repeat("é", 60), strings.Repeat("é", 50) + "…"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ev := NewNewMessageNotification(types.Message{Content: tc.content})
			n := ev.Payload.(NewMessageNotification)
			assert.Equal(t, tc.expected, n.Preview)
		})
	}
}

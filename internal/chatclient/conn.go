package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/rs/zerolog"
)

const (
	writeWait        = 10 * time.Second
	eventsBufferSize = 64
)

var ErrUnauthorized = errors.New("unauthorized")

// Conn is a websocket session with the chat server. Every server event is
// applied to the store before it is handed to Events.
type Conn struct {
	ws     *websocket.Conn
	store  *Store
	log    zerolog.Logger
	nextId atomic.Int64

	writeMu sync.Mutex
	events  chan *events.ServerEvent
}

// Dial opens a websocket to wsURL authenticating with token as a bearer
// credential.
func Dial(ctx context.Context, wsURL, token string, store *Store, logger zerolog.Logger) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", wsURL, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return &Conn{
		ws:     ws,
		store:  store,
		log:    logger.With().Str("component", "conn").Logger(),
		events: make(chan *events.ServerEvent, eventsBufferSize),
	}, nil
}

// Events yields applied server events. It is closed when Run returns.
func (c *Conn) Events() <-chan *events.ServerEvent {
	return c.events
}

// Run reads frames until the connection closes. Events the consumer does
// not keep up with are still applied to the store but not forwarded.
func (c *Conn) Run() error {
	defer close(c.events)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		ev := &events.ServerEvent{}
		if err := json.Unmarshal(raw, ev); err != nil {
			c.log.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}

		c.store.Apply(ev)

		select {
		case c.events <- ev:
		default:
			c.log.Debug().Str("event", ev.Name()).Msg("events buffer full")
		}
	}
}

func (c *Conn) write(ev events.ClientEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Send writes a client event and returns the request id it was sent with.
func (c *Conn) Send(p events.Payload) (int, error) {
	id := int(c.nextId.Add(1))
	return id, c.write(events.ClientEvent{Id: id, Payload: p})
}

// SendMessage posts content optimistically: the message shows up in the
// store right away and is replaced once the server acknowledges it.
func (c *Conn) SendMessage(conversationId, content string) (string, error) {
	id := int(c.nextId.Add(1))

	msg, err := c.store.BeginSend(conversationId, content, id)
	if err != nil {
		return "", err
	}

	err = c.write(events.ClientEvent{Id: id, Payload: events.SendMessage{
		ConversationId: conversationId,
		Content:        content,
		ClientId:       msg.Id,
	}})
	if err != nil {
		c.store.Rollback(msg.Id)
		return "", err
	}

	return msg.Id, nil
}

func (c *Conn) JoinRoom(conversationId string) (int, error) {
	return c.Send(events.JoinRoom{ConversationId: conversationId})
}

func (c *Conn) LeaveRoom(conversationId string) (int, error) {
	return c.Send(events.LeaveRoom{ConversationId: conversationId})
}

func (c *Conn) Typing(conversationId string, isTyping bool) (int, error) {
	return c.Send(events.Typing{ConversationId: conversationId, IsTyping: isTyping})
}

func (c *Conn) MarkRead(messageId string) (int, error) {
	return c.Send(events.MarkMessageAsRead{MessageId: messageId})
}

func (c *Conn) OnlineUsers(conversationId string) (int, error) {
	return c.Send(events.GetOnlineUsers{ConversationId: conversationId})
}

// Close performs the closing handshake and releases the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	err := c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()

	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	return err
}

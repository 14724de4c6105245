package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// ConnState is the lifecycle stage of a websocket connection.
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticating
	StateActive
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Operations is the part of the chat service a websocket client drives.
type Operations interface {
	JoinRoom(ctx context.Context, actor chat.Actor, conversationId string) ([]chat.Dispatch, error)
	LeaveRoom(ctx context.Context, actor chat.Actor, conversationId string) ([]chat.Dispatch, error)
	Typing(ctx context.Context, actor chat.Actor, conversationId string, isTyping bool) ([]chat.Dispatch, error)
	SendMessage(ctx context.Context, actor chat.Actor, params chat.SendMessageParams) (types.Message, []chat.Dispatch, error)
	MarkRead(ctx context.Context, actor chat.Actor, messageId string) (types.Message, []chat.Dispatch, error)
	OnlineUsers(ctx context.Context, actor chat.Actor, conversationId string) ([]chat.Dispatch, error)
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	ops        Operations
	log        zerolog.Logger
	user       types.UserSummary
	send       chan *events.ServerEvent
	// rooms is owned by the chat server goroutine.
	rooms    map[string]struct{}
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	stats    stats.StatsProvider
}

func NewClient(user types.UserSummary, conn *websocket.Conn, cs *ChatServer, ops Operations, logger zerolog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = user.Id + "-" + time.Now().UTC().Format("150405.000000000")
	}

	c := &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		ops:        ops,
		user:       user,
		send:       make(chan *events.ServerEvent, sendBufferSize),
		rooms:      make(map[string]struct{}),
		stop:       make(chan struct{}),
		log: logger.With().
			Str("conn_id", id).
			Str("user_id", user.Id).
			Logger(),
	}
	if cs != nil {
		c.stats = cs.stats
	}
	c.setState(StateAuthenticating)

	return c
}

func (c *Client) Id() string { return c.id }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

func (c *Client) actor() chat.Actor {
	return chat.Actor{User: c.user, ConnId: c.id}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case ev := <-c.send:
			bytes, err := serializeMessage(ev)
			if err != nil {
				c.log.Error().Err(err).Str("event", ev.Name()).Msg("failed to serialize event")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.chatServer.unregister(c)
		c.stopClient()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		if c.State() != StateActive {
			continue
		}

		c.chatServer.Deliver(c.handle(context.Background(), raw))
	}
}

// handle runs one client frame against the chat service and returns the
// dispatches to apply. Failures become an error event addressed to the
// request.
func (c *Client) handle(ctx context.Context, raw []byte) []chat.Dispatch {
	ev, err := events.DecodeClientEvent(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid client event")
		code := http.StatusBadRequest
		if errors.Is(err, events.ErrUnknownEvent) {
			code = http.StatusNotFound
		}
		return c.errorReply(ev.Id, code, err.Error())
	}

	actor := c.actor()
	var ds []chat.Dispatch

	switch p := ev.Payload.(type) {
	case events.JoinRoom:
		ds, err = c.ops.JoinRoom(ctx, actor, p.ConversationId)
	case events.LeaveRoom:
		ds, err = c.ops.LeaveRoom(ctx, actor, p.ConversationId)
	case events.Typing:
		ds, err = c.ops.Typing(ctx, actor, p.ConversationId, p.IsTyping)
	case events.SendMessage:
		_, ds, err = c.ops.SendMessage(ctx, actor, chat.SendMessageParams{
			ConversationId: p.ConversationId,
			Content:        p.Content,
			MessageType:    p.MessageType,
			FileUrl:        p.FileUrl,
			FileName:       p.FileName,
			FileSize:       p.FileSize,
			ReplyTo:        p.ReplyTo,
			ClientId:       p.ClientId,
		})
	case events.MarkMessageAsRead:
		_, ds, err = c.ops.MarkRead(ctx, actor, p.MessageId)
	case events.GetOnlineUsers:
		ds, err = c.ops.OnlineUsers(ctx, actor, p.ConversationId)
	default:
		err = chat.ErrValidation("unsupported event %q", ev.Name())
	}

	if err != nil {
		kind := chat.Kind(err)
		logEv := c.log.Warn()
		if kind == chat.KindInternal {
			logEv = c.log.Error()
		}
		logEv.Err(err).Str("event", ev.Name()).Stringer("kind", kind).Msg("client event failed")
		return c.errorReply(ev.Id, kind.StatusCode(), chat.PublicMessage(err))
	}

	for i := range ds {
		if ds[i].ConnId == c.id && (ds[i].Scope == chat.ToConn || ds[i].Scope == chat.OnlineUsers) {
			ds[i].RequestId = ev.Id
		}
	}
	return ds
}

func (c *Client) errorReply(id, code int, message string) []chat.Dispatch {
	return []chat.Dispatch{{
		Scope:  chat.ToConn,
		ConnId: c.id,
		Event:  events.NewError(id, code, message),
	}}
}

// queueMessage hands ev to the write pump without blocking. Events for a
// client whose buffer is full are dropped.
func (c *Client) queueMessage(ev *events.ServerEvent) bool {
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Warn().Str("event", ev.Name()).Msg("send buffer full, dropping event")
		if c.stats != nil {
			c.stats.Incr(stats.EventsDropped)
		}
		return false
	}
}

func serializeMessage(ev *events.ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("websocket write failed")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

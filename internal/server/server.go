package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultPresenceFlushInterval = 500 * time.Millisecond

	notifyTimeout = 5 * time.Second
)

var ErrShuttingDown = errors.New("chat server is shutting down")

type registerReq struct {
	client *Client
	rooms  []string
	done   chan struct{}
}

type stopReq struct {
	done chan struct{}
}

// presenceChange is a pending online/offline notice for one user. wasOnline
// is the state last announced, so a change that returns to it before the
// next flush cancels out.
type presenceChange struct {
	user      types.UserSummary
	online    bool
	wasOnline bool
	at        time.Time

	// conversations is what the user participated in when they went
	// offline.
	conversations []string
}

// ChatServer owns the presence registry, the membership index and the room
// table. Every mutation of them happens on the goroutine running Run; other goroutines communicate
// with it over channels.
type ChatServer struct {
	log      zerolog.Logger
	presence *presence.Registry
	notifier notify.Notifier
	stats    stats.StatsProvider

	clients map[string]*Client
	rooms   map[string]*Room
	members *membership
	pending map[string]*presenceChange

	registerChan   chan *registerReq
	unregisterChan chan *Client
	dispatchChan   chan []chat.Dispatch
	noticeChan     chan notify.OfflineNotice
	stop           chan stopReq
	done           chan struct{}

	// pumps counts running client read and write loops. closing is set
	// once Shutdown starts waiting on them.
	pumpsMu sync.Mutex
	pumps   sync.WaitGroup
	closing bool

	flushInterval time.Duration
	now           func() time.Time
}

type Options struct {
	PresenceFlushInterval time.Duration
}

func NewChatServer(logger zerolog.Logger, reg *presence.Registry, notifier notify.Notifier, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if reg == nil {
		return nil, errors.New("presence registry is required")
	}
	if opts.PresenceFlushInterval <= 0 {
		opts.PresenceFlushInterval = DefaultPresenceFlushInterval
	}

	for _, name := range []string{
		stats.Connections,
		stats.OnlineUsers,
		stats.ActiveRooms,
		stats.MessagesSent,
		stats.EventsDropped,
		stats.OfflineNotices,
		stats.PresenceBroadcast,
	} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:            logger.With().Str("component", "hub").Logger(),
		presence:       reg,
		notifier:       notifier,
		stats:          su,
		clients:        make(map[string]*Client),
		rooms:          make(map[string]*Room),
		members:        newMembership(),
		pending:        make(map[string]*presenceChange),
		registerChan:   make(chan *registerReq),
		unregisterChan: make(chan *Client),
		dispatchChan:   make(chan []chat.Dispatch, 256),
		noticeChan:     make(chan notify.OfflineNotice, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		flushInterval:  opts.PresenceFlushInterval,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (cs *ChatServer) Run() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()

	notifierDone := make(chan struct{})
	go cs.runNotifier(notifierDone)

	for {
		select {
		case req := <-cs.registerChan:
			cs.registerClient(req.client, req.rooms)
			close(req.done)
		case c := <-cs.unregisterChan:
			cs.deRegisterClient(c)
		case ds := <-cs.dispatchChan:
			cs.apply(ds)
		case <-ticker.C:
			cs.flushPresence()
		case req := <-cs.stop:
			cs.log.Info().Int("clients", len(cs.clients)).Msg("shutting down chat server")
			cs.drainDispatches()
			cs.stopClients()

			close(cs.noticeChan)
			<-notifierDone

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// drainDispatches applies batches submitted before shutdown began.
func (cs *ChatServer) drainDispatches() {
	for {
		select {
		case ds := <-cs.dispatchChan:
			cs.apply(ds)
		default:
			return
		}
	}
}

// stopClients closes every client and forgets its presence. Read pumps
// exiting afterwards find the hub gone and do not unregister.
func (cs *ChatServer) stopClients() {
	for id, c := range cs.clients {
		c.setState(StateTerminated)
		c.stopClient()
		cs.presence.Remove(c.user.Id)
		cs.members.dropUser(c.user.Id)
		delete(cs.clients, id)
	}
	clear(cs.rooms)
	clear(cs.pending)
	cs.stats.Set(stats.Connections, 0)
	cs.stats.Set(stats.ActiveRooms, 0)
	cs.stats.Set(stats.OnlineUsers, int64(cs.presence.Count()))
}

// Register adds an authenticated client and subscribes it to rooms. It
// returns once the client is active, so events the client submits
// afterwards are applied after its registration.
func (cs *ChatServer) Register(c *Client, rooms []string) error {
	req := &registerReq{client: c, rooms: rooms, done: make(chan struct{})}
	select {
	case cs.registerChan <- req:
	case <-cs.done:
		return ErrShuttingDown
	}

	<-req.done
	return nil
}

// Serve runs the read and write pumps of a registered client. Shutdown
// waits for both to exit.
func (cs *ChatServer) Serve(c *Client) error {
	cs.pumpsMu.Lock()
	defer cs.pumpsMu.Unlock()
	if cs.closing {
		return ErrShuttingDown
	}

	cs.pumps.Add(2)
	go func() {
		defer cs.pumps.Done()
		c.Write()
	}()
	go func() {
		defer cs.pumps.Done()
		c.Read()
	}()
	return nil
}

func (cs *ChatServer) unregister(c *Client) {
	select {
	case cs.unregisterChan <- c:
	case <-cs.done:
	}
}

// Deliver submits dispatches produced by a chat operation. Batches are
// applied in submission order.
func (cs *ChatServer) Deliver(ds []chat.Dispatch) {
	if len(ds) == 0 {
		return
	}

	select {
	case cs.dispatchChan <- ds:
	case <-cs.done:
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return cs.waitPumps(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return cs.waitPumps(ctx)
}

func (cs *ChatServer) waitPumps(ctx context.Context) error {
	cs.pumpsMu.Lock()
	cs.closing = true
	cs.pumpsMu.Unlock()

	done := make(chan struct{})
	go func() {
		cs.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) registerClient(c *Client, rooms []string) {
	cs.clients[c.id] = c
	cs.stats.Incr(stats.Connections)

	c.queueMessage(events.NewConnected(c.user))

	for _, id := range rooms {
		cs.joinRoom(c, id)
		cs.members.add(c.user.Id, id)
	}

	first := cs.presence.Register(c.user.Id, c.id, c.user)
	cs.stats.Set(stats.OnlineUsers, int64(cs.presence.Count()))
	c.setState(StateActive)

	cs.log.Info().
		Str("user_id", c.user.Id).
		Str("conn_id", c.id).
		Int("rooms", len(rooms)).
		Bool("first_connection", first).
		Msg("client registered")

	if first {
		cs.queuePresence(c.user, true, nil)
	}
}

func (cs *ChatServer) deRegisterClient(c *Client) {
	if _, ok := cs.clients[c.id]; !ok {
		return
	}

	for id := range c.rooms {
		cs.leaveRoom(c, id)
	}

	delete(cs.clients, c.id)
	cs.stats.Decr(stats.Connections)

	last := cs.presence.Unregister(c.user.Id, c.id)
	cs.stats.Set(stats.OnlineUsers, int64(cs.presence.Count()))
	c.setState(StateTerminated)
	c.stopClient()

	cs.log.Info().
		Str("user_id", c.user.Id).
		Str("conn_id", c.id).
		Bool("last_connection", last).
		Msg("client deregistered")

	if last {
		cs.queuePresence(c.user, false, cs.members.dropUser(c.user.Id))
	}
}

func (cs *ChatServer) joinRoom(c *Client, conversationId string) {
	r, ok := cs.rooms[conversationId]
	if !ok {
		r = newRoom(conversationId, cs.log)
		cs.rooms[conversationId] = r
		cs.stats.Set(stats.ActiveRooms, int64(len(cs.rooms)))
	}
	r.addClient(c)
}

func (cs *ChatServer) leaveRoom(c *Client, conversationId string) {
	r, ok := cs.rooms[conversationId]
	if !ok {
		return
	}

	r.removeClient(c)
	if r.empty() {
		delete(cs.rooms, conversationId)
		cs.stats.Set(stats.ActiveRooms, int64(len(cs.rooms)))
	}
}

// userClients returns the live clients of a user.
func (cs *ChatServer) userClients(userId string) []*Client {
	var clients []*Client
	for _, connId := range cs.presence.Connections(userId) {
		if c, ok := cs.clients[connId]; ok {
			clients = append(clients, c)
		}
	}
	return clients
}

func (cs *ChatServer) apply(ds []chat.Dispatch) {
	for _, d := range ds {
		cs.applyOne(d)
	}
}

func (cs *ChatServer) applyOne(d chat.Dispatch) {
	switch d.Scope {
	case chat.ToConn:
		if c, ok := cs.clients[d.ConnId]; ok {
			ev := d.Event
			if d.RequestId != 0 {
				ev = ev.WithId(d.RequestId)
			}
			c.queueMessage(ev)
		}
	case chat.ToRoom:
		if _, ok := d.Event.Payload.(events.ReceiveMessage); ok {
			cs.stats.Incr(stats.MessagesSent)
		}
		if r, ok := cs.rooms[d.ConversationId]; ok {
			r.broadcast(d.Event, d.ExcludeConn)
		}
	case chat.ToUsers:
		for _, userId := range d.UserIds {
			for _, c := range cs.userClients(userId) {
				c.queueMessage(d.Event)
			}
		}
	case chat.JoinConn:
		if c, ok := cs.clients[d.ConnId]; ok {
			cs.joinRoom(c, d.ConversationId)
			cs.members.add(c.user.Id, d.ConversationId)
		}
	case chat.LeaveConn:
		if c, ok := cs.clients[d.ConnId]; ok {
			cs.leaveRoom(c, d.ConversationId)
		}
	case chat.JoinUsers:
		for _, userId := range d.UserIds {
			clients := cs.userClients(userId)
			for _, c := range clients {
				cs.joinRoom(c, d.ConversationId)
			}
			if len(clients) > 0 {
				cs.members.add(userId, d.ConversationId)
			}
		}
	case chat.LeaveUsers:
		for _, userId := range d.UserIds {
			for _, c := range cs.userClients(userId) {
				cs.leaveRoom(c, d.ConversationId)
			}
			cs.members.remove(userId, d.ConversationId)
		}
	case chat.OnlineUsers:
		if c, ok := cs.clients[d.ConnId]; ok {
			ev := events.NewOnlineUsers(d.ConversationId, cs.presence.Snapshot(d.UserIds))
			c.queueMessage(ev.WithId(d.RequestId))
		}
	case chat.NotifyParticipants:
		cs.notifyParticipants(d)
	default:
		cs.log.Warn().Stringer("scope", d.Scope).Msg("unknown dispatch scope")
	}
}

// notifyParticipants alerts recipients of a new message who will not see it
// through the room broadcast.
func (cs *ChatServer) notifyParticipants(d chat.Dispatch) {
	if d.Message == nil {
		return
	}

	room := cs.rooms[d.ConversationId]
	var ev *events.ServerEvent
	for _, userId := range d.UserIds {
		if !cs.presence.IsOnline(userId) {
			cs.queueOfflineNotice(userId, d.Message)
			continue
		}

		for _, c := range cs.userClients(userId) {
			if room != nil {
				if _, joined := room.clients[c]; joined {
					continue
				}
			}
			if ev == nil {
				ev = events.NewNewMessageNotification(*d.Message)
			}
			c.queueMessage(ev)
		}
	}
}

func (cs *ChatServer) queueOfflineNotice(userId string, msg *types.Message) {
	preview := events.NewNewMessageNotification(*msg).Payload.(events.NewMessageNotification).Preview
	notice := notify.OfflineNotice{
		UserId:         userId,
		ConversationId: msg.ConversationId,
		MessageId:      msg.Id,
		SenderId:       msg.Sender.Id,
		SenderName:     msg.Sender.Name,
		Preview:        preview,
		SentAt:         msg.CreatedAt,
	}

	select {
	case cs.noticeChan <- notice:
	default:
		cs.log.Warn().Str("user_id", userId).Msg("offline notice queue full, dropping notice")
	}
}

// runNotifier hands offline notices to the notifier off the hub goroutine.
func (cs *ChatServer) runNotifier(done chan struct{}) {
	defer close(done)

	for notice := range cs.noticeChan {
		if cs.notifier == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := cs.notifier.NotifyOffline(ctx, notice)
		cancel()

		if err != nil {
			cs.log.Error().Err(err).Str("user_id", notice.UserId).Msg("failed to send offline notice")
			continue
		}
		cs.stats.Incr(stats.OfflineNotices)
	}
}

// queuePresence records an online/offline transition for the next flush.
func (cs *ChatServer) queuePresence(user types.UserSummary, online bool, conversations []string) {
	if p, ok := cs.pending[user.Id]; ok && p.wasOnline == online {
		delete(cs.pending, user.Id)
		return
	}

	cs.pending[user.Id] = &presenceChange{
		user:          user,
		online:        online,
		wasOnline:     !online,
		at:            cs.now(),
		conversations: conversations,
	}
}

// flushPresence announces pending presence changes. Every connection of an
// online user sharing a conversation with the changed user gets exactly one
// notice, whether or not it has joined that conversation's room.
func (cs *ChatServer) flushPresence() {
	if len(cs.pending) == 0 {
		return
	}

	for userId, p := range cs.pending {
		convs := p.conversations
		if p.online {
			convs = cs.members.conversations(userId)
		}

		var recipients []*Client
		for peer := range cs.members.peers(userId, convs) {
			recipients = append(recipients, cs.userClients(peer)...)
		}

		var ev *events.ServerEvent
		if p.online {
			ev = events.NewUserOnline(p.user, p.at)
		} else {
			ev = events.NewUserOffline(p.user, p.at)
		}

		for _, c := range recipients {
			c.queueMessage(ev)
		}
		if len(recipients) > 0 {
			cs.stats.Incr(stats.PresenceBroadcast)
		}
	}

	clear(cs.pending)
}

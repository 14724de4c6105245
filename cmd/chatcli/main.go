package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/chatclient"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const pageSize = 50

var (
	baseURL  string
	email    string
	password string
	register string
	verbose  bool
)

const help = `commands:
  /list              list conversations
  /open <n|id>       switch to a conversation
  /dm <userId>       open a direct conversation
  /history           print the open conversation
  /online            ask who is online in the open conversation
  /read              mark the open conversation as read
  /quit              exit
anything else is sent to the open conversation`

type cli struct {
	ctx   context.Context
	api   *chatclient.API
	store *chatclient.Store
	conn  *chatclient.Conn

	mu      sync.Mutex
	current string
}

func (c *cli) currentId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *cli) setCurrent(id string) {
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
}

func main() {
	flag.StringVar(&baseURL, "url", config.String("CHATSYNC_URL", "http://localhost:8000"), "server base URL")
	flag.StringVar(&email, "email", config.String("CHATSYNC_EMAIL", ""), "account email")
	flag.StringVar(&password, "password", config.String("CHATSYNC_PASSWORD", ""), "account password")
	flag.StringVar(&register, "register", "", "create the account with this display name before logging in")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if email == "" || password == "" {
		logger.Fatal().Msg("-email and -password are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := chatclient.NewAPI(baseURL, nil)
	if register != "" {
		if _, err := a.Register(ctx, register, email, password); err != nil {
			logger.Fatal().Err(err).Msg("register")
		}
	}

	me, err := a.Login(ctx, email, password)
	if err != nil {
		logger.Fatal().Err(err).Msg("login")
	}

	store := chatclient.NewStore(me.Id, logger)
	if err := a.Sync(ctx, store, pageSize); err != nil {
		logger.Fatal().Err(err).Msg("sync")
	}

	wsURL, err := a.WebsocketURL()
	if err != nil {
		logger.Fatal().Err(err).Msg("websocket url")
	}

	conn, err := chatclient.Dial(ctx, wsURL, a.Token(), store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	c := &cli{ctx: ctx, api: a, store: store, conn: conn}

	go func() {
		if err := conn.Run(); err != nil {
			logger.Error().Err(err).Msg("connection closed")
		}
		cancel()
	}()
	go c.printEvents()

	fmt.Printf("logged in as %s (%s)\n%s\n", me.Name, me.Id, help)
	c.listConversations()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.handle(strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Println("error:", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func (c *cli) handle(line string) error {
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		current := c.currentId()
		if current == "" {
			return errors.New("no conversation open, use /open")
		}
		_, err := c.conn.SendMessage(current, line)
		return err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return errQuit
	case "/list":
		c.listConversations()
	case "/open":
		return c.open(arg)
	case "/dm":
		conv, err := c.api.CreateDirect(c.ctx, arg)
		if err != nil {
			return err
		}
		c.setCurrent(conv.Id)
		_, err = c.conn.JoinRoom(conv.Id)
		return err
	case "/history":
		c.printHistory()
	case "/online":
		current := c.currentId()
		if current == "" {
			return errors.New("no conversation open")
		}
		_, err := c.conn.OnlineUsers(current)
		return err
	case "/read":
		current := c.currentId()
		if current == "" {
			return errors.New("no conversation open")
		}
		n, err := c.api.MarkConversationRead(c.ctx, current)
		if err != nil {
			return err
		}
		fmt.Printf("marked %d messages read\n", n)
	default:
		fmt.Println(help)
	}

	return nil
}

func (c *cli) open(arg string) error {
	convs := c.store.Conversations()
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 1 || i > len(convs) {
			return fmt.Errorf("no conversation %d", i)
		}
		arg = convs[i-1].Id
	}

	msgs, err := c.api.Messages(c.ctx, arg, 1, pageSize)
	if err != nil {
		return err
	}
	c.store.ApplyPage(arg, msgs)
	c.setCurrent(arg)
	c.printHistory()
	return nil
}

func (c *cli) title(conv types.Conversation) string {
	if conv.IsGroup {
		return conv.Title
	}

	self := c.store.Self()
	for _, p := range conv.Participants {
		if p.Id != self {
			return p.Name
		}
	}
	return conv.Id
}

func (c *cli) listConversations() {
	for i, conv := range c.store.Conversations() {
		fmt.Printf("%2d. %s [%d unread] %s\n", i+1, c.title(conv), c.store.Unread(conv.Id), conv.Id)
	}
}

func (c *cli) printHistory() {
	for _, m := range c.store.Messages(c.currentId()) {
		c.printMessage(m)
	}
}

func (c *cli) printMessage(m types.Message) {
	status := ""
	switch {
	case c.store.IsPending(m.Id):
		status = " (sending)"
	case m.Sender.Id == c.store.Self() && m.Status == types.StatusRead:
		status = " (read)"
	}
	if m.IsEdited {
		status += " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Sender.Name, m.Content, status)
}

func (c *cli) printEvents() {
	for ev := range c.conn.Events() {
		switch p := ev.Payload.(type) {
		case events.ReceiveMessage:
			if p.ConversationId == c.currentId() && p.Sender.Id != c.store.Self() {
				c.printMessage(p.Message)
			}
		case events.NewMessageNotification:
			fmt.Printf("* new message from %s: %s\n", p.SenderName, p.Preview)
		case events.UserTyping:
			if p.ConversationId == c.currentId() && p.IsTyping {
				fmt.Printf("* %s is typing...\n", p.User.Name)
			}
		case events.UserOnline:
			fmt.Printf("* %s is online\n", p.User.Name)
		case events.UserOffline:
			fmt.Printf("* %s went offline\n", p.User.Name)
		case events.OnlineUsers:
			names := make([]string, 0, len(p.OnlineUsers))
			for _, u := range p.OnlineUsers {
				names = append(names, u.User.Name)
			}
			fmt.Printf("* online: %s\n", strings.Join(names, ", "))
		case events.ConversationCreated:
			fmt.Printf("* added to %s\n", c.title(p.Conversation))
		case events.Error:
			fmt.Printf("* error %d: %s\n", p.Code, p.Message)
		}
	}
}

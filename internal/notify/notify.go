// Package notify hands messages for offline participants to a push channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// OfflineNotice describes a message a participant missed while offline.
type OfflineNotice struct {
	UserId         string    `json:"userId"`
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	SenderId       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sentAt"`
}

type Notifier interface {
	NotifyOffline(ctx context.Context, notice OfflineNotice) error
	Close() error
}

// LogNotifier only logs notices. It is used when no push transport is
// configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) NotifyOffline(ctx context.Context, notice OfflineNotice) error {
	n.log.Info().
		Str("user_id", notice.UserId).
		Str("conversation_id", notice.ConversationId).
		Str("message_id", notice.MessageId).
		Str("sender", notice.SenderName).
		Msg("offline notification")
	return nil
}

func (n *LogNotifier) Close() error { return nil }

type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NatsNotifier publishes each notice as JSON on a NATS subject for a push
// gateway to consume. The recipient is also carried in the User-Id header.
type NatsNotifier struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	log     zerolog.Logger
}

func NewNatsNotifier(url, subject string, logger zerolog.Logger) (*NatsNotifier, error) {
	log := logger.With().Str("component", "notify").Str("subject", subject).Logger()

	opts := []nats.Option{
		nats.Name("go-chatsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NatsNotifier{conn: conn, pub: conn, subject: subject, log: log}, nil
}

func (n *NatsNotifier) NotifyOffline(ctx context.Context, notice OfflineNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = data
	msg.Header.Set("User-Id", notice.UserId)

	if err := n.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish offline notice: %w", err)
	}
	return nil
}

func (n *NatsNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/presence"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/rs/zerolog"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	env            string
	migrateOnStart bool
	natsURL        string
	natsSubject    string
	editWindow     time.Duration
	deleteWindow   time.Duration
	presenceFlush  time.Duration
	allowedOrigins stringSliceFlag
)

func newLogger(development bool) zerolog.Logger {
	if development {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "go-chatsync").Logger()
}

func main() {
	// .env only supplies defaults, the process environment wins
	envErr := config.LoadEnv(".env")

	flag.StringVar(&addr, "addr", config.String("CHATSYNC_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.String("CHATSYNC_DSN", config.MemoryDSN), `database connection string, or "memory"`)
	flag.StringVar(&signingKey, "signing-key", config.String("CHATSYNC_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&env, "env", config.String("CHATSYNC_ENV", config.EnvDevelopment), "development or production")
	flag.BoolVar(&migrateOnStart, "migrate", config.Bool("CHATSYNC_MIGRATE", false), "apply schema migrations on start")
	flag.StringVar(&natsURL, "nats-url", config.String("CHATSYNC_NATS_URL", ""), "NATS server for offline notifications")
	flag.StringVar(&natsSubject, "nats-subject", config.String("CHATSYNC_NATS_SUBJECT", "chat.offline"), "NATS subject for offline notifications")
	flag.DurationVar(&editWindow, "edit-window", config.Duration("CHATSYNC_EDIT_WINDOW", chat.DefaultEditWindow), "how long messages stay editable")
	flag.DurationVar(&deleteWindow, "delete-window", config.Duration("CHATSYNC_DELETE_WINDOW", chat.DefaultDeleteWindow), "how long messages can be deleted for everyone")
	flag.DurationVar(&presenceFlush, "presence-flush", config.Duration("CHATSYNC_PRESENCE_FLUSH", 500*time.Millisecond), "presence broadcast interval")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := config.String("CHATSYNC_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	logger := newLogger(env != config.EnvProduction)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("could not load .env")
	}

	opts := []config.Option{
		config.WithEnv(env),
		config.WithMigrateOnStart(migrateOnStart),
		config.WithWindows(editWindow, deleteWindow),
		config.WithPresenceFlushInterval(presenceFlush),
	}
	if natsURL != "" {
		opts = append(opts, config.WithNats(natsURL, natsSubject))
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Info().Str("env", cfg.Env).Bool("in_memory", cfg.InMemory()).Bool("nats", cfg.NatsURL != "").Msg("config loaded")

	db, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier")
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Error().Err(err).Msg("notifier close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, presence.NewRegistry(), notifier, statsUpdater, server.Options{
		PresenceFlushInterval: cfg.PresenceFlushInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	svc := chat.NewService(logger, db, chat.Options{
		EditWindow:   cfg.EditWindow,
		DeleteWindow: cfg.DeleteWindow,
	})

	srv := api.NewGoChatApp(mux, logger, chatServer, svc, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server...")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}

func openStore(cfg *config.Config, logger zerolog.Logger) (database.ChatRepository, error) {
	if cfg.InMemory() {
		logger.Warn().Msg("using the in-memory store, data is lost on exit")
		return database.NewMemoryChatRepository(), nil
	}

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			return nil, err
		}
		logger.Info().Msg("migrations applied")
	}

	return database.NewPgChatRepository(cfg.DatabaseDSN)
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	if cfg.NatsURL == "" {
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewNatsNotifier(cfg.NatsURL, cfg.NatsSubject, logger)
}

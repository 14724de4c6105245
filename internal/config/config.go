package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// MemoryDSN selects the in-memory store instead of Postgres.
	MemoryDSN = "memory"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	Env            string
	MigrateOnStart bool

	NatsURL     string
	NatsSubject string

	EditWindow            time.Duration
	DeleteWindow          time.Duration
	PresenceFlushInterval time.Duration
}

type Option func(*Config)

func WithEnv(env string) Option {
	return func(c *Config) { c.Env = env }
}

func WithMigrateOnStart(migrate bool) Option {
	return func(c *Config) { c.MigrateOnStart = migrate }
}

// WithNats enables publishing offline notices to subject on the NATS server
// at url.
func WithNats(url, subject string) Option {
	return func(c *Config) {
		c.NatsURL = url
		c.NatsSubject = subject
	}
}

func WithWindows(edit, del time.Duration) Option {
	return func(c *Config) {
		c.EditWindow = edit
		c.DeleteWindow = del
	}
}

func WithPresenceFlushInterval(d time.Duration) Option {
	return func(c *Config) { c.PresenceFlushInterval = d }
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Env:            EnvDevelopment,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, fmt.Errorf("unknown environment %q", cfg.Env)
	}
	if cfg.EditWindow < 0 || cfg.DeleteWindow < 0 {
		return nil, fmt.Errorf("message windows cannot be negative")
	}
	if cfg.NatsURL != "" && cfg.NatsSubject == "" {
		return nil, fmt.Errorf("nats subject cannot be empty when a nats url is set")
	}

	return cfg, nil
}

func (c *Config) InMemory() bool {
	return c.DatabaseDSN == MemoryDSN
}

func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

// LoadEnv reads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// String returns the environment variable key, or def when it is unset.
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Bool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func Duration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

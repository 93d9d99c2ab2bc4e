package config

import (
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	BroadcasterLocal = "local"
	BroadcasterRedis = "redis"

	SinkDatabase = "database"
	SinkKafka    = "kafka"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string

	// Broadcaster selects how room frames are fanned out: in process, or
	// through Redis pub/sub so several instances share rooms.
	Broadcaster string
	RedisAddr   string

	// NotificationSink selects where per-participant notifications go.
	NotificationSink string
	KafkaBrokers     []string
	KafkaTopic       string
}

type Option func(*Config)

// WithRedis fans room frames out through the Redis server at addr.
func WithRedis(addr string) Option {
	return func(c *Config) {
		c.Broadcaster = BroadcasterRedis
		c.RedisAddr = addr
	}
}

// WithKafka writes notifications to topic instead of the notifications table.
func WithKafka(brokers []string, topic string) Option {
	return func(c *Config) {
		c.NotificationSink = SinkKafka
		c.KafkaBrokers = brokers
		c.KafkaTopic = topic
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("empty key")
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

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:      databaseDSN,
		ServerAddr:       serverAddr,
		SigningKey:       signingKey,
		AllowedOrigins:   allowedOrigins,
		Broadcaster:      BroadcasterLocal,
		NotificationSink: SinkDatabase,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Broadcaster == BroadcasterRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis broadcaster requires an address")
	}
	if cfg.NotificationSink == SinkKafka && (len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "") {
		return nil, fmt.Errorf("kafka sink requires brokers and a topic")
	}

	return cfg, nil
}

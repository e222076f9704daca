package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultDatabaseURL    = "sqlite:///tmp/mealcredits.db"
	defaultAllowedOrigin  = "http://localhost:3000"
	defaultJWTIssuer      = "mealcredits-auth"
	defaultRequestTimeout = 5 * time.Second
	defaultEventQueueSize = 1024
	defaultKafkaTopic     = "mealcredits.events"
	defaultRedisChannel   = "mealcredits.events"
	defaultProducer       = "mealcreditd"
	maxSnowflakeNode      = 1023
)

var errInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for mealcreditd.
type Config struct {
	HTTPListenAddr string
	GRPCListenAddr string
	DatabaseURL    string
	// MigrateOnStart applies the embedded PostgreSQL migrations before serving.
	MigrateOnStart bool
	AllowedOrigins []string
	JWTSigningKey  string
	JWTIssuer      string
	RequestTimeout time.Duration
	SnowflakeNode  int64
	// CancelIsFinal rejects refunding an order after it was cancelled.
	CancelIsFinal  bool
	EventQueueSize int
	KafkaBrokers   []string
	KafkaTopic     string
	RedisAddr      string
	RedisChannel   string
	Producer       string
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	cfg.RedisChannel = defaultIfEmpty(cfg.RedisChannel, defaultRedisChannel)
	cfg.Producer = defaultIfEmpty(cfg.Producer, defaultProducer)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", errInvalidConfig)
	}
	if cfg.SnowflakeNode < 0 || cfg.SnowflakeNode > maxSnowflakeNode {
		return fmt.Errorf("%w: snowflake node must be within 0..%d", errInvalidConfig, maxSnowflakeNode)
	}
	if cfg.HTTPListenAddr == cfg.GRPCListenAddr {
		return fmt.Errorf("%w: http and grpc listen addresses must differ", errInvalidConfig)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits comma-delimited values such as CORS origins or Kafka brokers.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

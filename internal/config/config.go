package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/nuka-stream/internal/stream"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Stream   StreamConfig   `json:"stream"`
	Ingest   IngestConfig   `json:"ingest"`
	Sinks    SinksConfig    `json:"sinks"`
	Database DatabaseConfig `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// StreamConfig mirrors stream.Config with durations in milliseconds.
type StreamConfig struct {
	Enabled                 *bool   `json:"enabled"`
	BufferSize              int     `json:"buffer_size"`
	FlushIntervalMS         int64   `json:"flush_interval_ms"`
	MaxContextAgeMS         int64   `json:"max_context_age_ms"`
	EnableRealtime          *bool   `json:"enable_realtime"`
	EnableContextualization *bool   `json:"enable_contextualization"`
	MaxEventsPerContext     int     `json:"max_events_per_context"`
	RelevanceThreshold      float64 `json:"relevance_threshold"`
}

type IngestConfig struct {
	Redis RedisIngestConfig `json:"redis"`
}

type RedisIngestConfig struct {
	Enabled bool   `json:"enabled"`
	Stream  string `json:"stream"`
	StartID string `json:"start_id"`
}

type SinksConfig struct {
	QueueSize int                `json:"queue_size"`
	TimeoutMS int64              `json:"timeout_ms"`
	Redis     RedisSinkConfig    `json:"redis"`
	Postgres  PostgresSinkConfig `json:"postgres"`
	Neo4j     Neo4jSinkConfig    `json:"neo4j"`
	Slack     SlackSinkConfig    `json:"slack"`
	Discord   DiscordSinkConfig  `json:"discord"`
}

type RedisSinkConfig struct {
	Enabled     bool   `json:"enabled"`
	Prefix      string `json:"prefix"`
	MaxLen      int64  `json:"max_len"`
	MinPriority int    `json:"min_priority"`
}

type PostgresSinkConfig struct {
	Enabled       bool   `json:"enabled"`
	MigrationsDir string `json:"migrations_dir"`
	MinPriority   int    `json:"min_priority"`
}

type Neo4jSinkConfig struct {
	Enabled     bool `json:"enabled"`
	MinPriority int  `json:"min_priority"`
}

type SlackSinkConfig struct {
	Enabled     bool   `json:"enabled"`
	BotToken    string `json:"bot_token"`
	Channel     string `json:"channel"`
	MinPriority int    `json:"min_priority"`
	PerMinute   int    `json:"per_minute"`
}

type DiscordSinkConfig struct {
	Enabled     bool   `json:"enabled"`
	BotToken    string `json:"bot_token"`
	ChannelID   string `json:"channel_id"`
	MinPriority int    `json:"min_priority"`
	PerMinute   int    `json:"per_minute"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// StreamConfig converts the file values, filling unset fields from
// stream.DefaultConfig.
func (c *Config) StreamConfig() stream.Config {
	out := stream.DefaultConfig()
	s := c.Stream
	if s.Enabled != nil {
		out.Enabled = *s.Enabled
	}
	if s.BufferSize > 0 {
		out.BufferSize = s.BufferSize
	}
	if s.FlushIntervalMS > 0 {
		out.FlushInterval = time.Duration(s.FlushIntervalMS) * time.Millisecond
	}
	if s.MaxContextAgeMS > 0 {
		out.MaxContextAge = time.Duration(s.MaxContextAgeMS) * time.Millisecond
	}
	if s.EnableRealtime != nil {
		out.EnableRealtime = *s.EnableRealtime
	}
	if s.EnableContextualization != nil {
		out.EnableContextualization = *s.EnableContextualization
	}
	if s.MaxEventsPerContext > 0 {
		out.MaxEventsPerContext = s.MaxEventsPerContext
	}
	if s.RelevanceThreshold > 0 {
		out.RelevanceThreshold = s.RelevanceThreshold
	}
	return out
}

// SinkTimeout returns the per-delivery timeout, defaulting to 10s.
func (c *Config) SinkTimeout() time.Duration {
	if c.Sinks.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Sinks.TimeoutMS) * time.Millisecond
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3220
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if err := cfg.StreamConfig().Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

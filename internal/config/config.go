// Package config loads imgcap configuration from defaults, an optional TOML file, a .env file
// and IMGCAP_* environment variables.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Server    ServerConfig    `mapstructure:"server"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Store     StoreConfig     `mapstructure:"store"`
	Captioner CaptionerConfig `mapstructure:"captioner"`
	Log       LogConfig       `mapstructure:"log"`
}

// BrokerConfig describes the Redis Streams broker and the queue topology.
type BrokerConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`

	TaskQueue       string `mapstructure:"task_queue" validate:"required"`
	CompletionQueue string `mapstructure:"completion_queue" validate:"required,nefield=TaskQueue"`
	TaskGroup       string `mapstructure:"task_group" validate:"required"`
	CompletionGroup string `mapstructure:"completion_group" validate:"required"`

	// Consumer names this process inside the consumer groups and must be unique per process.
	// Defaults to <hostname>-<pid>. A fixed name lets a restarted process re-read its own
	// pending entries instead of waiting for recovery.
	Consumer string `mapstructure:"consumer"`

	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	ReadBlock  time.Duration `mapstructure:"read_block" validate:"gt=0"`
}

// DispatchConfig tunes the immediate publish and the pending buffer.
type DispatchConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
	DrainInterval  time.Duration `mapstructure:"drain_interval" validate:"gt=0"`
	MaxInflight    int           `mapstructure:"max_inflight" validate:"gt=0"`
	// BufferCapacity of zero leaves the pending buffer unbounded.
	BufferCapacity int    `mapstructure:"buffer_capacity" validate:"gte=0"`
	OverflowPolicy string `mapstructure:"overflow_policy" validate:"oneof=reject drop_oldest"`
}

// ServerConfig contains the HTTP adapter settings.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// RateLimit is submissions per second per client; zero disables limiting.
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       float64       `mapstructure:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// TrustProxy takes the client IP from X-Forwarded-For/X-Real-IP. Enable it only behind a
	// proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// WorkerConfig contains the job processor settings.
type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency" validate:"gt=0"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" validate:"gt=0"`
	StaleAfter       time.Duration `mapstructure:"stale_after" validate:"gt=0"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=fs sqlite redis postgres memory"`
	Dir         string `mapstructure:"dir" validate:"required_if=Backend fs"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Backend postgres"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// CaptionerConfig selects and configures the captioning backend.
type CaptionerConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=hash docker gemini"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	DockerImage    string   `mapstructure:"docker_image" validate:"required_if=Backend docker"`
	DockerCommand  []string `mapstructure:"docker_command"`
	DockerMemoryMB int64    `mapstructure:"docker_memory_mb" validate:"gte=0"`

	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required_if=Backend gemini"`
	GeminiModel  string `mapstructure:"gemini_model" validate:"required_if=Backend gemini"`
	GeminiPrompt string `mapstructure:"gemini_prompt"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

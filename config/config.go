package config

import "time"

// Config is the complete configuration of the batch orchestrator.
type Config struct {
	// Gemini API access.
	Gemini GeminiConfig `yaml:"gemini" env:"GEMINI"`

	// Polling cadence and ceiling.
	Polling PollingConfig `yaml:"polling" env:"POLLING"`

	// Task queue routing and retry policy.
	Queue QueueConfig `yaml:"queue" env:"QUEUE"`

	// Redis connection backing the task queue.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Relational store for batch records.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Input mode selection.
	Input InputConfig `yaml:"input" env:"INPUT"`

	// Payload retention.
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// GeminiConfig configures the Gemini API client.
type GeminiConfig struct {
	// API key, sent as the x-goog-api-key header.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Base URL including API version.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Default model for new batches.
	Model string `yaml:"model" env:"MODEL"`
	// HTTP timeout per call.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Client-side rate limit; zero disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// PollingConfig controls how batch status is polled. Delay between polls
// ramps geometrically from Interval up to MaxInterval; Timeout bounds the
// total time a batch may stay in flight after submission.
type PollingConfig struct {
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxInterval time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// QueueConfig configures task routing and per-stage retry policy.
type QueueConfig struct {
	// Default queue name for batch tasks.
	Name string `yaml:"name" env:"NAME"`
	// Optional connection hint recorded on batches.
	Connection string `yaml:"connection" env:"CONNECTION"`
	// Worker goroutines per process.
	Workers int `yaml:"workers" env:"WORKERS"`
	// Key prefix for redis structures.
	Prefix string `yaml:"prefix" env:"PREFIX"`

	// Submission task retries and fixed retry backoff.
	SubmitRetries int           `yaml:"submit_retries" env:"SUBMIT_RETRIES"`
	SubmitBackoff time.Duration `yaml:"submit_backoff" env:"SUBMIT_BACKOFF"`
	// Result resolution task retries and fixed retry backoff.
	ResolveRetries int           `yaml:"resolve_retries" env:"RESOLVE_RETRIES"`
	ResolveBackoff time.Duration `yaml:"resolve_backoff" env:"RESOLVE_BACKOFF"`
}

// RedisConfig configures the redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite.
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Path for the sqlite driver.
	Path string `yaml:"path" env:"PATH"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// InputConfig controls how requests are transmitted to the API.
type InputConfig struct {
	// Mode: auto (size-based), inline, file.
	Mode string `yaml:"mode" env:"MODE"`
	// Serialized-size threshold, in bytes, above which auto picks file mode.
	InlineThreshold int `yaml:"inline_threshold" env:"INLINE_THRESHOLD"`
}

// StorageConfig controls record retention.
type StorageConfig struct {
	// Keep raw response payloads on completed requests. Extracted text,
	// structured output and token counts are stored either way.
	StoreResponsePayloads bool `yaml:"store_response_payloads" env:"STORE_RESPONSE_PAYLOADS"`
	// Days after completion before terminal batches are pruned.
	PruneAfterDays int `yaml:"prune_after_days" env:"PRUNE_AFTER_DAYS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig configures the prometheus endpoint on the worker.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gemini:   DefaultGeminiConfig(),
		Polling:  DefaultPollingConfig(),
		Queue:    DefaultQueueConfig(),
		Redis:    DefaultRedisConfig(),
		Database: DefaultDatabaseConfig(),
		Input:    DefaultInputConfig(),
		Storage:  DefaultStorageConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// DefaultGeminiConfig returns the default Gemini API configuration.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
		Model:          "gemini-2.0-flash",
		Timeout:        120 * time.Second,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}
}

// DefaultPollingConfig returns the default polling cadence.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		Interval:    30 * time.Second,
		MaxInterval: 120 * time.Second,
		Timeout:     24 * time.Hour,
	}
}

// DefaultQueueConfig returns the default queue routing and retry policy.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Name:           "default",
		Workers:        4,
		Prefix:         "gembatch",
		SubmitRetries:  3,
		SubmitBackoff:  30 * time.Second,
		ResolveRetries: 3,
		ResolveBackoff: 60 * time.Second,
	}
}

// DefaultRedisConfig returns the default redis connection settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default database settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "gembatch",
		Name:            "gembatch",
		SSLMode:         "disable",
		Path:            "gembatch.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultInputConfig returns the default input mode selection policy.
// The threshold sits well under the API's 20MB inline ceiling.
func DefaultInputConfig() InputConfig {
	return InputConfig{
		Mode:            "auto",
		InlineThreshold: 15 * 1024 * 1024,
	}
}

// DefaultStorageConfig returns the default retention policy.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		StoreResponsePayloads: true,
		PruneAfterDays:        30,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultMetricsConfig returns the default metrics endpoint settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Addr:    ":9091",
	}
}

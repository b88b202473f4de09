package config

import (
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// EngineConfig bounds shared engine resources. Per-scan knobs live in
// types.ScanOptions and are supplied at submission.
type EngineConfig struct {
	Workers         int           `mapstructure:"workers"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ProgressEvery   time.Duration `mapstructure:"progress_every"`
	CancelGrace     time.Duration `mapstructure:"cancel_grace"`
	EventBufferSize int           `mapstructure:"event_buffer_size"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type CacheConfig struct {
	Backend    string        `mapstructure:"backend"` // memory or redis
	MaxEntries int           `mapstructure:"max_entries"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

// Default returns the configuration used when no config file is present.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "nexus",
			SampleRate:  1.0,
		},
		Engine: EngineConfig{
			Workers:         20,
			FetchTimeout:    15 * time.Second,
			ProgressEvery:   2 * time.Second,
			CancelGrace:     5 * time.Second,
			EventBufferSize: 64,
			UserAgent:       "Nexus-Scanner/1.0",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			MaxEntries: 10000,
			DefaultTTL: 15 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			MaxRetries:  3,
			DialTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConnections:  10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         5,
			MinDelay:          100 * time.Millisecond,
		},
	}
}

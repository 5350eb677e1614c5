package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by backend.type
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
)

// Config represents the metastore service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc" yaml:"grpc"`
	Backend     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Bolt        BoltConfig        `mapstructure:"bolt" yaml:"bolt"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Task        TaskConfig        `mapstructure:"task" yaml:"task"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP API server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// GRPCConfig represents the gRPC health endpoint configuration
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// BackendConfig selects the backing store
type BackendConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
}

// DatabaseConfig represents PostgreSQL backing store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections int    `mapstructure:"min_connections" yaml:"min_connections"`
}

// RedisConfig represents Redis backing store configuration
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// BoltConfig represents embedded bbolt store configuration
type BoltConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// CacheConfig represents record cache configuration
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size" yaml:"max_size"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// HistoryConfig represents history log configuration
type HistoryConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// TaskConfig bounds create task retries
type TaskConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// RateLimiterConfig represents API rate limiting configuration
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port)
	}

	switch c.Backend.Type {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	case BackendRedis:
		if c.Redis.Host == "" {
			return errors.New("redis.host is required")
		}
	case BackendBolt:
		if c.Bolt.Path == "" {
			return errors.New("bolt.path is required")
		}
	default:
		return fmt.Errorf("backend.type must be one of: memory, postgres, redis, bolt; got %q", c.Backend.Type)
	}

	if c.Cache.MaxSize <= 0 {
		return errors.New("cache.max_size must be positive")
	}
	if c.History.ChunkSize <= 0 {
		return errors.New("history.chunk_size must be positive")
	}
	if c.Task.MaxRetries < 0 {
		return errors.New("task.max_retries must not be negative")
	}
	if c.RateLimiter.Enabled && c.RateLimiter.RequestsPerSecond <= 0 {
		return errors.New("rate_limiter.requests_per_second must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Port:    50061,
		},
		Backend: BackendConfig{
			Type: BackendMemory,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "pairdb_metastore",
			User:           "metastore",
			MaxConnections: 20,
			MinConnections: 2,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "metastore:",
		},
		Bolt: BoltConfig{
			Path:        "metastore.db",
			OpenTimeout: time.Second,
		},
		Cache: CacheConfig{
			MaxSize: 10000,
			TTL:     5 * time.Minute,
		},
		History: HistoryConfig{
			ChunkSize: 1000,
		},
		Task: TaskConfig{
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			MaxRetries:     10,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 500,
			BurstSize:         50,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

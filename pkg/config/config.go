package config

import (
	"fmt"
	"net/url"
	"time"

	"chatrelay-backend/pkg/env"
)

// Config holds all configuration for the chat service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Log       LogConfig
	AI        AIConfig
	Hub       HubConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            int
	Environment     string // development, staging, production
	ServiceName     string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

// MinIOConfig is used for group pictures
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	PublicURL string
}

type JWTConfig struct {
	Secret        string
	Issuer        string
	TokenDuration time.Duration
}

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// AIConfig configures the auto-reply responder. SystemEmail is only used once at
// startup to look up the account flagged as the system participant.
type AIConfig struct {
	ServiceURL  string
	Timeout     time.Duration
	SystemEmail string
	Enabled     bool
}

// HubConfig tunes per-connection buffers and keepalive
type HubConfig struct {
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// RateLimitConfig bounds HTTP requests per user (or IP when anonymous)
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	Window         time.Duration
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	pingInterval := env.GetDuration("WS_PING_INTERVAL", 54*time.Second)

	cfg := &Config{
		Server: ServerConfig{
			Port:            env.GetInt("PORT", 8082),
			Environment:     env.GetString("ENV", "development"),
			ServiceName:     env.GetString("SERVICE_NAME", "chat-service"),
			AllowedOrigins:  env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
			ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "chatrelay"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "chatrelay"),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "group-pictures"),
			PublicURL: env.GetString("MINIO_PUBLIC_URL", "http://localhost:9000"),
		},
		JWT: JWTConfig{
			Secret:        env.GetStringFromFile("JWT_SECRET", ""),
			Issuer:        env.GetString("JWT_ISSUER", "chatrelay-identity"),
			TokenDuration: env.GetDuration("JWT_TOKEN_DURATION", 24*time.Hour),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/chat-service.log"),
		},
		AI: AIConfig{
			ServiceURL:  env.GetString("AI_SERVICE_URL", "http://localhost:5000"),
			Timeout:     env.GetDuration("AI_TIMEOUT", 10*time.Second),
			SystemEmail: env.GetString("AI_SYSTEM_EMAIL", "ai@chatrelay.local"),
			Enabled:     env.GetBool("AI_ENABLED", true),
		},
		Hub: HubConfig{
			SendBuffer:     env.GetInt("WS_SEND_BUFFER", 256),
			PingInterval:   pingInterval,
			PongWait:       env.GetDuration("WS_PONG_WAIT", pingInterval*10/9),
			WriteWait:      env.GetDuration("WS_WRITE_WAIT", 10*time.Second),
			MaxMessageSize: int64(env.GetInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
			AllowedOrigins: env.GetStringSlice("WS_ALLOWED_ORIGINS", nil),
		},
		RateLimit: RateLimitConfig{
			Enabled:        env.GetBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: env.GetInt("RATE_LIMIT_REQUESTS", 120),
			Window:         env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.AI.Enabled {
		if _, err := url.ParseRequestURI(c.AI.ServiceURL); err != nil {
			return fmt.Errorf("AI_SERVICE_URL is not a valid URL: %w", err)
		}
		if c.AI.Timeout <= 0 {
			return fmt.Errorf("AI_TIMEOUT must be positive")
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}

	if c.Hub.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	if c.Hub.PingInterval >= c.Hub.PongWait {
		return fmt.Errorf("WS_PING_INTERVAL must be shorter than WS_PONG_WAIT")
	}

	return nil
}

// DSN builds the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Database, d.SSLMode)
}

// Addr returns host:port for the Redis client
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

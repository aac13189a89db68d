package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig configures the external payment gateway client.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIToken       string        `mapstructure:"api_token"`
	TerminalID     string        `mapstructure:"terminal_id"`
	EntityID       string        `mapstructure:"entity_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// WebhookSecret is the base64-encoded 32-byte AES key the gateway
	// encrypts notifications with.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PaymentConfig struct {
	Currency        string        `mapstructure:"currency"`
	ReferenceWindow time.Duration `mapstructure:"reference_window"`
	HistoryPageSize int           `mapstructure:"history_page_size"`
}

type ReconcilerConfig struct {
	StaleAge     time.Duration `mapstructure:"stale_age"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DOCPAY")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docpay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url is required"))
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.request_timeout must be positive"))
	}
	if c.Payment.HistoryPageSize <= 0 || c.Payment.HistoryPageSize > 50 {
		errs = append(errs, fmt.Errorf("payment.history_page_size must be between 1 and 50"))
	}
	if c.Reconciler.StaleAge <= 0 {
		errs = append(errs, fmt.Errorf("reconciler.stale_age must be positive"))
	}

	if c.Gateway.WebhookSecret != "" {
		key, err := base64.StdEncoding.DecodeString(c.Gateway.WebhookSecret)
		if err != nil {
			errs = append(errs, fmt.Errorf("gateway.webhook_secret must be base64: %w", err))
		} else if len(key) != 32 {
			errs = append(errs, fmt.Errorf("gateway.webhook_secret must decode to 32 bytes, got %d", len(key)))
		}
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Gateway.APIToken == "" {
			errs = append(errs, fmt.Errorf("gateway.api_token required in production"))
		}
		if c.Gateway.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("gateway.webhook_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docpay")
	v.SetDefault("database.database", "docpay")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://api.sandbox.gateway.example/v2")
	v.SetDefault("gateway.request_timeout", "30s")

	// Payment defaults
	v.SetDefault("payment.currency", "EUR")
	v.SetDefault("payment.reference_window", "72h")
	v.SetDefault("payment.history_page_size", 20)

	// Reconciler defaults
	v.SetDefault("reconciler.stale_age", "30m")
	v.SetDefault("reconciler.poll_interval", "5m")
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.lock_ttl", "30s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "docpay-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebhookKey returns the decoded AES key.
func (c *GatewayConfig) WebhookKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return key, nil
}

// Package config loads the orchestrator's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// KVConfig configures the key-value/cache abstraction (component A).
type KVConfig struct {
	Host               string        `env:"REDIS_HOST,default=localhost"`
	Port               int           `env:"REDIS_PORT,default=6379"`
	DB                 int           `env:"REDIS_DB,default=0"`
	Password           string        `env:"REDIS_PASSWORD,default="`
	MaxConnections     int           `env:"REDIS_MAX_CONNECTIONS,default=50"`
	SocketTimeout      time.Duration `env:"REDIS_SOCKET_TIMEOUT,default=5s"`
	ConnectTimeout     time.Duration `env:"REDIS_CONNECT_TIMEOUT,default=5s"`
	HealthCheckSeconds int           `env:"REDIS_HEALTH_CHECK_SECONDS,default=30"`
}

// Addr returns the host:port dial address.
func (c KVConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StoreConfig configures the relational store abstraction (component B).
type StoreConfig struct {
	Host           string        `env:"POSTGRES_HOST,default=localhost"`
	Port           int           `env:"POSTGRES_PORT,default=5432"`
	Database       string        `env:"POSTGRES_DB,default=devops_orchestrator"`
	User           string        `env:"POSTGRES_USER,default=postgres"`
	Password       string        `env:"POSTGRES_PASSWORD,default="`
	SSLMode        string        `env:"POSTGRES_SSLMODE,default=disable"`
	MinPoolSize    int           `env:"POSTGRES_MIN_POOL_SIZE,default=2"`
	MaxPoolSize    int           `env:"POSTGRES_MAX_POOL_SIZE,default=20"`
	CommandTimeout time.Duration `env:"POSTGRES_COMMAND_TIMEOUT,default=10s"`
}

// DSN renders the libpq connection string.
func (c StoreConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// BrokerConfig configures the background task fabric's broker/backend (component H).
type BrokerConfig struct {
	BrokerURL  string `env:"BROKER_URL,default=redis://localhost:6379/1"`
	BackendURL string `env:"RESULT_BACKEND_URL,default=redis://localhost:6379/2"`
}

// HTTPConfig configures the webhook and dashboard HTTP surfaces.
type HTTPConfig struct {
	WebhookAddr   string `env:"WEBHOOK_HTTP_ADDR,default=:8090"`
	DashboardAddr string `env:"DASHBOARD_HTTP_ADDR,default=:8091"`
	MetricsAddr   string `env:"METRICS_HTTP_ADDR,default=:9090"`
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// CICDConfig configures the CI/CD connector adapters (component E).
type CICDConfig struct {
	GitHubToken   string `env:"GITHUB_TOKEN,default="`
	GitLabToken   string `env:"GITLAB_TOKEN,default="`
	GitLabBaseURL string `env:"GITLAB_BASE_URL,default="`
}

// NotifyConfig configures per-platform notification destinations (component J).
type NotifyConfig struct {
	SlackWebhookURL   string `env:"SLACK_WEBHOOK_URL,default="`
	TeamsWebhookURL   string `env:"TEAMS_WEBHOOK_URL,default="`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL,default="`

	SMTPHost     string `env:"SMTP_HOST,default="`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER,default="`
	SMTPPassword string `env:"SMTP_PASSWORD,default="`
	EmailFrom    string `env:"NOTIFY_EMAIL_FROM,default="`
	EmailTo      string `env:"NOTIFY_EMAIL_TO,default="`
}

// Config is the top-level configuration for the orchestrator process.
type Config struct {
	KV      KVConfig
	Store   StoreConfig
	Broker  BrokerConfig
	HTTP    HTTPConfig
	Logging LoggingConfig
	CICD    CICDConfig
	Notify  NotifyConfig
}

// Load reads an optional .env file then decodes environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

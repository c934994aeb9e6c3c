// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full configuration of the completion service.
type Config struct {
	// Postgres. UseMemory swaps all stores for in-memory ones, for local
	// development without a database.
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	UseMemory   bool   `envconfig:"USE_MEMORY" default:"false"`

	// ClickHouse saga event analytics
	ClickhouseDSN string `envconfig:"CLICKHOUSE_DSN" default:""`

	// Ledger service
	LedgerURL        string        `envconfig:"LEDGER_URL" required:"true"`
	LedgerWSURL      string        `envconfig:"LEDGER_WS_URL" default:""`
	LedgerTimeout    time.Duration `envconfig:"LEDGER_TIMEOUT" default:"30s"`
	LedgerMaxRetries int           `envconfig:"LEDGER_MAX_RETRIES" default:"3"`

	// Payment gateway
	OmisePublicKey      string `envconfig:"OMISE_PUBLIC_KEY" default:""`
	OmiseSecretKey      string `envconfig:"OMISE_SECRET_KEY" default:""`
	OmiseCustomerPrefix string `envconfig:"OMISE_CUSTOMER_PREFIX" default:"cust_"`
	PlatformFeeBps      int64  `envconfig:"PLATFORM_FEE_BPS" default:"250"`

	// RabbitMQ
	RabbitURL          string   `envconfig:"RABBIT_URL" default:""`
	NotifyExchange     string   `envconfig:"NOTIFY_EXCHANGE" default:"swap.notifications"`
	CommandExchange    string   `envconfig:"COMMAND_EXCHANGE" default:"swap.commands"`
	CommandQueue       string   `envconfig:"COMMAND_QUEUE" default:"swap.completion.q"`
	CommandRoutingKeys []string `envconfig:"COMMAND_ROUTING_KEYS" default:"proposal.accept,proposal.reject"`

	// Rollback
	RollbackMaxAttempts int           `envconfig:"ROLLBACK_MAX_ATTEMPTS" default:"3"`
	RollbackRegistryTTL time.Duration `envconfig:"ROLLBACK_REGISTRY_TTL" default:"30m"`

	// HTTP
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9100"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads .env if present and then processes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

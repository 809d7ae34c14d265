// Package config provides configuration management for the swap cycler services.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Solana     SolanaConfig
	Queue      QueueConfig
	Scheduler  SchedulerConfig
	Wallets    WalletsConfig
	Fees       FeesConfig
	Aggregator AggregatorConfig
	Pools      PoolsConfig
	Logging    LoggingConfig
}

// ServerConfig holds the health/metrics server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the pgx connection string.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SolanaConfig holds RPC and transaction submission settings
type SolanaConfig struct {
	RPCURL            string
	SenderURL         string // optional fast-path submission endpoint
	Commitment        string
	RequestsPerSecond int
	ComputeUnitLimit  uint32
	ComputeUnitPrice  uint64 // micro-lamports per compute unit
	PriorityFee       uint64 // lamports reserved per transaction in balance checks
	ConfirmTimeout    time.Duration
	ConfirmPoll       time.Duration
	MaxRPCAttempts    int
}

// QueueConfig holds durable task queue settings
type QueueConfig struct {
	Name         string
	ConsumerID   string
	Prefetch     int
	MaxRetries   int
	RetryBackoff time.Duration
	LeaseTTL     time.Duration
	DedupTTL     time.Duration
	DoneTTL      time.Duration
}

// SchedulerConfig holds producer settings
type SchedulerConfig struct {
	HealthPort   string // the scheduler's own health server port
	TickInterval time.Duration
	TickWrap     int
	BatchSize    int
	BatchDelay   time.Duration
}

// WalletsConfig holds signer configuration
type WalletsConfig struct {
	OwnerKeypairPath string
	WorkerKeysFile   string // one base58 private key per line
	RentBuffer       uint64 // lamports kept above the rent-exempt minimum
	FeeAllowance     uint64 // lamports the owner must keep for the funding tx itself
	Strategy         string // random | round_robin
	Serialize        bool
}

// FeesConfig holds platform fee settings
type FeesConfig struct {
	AdminWallet string
}

// AggregatorConfig holds routed swap provider settings
type AggregatorConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	BreakerFailures   int
	BreakerTimeout    time.Duration
}

// PoolsConfig points at the bonding-curve pool registry
type PoolsConfig struct {
	RegistryPath string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "swap_cycler"),
				User:           getEnv("POSTGRES_USER", "cycler"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "swap_cycler"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Solana: SolanaConfig{
			RPCURL:            getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			SenderURL:         getEnv("SENDER_URL", ""),
			Commitment:        getEnv("SOLANA_COMMITMENT", "confirmed"),
			RequestsPerSecond: getEnvAsInt("SOLANA_RPC_RPS", 10),
			ComputeUnitLimit:  uint32(getEnvAsUint64("COMPUTE_UNIT_LIMIT", 400_000)),
			ComputeUnitPrice:  getEnvAsUint64("COMPUTE_UNIT_PRICE", 0),
			PriorityFee:       getEnvAsUint64("PRIORITY_FEE_LAMPORTS", 10_000),
			ConfirmTimeout:    getEnvAsDuration("TX_CONFIRM_TIMEOUT", 90*time.Second),
			ConfirmPoll:       getEnvAsDuration("TX_CONFIRM_POLL", 700*time.Millisecond),
			MaxRPCAttempts:    getEnvAsInt("SOLANA_RPC_MAX_ATTEMPTS", 3),
		},
		Queue: QueueConfig{
			Name:         getEnv("QUEUE_NAME", "swap_tasks"),
			ConsumerID:   getEnv("QUEUE_CONSUMER_ID", hostnameOr("worker")),
			Prefetch:     getEnvAsInt("QUEUE_PREFETCH", 10),
			MaxRetries:   getEnvAsInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("QUEUE_RETRY_BACKOFF", 2*time.Second),
			LeaseTTL:     getEnvAsDuration("QUEUE_LEASE_TTL", 5*time.Minute),
			DedupTTL:     getEnvAsDuration("QUEUE_DEDUP_TTL", time.Hour),
			DoneTTL:      getEnvAsDuration("QUEUE_DONE_TTL", time.Hour),
		},
		Scheduler: SchedulerConfig{
			HealthPort:   getEnv("SCHEDULER_HEALTH_PORT", "8082"),
			TickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			TickWrap:     getEnvAsInt("SCHEDULER_TICK_WRAP", 360),
			BatchSize:    getEnvAsInt("SCHEDULER_BATCH_SIZE", 10),
			BatchDelay:   getEnvAsDuration("SCHEDULER_BATCH_DELAY", 3*time.Second),
		},
		Wallets: WalletsConfig{
			OwnerKeypairPath: getEnv("OWNER_KEYPAIR_PATH", ""),
			WorkerKeysFile:   getEnv("WORKER_KEYS_FILE", ""),
			RentBuffer:       getEnvAsUint64("WORKER_RENT_BUFFER_LAMPORTS", 5_000_000),
			FeeAllowance:     getEnvAsUint64("FUNDING_FEE_ALLOWANCE_LAMPORTS", 10_000),
			Strategy:         strings.ToLower(getEnv("WALLET_STRATEGY", "random")),
			Serialize:        getEnvAsBool("WALLET_SERIALIZE", false),
		},
		Fees: FeesConfig{
			AdminWallet: getEnv("ADMIN_FEE_WALLET", ""),
		},
		Aggregator: AggregatorConfig{
			BaseURL:           getEnv("AGGREGATOR_BASE_URL", "https://quote-api.jup.ag/v6"),
			Timeout:           getEnvAsDuration("AGGREGATOR_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvAsInt("AGGREGATOR_RPS", 5),
			BreakerFailures:   getEnvAsInt("AGGREGATOR_BREAKER_FAILURES", 5),
			BreakerTimeout:    getEnvAsDuration("AGGREGATOR_BREAKER_TIMEOUT", 30*time.Second),
		},
		Pools: PoolsConfig{
			RegistryPath: getEnv("POOL_REGISTRY_PATH", "pools.yaml"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.Solana.ConfirmTimeout < 60*time.Second || c.Solana.ConfirmTimeout > 120*time.Second {
		return fmt.Errorf("TX_CONFIRM_TIMEOUT must be between 60s and 120s, got %s", c.Solana.ConfirmTimeout)
	}
	if c.Queue.Prefetch <= 0 {
		return fmt.Errorf("QUEUE_PREFETCH must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must not be negative")
	}
	if c.Scheduler.TickWrap <= 0 || c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler tick wrap and batch size must be positive")
	}
	if c.Scheduler.HealthPort == c.Server.Port {
		return fmt.Errorf("SCHEDULER_HEALTH_PORT must differ from SERVER_PORT %s", c.Server.Port)
	}
	// task ids repeat once the tick counter wraps
	if cycle := c.Scheduler.TickInterval * time.Duration(c.Scheduler.TickWrap); c.Queue.DedupTTL >= cycle || c.Queue.DoneTTL >= cycle {
		return fmt.Errorf("QUEUE_DEDUP_TTL and QUEUE_DONE_TTL must be shorter than the tick cycle %s", cycle)
	}
	switch c.Wallets.Strategy {
	case "random", "round_robin":
	default:
		return fmt.Errorf("unknown WALLET_STRATEGY %q", c.Wallets.Strategy)
	}
	return nil
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config handles application configuration from environment variables
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
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL         string
	ChainID        int64
	BridgeKey      string // Hex-encoded bridge wallet key, no 0x prefix
	EscrowContract string // Custody contract address
	TokenContract  string // MXNB token address

	// Fiat rail (Stripe)
	RailAPIKey       string
	RailAccount      string // Platform receiving account
	RailPollInterval time.Duration

	// Yield provider
	YieldAPIURL      string
	YieldAPIKey      string
	YieldDefaultRate string // Annual rate fallback when the provider is down

	// Automation
	DepositInterval time.Duration
	CustodyInterval time.Duration
	PayoutInterval  time.Duration
	YieldRunHourUTC int // Hour of day the daily yield job fires

	// Multisig release wallet. When owners are configured the server
	// registers the wallet at startup and routes multisig releases
	// through it.
	MultisigWalletAddr string
	MultisigOwners     []string
	MultisigThreshold  int

	// Retry policy for external calls
	MaxAttempts int
	BaseBackoff time.Duration

	// Security
	WebhookSecret string
	AdminSecret   string
	RateLimitRPM  int

	// Tracing
	OTLPEndpoint string
}

// Arbitrum Sepolia defaults
const (
	DefaultRPCURL           = "https://sepolia-rollup.arbitrum.io/rpc"
	DefaultChainID          = 421614
	DefaultTokenContract    = "0x82B9e52b26A2954E113F94Ff26647754d5a4247D"
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultYieldRate        = "0.072"
	DefaultRateLimit        = 120
	DefaultMaxAttempts      = 5
	DefaultBaseBackoff      = 2 * time.Second
	DefaultDepositInterval  = time.Minute
	DefaultCustodyInterval  = 10 * time.Minute
	DefaultPayoutInterval   = 2 * time.Minute
	DefaultYieldRunHourUTC  = 8 // 02:00 Mexico City
	DefaultRailPollInterval = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		BridgeKey:          os.Getenv("BRIDGE_PRIVATE_KEY"), // Required for on-chain ops
		EscrowContract:     os.Getenv("ESCROW_CONTRACT"),
		TokenContract:      getEnv("TOKEN_CONTRACT", DefaultTokenContract),
		RailAPIKey:         os.Getenv("RAIL_API_KEY"),
		RailAccount:        os.Getenv("RAIL_ACCOUNT"),
		RailPollInterval:   getEnvDuration("RAIL_POLL_INTERVAL", DefaultRailPollInterval),
		YieldAPIURL:        os.Getenv("YIELD_API_URL"),
		YieldAPIKey:        os.Getenv("YIELD_API_KEY"),
		YieldDefaultRate:   getEnv("YIELD_DEFAULT_RATE", DefaultYieldRate),
		DepositInterval:    getEnvDuration("DEPOSIT_INTERVAL", DefaultDepositInterval),
		CustodyInterval:    getEnvDuration("CUSTODY_INTERVAL", DefaultCustodyInterval),
		PayoutInterval:     getEnvDuration("PAYOUT_INTERVAL", DefaultPayoutInterval),
		YieldRunHourUTC:    int(getEnvInt64("YIELD_RUN_HOUR_UTC", DefaultYieldRunHourUTC)),
		MultisigWalletAddr: os.Getenv("MULTISIG_WALLET_ADDR"),
		MultisigOwners:     splitList(os.Getenv("MULTISIG_OWNERS")),
		MultisigThreshold:  int(getEnvInt64("MULTISIG_THRESHOLD", 2)),
		MaxAttempts:        int(getEnvInt64("MAX_ATTEMPTS", DefaultMaxAttempts)),
		BaseBackoff:        getEnvDuration("BASE_BACKOFF", DefaultBaseBackoff),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.BridgeKey != "" {
		key := c.BridgeKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("BRIDGE_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

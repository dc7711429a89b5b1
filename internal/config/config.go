// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	StoreBackend string
	DBPath       string
	Redis        RedisConfig

	Ledger       LedgerConfig
	Conversation ConversationConfig
	Classifier   ClassifierConfig
	LLM          LLMConfig
	RateLimit    RateLimitConfig

	ConversationLog ConversationLogConfig

	// NetworkPath points at a YAML network catalogue; empty uses the
	// embedded default.
	NetworkPath string
	Network     *Network
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LedgerConfig configures the ledger gateway and transaction polling.
type LedgerConfig struct {
	// RPCURL is the JSON-RPC gateway; empty selects the simulated ledger.
	RPCURL              string
	Timeout             time.Duration
	ReceiptPollInterval time.Duration
	ReceiptWait         time.Duration
	RetryBackoff        time.Duration
}

// ConversationConfig controls session state and the confirmation gate.
type ConversationConfig struct {
	HistoryWindow       int
	ConfirmationTTL     time.Duration
	ConfidenceThreshold float64
	// OffloadAfter moves idle sessions from memory to the store; zero
	// disables the offload worker.
	OffloadAfter time.Duration
}

// ClassifierConfig points at an optional remote intent classifier.
type ClassifierConfig struct {
	Addr    string
	Timeout time.Duration
}

// LLMConfig configures the free-form response generator.
type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// RateLimitConfig throttles chat requests per session key.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DBPath:       getEnv("DB_PATH", "./data/ledgerchat.db"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			RPCURL:              getEnv("LEDGER_RPC_URL", ""),
			Timeout:             getEnvDuration("LEDGER_TIMEOUT", 15*time.Second),
			ReceiptPollInterval: getEnvDuration("RECEIPT_POLL_INTERVAL", 2*time.Second),
			ReceiptWait:         getEnvDuration("RECEIPT_WAIT", 2*time.Minute),
			RetryBackoff:        getEnvDuration("LEDGER_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Conversation: ConversationConfig{
			HistoryWindow:       getEnvInt("HISTORY_WINDOW", 50),
			ConfirmationTTL:     getEnvDuration("CONFIRMATION_TTL", 5*time.Minute),
			ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.6),
			OffloadAfter:        getEnvDuration("SESSION_OFFLOAD_AFTER", 0),
		},
		Classifier: ClassifierConfig{
			Addr:    getEnv("CLASSIFIER_ADDR", ""),
			Timeout: getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
		},
		LLM: LLMConfig{
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		NetworkPath: getEnv("NETWORK_CONFIG", ""),
	}

	network, err := LoadNetwork(cfg.NetworkPath)
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	cfg.Network = network

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, sqlite, redis (got %q)", c.StoreBackend)
	}
	if c.Conversation.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.Conversation.ConfirmationTTL <= 0 {
		return fmt.Errorf("CONFIRMATION_TTL must be > 0")
	}
	if t := c.Conversation.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be > 0")
	}
	if c.Ledger.ReceiptPollInterval <= 0 || c.Ledger.ReceiptWait < c.Ledger.ReceiptPollInterval {
		return fmt.Errorf("RECEIPT_WAIT must be >= RECEIPT_POLL_INTERVAL > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Network == nil {
		return fmt.Errorf("network catalogue is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Simulated reports whether the in-process ledger is used.
func (c *Config) Simulated() bool {
	return c.Ledger.RPCURL == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

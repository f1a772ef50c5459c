package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/streamchat/internal/chain"
	"github.com/eldtechnologies/streamchat/internal/chat"
)

// Feed modes.
const (
	FeedPush = "push"
	FeedPoll = "poll"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Chain
	RPCHTTPURL       string
	RPCWSURL         string
	ChainID          int64
	ProtocolAddress  string
	PrivateKey       string
	PublisherAddress string // rows are read for this account; defaults to the signer

	// Read pipelines
	FeedMode     string
	PollInterval time.Duration
	MessageLimit int

	// SendKeyHash is a bcrypt hash; when set, POST /api/send requires a
	// matching X-Send-Key header.
	SendKeyHash string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		RPCHTTPURL:       getEnv("RPC_HTTP_URL", chain.SomniaTestnet.HTTPURL),
		RPCWSURL:         getEnv("RPC_WS_URL", chain.SomniaTestnet.WSURL),
		ChainID:          getEnvInt64("CHAIN_ID", chain.SomniaTestnet.ChainID),
		ProtocolAddress:  os.Getenv("STREAMS_PROTOCOL_ADDRESS"),
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		PublisherAddress: os.Getenv("PUBLISHER_ADDRESS"),
		FeedMode:         strings.ToLower(getEnv("FEED_MODE", FeedPush)),
		PollInterval:     getEnvDuration("POLL_INTERVAL", chat.DefaultPollInterval),
		MessageLimit:     int(getEnvInt64("MESSAGE_LIMIT", chat.DefaultLimit)),
		SendKeyHash:      os.Getenv("SEND_KEY_HASH"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if cfg.FeedMode != FeedPush && cfg.FeedMode != FeedPoll {
		panic("FEED_MODE must be push or poll")
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a signer, a protocol address and redis
	if cfg.Env == "production" {
		if cfg.PrivateKey == "" {
			panic("PRIVATE_KEY is required in production")
		}
		if cfg.ProtocolAddress == "" {
			panic("STREAMS_PROTOCOL_ADDRESS is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Network builds the chain description from the RPC settings. An unset or
// malformed protocol address leaves StreamsProtocol zero.
func (c *Config) Network() chain.Network {
	n := chain.SomniaTestnet
	n.ChainID = c.ChainID
	n.HTTPURL = c.RPCHTTPURL
	n.WSURL = c.RPCWSURL
	if common.IsHexAddress(c.ProtocolAddress) {
		n.StreamsProtocol = common.HexToAddress(c.ProtocolAddress)
	}
	if c.ChainID != chain.SomniaTestnet.ChainID {
		n.Name = "custom-" + strconv.FormatInt(c.ChainID, 10)
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      Server
	Chain       Chain
	Identity    Identity
	Leaderboard Leaderboard
	Logging     Logging
	Metrics     Metrics
}

type Server struct {
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

type Chain struct {
	Networks               []Network
	StrikeEventSignature   string
	PollingInterval        time.Duration
	RequestTimeout         time.Duration
	LookbackBlocks         uint64
	RateLimitBackoff       time.Duration
	StrictRateLimitBackoff time.Duration
}

// Network describes one monitored chain. ChunkSize must not exceed the
// provider's maximum eth_getLogs range.
type Network struct {
	Name             string
	RPCURL           string
	ContractAddress  string
	ChunkSize        uint64
	LookbackBlocks   uint64
	StrictRateLimits bool
	PollingInterval  time.Duration
}

type Identity struct {
	BaseURL           string
	APIKey            string
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64
	BatchSize         int
	ResolveInterval   time.Duration
	RetryInterval     time.Duration
	IdentityTTL       time.Duration
	RateLimitBackoff  time.Duration
	EnrichIdentities  bool
}

type Leaderboard struct {
	DefaultLimit int
	MaxLimit     int
	// ProfileResolveTimeout bounds the on-demand identity lookup of a profile read.
	ProfileResolveTimeout time.Duration
}

type Logging struct {
	Level       string
	Environment string
}

type Metrics struct {
	Port    string
	Enabled bool
}

// Preset holds per-network defaults tuned to the public RPC providers.
type Preset struct {
	ChunkSize        uint64
	StrictRateLimits bool
}

var presets = map[string]Preset{
	"ethereum":      {ChunkSize: 1000},
	"base":          {ChunkSize: 2000},
	"base-sepolia":  {ChunkSize: 2000},
	"arbitrum":      {ChunkSize: 2000},
	"optimism":      {ChunkSize: 2000},
	"polygon":       {ChunkSize: 1000},
	"monad-testnet": {ChunkSize: 100, StrictRateLimits: true},
}

const defaultChunkSize = 500

func PresetFor(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(name)]
	return p, ok
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Server: Server{
			Port:            getEnv("SERVER_PORT", "8080"),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", "30s"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "10s"),
			RateLimitRPS:    getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		},
		Chain: Chain{
			StrikeEventSignature:   getEnv("STRIKE_EVENT_SIGNATURE", "Strike(address)"),
			PollingInterval:        getEnvAsDuration("POLLING_INTERVAL", "5s"),
			RequestTimeout:         getEnvAsDuration("RPC_REQUEST_TIMEOUT", "20s"),
			LookbackBlocks:         getEnvAsUint64("LOOKBACK_BLOCKS", 50000),
			RateLimitBackoff:       getEnvAsDuration("RATE_LIMIT_BACKOFF", "30s"),
			StrictRateLimitBackoff: getEnvAsDuration("STRICT_RATE_LIMIT_BACKOFF", "5m"),
		},
		Identity: Identity{
			BaseURL:           getEnv("NEYNAR_API_URL", "https://api.neynar.com"),
			APIKey:            getEnv("NEYNAR_API_KEY", ""),
			RequestTimeout:    getEnvAsDuration("IDENTITY_REQUEST_TIMEOUT", "15s"),
			MaxRetries:        getEnvAsInt("IDENTITY_MAX_RETRIES", 2),
			RetryDelay:        getEnvAsDuration("IDENTITY_RETRY_DELAY", "1s"),
			RequestsPerSecond: getEnvAsFloat("IDENTITY_REQUESTS_PER_SECOND", 5),
			BatchSize:         getEnvAsInt("IDENTITY_BATCH_SIZE", 100),
			ResolveInterval:   getEnvAsDuration("IDENTITY_RESOLVE_INTERVAL", "10s"),
			RetryInterval:     getEnvAsDuration("IDENTITY_RETRY_INTERVAL", "10m"),
			IdentityTTL:       getEnvAsDuration("IDENTITY_CACHE_TTL", "0s"),
			RateLimitBackoff:  getEnvAsDuration("IDENTITY_RATE_LIMIT_BACKOFF", "1m"),
			EnrichIdentities:  getEnvAsBool("IDENTITY_ENRICH", true),
		},
		Leaderboard: Leaderboard{
			DefaultLimit:          getEnvAsInt("LEADERBOARD_DEFAULT_LIMIT", 100),
			MaxLimit:              getEnvAsInt("LEADERBOARD_MAX_LIMIT", 1000),
			ProfileResolveTimeout: getEnvAsDuration("PROFILE_RESOLVE_TIMEOUT", "3s"),
		},
		Logging: Logging{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Metrics: Metrics{
			Port:    getEnv("METRICS_PORT", "9090"),
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	for _, name := range splitList(getEnv("NETWORKS", "base")) {
		cfg.Chain.Networks = append(cfg.Chain.Networks, loadNetwork(name, cfg.Chain))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadNetwork(name string, chain Chain) Network {
	prefix := envPrefix(name)
	preset, ok := PresetFor(name)
	if !ok {
		preset = Preset{ChunkSize: defaultChunkSize}
	}

	return Network{
		Name:             strings.ToLower(name),
		RPCURL:           getEnv(prefix+"_RPC_URL", ""),
		ContractAddress:  getEnv(prefix+"_CONTRACT_ADDRESS", ""),
		ChunkSize:        getEnvAsUint64(prefix+"_CHUNK_SIZE", preset.ChunkSize),
		LookbackBlocks:   getEnvAsUint64(prefix+"_LOOKBACK_BLOCKS", chain.LookbackBlocks),
		StrictRateLimits: getEnvAsBool(prefix+"_STRICT_RATE_LIMITS", preset.StrictRateLimits),
		PollingInterval:  getEnvAsDuration(prefix+"_POLLING_INTERVAL", chain.PollingInterval.String()),
	}
}

func (c *Config) Validate() error {
	if len(c.Chain.Networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}

	seen := make(map[string]bool, len(c.Chain.Networks))
	for _, n := range c.Chain.Networks {
		if seen[n.Name] {
			return fmt.Errorf("network %q configured twice", n.Name)
		}
		seen[n.Name] = true

		if n.RPCURL == "" {
			return fmt.Errorf("network %q: %s_RPC_URL is required", n.Name, envPrefix(n.Name))
		}
		if !common.IsHexAddress(n.ContractAddress) {
			return fmt.Errorf("network %q: invalid contract address %q", n.Name, n.ContractAddress)
		}
		if n.ChunkSize == 0 {
			return fmt.Errorf("network %q: chunk size must be positive", n.Name)
		}
	}

	if c.Identity.BatchSize <= 0 {
		return fmt.Errorf("identity batch size must be positive")
	}
	if c.Leaderboard.DefaultLimit <= 0 || c.Leaderboard.MaxLimit < c.Leaderboard.DefaultLimit {
		return fmt.Errorf("invalid leaderboard limits: default=%d max=%d",
			c.Leaderboard.DefaultLimit, c.Leaderboard.MaxLimit)
	}

	return nil
}

// BackoffFor returns the rate-limit cooldown for a network.
func (c Chain) BackoffFor(n Network) time.Duration {
	if n.StrictRateLimits {
		return c.StrictRateLimitBackoff
	}
	return c.RateLimitBackoff
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseUint(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	defaultDuration, _ := time.ParseDuration(defaultValue)
	return defaultDuration
}

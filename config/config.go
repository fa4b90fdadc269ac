package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"raffler/database"
	"raffler/domain/entities"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL      string `toml:"database_url"`
	DatabaseName     string `toml:"database_name"`
	DatabaseMaxConns int32  `toml:"database_max_conns"`
	Storage          string `toml:"storage"` // "postgres" or "memory"

	// Event fan-out. Empty disables NATS.
	NATSServers string `toml:"nats_servers"`

	// Winner announcements. Both must be set to enable them.
	DiscordToken     string `toml:"discord_token"`
	DiscordChannelID string `toml:"discord_channel_id"`

	// HTTP API
	HTTPAddr       string  `toml:"http_addr"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	// Network preset
	Network string `toml:"network"`
	ChainID int64  `toml:"chain_id"`

	// Raffle construction parameters
	Raffle RaffleConfig `toml:"raffle"`

	// Local randomness coordinator
	VRFBlockTime           time.Duration `toml:"vrf_block_time"`
	VRFMaxAttempts         int           `toml:"vrf_max_attempts"`
	VRFUnknownRequestGrace time.Duration `toml:"vrf_unknown_request_grace"`

	// Keeper
	UpkeepSchedule    string        `toml:"upkeep_schedule"`
	StuckWarningAfter time.Duration `toml:"stuck_warning_after"`

	LogLevel    string `toml:"log_level"`
	Environment string `toml:"environment"` // "development", "production" or "test"
}

// RaffleConfig holds the parameters the raffle is created with
type RaffleConfig struct {
	Name                 string `toml:"name"`
	EntranceFeeWei       string `toml:"entrance_fee_wei"` // decimal wei, may exceed 64 bits
	IntervalSeconds      int64  `toml:"interval_seconds"`
	GasLane              string `toml:"gas_lane"`
	SubscriptionID       uint64 `toml:"subscription_id"`
	CallbackGasLimit     uint32 `toml:"callback_gas_limit"`
	RequestConfirmations uint16 `toml:"request_confirmations"`
}

// EntranceFee parses the configured fee, returning nil when it is not a
// decimal integer
func (r RaffleConfig) EntranceFee() *big.Int {
	fee, ok := new(big.Int).SetString(strings.TrimSpace(r.EntranceFeeWei), 10)
	if !ok {
		return nil
	}
	return fee
}

// Params converts the raffle settings into construction parameters
func (r RaffleConfig) Params() entities.RaffleParams {
	return entities.RaffleParams{
		Name:                 r.Name,
		EntranceFee:          r.EntranceFee(),
		Interval:             time.Duration(r.IntervalSeconds) * time.Second,
		GasLane:              common.HexToHash(r.GasLane),
		SubscriptionID:       r.SubscriptionID,
		CallbackGasLimit:     r.CallbackGasLimit,
		RequestConfirmations: r.RequestConfirmations,
	}
}

// NetworkPreset holds the defaults of a known network
type NetworkPreset struct {
	ChainID              int64
	RequestConfirmations uint16
	EntranceFeeWei       string
	IntervalSeconds      int64
	GasLane              string
	CallbackGasLimit     uint32
}

const defaultGasLane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"

// Networks lists the supported network presets
var Networks = map[string]NetworkPreset{
	"development": {
		ChainID:              31337,
		RequestConfirmations: 1,
		EntranceFeeWei:       "10000000000000000", // 0.01 ETH
		IntervalSeconds:      30,
		GasLane:              defaultGasLane,
		CallbackGasLimit:     500000,
	},
	"sepolia": {
		ChainID:              11155111,
		RequestConfirmations: 6,
		EntranceFeeWei:       "10000000000000000", // 0.01 ETH
		IntervalSeconds:      30,
		GasLane:              defaultGasLane,
		CallbackGasLimit:     500000,
	},
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// DiscordEnabled returns true if winner announcements are configured
func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}

// load builds the config from the network preset, then the optional TOML
// file named by RAFFLE_CONFIG_FILE, then environment variables
func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to load .env file")
	}

	configFile := os.Getenv("RAFFLE_CONFIG_FILE")

	network := os.Getenv("RAFFLE_NETWORK")
	if network == "" && configFile != "" {
		var header struct {
			Network string `toml:"network"`
		}
		if _, err := toml.DecodeFile(configFile, &header); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		network = header.Network
	}
	if network == "" {
		network = "development"
	}

	config, err := defaultsFor(network)
	if err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", configFile, err)
		}
		config.Network = network
	}

	applyEnv(config)

	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// defaultsFor returns the default configuration of a network
func defaultsFor(network string) (*Config, error) {
	preset, ok := Networks[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}

	return &Config{
		DatabaseMaxConns: 10,
		Storage:          "postgres",
		HTTPAddr:         ":8080",
		RateLimitRPS:     5,
		RateLimitBurst:   10,
		Network:          network,
		ChainID:          preset.ChainID,
		Raffle: RaffleConfig{
			Name:                 "raffle",
			EntranceFeeWei:       preset.EntranceFeeWei,
			IntervalSeconds:      preset.IntervalSeconds,
			GasLane:              preset.GasLane,
			CallbackGasLimit:     preset.CallbackGasLimit,
			RequestConfirmations: preset.RequestConfirmations,
		},
		VRFBlockTime:      time.Second,
		UpkeepSchedule:    "@every 10s",
		StuckWarningAfter: 10 * time.Minute,
		LogLevel:          "info",
	}, nil
}

func applyEnv(config *Config) {
	config.DatabaseURL = getEnvWithDefault("DATABASE_URL", config.DatabaseURL)
	config.DatabaseName = getEnvWithDefault("DATABASE_NAME", config.DatabaseName)
	config.Storage = getEnvWithDefault("RAFFLE_STORAGE", config.Storage)
	config.NATSServers = getEnvWithDefault("NATS_SERVERS", config.NATSServers)
	config.DiscordToken = getEnvWithDefault("DISCORD_TOKEN", config.DiscordToken)
	config.DiscordChannelID = getEnvWithDefault("DISCORD_CHANNEL_ID", config.DiscordChannelID)
	config.HTTPAddr = getEnvWithDefault("HTTP_ADDR", config.HTTPAddr)
	config.UpkeepSchedule = getEnvWithDefault("UPKEEP_SCHEDULE", config.UpkeepSchedule)
	config.LogLevel = getEnvWithDefault("LOG_LEVEL", config.LogLevel)
	config.Environment = getEnvWithDefault("ENVIRONMENT", config.Environment)

	config.Raffle.Name = getEnvWithDefault("RAFFLE_NAME", config.Raffle.Name)
	config.Raffle.GasLane = getEnvWithDefault("RAFFLE_GAS_LANE", config.Raffle.GasLane)
	config.Raffle.EntranceFeeWei = getEnvWithDefault("RAFFLE_ENTRANCE_FEE_WEI", config.Raffle.EntranceFeeWei)

	if v := os.Getenv("DATABASE_MAX_CONNS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 32); err == nil {
			config.DatabaseMaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			config.RateLimitRPS = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.RateLimitBurst = parsed
		}
	}
	if v := os.Getenv("RAFFLE_INTERVAL_SECONDS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Raffle.IntervalSeconds = parsed
		}
	}
	if v := os.Getenv("RAFFLE_SUBSCRIPTION_ID"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Raffle.SubscriptionID = parsed
		}
	}
	if v := os.Getenv("RAFFLE_CALLBACK_GAS_LIMIT"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
			config.Raffle.CallbackGasLimit = uint32(parsed)
		}
	}
	if v := os.Getenv("RAFFLE_REQUEST_CONFIRMATIONS"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 16); err == nil {
			config.Raffle.RequestConfirmations = uint16(parsed)
		}
	}
	if v := os.Getenv("VRF_BLOCK_TIME"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			config.VRFBlockTime = parsed
		}
	}
	if v := os.Getenv("VRF_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			config.VRFMaxAttempts = parsed
		}
	}
	if v := os.Getenv("VRF_UNKNOWN_REQUEST_GRACE"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			config.VRFUnknownRequestGrace = parsed
		}
	}
	if v := os.Getenv("STUCK_WARNING_AFTER"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			config.StuckWarningAfter = parsed
		}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Storage {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}

	if err := c.Raffle.Params().Validate(); err != nil {
		return err
	}
	if c.Raffle.GasLane != "" && !strings.HasPrefix(c.Raffle.GasLane, "0x") {
		return fmt.Errorf("gas lane must be a 0x-prefixed hash")
	}
	// Fulfillment must not race the transaction that stored the request
	if c.Raffle.RequestConfirmations == 0 {
		return fmt.Errorf("request confirmations must be at least 1")
	}
	if (c.DiscordToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	return nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	config, _ := defaultsFor("development")
	config.Storage = "memory"
	config.Environment = "test"
	config.VRFBlockTime = 10 * time.Millisecond
	return config
}

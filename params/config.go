package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir string
	APIAddr string
	// LogFile receives a copy of the console log. Empty logs to stderr only.
	LogFile string
	Verbose bool
	// BlockInterval paces block production. Ticks with an empty mempool
	// produce nothing; blocks can also be forced through the API.
	//
	// Recommended values:
	//   - Interactive devnet:  1s
	//   - Integration tests:   0 (disabled, blocks produced on demand)
	BlockInterval  time.Duration
	AllowedOrigins []string
}

// Genesis funds one address at chain start
type Genesis struct {
	OwnerAddress common.Address
	Capacity     uint64 // Shannons
	Timestamp    int64
}

type Dealmaker struct {
	Enabled    bool
	PrivateKey string
	Interval   time.Duration
	MinerFee   uint64 // Shannons left to the block producer per match
}

// Events configures the block stream. No brokers disables it.
type Events struct {
	KafkaBrokers []string
	Topic        string
}

type Config struct {
	Node      Node
	Genesis   Genesis
	Dealmaker Dealmaker
	Events    Events
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:        "data/celldex",
			APIAddr:        ":8080",
			BlockInterval:  time.Second,
			AllowedOrigins: []string{"*"},
		},
		Genesis: Genesis{
			Capacity:  1_000_000_000 * 100_000_000, // 10^9 CKB
			Timestamp: 1_700_000_000,
		},
		Dealmaker: Dealmaker{
			Interval: 2 * time.Second,
			MinerFee: 1_000_000,
		},
		Events: Events{
			Topic: "celldex.blocks",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("NODE_API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("NODE_LOG_FILE", cfg.Node.LogFile)
	cfg.Node.Verbose = getEnv("NODE_VERBOSE", "") == "true"
	if origins := os.Getenv("NODE_ALLOWED_ORIGINS"); origins != "" {
		cfg.Node.AllowedOrigins = splitList(origins)
	}
	if err := durationMs("NODE_BLOCK_INTERVAL_MS", &cfg.Node.BlockInterval); err != nil {
		return cfg, err
	}

	if addr := os.Getenv("GENESIS_OWNER_ADDRESS"); addr != "" {
		if !common.IsHexAddress(addr) {
			return cfg, fmt.Errorf("GENESIS_OWNER_ADDRESS: invalid address %q", addr)
		}
		cfg.Genesis.OwnerAddress = common.HexToAddress(addr)
	}
	if err := uintVar("GENESIS_CAPACITY", &cfg.Genesis.Capacity); err != nil {
		return cfg, err
	}
	if v := os.Getenv("GENESIS_TIMESTAMP"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("GENESIS_TIMESTAMP: %w", err)
		}
		cfg.Genesis.Timestamp = ts
	}

	cfg.Dealmaker.PrivateKey = getEnv("DEALMAKER_PRIVATE_KEY", "")
	cfg.Dealmaker.Enabled = getEnv("DEALMAKER_ENABLED", "") == "true"
	if err := durationMs("DEALMAKER_INTERVAL_MS", &cfg.Dealmaker.Interval); err != nil {
		return cfg, err
	}
	if err := uintVar("DEALMAKER_MINER_FEE", &cfg.Dealmaker.MinerFee); err != nil {
		return cfg, err
	}
	if cfg.Dealmaker.Enabled && cfg.Dealmaker.PrivateKey == "" {
		return cfg, fmt.Errorf("DEALMAKER_ENABLED requires DEALMAKER_PRIVATE_KEY")
	}

	if brokers := os.Getenv("EVENTS_KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitList(brokers)
	}
	cfg.Events.Topic = getEnv("EVENTS_TOPIC", cfg.Events.Topic)

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationMs(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fmt.Errorf("%s: invalid milliseconds %q", key, v)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func uintVar(key string, dst *uint64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// splitList parses a comma-separated list, e.g. "host1:9092,host2:9092"
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

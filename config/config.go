package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAutoRefundAfter = 7 * 24 * time.Hour
	DefaultSimLatency      = 200 * time.Millisecond
)

// Environment variables that override credentials from the file.
const (
	EnvEthRPCURL        = "AFRO_ETH_RPC_URL"
	EnvEthPrivateKey    = "AFRO_ETH_PRIVATE_KEY"
	EnvHederaOperatorID = "AFRO_HEDERA_OPERATOR_ID"
	EnvHederaOperator   = "AFRO_HEDERA_OPERATOR_KEY"
	EnvHederaNetwork    = "AFRO_HEDERA_NETWORK"
	EnvHederaMirrorURL  = "AFRO_HEDERA_MIRROR_URL"
)

type Config struct {
	Env           string `toml:"Env"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	GatewayConfig string `toml:"GatewayConfig"`

	Ethereum   Ethereum   `toml:"Ethereum"`
	Hedera     Hedera     `toml:"Hedera"`
	Storage    Storage    `toml:"Storage"`
	Escrow     Escrow     `toml:"Escrow"`
	Simulation Simulation `toml:"Simulation"`
	Telemetry  Telemetry  `toml:"Telemetry"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Credentials from the environment take precedence.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration that runs both networks in simulation.
func Default() *Config {
	return &Config{
		Env:          "dev",
		LogMaxSizeMB: 100,
		Hedera: Hedera{
			Network: "testnet",
		},
		Ethereum: Ethereum{
			Confirmations: 1,
		},
		Storage: Storage{
			Backend: "leveldb",
			DataDir: "./afrochain-data",
		},
		Escrow:     Escrow{AutoRefundAfter: Duration{DefaultAutoRefundAfter}},
		Simulation: Simulation{Latency: Duration{DefaultSimLatency}},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.Hedera.Network) == "" {
		cfg.Hedera.Network = "testnet"
	}
	if cfg.Ethereum.Confirmations == 0 {
		cfg.Ethereum.Confirmations = 1
	}
	if cfg.Escrow.AutoRefundAfter.Duration == 0 {
		cfg.Escrow.AutoRefundAfter = Duration{DefaultAutoRefundAfter}
	}
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Ethereum.RPCURL, EnvEthRPCURL)
	override(&cfg.Ethereum.PrivateKey, EnvEthPrivateKey)
	override(&cfg.Hedera.OperatorID, EnvHederaOperatorID)
	override(&cfg.Hedera.OperatorKey, EnvHederaOperator)
	override(&cfg.Hedera.Network, EnvHederaNetwork)
	override(&cfg.Hedera.MirrorURL, EnvHederaMirrorURL)
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// EthereumLive reports whether account-chain credentials are present.
func (c *Config) EthereumLive() bool {
	return strings.TrimSpace(c.Ethereum.RPCURL) != ""
}

// HederaLive reports whether hashgraph operator credentials are present.
func (c *Config) HederaLive() bool {
	return strings.TrimSpace(c.Hedera.OperatorID) != "" && strings.TrimSpace(c.Hedera.OperatorKey) != ""
}

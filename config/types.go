package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so TOML files can use "168h" style values.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// Ethereum configures the account chain. An empty RPCURL selects simulation.
type Ethereum struct {
	RPCURL             string `toml:"RPCURL"`
	PrivateKey         string `toml:"PrivateKey"`
	ChainID            uint64 `toml:"ChainID"`
	Confirmations      uint64 `toml:"Confirmations"`
	EscrowBytecodeFile string `toml:"EscrowBytecodeFile"`
}

// Hedera configures the hashgraph network. A missing operator id or key
// selects simulation.
type Hedera struct {
	Network            string `toml:"Network"`
	OperatorID         string `toml:"OperatorID"`
	OperatorKey        string `toml:"OperatorKey"`
	MirrorURL          string `toml:"MirrorURL"`
	CertificateTokenID string `toml:"CertificateTokenID"`
}

// Storage selects the key-value backend and the optional SQL escrow store.
type Storage struct {
	Backend         string `toml:"Backend"`
	DataDir         string `toml:"DataDir"`
	EscrowSQLDriver string `toml:"EscrowSQLDriver"`
	EscrowSQLDSN    string `toml:"EscrowSQLDSN"`
}

type Escrow struct {
	AutoRefundAfter Duration `toml:"AutoRefundAfter"`
}

// Simulation tunes the simulated ledgers.
type Simulation struct {
	Latency Duration `toml:"Latency"`
	Seed    int64    `toml:"Seed"`
}

type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

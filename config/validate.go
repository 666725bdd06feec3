package config

import (
	"fmt"
	"strings"
)

// Validate rejects malformed values. Missing credentials are not an error:
// they select simulation mode for the affected network.
func Validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", "memory", "mem", "leveldb", "level", "bolt", "boltdb", "bbolt":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.EscrowSQLDriver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Storage.EscrowSQLDSN) == "" {
			return fmt.Errorf("storage: EscrowSQLDSN required for driver %q", cfg.Storage.EscrowSQLDriver)
		}
	default:
		return fmt.Errorf("storage: unknown escrow sql driver %q", cfg.Storage.EscrowSQLDriver)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Hedera.Network)) {
	case "mainnet", "testnet", "previewnet":
	default:
		return fmt.Errorf("hedera: unknown network %q", cfg.Hedera.Network)
	}
	if cfg.Escrow.AutoRefundAfter.Duration <= 0 {
		return fmt.Errorf("escrow: AutoRefundAfter must be positive")
	}
	if cfg.Simulation.Latency.Duration < 0 {
		return fmt.Errorf("simulation: Latency must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if cfg.LogMaxSizeMB < 0 {
		return fmt.Errorf("LogMaxSizeMB must not be negative")
	}
	return nil
}

package types

import (
	"fmt"
	"strings"
)

// Network identifies one of the two ledgers the broker settles on.
type Network string

const (
	// AccountChain is the account-based smart-contract chain.
	AccountChain Network = "ethereum"
	// Hashgraph is the hashgraph-consensus network.
	Hashgraph Network = "hedera"
)

// Mode records whether a network is reached live or simulated.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Networks lists every supported network in a stable order.
func Networks() []Network { return []Network{AccountChain, Hashgraph} }

// ParseNetwork accepts the canonical names plus the common aliases used by
// storefront callers.
func ParseNetwork(raw string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ethereum", "eth", "evm", "account", "account_chain", "account-chain":
		return AccountChain, nil
	case "hedera", "hbar", "hashgraph", "hashgraph-chain":
		return Hashgraph, nil
	default:
		return "", fmt.Errorf("unsupported network %q", raw)
	}
}

func (n Network) Valid() bool { return n == AccountChain || n == Hashgraph }

func (n Network) String() string { return string(n) }

// Label is the envelope network label. Simulated networks carry a suffix so
// callers can tell synthetic references from real ones.
func (n Network) Label(mode Mode) string {
	if mode == ModeSimulated {
		return string(n) + "-simulated"
	}
	return string(n)
}

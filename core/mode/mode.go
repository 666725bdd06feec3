// Package mode decides once, at startup, whether each ledger is reached live
// or simulated, and hands out the matching implementations.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"afrochain/config"
	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
	"afrochain/ledger/evm"
	"afrochain/ledger/hashgraph"
	"afrochain/ledger/sim"
	"afrochain/storage"
)

// Escrow names the contract backend in Modes.
const Escrow = "escrow"

// Controller holds the adapters chosen at startup. It is read-only after
// construction and safe for concurrent use.
type Controller struct {
	adapters     map[types.Network]ledger.Adapter
	topics       ledger.TopicService
	tokens       ledger.TokenService
	contracts    ledger.ContractBackend
	contractMode types.Mode
	closers      []func() error
}

// New inspects the configured credentials and builds live adapters where
// they are present and simulated ones everywhere else. Credentials that are
// present but unusable fail startup.
func New(ctx context.Context, cfg *config.Config, journal storage.Database, logger *slog.Logger) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mode")
	simOpts := sim.Options{
		Latency:  cfg.Simulation.Latency.Duration,
		Seed:     cfg.Simulation.Seed,
		Journal:  journal,
		TokenRef: cfg.Hedera.CertificateTokenID,
	}
	c := &Controller{adapters: make(map[types.Network]ledger.Adapter, 2)}

	if cfg.EthereumLive() {
		if err := c.wireEthereum(ctx, cfg, simOpts, logger); err != nil {
			c.Close()
			return nil, err
		}
	} else {
		chain := sim.NewAccountChain(simOpts)
		c.adapters[types.AccountChain] = chain
		c.contracts = chain
		c.contractMode = types.ModeSimulated
	}

	if cfg.HederaLive() {
		if err := c.wireHedera(cfg, logger); err != nil {
			c.Close()
			return nil, err
		}
	} else {
		h, err := sim.NewHashgraph(simOpts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.adapters[types.Hashgraph] = h
		c.topics = h
		c.tokens = h
	}

	for name, m := range c.Modes() {
		logger.Info("ledger mode selected", "network", name, "mode", string(m))
	}
	return c, nil
}

func (c *Controller) wireEthereum(ctx context.Context, cfg *config.Config, simOpts sim.Options, logger *slog.Logger) error {
	client, err := evm.Dial(cfg.Ethereum.RPCURL)
	if err != nil {
		return fmt.Errorf("ethereum: %w", err)
	}
	c.closers = append(c.closers, func() error { client.Close(); return nil })

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	adapter, err := evm.NewAdapter(dialCtx, client, evm.Options{
		Confirmations: cfg.Ethereum.Confirmations,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("ethereum: %w", err)
	}
	if cfg.Ethereum.ChainID != 0 && adapter.ChainID().Uint64() != cfg.Ethereum.ChainID {
		return fmt.Errorf("ethereum: endpoint reports chain %s, configured %d", adapter.ChainID(), cfg.Ethereum.ChainID)
	}
	c.adapters[types.AccountChain] = adapter

	if strings.TrimSpace(cfg.Ethereum.PrivateKey) == "" || strings.TrimSpace(cfg.Ethereum.EscrowBytecodeFile) == "" {
		logger.Warn("escrow contract backend simulated: operator key or bytecode missing")
		c.contracts = sim.NewAccountChain(simOpts)
		c.contractMode = types.ModeSimulated
		return nil
	}
	code, err := evm.LoadBytecode(cfg.Ethereum.EscrowBytecodeFile)
	if err != nil {
		return fmt.Errorf("ethereum: %w", err)
	}
	escrow, err := evm.NewEscrow(adapter, cfg.Ethereum.PrivateKey, code)
	if err != nil {
		return fmt.Errorf("ethereum: %w", err)
	}
	c.contracts = escrow
	c.contractMode = types.ModeLive
	return nil
}

func (c *Controller) wireHedera(cfg *config.Config, logger *slog.Logger) error {
	gateway, err := hashgraph.NewSDKGateway(hashgraph.SDKConfig{
		Network:     cfg.Hedera.Network,
		OperatorID:  cfg.Hedera.OperatorID,
		OperatorKey: cfg.Hedera.OperatorKey,
	})
	if err != nil {
		return fmt.Errorf("hedera: %w", err)
	}
	c.closers = append(c.closers, gateway.Close)
	mirrorURL := strings.TrimSpace(cfg.Hedera.MirrorURL)
	if mirrorURL == "" {
		mirrorURL = hashgraph.DefaultMirrorURLs[strings.ToLower(cfg.Hedera.Network)]
	}
	adapter := hashgraph.NewAdapter(gateway, hashgraph.NewMirrorClient(mirrorURL), cfg.Hedera.CertificateTokenID, logger)
	c.adapters[types.Hashgraph] = adapter
	c.topics = adapter
	c.tokens = adapter
	return nil
}

// Adapter returns the adapter for the network.
func (c *Controller) Adapter(network types.Network) (ledger.Adapter, error) {
	adapter, ok := c.adapters[network]
	if !ok {
		return nil, coreerrors.Validation("unsupported network %q", network)
	}
	return adapter, nil
}

// Mode reports how the network is reached. Unknown networks report simulated.
func (c *Controller) Mode(network types.Network) types.Mode {
	if adapter, ok := c.adapters[network]; ok {
		return adapter.Mode()
	}
	return types.ModeSimulated
}

// Label is the envelope label for the network under its selected mode.
func (c *Controller) Label(network types.Network) string {
	return network.Label(c.Mode(network))
}

// EscrowLabel is the envelope label for escrow operations.
func (c *Controller) EscrowLabel() string {
	return types.AccountChain.Label(c.contractMode)
}

func (c *Controller) Topics() ledger.TopicService { return c.topics }

func (c *Controller) Tokens() ledger.TokenService { return c.tokens }

func (c *Controller) Contracts() ledger.ContractBackend { return c.contracts }

// Modes lists the selected mode per network plus the escrow backend.
func (c *Controller) Modes() map[string]types.Mode {
	out := make(map[string]types.Mode, len(c.adapters)+1)
	for network, adapter := range c.adapters {
		out[network.String()] = adapter.Mode()
	}
	if c.contracts != nil {
		out[Escrow] = c.contractMode
	}
	return out
}

// Close releases live clients.
func (c *Controller) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

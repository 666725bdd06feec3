// Package evm reaches the account chain through a JSON-RPC endpoint.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
)

const (
	transferGas         = uint64(21000)
	defaultPollInterval = 2 * time.Second
)

// Options tune finality handling.
type Options struct {
	// Confirmations is the number of blocks (including the inclusion block)
	// a transfer must reach before it is reported.
	Confirmations uint64
	PollInterval  time.Duration
	Logger        *slog.Logger
}

// Adapter is the live account-chain ledger.Adapter.
type Adapter struct {
	client  Client
	chainID *big.Int
	opts    Options
	logger  *slog.Logger
}

var _ ledger.Adapter = (*Adapter)(nil)

// NewAdapter resolves the chain id and returns a ready adapter.
func NewAdapter(ctx context.Context, client Client, opts Options) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Confirmations == 0 {
		opts.Confirmations = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:  client,
		chainID: chainID,
		opts:    opts,
		logger:  logger.With("component", "ledger", "network", types.AccountChain.String()),
	}, nil
}

func (a *Adapter) Network() types.Network { return types.AccountChain }

func (a *Adapter) Mode() types.Mode { return types.ModeLive }

func (a *Adapter) ValidateAddress(addr string) bool {
	return ledger.ValidateAddress(types.AccountChain, addr)
}

func (a *Adapter) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	account, err := hexAddress(addr)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := a.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return decimal.Zero, coreerrors.Network("fetch balance", err)
	}
	return FromWei(wei), nil
}

// Transfer signs and submits a value transfer, then blocks until the
// receipt reaches the configured confirmation depth.
func (a *Adapter) Transfer(ctx context.Context, to string, amount decimal.Decimal, signer *ledger.SigningContext) ledger.PaymentResult {
	recipient, err := hexAddress(to)
	if err != nil {
		return ledger.Failed(types.AccountChain, amount, err)
	}
	if !signer.Present() {
		return ledger.Failed(types.AccountChain, amount, coreerrors.Credential("ethereum payments require a signing key"))
	}
	wei, err := ToWei(amount)
	if err != nil {
		return ledger.Failed(types.AccountChain, amount, err)
	}
	key, err := ParsePrivateKey(signer.PrivateKey)
	if err != nil {
		return ledger.Failed(types.AccountChain, amount, err)
	}
	receipt, err := a.send(ctx, key, &recipient, wei, nil, transferGas)
	if err != nil {
		a.logger.Warn("transfer failed", "to", to, "error", err)
		return ledger.Failed(types.AccountChain, amount, err)
	}
	return ledger.PaymentResult{
		Success:             true,
		TransactionRef:      receipt.TxHash.Hex(),
		Network:             types.AccountChain,
		Amount:              amount,
		BlockOrConsensusRef: receipt.BlockNumber.String(),
	}
}

func (a *Adapter) Status(ctx context.Context, ref string) (ledger.TxStatus, error) {
	if len(ref) != 66 || !strings.HasPrefix(ref, "0x") {
		return ledger.TxStatus{}, coreerrors.Validation("invalid ethereum transaction hash %q", ref)
	}
	hash := common.HexToHash(ref)
	receipt, err := a.client.TransactionReceipt(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		// Known to the node but without a receipt: queued, or mined and not
		// yet indexed. Either way it is not final.
		if _, _, txErr := a.client.TransactionByHash(ctx, hash); txErr != nil {
			if errors.Is(txErr, ethereum.NotFound) {
				return ledger.TxStatus{}, coreerrors.NotFound("transaction %s not found", ref)
			}
			return ledger.TxStatus{}, coreerrors.Network("fetch transaction", txErr)
		}
		return ledger.TxStatus{TransactionRef: ref, State: ledger.TxPending}, nil
	case err != nil:
		return ledger.TxStatus{}, coreerrors.Network("fetch receipt", err)
	}
	depth, err := a.depth(ctx, receipt)
	if err != nil {
		return ledger.TxStatus{}, err
	}
	state := ledger.TxConfirmed
	if depth < a.opts.Confirmations {
		state = ledger.TxPending
	}
	return ledger.TxStatus{TransactionRef: ref, State: state, Confirmations: depth}, nil
}

// send builds, signs and submits a transaction and waits for finality.
func (a *Adapter) send(ctx context.Context, key *ecdsa.PrivateKey, to *common.Address, value *big.Int, data []byte, gas uint64) (*gethtypes.Receipt, error) {
	from := gethcrypto.PubkeyToAddress(key.PublicKey)
	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, coreerrors.Network("fetch nonce", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, coreerrors.Network("suggest gas price", err)
	}
	if gas == 0 {
		gas, err = a.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Value: value, Data: data})
		if err != nil {
			return nil, coreerrors.Network("estimate gas", err)
		}
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return nil, coreerrors.Credential("sign transaction: %v", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return nil, coreerrors.Network("send transaction", err)
	}
	return a.waitFinal(ctx, signed.Hash())
}

// waitFinal polls for the receipt and then for the confirmation depth.
func (a *Adapter) waitFinal(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return nil, coreerrors.Network("execute transaction", fmt.Errorf("transaction %s reverted", hash.Hex()))
			}
			depth, err := a.depth(ctx, receipt)
			if err != nil {
				return nil, err
			}
			if depth >= a.opts.Confirmations {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, coreerrors.Network("fetch receipt", err)
		}
		select {
		case <-ctx.Done():
			return nil, coreerrors.Network("await receipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Adapter) depth(ctx context.Context, receipt *gethtypes.Receipt) (uint64, error) {
	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, coreerrors.Network("fetch head", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return 0, coreerrors.Network("fetch head", fmt.Errorf("block metadata unavailable"))
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return 0, nil
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	return confirmed.Uint64() + 1, nil
}

// hexAddress is the strict form of address validation applied before value
// leaves the operator: common.HexToAddress would otherwise map non-hex input
// to the zero address and truncate long input to its last 20 bytes.
func hexAddress(addr string) (common.Address, error) {
	if !ledger.ValidateAddress(types.AccountChain, addr) || !common.IsHexAddress(addr) {
		return common.Address{}, coreerrors.Validation("invalid ethereum address %q", addr)
	}
	return common.HexToAddress(addr), nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := gethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, coreerrors.Credential("invalid signing key")
	}
	return key, nil
}

// ChainID returns the chain id reported by the endpoint.
func (a *Adapter) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

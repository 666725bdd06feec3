package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
	"afrochain/storage"
)

// faucetBalance is credited to every address the first time it is seen.
var faucetBalance = decimal.NewFromInt(100)

var simDeployer = common.HexToAddress("0x00000000000000000000000000000000000afc01")

var (
	contractPrefix = []byte("sim/eth/contract/")
	deployerNonce  = []byte("sim/eth/nonce")
)

const contractFunded = "funded"

type simTx struct {
	block uint64
}

// AccountChain simulates the account-based smart-contract chain.
type AccountChain struct {
	opts Options
	seq  sequencer

	mu       sync.Mutex
	block    uint64
	balances map[string]decimal.Decimal
	txs      map[common.Hash]simTx

	// contractMu serialises the journal read-modify-write of contract state.
	contractMu sync.Mutex
}

// NewAccountChain constructs the simulated account chain.
func NewAccountChain(opts Options) *AccountChain {
	opts = opts.withDefaults()
	return &AccountChain{
		opts:     opts,
		seq:      sequencer{seed: opts.Seed},
		block:    1,
		balances: make(map[string]decimal.Decimal),
		txs:      make(map[common.Hash]simTx),
	}
}

var (
	_ ledger.Adapter         = (*AccountChain)(nil)
	_ ledger.ContractBackend = (*AccountChain)(nil)
)

func (a *AccountChain) Network() types.Network { return types.AccountChain }

func (a *AccountChain) Mode() types.Mode { return types.ModeSimulated }

func (a *AccountChain) ValidateAddress(addr string) bool {
	return ledger.ValidateAddress(types.AccountChain, addr)
}

func (a *AccountChain) balanceLocked(addr string) decimal.Decimal {
	key := strings.ToLower(addr)
	bal, ok := a.balances[key]
	if !ok {
		bal = faucetBalance
		a.balances[key] = bal
	}
	return bal
}

func (a *AccountChain) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if !a.ValidateAddress(addr) {
		return decimal.Zero, coreerrors.Validation("invalid ethereum address %q", addr)
	}
	if err := wait(ctx, a.opts.Latency); err != nil {
		return decimal.Zero, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balanceLocked(addr), nil
}

// mine records a transaction in a fresh block.
func (a *AccountChain) mine(parts ...[]byte) (common.Hash, uint64) {
	hash, _ := a.seq.next(parts...)
	a.mu.Lock()
	a.block++
	block := a.block
	a.txs[hash] = simTx{block: block}
	a.mu.Unlock()
	return hash, block
}

func (a *AccountChain) Transfer(ctx context.Context, to string, amount decimal.Decimal, signer *ledger.SigningContext) ledger.PaymentResult {
	if !a.ValidateAddress(to) {
		return ledger.Failed(types.AccountChain, amount, coreerrors.Validation("invalid ethereum address %q", to))
	}
	if !amount.IsPositive() {
		return ledger.Failed(types.AccountChain, amount, coreerrors.Validation("amount must be positive"))
	}
	if !signer.Present() {
		return ledger.Failed(types.AccountChain, amount, coreerrors.Credential("ethereum payments require a signing key"))
	}
	if err := wait(ctx, a.opts.Latency); err != nil {
		return ledger.Failed(types.AccountChain, amount, err)
	}
	hash, block := a.mine([]byte("transfer"), []byte(strings.ToLower(to)), []byte(amount.String()))
	a.mu.Lock()
	a.balances[strings.ToLower(to)] = a.balanceLocked(to).Add(amount)
	a.mu.Unlock()
	return ledger.PaymentResult{
		Success:             true,
		TransactionRef:      hash.Hex(),
		Network:             types.AccountChain,
		Amount:              amount,
		BlockOrConsensusRef: fmt.Sprintf("%d", block),
	}
}

func (a *AccountChain) Status(ctx context.Context, ref string) (ledger.TxStatus, error) {
	if len(ref) != 66 || !strings.HasPrefix(ref, "0x") {
		return ledger.TxStatus{}, coreerrors.Validation("invalid ethereum transaction hash %q", ref)
	}
	if err := wait(ctx, a.opts.Latency); err != nil {
		return ledger.TxStatus{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, ok := a.txs[common.HexToHash(ref)]
	if !ok {
		return ledger.TxStatus{}, coreerrors.NotFound("transaction %s not found", ref)
	}
	return ledger.TxStatus{
		TransactionRef: ref,
		State:          ledger.TxConfirmed,
		Confirmations:  a.block - tx.block + 1,
	}, nil
}

// Deploy synthesises a contract address the same way the chain derives one
// from the deployer nonce. Contract state and the nonce live in the journal,
// so a durable journal keeps deployed escrows settleable across restarts.
func (a *AccountChain) Deploy(ctx context.Context, terms ledger.EscrowTerms) (ledger.ContractReceipt, error) {
	if err := wait(ctx, a.opts.Latency); err != nil {
		return ledger.ContractReceipt{}, err
	}
	a.contractMu.Lock()
	nonce, err := a.loadNonce()
	if err == nil {
		nonce++
		err = a.storeNonce(nonce)
	}
	var addr string
	if err == nil {
		addr = crypto.CreateAddress(simDeployer, nonce).Hex()
		err = a.opts.Journal.Put(contractKey(addr), []byte(contractFunded))
	}
	a.contractMu.Unlock()
	if err != nil {
		return ledger.ContractReceipt{}, coreerrors.Internal("record simulated contract", err)
	}
	hash, _ := a.mine([]byte("deploy"), []byte(terms.Farmer), []byte(terms.Arbiter), []byte(terms.Amount.String()))
	return ledger.ContractReceipt{Address: addr, TransactionRef: hash.Hex()}, nil
}

func (a *AccountChain) Release(ctx context.Context, address string) (string, error) {
	return a.settle(ctx, address, "released")
}

func (a *AccountChain) Refund(ctx context.Context, address string) (string, error) {
	return a.settle(ctx, address, "refunded")
}

func (a *AccountChain) settle(ctx context.Context, address, outcome string) (string, error) {
	if err := wait(ctx, a.opts.Latency); err != nil {
		return "", err
	}
	key := contractKey(address)
	a.contractMu.Lock()
	raw, err := a.opts.Journal.Get(key)
	state := string(raw)
	if err == nil && state == contractFunded {
		err = a.opts.Journal.Put(key, []byte(outcome))
	}
	a.contractMu.Unlock()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", coreerrors.NotFound("escrow contract %s not deployed", address)
	case err != nil:
		return "", coreerrors.Internal("settle simulated contract", err)
	case state != contractFunded:
		return "", coreerrors.InvalidTransition(state, outcome)
	}
	hash, _ := a.mine([]byte(outcome), []byte(strings.ToLower(address)))
	return hash.Hex(), nil
}

func contractKey(address string) []byte {
	return append(append([]byte(nil), contractPrefix...), strings.ToLower(address)...)
}

func (a *AccountChain) loadNonce() (uint64, error) {
	raw, err := a.opts.Journal.Get(deployerNonce)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt deployer nonce")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (a *AccountChain) storeNonce(n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return a.opts.Journal.Put(deployerNonce, buf[:])
}

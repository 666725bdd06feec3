package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/events"
	"afrochain/core/keylock"
	"afrochain/core/types"
	"afrochain/ledger"
)

// DefaultAutoRefundAfter is the window after which a contract becomes
// refundable without a dispute.
const DefaultAutoRefundAfter = 7 * 24 * time.Hour

var errNilBackend = errors.New("escrow engine: contract backend not configured")

// DeployRequest carries the terms of a new escrow. Buyer defaults to the
// operator that funds the deployment.
type DeployRequest struct {
	Buyer    string
	Farmer   string
	Arbiter  string
	Amount   decimal.Decimal
	BatchRef string
}

// Engine owns every escrow contract and is the only code path that mutates
// their status. Transitions on the same contract are serialised.
type Engine struct {
	store           Store
	backend         ledger.ContractBackend
	emitter         events.Emitter
	locks           keylock.Locker
	autoRefundAfter time.Duration
	nowFn           func() time.Time
	onTransition    func(from, to Status)
	logger          *slog.Logger
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine(store Store, backend ledger.ContractBackend) *Engine {
	return &Engine{
		store:           store,
		backend:         backend,
		emitter:         events.NoopEmitter{},
		autoRefundAfter: DefaultAutoRefundAfter,
		nowFn:           time.Now,
		logger:          slog.Default().With("component", "escrow"),
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAutoRefundAfter overrides the auto-refund window. Non-positive values
// restore the default.
func (e *Engine) SetAutoRefundAfter(d time.Duration) {
	if d <= 0 {
		d = DefaultAutoRefundAfter
	}
	e.autoRefundAfter = d
}

// SetTransitionHook registers a callback fired after every committed
// status change.
func (e *Engine) SetTransitionHook(fn func(from, to Status)) { e.onTransition = fn }

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "escrow")
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn().UTC()
}

// Deploy validates the terms, deploys and funds the on-chain contract and
// records it as ACTIVE. Nothing is recorded when the deployment fails.
func (e *Engine) Deploy(ctx context.Context, req DeployRequest) (*Contract, error) {
	if e.backend == nil {
		return nil, coreerrors.Internal("deploy escrow", errNilBackend)
	}
	farmer := strings.TrimSpace(req.Farmer)
	arbiter := strings.TrimSpace(req.Arbiter)
	buyer := strings.TrimSpace(req.Buyer)
	if !ledger.ValidateAddress(types.AccountChain, farmer) {
		return nil, coreerrors.Validation("invalid farmer address %q", req.Farmer)
	}
	if !ledger.ValidateAddress(types.AccountChain, arbiter) {
		return nil, coreerrors.Validation("invalid arbiter address %q", req.Arbiter)
	}
	if buyer != "" && !ledger.ValidateAddress(types.AccountChain, buyer) {
		return nil, coreerrors.Validation("invalid buyer address %q", req.Buyer)
	}
	if !req.Amount.IsPositive() {
		return nil, coreerrors.Validation("escrow amount must be positive")
	}

	now := e.now()
	contract := &Contract{
		ID:           uuid.NewString(),
		Buyer:        buyer,
		Farmer:       farmer,
		Arbiter:      arbiter,
		Amount:       req.Amount,
		BatchRef:     strings.TrimSpace(req.BatchRef),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		AutoRefundAt: now.Add(e.autoRefundAfter),
	}
	receipt, err := e.backend.Deploy(ctx, ledger.EscrowTerms{
		Buyer:        contract.Buyer,
		Farmer:       contract.Farmer,
		Arbiter:      contract.Arbiter,
		Amount:       contract.Amount,
		AutoRefundAt: contract.AutoRefundAt,
	})
	if err != nil {
		e.logger.Warn("escrow deployment failed", "error", err)
		return nil, err
	}
	contract.Address = receipt.Address
	contract.DeployTx = receipt.TransactionRef
	contract.Status = StatusActive
	if err := e.store.Put(ctx, contract); err != nil {
		e.logger.Error("escrow deployed on chain but not recorded",
			"contract", contract.ID,
			"address", contract.Address,
			"deployTx", contract.DeployTx,
			"error", err)
		return nil, coreerrors.Internal("store escrow", err)
	}
	e.committed(StatusPending, contract)
	e.emit(NewDeployedEvent(contract))
	return contract.Clone(), nil
}

// Get returns the contract by id.
func (e *Engine) Get(ctx context.Context, id string) (*Contract, error) {
	return e.store.Get(ctx, strings.TrimSpace(id))
}

// Release settles the escrow in favour of the farmer. It is valid from
// ACTIVE or DISPUTED (arbiter override); repeating it on a COMPLETED
// contract is a no-op success.
func (e *Engine) Release(ctx context.Context, id string) (*Contract, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	contract, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if contract.Status == StatusCompleted {
		return contract, nil
	}
	if !CanTransition(contract.Status, StatusCompleted) {
		return nil, coreerrors.InvalidTransition(contract.Status.String(), StatusCompleted.String())
	}
	tx, err := e.backend.Release(ctx, contract.Address)
	if err != nil {
		e.logger.Warn("escrow release failed", "contract", id, "error", err)
		return nil, err
	}
	return e.commit(ctx, contract, StatusCompleted, func(c *Contract) { c.SettleTx = tx }, NewReleasedEvent)
}

// Refund returns the funds to the buyer. It is valid from ACTIVE or
// DISPUTED, and from any non-terminal state once autoRefundAt has passed.
func (e *Engine) Refund(ctx context.Context, id string) (*Contract, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	contract, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if !contract.RefundAllowed(now) {
		return nil, coreerrors.InvalidTransition(contract.Status.String(), StatusRefunded.String())
	}
	auto := contract.AutoRefundDue(now) && contract.Status != StatusDisputed
	tx, err := e.backend.Refund(ctx, contract.Address)
	if err != nil {
		e.logger.Warn("escrow refund failed", "contract", id, "error", err)
		return nil, err
	}
	return e.commit(ctx, contract, StatusRefunded, func(c *Contract) {
		c.SettleTx = tx
		c.AutoRefunded = auto
	}, NewRefundedEvent)
}

// Dispute flags an ACTIVE escrow for arbiter review. The reason is stored
// verbatim.
func (e *Engine) Dispute(ctx context.Context, id, reason string) (*Contract, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, coreerrors.Validation("dispute reason is required")
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	contract, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(contract.Status, StatusDisputed) {
		return nil, coreerrors.InvalidTransition(contract.Status.String(), StatusDisputed.String())
	}
	return e.commit(ctx, contract, StatusDisputed, func(c *Contract) { c.DisputeReason = reason }, NewDisputedEvent)
}

// commit persists the transition. Callers hold the contract lock.
func (e *Engine) commit(ctx context.Context, contract *Contract, to Status, mutate func(*Contract), eventFn func(*Contract) *types.Event) (*Contract, error) {
	from := contract.Status
	next := contract.Clone()
	next.Status = to
	next.UpdatedAt = e.now()
	if mutate != nil {
		mutate(next)
	}
	if err := e.store.Put(ctx, next); err != nil {
		e.logger.Error("escrow settled on chain but transition not recorded",
			"contract", next.ID,
			"address", next.Address,
			"from", from.String(),
			"to", to.String(),
			"settleTx", next.SettleTx,
			"error", err)
		return nil, coreerrors.Internal(fmt.Sprintf("store escrow %s", contract.ID), err)
	}
	e.committed(from, next)
	e.emit(eventFn(next))
	return next.Clone(), nil
}

func (e *Engine) committed(from Status, c *Contract) {
	e.logger.Info("escrow transition", "contract", c.ID, "from", from.String(), "to", c.Status.String())
	if e.onTransition != nil {
		e.onTransition(from, c.Status)
	}
}

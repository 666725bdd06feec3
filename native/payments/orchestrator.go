// Package payments selects the ledger for a payment, runs exactly one
// transfer attempt and normalises the outcome.
package payments

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/events"
	"afrochain/core/types"
	"afrochain/ledger"
)

const (
	EventTypePaymentSettled = "payment.settled"
	EventTypePaymentFailed  = "payment.failed"
)

// AdapterSource resolves the adapter selected for a network.
type AdapterSource interface {
	Adapter(network types.Network) (ledger.Adapter, error)
}

// Request is a single payment instruction.
type Request struct {
	Network types.Network
	To      string
	Amount  decimal.Decimal
	Signer  *ledger.SigningContext
}

// Orchestrator executes payments. It never retries: a failed transfer is
// reported once and the caller decides.
type Orchestrator struct {
	adapters AdapterSource
	emitter  events.Emitter
	logger   *slog.Logger
}

func NewOrchestrator(adapters AdapterSource, emitter events.Emitter, logger *slog.Logger) *Orchestrator {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{adapters: adapters, emitter: emitter, logger: logger.With("component", "payments")}
}

// Process validates the request and performs one transfer. Failures are
// returned inside the PaymentResult.
func (o *Orchestrator) Process(ctx context.Context, req Request) ledger.PaymentResult {
	adapter, err := o.adapters.Adapter(req.Network)
	if err != nil {
		return ledger.Failed(req.Network, req.Amount, err)
	}
	to := strings.TrimSpace(req.To)
	if !adapter.ValidateAddress(to) {
		return ledger.Failed(req.Network, req.Amount, coreerrors.Validation("invalid %s address %q", req.Network, req.To))
	}
	if !req.Amount.IsPositive() {
		return ledger.Failed(req.Network, req.Amount, coreerrors.Validation("amount must be positive"))
	}
	if req.Network == types.AccountChain && !req.Signer.Present() {
		return ledger.Failed(req.Network, req.Amount, coreerrors.Credential("ethereum payments require a signing key"))
	}

	// Informational only: a failed lookup never blocks the transfer.
	if bal, err := adapter.Balance(ctx, to); err == nil {
		o.logger.Debug("recipient balance", "network", req.Network.String(), "balance", bal.String())
	}

	result := adapter.Transfer(ctx, to, req.Amount, req.Signer)
	result.Network = req.Network
	o.emitter.Emit(events.Wrap(newPaymentEvent(result, to)))
	if !result.Success {
		o.logger.Warn("payment failed", "network", req.Network.String(), "kind", string(coreerrors.KindOf(result.Error)))
	} else {
		o.logger.Info("payment settled", "network", req.Network.String(), "tx", result.TransactionRef)
	}
	return result
}

// Balance returns the informational balance of an address.
func (o *Orchestrator) Balance(ctx context.Context, network types.Network, addr string) (decimal.Decimal, error) {
	adapter, err := o.adapters.Adapter(network)
	if err != nil {
		return decimal.Zero, err
	}
	return adapter.Balance(ctx, strings.TrimSpace(addr))
}

// Status looks up the finality of a transaction reference.
func (o *Orchestrator) Status(ctx context.Context, network types.Network, ref string) (ledger.TxStatus, error) {
	adapter, err := o.adapters.Adapter(network)
	if err != nil {
		return ledger.TxStatus{}, err
	}
	return adapter.Status(ctx, strings.TrimSpace(ref))
}

func newPaymentEvent(res ledger.PaymentResult, to string) *types.Event {
	eventType := EventTypePaymentSettled
	attrs := map[string]string{
		"network": res.Network.String(),
		"to":      to,
		"amount":  res.Amount.String(),
	}
	if res.Success {
		attrs["tx"] = res.TransactionRef
		attrs["ref"] = res.BlockOrConsensusRef
	} else {
		eventType = EventTypePaymentFailed
		if res.Error != nil {
			attrs["kind"] = string(res.Error.Kind)
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

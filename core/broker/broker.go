// Package broker is the inbound boundary of the core. Every operation returns
// a types.Envelope; errors never cross it as Go errors or panics.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/native/escrow"
	"afrochain/native/payments"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
	"afrochain/observability/metrics"
)

// Operation names used for spans and metrics.
const (
	OpPayment           = "payment"
	OpBalance           = "balance"
	OpTxStatus          = "tx_status"
	OpEscrowDeploy      = "escrow_deploy"
	OpEscrowGet         = "escrow_get"
	OpEscrowRelease     = "escrow_release"
	OpEscrowRefund      = "escrow_refund"
	OpEscrowDispute     = "escrow_dispute"
	OpCertificateMint   = "certificate_mint"
	OpCertificateVerify = "certificate_verify"
	OpSupplyAppend      = "supply_append"
	OpSupplyHistory     = "supply_history"
	OpHealth            = "health"
)

// Modes reports how each network is reached. core/mode.Controller satisfies it.
type Modes interface {
	Label(network types.Network) string
	EscrowLabel() string
	Modes() map[string]types.Mode
}

// Services are the domain components the broker fronts.
type Services struct {
	Payments     *payments.Orchestrator
	Escrow       *escrow.Engine
	Certificates *provenance.Service
	Supply       *supplychain.Ledger
}

type Broker struct {
	modes   Modes
	svc     Services
	tracer  trace.Tracer
	metrics *metrics.LedgerMetrics
	logger  *slog.Logger
}

func New(modes Modes, svc Services, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		modes:   modes,
		svc:     svc,
		tracer:  otel.Tracer("afrochain/broker"),
		metrics: metrics.Ledger(),
		logger:  logger.With("component", "broker"),
	}
}

// run executes fn under a span, records metrics and folds the outcome into an
// envelope labelled with network.
func (b *Broker) run(ctx context.Context, op, network string, fn func(context.Context) (any, error)) (env types.Envelope) {
	ctx, span := b.tracer.Start(ctx, "broker."+op, trace.WithAttributes(
		attribute.String("afrochain.operation", op),
		attribute.String("afrochain.network", network),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("operation panicked", "operation", op, "panic", fmt.Sprint(r))
			env = types.Fail(network, coreerrors.Internal(op, fmt.Errorf("panic: %v", r)))
		}
		if !env.Success && env.Error != nil {
			span.SetStatus(codes.Error, env.Error.Message)
			span.SetAttributes(attribute.String("afrochain.error_kind", string(env.Error.Kind)))
		}
		span.End()
		b.metrics.Observe(op, network, !env.Success, time.Since(start))
	}()

	data, err := fn(ctx)
	if err != nil {
		return types.Fail(network, err)
	}
	return types.OK(network, data)
}

func (b *Broker) hashgraphLabel() string { return b.modes.Label(types.Hashgraph) }

// Health reports the selected mode per network.
func (b *Broker) Health(ctx context.Context) types.Envelope {
	return b.run(ctx, OpHealth, "", func(context.Context) (any, error) {
		return HealthReport{Status: "ok", Modes: b.modes.Modes()}, nil
	})
}

// HealthReport is the payload of Health.
type HealthReport struct {
	Status string                `json:"status"`
	Modes  map[string]types.Mode `json:"modes"`
}

package broker

import (
	"context"
	"strings"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/native/escrow"
)

// EscrowRequest carries the terms of a new escrow. Amounts are in ETH.
type EscrowRequest struct {
	Buyer    string `json:"buyer,omitempty"`
	Farmer   string `json:"farmer"`
	Arbiter  string `json:"arbiter"`
	Amount   string `json:"amount"`
	BatchRef string `json:"batchRef,omitempty"`
}

func (b *Broker) DeployEscrow(ctx context.Context, req EscrowRequest) types.Envelope {
	return b.run(ctx, OpEscrowDeploy, b.modes.EscrowLabel(), func(ctx context.Context) (any, error) {
		amount, err := types.ParseAmount(req.Amount)
		if err != nil {
			return nil, coreerrors.Validation("%v", err)
		}
		return b.svc.Escrow.Deploy(ctx, escrow.DeployRequest{
			Buyer:    req.Buyer,
			Farmer:   req.Farmer,
			Arbiter:  req.Arbiter,
			Amount:   amount,
			BatchRef: req.BatchRef,
		})
	})
}

func (b *Broker) GetEscrow(ctx context.Context, id string) types.Envelope {
	return b.escrowOp(ctx, OpEscrowGet, id, b.svc.Escrow.Get)
}

// ReleaseEscrow pays the farmer. Releasing a completed contract succeeds
// without touching the ledger.
func (b *Broker) ReleaseEscrow(ctx context.Context, id string) types.Envelope {
	return b.escrowOp(ctx, OpEscrowRelease, id, b.svc.Escrow.Release)
}

func (b *Broker) RefundEscrow(ctx context.Context, id string) types.Envelope {
	return b.escrowOp(ctx, OpEscrowRefund, id, b.svc.Escrow.Refund)
}

func (b *Broker) RaiseDispute(ctx context.Context, id, reason string) types.Envelope {
	return b.escrowOp(ctx, OpEscrowDispute, id, func(ctx context.Context, id string) (*escrow.Contract, error) {
		return b.svc.Escrow.Dispute(ctx, id, reason)
	})
}

func (b *Broker) escrowOp(ctx context.Context, op, id string, fn func(context.Context, string) (*escrow.Contract, error)) types.Envelope {
	return b.run(ctx, op, b.modes.EscrowLabel(), func(ctx context.Context) (any, error) {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, coreerrors.Validation("escrow id required")
		}
		return fn(ctx, id)
	})
}

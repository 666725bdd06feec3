package broker

import (
	"context"

	"afrochain/core/types"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
)

func (b *Broker) MintCertificate(ctx context.Context, attrs provenance.Attributes) types.Envelope {
	return b.run(ctx, OpCertificateMint, b.hashgraphLabel(), func(ctx context.Context) (any, error) {
		return b.svc.Certificates.Mint(ctx, attrs)
	})
}

// VerifyCertificate always succeeds for a well-formed batch id; the verdict
// is in the report.
func (b *Broker) VerifyCertificate(ctx context.Context, batchID string) types.Envelope {
	return b.run(ctx, OpCertificateVerify, b.hashgraphLabel(), func(ctx context.Context) (any, error) {
		return b.svc.Certificates.Verify(ctx, batchID)
	})
}

func (b *Broker) AppendSupplyChainStep(ctx context.Context, batchID string, step supplychain.StepInput) types.Envelope {
	return b.run(ctx, OpSupplyAppend, b.hashgraphLabel(), func(ctx context.Context) (any, error) {
		return b.svc.Supply.AppendStep(ctx, batchID, step)
	})
}

// SupplyChainHistory returns the batch steps in consensus order.
func (b *Broker) SupplyChainHistory(ctx context.Context, batchID string) types.Envelope {
	return b.run(ctx, OpSupplyHistory, b.hashgraphLabel(), func(ctx context.Context) (any, error) {
		return b.svc.Supply.History(ctx, batchID)
	})
}

package broker

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
	"afrochain/native/payments"
)

// PaymentRequest is the inbound payment instruction. PrivateKey is the
// signing context; it is required on the account chain.
type PaymentRequest struct {
	Network    string `json:"network"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// BalanceReport is the payload of Balance.
type BalanceReport struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

// label resolves the envelope label of a raw network name. Unknown networks
// keep the caller's spelling.
func (b *Broker) label(raw string) (types.Network, string, error) {
	network, err := types.ParseNetwork(raw)
	if err != nil {
		return "", strings.TrimSpace(raw), coreerrors.Validation("%v", err)
	}
	return network, b.modes.Label(network), nil
}

// ProcessPayment performs a single transfer. A failed transfer yields a
// failure envelope carrying the adapter's error.
func (b *Broker) ProcessPayment(ctx context.Context, req PaymentRequest) types.Envelope {
	network, label, err := b.label(req.Network)
	return b.run(ctx, OpPayment, label, func(ctx context.Context) (any, error) {
		if err != nil {
			return nil, err
		}
		amount, err := types.ParseAmount(req.Amount)
		if err != nil {
			return nil, coreerrors.Validation("%v", err)
		}
		var signer *ledger.SigningContext
		if strings.TrimSpace(req.PrivateKey) != "" {
			signer = &ledger.SigningContext{PrivateKey: strings.TrimSpace(req.PrivateKey)}
		}
		result := b.svc.Payments.Process(ctx, payments.Request{
			Network: network,
			To:      req.To,
			Amount:  amount,
			Signer:  signer,
		})
		if !result.Success {
			if result.Error == nil {
				return nil, coreerrors.Internal("payment", nil)
			}
			return nil, result.Error
		}
		return result, nil
	})
}

// Balance is an informational lookup.
func (b *Broker) Balance(ctx context.Context, rawNetwork, address string) types.Envelope {
	network, label, err := b.label(rawNetwork)
	return b.run(ctx, OpBalance, label, func(ctx context.Context) (any, error) {
		if err != nil {
			return nil, err
		}
		bal, err := b.svc.Payments.Balance(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return BalanceReport{Address: strings.TrimSpace(address), Balance: bal}, nil
	})
}

// TxStatus reports whether a transaction reached finality.
func (b *Broker) TxStatus(ctx context.Context, rawNetwork, ref string) types.Envelope {
	network, label, err := b.label(rawNetwork)
	return b.run(ctx, OpTxStatus, label, func(ctx context.Context) (any, error) {
		if err != nil {
			return nil, err
		}
		return b.svc.Payments.Status(ctx, network, ref)
	})
}

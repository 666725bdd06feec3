// Package ledger defines the uniform contract the broker uses to reach the
// account chain and the hashgraph network, whether live or simulated.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
)

// SigningContext carries the credential used to authorise an outbound
// transfer. It is never logged or persisted.
type SigningContext struct {
	PrivateKey string `json:"-"`
}

// Present reports whether the context holds a usable credential.
func (s *SigningContext) Present() bool {
	return s != nil && strings.TrimSpace(s.PrivateKey) != ""
}

// PaymentResult is the normalised, immutable outcome of a transfer.
type PaymentResult struct {
	Success             bool              `json:"success"`
	TransactionRef      string            `json:"transactionRef"`
	Network             types.Network     `json:"network"`
	Amount              decimal.Decimal   `json:"amount"`
	BlockOrConsensusRef string            `json:"blockOrConsensusRef"`
	Error               *coreerrors.Error `json:"error,omitempty"`
}

// Failed builds an unsuccessful PaymentResult for the given cause.
func Failed(network types.Network, amount decimal.Decimal, err error) PaymentResult {
	return PaymentResult{
		Success: false,
		Network: network,
		Amount:  amount,
		Error:   coreerrors.From(err),
	}
}

// TxState is the lifecycle state of a submitted transaction.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
)

// TxStatus reports the finality of a transaction reference.
type TxStatus struct {
	TransactionRef string  `json:"transactionRef"`
	State          TxState `json:"state"`
	Confirmations  uint64  `json:"confirmations,omitempty"`
}

// Adapter is the primitive surface exposed by each ledger.
//
// Transfer blocks until the network's own finality signal has been observed
// and reports every failure inside the returned PaymentResult.
type Adapter interface {
	Network() types.Network
	Mode() types.Mode
	ValidateAddress(addr string) bool
	Balance(ctx context.Context, addr string) (decimal.Decimal, error)
	Transfer(ctx context.Context, to string, amount decimal.Decimal, signer *SigningContext) PaymentResult
	Status(ctx context.Context, ref string) (TxStatus, error)
}

// TopicAck acknowledges a message accepted by a consensus topic.
type TopicAck struct {
	TopicRef           string    `json:"topicRef"`
	SequenceNumber     uint64    `json:"sequenceNumber"`
	TransactionRef     string    `json:"transactionRef"`
	ConsensusTimestamp time.Time `json:"consensusTimestamp"`
}

// TopicMessage is a message as ordered by the ledger.
type TopicMessage struct {
	SequenceNumber     uint64    `json:"sequenceNumber"`
	ConsensusTimestamp time.Time `json:"consensusTimestamp"`
	Contents           []byte    `json:"contents"`
	RunningHash        string    `json:"runningHash,omitempty"`
}

// TopicService exposes append-only consensus topics.
type TopicService interface {
	CreateTopic(ctx context.Context, memo string) (string, error)
	Submit(ctx context.Context, topicRef string, message []byte) (TopicAck, error)
	// Messages returns every message of the topic in consensus order.
	Messages(ctx context.Context, topicRef string) ([]TopicMessage, error)
}

// MintReceipt identifies a freshly minted non-fungible token.
type MintReceipt struct {
	TokenRef       string `json:"tokenRef"`
	SerialNumber   int64  `json:"serialNumber"`
	TransactionRef string `json:"transactionRef"`
}

// TokenService mints certificate NFTs and reads back their anchored metadata.
type TokenService interface {
	MintNFT(ctx context.Context, metadata []byte) (MintReceipt, error)
	NFTMetadata(ctx context.Context, tokenRef string, serial int64) ([]byte, error)
}

// EscrowTerms parameterise an escrow contract deployment.
type EscrowTerms struct {
	Buyer        string
	Farmer       string
	Arbiter      string
	Amount       decimal.Decimal
	AutoRefundAt time.Time
}

// ContractReceipt identifies a deployed escrow contract.
type ContractReceipt struct {
	Address        string `json:"address"`
	TransactionRef string `json:"transactionRef"`
}

// ContractBackend drives the on-chain escrow contract.
type ContractBackend interface {
	Deploy(ctx context.Context, terms EscrowTerms) (ContractReceipt, error)
	Release(ctx context.Context, address string) (string, error)
	Refund(ctx context.Context, address string) (string, error)
}

// Package hashgraph reaches the hashgraph network through the official SDK
// for transactions and the mirror node for topic history.
package hashgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
)

const (
	tinybarDecimals = 8

	defaultMirrorPoll = 500 * time.Millisecond
	defaultMirrorWait = 30 * time.Second
)

var txIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+@\d+\.\d+$`)

// TopicReader returns topic history in consensus order.
type TopicReader interface {
	TopicMessages(ctx context.Context, topicID string) ([]ledger.TopicMessage, error)
}

// Adapter is the live hashgraph ledger. Transfers are paid by the operator
// installed in the gateway.
type Adapter struct {
	gateway  Gateway
	mirror   TopicReader
	tokenRef string
	logger   *slog.Logger

	mirrorPoll time.Duration
	mirrorWait time.Duration

	mu    sync.Mutex
	// acked holds the highest sequence number consensus has acknowledged per
	// topic this process wrote to.
	acked map[string]uint64
}

var (
	_ ledger.Adapter      = (*Adapter)(nil)
	_ ledger.TopicService = (*Adapter)(nil)
	_ ledger.TokenService = (*Adapter)(nil)
)

// NewAdapter wires the gateway, mirror and certificate token together.
func NewAdapter(gateway Gateway, mirror TopicReader, tokenRef string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		gateway:  gateway,
		mirror:   mirror,
		tokenRef: tokenRef,
		logger:   logger.With("component", "ledger", "network", types.Hashgraph.String()),

		mirrorPoll: defaultMirrorPoll,
		mirrorWait: defaultMirrorWait,
		acked:      make(map[string]uint64),
	}
}

// SetMirrorWait configures how often and for how long Messages polls a
// mirror node that has not yet caught up with acknowledged submissions.
func (a *Adapter) SetMirrorWait(poll, max time.Duration) {
	if poll > 0 {
		a.mirrorPoll = poll
	}
	if max > 0 {
		a.mirrorWait = max
	}
}

// ack records seq as acknowledged on topic. Topics created here start at 0.
func (a *Adapter) ack(topic string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.acked[topic]; !ok || seq > cur {
		a.acked[topic] = seq
	}
}

func (a *Adapter) acknowledged(topic string) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq, ok := a.acked[topic]
	return seq, ok
}

func (a *Adapter) Network() types.Network { return types.Hashgraph }

func (a *Adapter) Mode() types.Mode { return types.ModeLive }

func (a *Adapter) ValidateAddress(addr string) bool {
	return ledger.ValidateAddress(types.Hashgraph, addr)
}

func (a *Adapter) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if !a.ValidateAddress(addr) {
		return decimal.Zero, coreerrors.Validation("invalid hedera account %q", addr)
	}
	tinybars, err := a.gateway.Balance(ctx, addr)
	if err != nil {
		return decimal.Zero, coreerrors.Network("fetch balance", err)
	}
	return decimal.New(tinybars, -tinybarDecimals), nil
}

func (a *Adapter) Transfer(ctx context.Context, to string, amount decimal.Decimal, _ *ledger.SigningContext) ledger.PaymentResult {
	if !a.ValidateAddress(to) {
		return ledger.Failed(types.Hashgraph, amount, coreerrors.Validation("invalid hedera account %q", to))
	}
	tinybars, err := ToTinybars(amount)
	if err != nil {
		return ledger.Failed(types.Hashgraph, amount, err)
	}
	receipt, err := a.gateway.Transfer(ctx, to, tinybars)
	if err != nil {
		a.logger.Warn("transfer failed", "to", to, "error", err)
		return ledger.Failed(types.Hashgraph, amount, coreerrors.Network("submit transfer", err))
	}
	return ledger.PaymentResult{
		Success:             true,
		TransactionRef:      receipt.TransactionID,
		Network:             types.Hashgraph,
		Amount:              amount,
		BlockOrConsensusRef: FormatConsensusTimestamp(receipt.ConsensusTimestamp),
	}
}

// Status reports confirmed once the receipt query returns success. The
// hashgraph has no confirmation depth.
func (a *Adapter) Status(ctx context.Context, ref string) (ledger.TxStatus, error) {
	if !txIDPattern.MatchString(ref) {
		return ledger.TxStatus{}, coreerrors.Validation("invalid hedera transaction id %q", ref)
	}
	ok, err := a.gateway.Receipt(ctx, ref)
	if err != nil {
		return ledger.TxStatus{}, coreerrors.Network("fetch receipt", err)
	}
	state := ledger.TxPending
	if ok {
		state = ledger.TxConfirmed
	}
	return ledger.TxStatus{TransactionRef: ref, State: state}, nil
}

func (a *Adapter) CreateTopic(ctx context.Context, memo string) (string, error) {
	topic, err := a.gateway.CreateTopic(ctx, memo)
	if err != nil {
		return "", coreerrors.Network("create topic", err)
	}
	a.ack(topic, 0)
	return topic, nil
}

func (a *Adapter) Submit(ctx context.Context, topicRef string, message []byte) (ledger.TopicAck, error) {
	receipt, err := a.gateway.SubmitMessage(ctx, topicRef, message)
	if err != nil {
		return ledger.TopicAck{}, coreerrors.Network("submit topic message", err)
	}
	a.ack(topicRef, receipt.SequenceNumber)
	return ledger.TopicAck{
		TopicRef:           topicRef,
		SequenceNumber:     receipt.SequenceNumber,
		TransactionRef:     receipt.TransactionID,
		ConsensusTimestamp: receipt.ConsensusTimestamp,
	}, nil
}

// Messages reads from the mirror node, which may trail consensus by a few
// seconds. For topics this adapter wrote to, it polls until the mirror has
// every acknowledged message; a mirror 404 on such a topic means the topic is
// not visible yet rather than missing.
func (a *Adapter) Messages(ctx context.Context, topicRef string) ([]ledger.TopicMessage, error) {
	want, known := a.acknowledged(topicRef)
	if !known {
		return a.mirror.TopicMessages(ctx, topicRef)
	}
	ctx, cancel := context.WithTimeout(ctx, a.mirrorWait)
	defer cancel()
	ticker := time.NewTicker(a.mirrorPoll)
	defer ticker.Stop()
	for {
		msgs, err := a.mirror.TopicMessages(ctx, topicRef)
		switch {
		case errors.Is(err, coreerrors.ErrNotFound):
			msgs = nil
		case err != nil:
			return nil, err
		}
		if lastSequence(msgs) >= want {
			return msgs, nil
		}
		a.logger.Debug("mirror behind consensus", "topic", topicRef, "have", lastSequence(msgs), "want", want)
		select {
		case <-ctx.Done():
			return nil, coreerrors.Network("await mirror", fmt.Errorf("topic %s at sequence %d, want %d: %w", topicRef, lastSequence(msgs), want, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func lastSequence(msgs []ledger.TopicMessage) uint64 {
	var last uint64
	for _, m := range msgs {
		if m.SequenceNumber > last {
			last = m.SequenceNumber
		}
	}
	return last
}

func (a *Adapter) MintNFT(ctx context.Context, metadata []byte) (ledger.MintReceipt, error) {
	if a.tokenRef == "" {
		return ledger.MintReceipt{}, coreerrors.Credential("certificate token id is not configured")
	}
	if len(metadata) == 0 || len(metadata) > 100 {
		return ledger.MintReceipt{}, coreerrors.Validation("nft metadata must be 1-100 bytes, got %d", len(metadata))
	}
	receipt, err := a.gateway.MintNFT(ctx, a.tokenRef, metadata)
	if err != nil {
		return ledger.MintReceipt{}, coreerrors.Network("mint nft", err)
	}
	return ledger.MintReceipt{
		TokenRef:       a.tokenRef,
		SerialNumber:   receipt.SerialNumber,
		TransactionRef: receipt.TransactionID,
	}, nil
}

func (a *Adapter) NFTMetadata(ctx context.Context, tokenRef string, serial int64) ([]byte, error) {
	meta, err := a.gateway.NFTMetadata(ctx, tokenRef, serial)
	if err != nil {
		return nil, coreerrors.Network("fetch nft", err)
	}
	if meta == nil {
		return nil, coreerrors.NotFound("nft %s/%d not found", tokenRef, serial)
	}
	return meta, nil
}

// Close releases the SDK client.
func (a *Adapter) Close() error { return a.gateway.Close() }

// ToTinybars converts whole hbar into tinybars.
func ToTinybars(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, coreerrors.Validation("amount must be positive")
	}
	shifted := amount.Shift(tinybarDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, coreerrors.Validation("amount %s has more than %d decimals", amount, tinybarDecimals)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, coreerrors.Validation("amount %s is out of range", amount)
	}
	return shifted.IntPart(), nil
}

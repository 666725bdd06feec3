package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"lukechampine.com/blake3"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
	"afrochain/storage"
)

const firstTopicNum = 5000000

var (
	hashgraphTxPattern = regexp.MustCompile(`^\d+\.\d+\.\d+@\d+\.\d+$`)

	topicPrefix = []byte("sim/hedera/topic/")
	nftPrefix   = []byte("sim/hedera/nft/")
)

// Hashgraph simulates the hashgraph network: transfers, consensus topics and
// the certificate token collection. Topic and token state lives in the
// journal so a durable journal survives restarts.
type Hashgraph struct {
	opts  Options
	clock *monotonicClock

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txs      map[string]time.Time
	topicNum uint64
	serial   int64
}

var (
	_ ledger.Adapter      = (*Hashgraph)(nil)
	_ ledger.TopicService = (*Hashgraph)(nil)
	_ ledger.TokenService = (*Hashgraph)(nil)
)

// NewHashgraph constructs the simulated hashgraph, resuming counters from the
// journal.
func NewHashgraph(opts Options) (*Hashgraph, error) {
	opts = opts.withDefaults()
	h := &Hashgraph{
		opts:     opts,
		clock:    &monotonicClock{now: opts.Now},
		balances: make(map[string]decimal.Decimal),
		txs:      make(map[string]time.Time),
		topicNum: firstTopicNum,
	}
	if err := opts.Journal.Iterate(topicPrefix, func(key, _ []byte) error {
		if num := entityNum(strings.TrimPrefix(string(key), string(topicPrefix))); num > h.topicNum {
			h.topicNum = num
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("resume topics: %w", err)
	}
	if err := opts.Journal.Iterate(nftKeyPrefix(opts.TokenRef), func(_, _ []byte) error {
		h.serial++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("resume tokens: %w", err)
	}
	return h, nil
}

func (h *Hashgraph) Network() types.Network { return types.Hashgraph }

func (h *Hashgraph) Mode() types.Mode { return types.ModeSimulated }

func (h *Hashgraph) ValidateAddress(addr string) bool {
	return ledger.ValidateAddress(types.Hashgraph, addr)
}

func (h *Hashgraph) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if !h.ValidateAddress(addr) {
		return decimal.Zero, coreerrors.Validation("invalid hedera account %q", addr)
	}
	if err := wait(ctx, h.opts.Latency); err != nil {
		return decimal.Zero, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.balanceLocked(addr), nil
}

func (h *Hashgraph) balanceLocked(addr string) decimal.Decimal {
	bal, ok := h.balances[addr]
	if !ok {
		bal = faucetBalance
		h.balances[addr] = bal
	}
	return bal
}

// transaction allocates a transaction id and its consensus timestamp.
func (h *Hashgraph) transaction() (string, time.Time) {
	ts := h.clock.tick()
	id := h.opts.Operator + "@" + consensusRef(ts)
	h.mu.Lock()
	h.txs[id] = ts
	h.mu.Unlock()
	return id, ts
}

func (h *Hashgraph) Transfer(ctx context.Context, to string, amount decimal.Decimal, _ *ledger.SigningContext) ledger.PaymentResult {
	if !h.ValidateAddress(to) {
		return ledger.Failed(types.Hashgraph, amount, coreerrors.Validation("invalid hedera account %q", to))
	}
	if !amount.IsPositive() {
		return ledger.Failed(types.Hashgraph, amount, coreerrors.Validation("amount must be positive"))
	}
	if err := wait(ctx, h.opts.Latency); err != nil {
		return ledger.Failed(types.Hashgraph, amount, err)
	}
	txID, ts := h.transaction()
	h.mu.Lock()
	h.balances[to] = h.balanceLocked(to).Add(amount)
	h.mu.Unlock()
	return ledger.PaymentResult{
		Success:             true,
		TransactionRef:      txID,
		Network:             types.Hashgraph,
		Amount:              amount,
		BlockOrConsensusRef: consensusRef(ts),
	}
}

func (h *Hashgraph) Status(ctx context.Context, ref string) (ledger.TxStatus, error) {
	if !hashgraphTxPattern.MatchString(ref) {
		return ledger.TxStatus{}, coreerrors.Validation("invalid hedera transaction id %q", ref)
	}
	if err := wait(ctx, h.opts.Latency); err != nil {
		return ledger.TxStatus{}, err
	}
	h.mu.Lock()
	_, ok := h.txs[ref]
	h.mu.Unlock()
	if !ok {
		return ledger.TxStatus{}, coreerrors.NotFound("transaction %s not found", ref)
	}
	return ledger.TxStatus{TransactionRef: ref, State: ledger.TxConfirmed}, nil
}

func (h *Hashgraph) CreateTopic(ctx context.Context, memo string) (string, error) {
	if err := wait(ctx, h.opts.Latency); err != nil {
		return "", err
	}
	h.mu.Lock()
	h.topicNum++
	topic := fmt.Sprintf("0.0.%d", h.topicNum)
	h.mu.Unlock()
	if err := h.opts.Journal.Put(append(append([]byte(nil), topicPrefix...), topic...), []byte(memo)); err != nil {
		return "", coreerrors.Internal("journal topic", err)
	}
	return topic, nil
}

func (h *Hashgraph) Submit(ctx context.Context, topicRef string, message []byte) (ledger.TopicAck, error) {
	if err := wait(ctx, h.opts.Latency); err != nil {
		return ledger.TopicAck{}, err
	}
	if ok, err := h.topicExists(topicRef); err != nil {
		return ledger.TopicAck{}, err
	} else if !ok {
		return ledger.TopicAck{}, coreerrors.NotFound("topic %s not found", topicRef)
	}

	// Sequencing and the running hash must observe every prior message.
	h.mu.Lock()
	defer h.mu.Unlock()
	var (
		seq  uint64
		prev []byte
	)
	if err := h.opts.Journal.Iterate(messageKeyPrefix(topicRef), func(_, raw []byte) error {
		var msg ledger.TopicMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		seq = msg.SequenceNumber
		prev = []byte(msg.RunningHash)
		return nil
	}); err != nil {
		return ledger.TopicAck{}, coreerrors.Internal("read topic journal", err)
	}
	seq++
	ts := h.clock.tick()
	txID := h.opts.Operator + "@" + consensusRef(ts)
	h.txs[txID] = ts
	running := blake3.Sum256(append(prev, message...))
	msg := ledger.TopicMessage{
		SequenceNumber:     seq,
		ConsensusTimestamp: ts,
		Contents:           append([]byte(nil), message...),
		RunningHash:        fmt.Sprintf("%x", running[:]),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return ledger.TopicAck{}, coreerrors.Internal("encode topic message", err)
	}
	if err := h.opts.Journal.Put(messageKey(topicRef, seq), raw); err != nil {
		return ledger.TopicAck{}, coreerrors.Internal("journal topic message", err)
	}
	return ledger.TopicAck{
		TopicRef:           topicRef,
		SequenceNumber:     seq,
		TransactionRef:     txID,
		ConsensusTimestamp: ts,
	}, nil
}

func (h *Hashgraph) Messages(ctx context.Context, topicRef string) ([]ledger.TopicMessage, error) {
	if err := wait(ctx, h.opts.Latency); err != nil {
		return nil, err
	}
	if ok, err := h.topicExists(topicRef); err != nil {
		return nil, err
	} else if !ok {
		return nil, coreerrors.NotFound("topic %s not found", topicRef)
	}
	var out []ledger.TopicMessage
	err := h.opts.Journal.Iterate(messageKeyPrefix(topicRef), func(_, raw []byte) error {
		var msg ledger.TopicMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		out = append(out, msg)
		return nil
	})
	if err != nil {
		return nil, coreerrors.Internal("read topic journal", err)
	}
	return out, nil
}

func (h *Hashgraph) topicExists(topicRef string) (bool, error) {
	ok, err := h.opts.Journal.Has(append(append([]byte(nil), topicPrefix...), topicRef...))
	if err != nil {
		return false, coreerrors.Internal("read topic journal", err)
	}
	return ok, nil
}

func (h *Hashgraph) MintNFT(ctx context.Context, metadata []byte) (ledger.MintReceipt, error) {
	if len(metadata) == 0 || len(metadata) > 100 {
		return ledger.MintReceipt{}, coreerrors.Validation("nft metadata must be 1-100 bytes, got %d", len(metadata))
	}
	if err := wait(ctx, h.opts.Latency); err != nil {
		return ledger.MintReceipt{}, err
	}
	h.mu.Lock()
	h.serial++
	serial := h.serial
	h.mu.Unlock()
	if err := h.opts.Journal.Put(nftKey(h.opts.TokenRef, serial), metadata); err != nil {
		return ledger.MintReceipt{}, coreerrors.Internal("journal nft", err)
	}
	txID, _ := h.transaction()
	return ledger.MintReceipt{TokenRef: h.opts.TokenRef, SerialNumber: serial, TransactionRef: txID}, nil
}

func (h *Hashgraph) NFTMetadata(ctx context.Context, tokenRef string, serial int64) ([]byte, error) {
	if err := wait(ctx, h.opts.Latency); err != nil {
		return nil, err
	}
	raw, err := h.opts.Journal.Get(nftKey(tokenRef, serial))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, coreerrors.NotFound("nft %s/%d not found", tokenRef, serial)
	}
	if err != nil {
		return nil, coreerrors.Internal("read nft journal", err)
	}
	return raw, nil
}

func consensusRef(ts time.Time) string {
	return fmt.Sprintf("%d.%09d", ts.Unix(), ts.Nanosecond())
}

func entityNum(id string) uint64 {
	idx := strings.LastIndexByte(id, '.')
	n, _ := strconv.ParseUint(id[idx+1:], 10, 64)
	return n
}

func messageKeyPrefix(topicRef string) []byte {
	return []byte("sim/hedera/msg/" + topicRef + "/")
}

func messageKey(topicRef string, seq uint64) []byte {
	return []byte(fmt.Sprintf("sim/hedera/msg/%s/%020d", topicRef, seq))
}

func nftKeyPrefix(tokenRef string) []byte {
	return append(append([]byte(nil), nftPrefix...), tokenRef+"/"...)
}

func nftKey(tokenRef string, serial int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", nftPrefix, tokenRef, serial))
}

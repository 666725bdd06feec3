// Package supplychain records per-batch supply-chain steps as ordered
// messages on a hashgraph topic.
package supplychain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	coreerrors "afrochain/core/errors"
	"afrochain/core/events"
	"afrochain/ledger"
)

// Ledger appends and reads supply-chain steps. One topic exists per batch.
type Ledger struct {
	topics   ledger.TopicService
	registry *Registry
	emitter  events.Emitter
	nowFn    func() time.Time
	logger   *slog.Logger
}

func NewLedger(topics ledger.TopicService, registry *Registry) *Ledger {
	if registry == nil {
		registry, _ = NewRegistry(nil)
	}
	return &Ledger{
		topics:   topics,
		registry: registry,
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
		logger:   slog.Default().With("component", "supplychain"),
	}
}

func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger.With("component", "supplychain")
	}
}

// TopicOf returns the topic bound to a batch, if any.
func (l *Ledger) TopicOf(batchID string) (string, bool) {
	return l.registry.Lookup(batchID)
}

// EnsureTopic returns the batch topic, creating it on first use. Concurrent
// callers for the same batch observe the same topic.
func (l *Ledger) EnsureTopic(ctx context.Context, batchID string) (string, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return "", coreerrors.Validation("batch id required")
	}
	topic, created, err := l.registry.Ensure(batchID, func() (string, error) {
		return l.topics.CreateTopic(ctx, "afrochain batch "+batchID)
	})
	if err != nil {
		return "", asLedgerError("create topic", err)
	}
	if created {
		l.logger.Info("batch topic created", "batch", batchID, "topic", topic)
		l.emitter.Emit(events.Wrap(NewTopicCreatedEvent(batchID, topic)))
	}
	return topic, nil
}

// AppendStep stamps, hashes and submits a step to the batch topic.
func (l *Ledger) AppendStep(ctx context.Context, batchID string, in StepInput) (Ack, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Ack{}, coreerrors.Validation("batch id required")
	}
	if strings.TrimSpace(in.StepName) == "" {
		return Ack{}, coreerrors.Validation("step name required")
	}
	step := Step{
		BatchID:   batchID,
		StepName:  strings.TrimSpace(in.StepName),
		Timestamp: l.nowFn().UTC(),
		Location:  in.Location,
		Operator:  in.Operator,
		Payload:   in.Payload,
	}
	hash, err := step.ComputeHash()
	if err != nil {
		return Ack{}, coreerrors.Validation("step payload is not serialisable: %v", err)
	}
	step.StepHash = hash
	raw, err := json.Marshal(step)
	if err != nil {
		return Ack{}, coreerrors.Validation("step payload is not serialisable: %v", err)
	}
	if len(raw) > maxMessageBytes {
		return Ack{}, coreerrors.Validation("step message is %d bytes, limit is %d", len(raw), maxMessageBytes)
	}

	topic, err := l.EnsureTopic(ctx, batchID)
	if err != nil {
		return Ack{}, err
	}
	receipt, err := l.topics.Submit(ctx, topic, raw)
	if err != nil {
		return Ack{}, asLedgerError("submit step", err)
	}
	ack := Ack{
		BatchID:            batchID,
		TopicRef:           topic,
		SequenceNumber:     receipt.SequenceNumber,
		TransactionRef:     receipt.TransactionRef,
		ConsensusTimestamp: receipt.ConsensusTimestamp,
		StepHash:           hash,
	}
	l.logger.Info("supply step appended", "batch", batchID, "step", step.StepName, "sequence", ack.SequenceNumber)
	l.emitter.Emit(events.Wrap(NewStepAppendedEvent(step, ack)))
	return ack, nil
}

// History returns the batch steps in consensus order. Messages that do not
// decode as steps are skipped.
func (l *Ledger) History(ctx context.Context, batchID string) ([]RecordedStep, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, coreerrors.Validation("batch id required")
	}
	topic, ok := l.registry.Lookup(batchID)
	if !ok {
		return nil, coreerrors.NotFound("batch %s has no supply chain topic", batchID)
	}
	messages, err := l.topics.Messages(ctx, topic)
	switch {
	case errors.Is(err, coreerrors.ErrNotFound):
		// Registered but not yet visible on the ledger's read path.
		l.logger.Debug("topic not yet visible", "batch", batchID, "topic", topic)
		messages = nil
	case err != nil:
		return nil, asLedgerError("read topic", err)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SequenceNumber < messages[j].SequenceNumber
	})
	out := make([]RecordedStep, 0, len(messages))
	for _, msg := range messages {
		var step Step
		if err := json.Unmarshal(msg.Contents, &step); err != nil {
			l.logger.Warn("skipping undecodable topic message", "batch", batchID, "sequence", msg.SequenceNumber, "error", err)
			continue
		}
		recomputed, err := step.ComputeHash()
		out = append(out, RecordedStep{
			Step:               step,
			SequenceNumber:     msg.SequenceNumber,
			ConsensusTimestamp: msg.ConsensusTimestamp,
			Intact:             err == nil && recomputed == step.StepHash,
		})
	}
	return out, nil
}

// asLedgerError keeps classified errors from the topic service. Anything
// else is a local failure, or a network failure if the context expired.
func asLedgerError(op string, err error) error {
	var typed *coreerrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return coreerrors.Network(op, err)
	}
	return coreerrors.Internal(op, err)
}

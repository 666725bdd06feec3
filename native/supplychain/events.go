package supplychain

import (
	"strconv"

	"afrochain/core/types"
)

const (
	EventTypeTopicCreated = "supply.topic_created"
	EventTypeStepAppended = "supply.step_appended"
)

// NewTopicCreatedEvent is emitted the first time a batch is bound to a topic.
func NewTopicCreatedEvent(batchID, topicRef string) *types.Event {
	return types.NewEvent(EventTypeTopicCreated, map[string]string{
		"batch": batchID,
		"topic": topicRef,
	})
}

func NewStepAppendedEvent(step Step, ack Ack) *types.Event {
	return types.NewEvent(EventTypeStepAppended, map[string]string{
		"batch":    ack.BatchID,
		"topic":    ack.TopicRef,
		"step":     step.StepName,
		"sequence": strconv.FormatUint(ack.SequenceNumber, 10),
		"hash":     ack.StepHash,
		"tx":       ack.TransactionRef,
	})
}

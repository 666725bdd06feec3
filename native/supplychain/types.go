package supplychain

import (
	"time"

	"afrochain/core/types"
)

// maxMessageBytes keeps every step inside a single topic message chunk.
const maxMessageBytes = 1024

// StepInput is what a caller declares for a new supply-chain step.
type StepInput struct {
	StepName string         `json:"stepName"`
	Location string         `json:"location"`
	Operator string         `json:"operator"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Step is the message written to the batch topic.
type Step struct {
	BatchID   string         `json:"batchId"`
	StepName  string         `json:"stepName"`
	Timestamp time.Time      `json:"timestamp"`
	Location  string         `json:"location"`
	Operator  string         `json:"operator"`
	Payload   map[string]any `json:"payload,omitempty"`
	StepHash  string         `json:"stepHash"`
}

// hashedFields is the digest input: every step field except the hash.
type hashedFields struct {
	BatchID   string         `json:"batchId"`
	StepName  string         `json:"stepName"`
	Timestamp string         `json:"timestamp"`
	Location  string         `json:"location"`
	Operator  string         `json:"operator"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ComputeHash digests the canonical form of the step fields.
func (s Step) ComputeHash() (string, error) {
	return types.Digest(hashedFields{
		BatchID:   s.BatchID,
		StepName:  s.StepName,
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
		Location:  s.Location,
		Operator:  s.Operator,
		Payload:   s.Payload,
	})
}

// Ack acknowledges an appended step with the ledger-assigned references.
type Ack struct {
	BatchID            string    `json:"batchId"`
	TopicRef           string    `json:"topicRef"`
	SequenceNumber     uint64    `json:"sequenceNumber"`
	TransactionRef     string    `json:"transactionRef"`
	ConsensusTimestamp time.Time `json:"consensusTimestamp"`
	StepHash           string    `json:"stepHash"`
}

// RecordedStep is a step as ordered by the ledger. Intact reports whether
// the recomputed hash still matches the stored one.
type RecordedStep struct {
	Step
	SequenceNumber     uint64    `json:"sequenceNumber"`
	ConsensusTimestamp time.Time `json:"consensusTimestamp"`
	Intact             bool      `json:"intact"`
}

package escrow

import (
	"afrochain/core/types"
)

const (
	EventTypeEscrowDeployed = "escrow.deployed"
	EventTypeEscrowReleased = "escrow.released"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowDisputed = "escrow.disputed"
)

// NewDeployedEvent returns the canonical event payload for a newly deployed
// and funded escrow.
func NewDeployedEvent(c *Contract) *types.Event { return newEscrowEvent(EventTypeEscrowDeployed, c) }

// NewReleasedEvent returns the canonical event payload for a release of escrow
// funds to the farmer.
func NewReleasedEvent(c *Contract) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, c) }

// NewRefundedEvent returns the canonical event payload for an escrow refund to
// the buyer.
func NewRefundedEvent(c *Contract) *types.Event { return newEscrowEvent(EventTypeEscrowRefunded, c) }

// NewDisputedEvent returns the canonical event payload emitted when an escrow is
// marked as disputed.
func NewDisputedEvent(c *Contract) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, c) }

func newEscrowEvent(eventType string, c *Contract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = c.ID
	attrs["address"] = c.Address
	attrs["buyer"] = c.Buyer
	attrs["farmer"] = c.Farmer
	attrs["arbiter"] = c.Arbiter
	attrs["amount"] = c.Amount.String()
	attrs["status"] = c.Status.String()
	if c.BatchRef != "" {
		attrs["batchRef"] = c.BatchRef
	}
	if c.DisputeReason != "" {
		attrs["reason"] = c.DisputeReason
	}
	if c.SettleTx != "" {
		attrs["tx"] = c.SettleTx
	}
	if c.AutoRefunded {
		attrs["trigger"] = "auto"
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

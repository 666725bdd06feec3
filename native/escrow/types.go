package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle states of an escrow contract.
type Status uint8

const (
	// StatusPending is held only while the contract is being deployed;
	// deployment funds the contract, so stored contracts start ACTIVE.
	StatusPending Status = iota
	StatusActive
	StatusDisputed
	StatusCompleted
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusActive:    "ACTIVE",
	StatusDisputed:  "DISPUTED",
	StatusCompleted: "COMPLETED",
	StatusRefunded:  "REFUNDED",
}

// transitions is the complete set of legal status changes.
var transitions = map[Status][]Status{
	StatusPending:  {StatusActive},
	StatusActive:   {StatusDisputed, StatusCompleted, StatusRefunded},
	StatusDisputed: {StatusCompleted, StatusRefunded},
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus resolves the canonical status name.
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for status, name := range statusNames {
		if name == normalized {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown escrow status: %s", raw)
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Contract captures the terms and runtime status of a single escrow
// agreement. Status changes are the only mutation after deployment.
type Contract struct {
	ID            string          `json:"id"`
	Address       string          `json:"address"`
	Buyer         string          `json:"buyer"`
	Farmer        string          `json:"farmer"`
	Arbiter       string          `json:"arbiter"`
	Amount        decimal.Decimal `json:"amount"`
	BatchRef      string          `json:"batchRef,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	AutoRefundAt  time.Time       `json:"autoRefundAt"`
	DisputeReason string          `json:"disputeReason,omitempty"`
	DeployTx      string          `json:"deployTx,omitempty"`
	SettleTx      string          `json:"settleTx,omitempty"`
	AutoRefunded  bool            `json:"autoRefunded,omitempty"`
}

// Clone returns a copy callers can mutate without affecting the stored
// instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// AutoRefundDue is the pure auto-refund predicate: the contract may be
// refunded without a dispute once now reaches autoRefundAt.
func (c *Contract) AutoRefundDue(now time.Time) bool {
	return c != nil && !c.AutoRefundAt.IsZero() && !now.Before(c.AutoRefundAt)
}

// RefundAllowed reports whether a refund may fire at now.
func (c *Contract) RefundAllowed(now time.Time) bool {
	if c == nil || c.Status.Terminal() {
		return false
	}
	return CanTransition(c.Status, StatusRefunded) || c.AutoRefundDue(now)
}

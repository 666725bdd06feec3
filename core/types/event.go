package types

import "sort"

// Event is a broker notification: an escrow transition, a minted
// certificate or an appended supply-chain step.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent copies attrs so callers can reuse their map.
func NewEvent(eventType string, attrs map[string]string) *Event {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Event{Type: eventType, Attributes: copied}
}

// Keys returns the attribute names in lexical order.
func (e *Event) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

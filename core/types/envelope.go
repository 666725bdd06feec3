package types

import coreerrors "afrochain/core/errors"

// Envelope is the network-agnostic result shape returned by every inbound
// operation. Exactly one of Data and Error is set.
type Envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   *coreerrors.Error `json:"error,omitempty"`
	Network string            `json:"network"`
}

// OK wraps a successful result.
func OK(network string, data any) Envelope {
	return Envelope{Success: true, Data: data, Network: network}
}

// Fail wraps a failure, mapping err into the error taxonomy.
func Fail(network string, err error) Envelope {
	return Envelope{Success: false, Error: coreerrors.From(err), Network: network}
}

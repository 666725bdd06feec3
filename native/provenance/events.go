package provenance

import (
	"strconv"

	"afrochain/core/types"
)

const (
	EventTypeCertificateMinted   = "certificate.minted"
	EventTypeCertificateVerified = "certificate.verified"
)

func NewMintedEvent(c *Certificate) *types.Event {
	attrs := map[string]string{}
	if c != nil {
		attrs["batch"] = c.BatchID
		attrs["token"] = c.TokenRef
		attrs["serial"] = strconv.FormatInt(c.SerialNumber, 10)
		attrs["hash"] = c.ContentHash
		attrs["cid"] = c.MetadataCID
	}
	return &types.Event{Type: EventTypeCertificateMinted, Attributes: attrs}
}

func NewVerifiedEvent(r Report) *types.Event {
	return &types.Event{Type: EventTypeCertificateVerified, Attributes: map[string]string{
		"batch":  r.BatchID,
		"status": string(r.Status),
	}}
}

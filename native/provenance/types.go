package provenance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Attributes are the declared properties of a physical batch. Their
// canonical digest is the certificate content hash.
type Attributes struct {
	BatchID        string            `json:"batchId,omitempty"`
	Product        string            `json:"product"`
	Origin         string            `json:"origin"`
	Farmer         string            `json:"farmer,omitempty"`
	HarvestDate    string            `json:"harvestDate,omitempty"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Unit           string            `json:"unit,omitempty"`
	Quality        string            `json:"quality,omitempty"`
	Certifications []string          `json:"certifications,omitempty"`
	Image          string            `json:"image,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Trait is one display attribute of the NFT metadata.
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the externally displayable certificate document.
type Metadata struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image,omitempty"`
	Attributes  []Trait `json:"attributes"`
}

// Certificate is the minted provenance record of a batch.
type Certificate struct {
	BatchID        string     `json:"batchId"`
	TokenRef       string     `json:"tokenRef"`
	SerialNumber   int64      `json:"serialNumber"`
	TransactionRef string     `json:"transactionRef"`
	Metadata       Metadata   `json:"metadata"`
	MetadataCID    string     `json:"metadataCid"`
	ContentHash    string     `json:"contentHash"`
	Attributes     Attributes `json:"attributes"`
	MintedAt       time.Time  `json:"mintedAt"`
}

// Status is the composite verification verdict.
type Status string

const (
	StatusAuthentic  Status = "AUTHENTIC"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusFake       Status = "FAKE"
)

const (
	CheckCertificatePresent   = "certificatePresent"
	CheckHashMatch            = "hashMatch"
	CheckSupplyChainTraceable = "supplyChainTraceable"
	CheckOriginConsistent     = "originConsistent"
)

// Check is a single verification sub-check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Report is the outcome of verifying a batch.
type Report struct {
	BatchID     string    `json:"batchId"`
	Status      Status    `json:"status"`
	Checks      []Check   `json:"checks"`
	ContentHash string    `json:"contentHash,omitempty"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}

// Passed reports whether the named check passed.
func (r Report) Passed(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Passed
		}
	}
	return false
}

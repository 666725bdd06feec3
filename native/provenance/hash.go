package provenance

import (
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"afrochain/core/types"
)

// ContentHash digests the canonical JSON form of the attributes. The batch
// id is part of the digest so a certificate cannot be replayed onto another
// batch.
func ContentHash(attrs Attributes) (string, error) {
	return types.Digest(attrs)
}

// MetadataCID content-addresses the canonical metadata document. The CID is
// what gets anchored in the NFT since the ledger caps on-chain metadata at
// 100 bytes.
func MetadataCID(meta Metadata) (string, error) {
	canonical, err := types.Canonical(meta)
	if err != nil {
		return "", err
	}
	prefix := cid.Prefix{
		Version:  1,
		Codec:    uint64(mc.Raw),
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}
	c, err := prefix.Sum(canonical)
	if err != nil {
		return "", fmt.Errorf("content address metadata: %w", err)
	}
	return c.String(), nil
}

// buildMetadata renders the display document for a batch.
func buildMetadata(attrs Attributes, contentHash string) Metadata {
	traits := []Trait{
		{TraitType: "Batch", Value: attrs.BatchID},
		{TraitType: "Origin", Value: attrs.Origin},
	}
	add := func(name, value string) {
		if value != "" {
			traits = append(traits, Trait{TraitType: name, Value: value})
		}
	}
	add("Farmer", attrs.Farmer)
	add("Harvest Date", attrs.HarvestDate)
	if !attrs.Quantity.IsZero() {
		add("Quantity", attrs.Quantity.String()+unitSuffix(attrs.Unit))
	}
	add("Quality", attrs.Quality)
	for _, c := range attrs.Certifications {
		add("Certification", c)
	}
	keys := make([]string, 0, len(attrs.Extra))
	for k := range attrs.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, attrs.Extra[k])
	}
	traits = append(traits, Trait{TraitType: "Content Hash", Value: contentHash})
	return Metadata{
		Name:        attrs.Product + " provenance certificate",
		Description: fmt.Sprintf("Provenance certificate for %s batch %s from %s", attrs.Product, attrs.BatchID, attrs.Origin),
		Image:       attrs.Image,
		Attributes:  traits,
	}
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

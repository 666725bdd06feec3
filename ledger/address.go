package ledger

import (
	"regexp"
	"strings"

	"afrochain/core/types"
)

const (
	accountPrefix    = "0x"
	accountMinLength = 42
)

var hashgraphAccountPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidateAddress reports whether addr is well formed for the network. It is
// pure: account-chain addresses need the 0x prefix and the minimum length
// (checksums are not enforced), hashgraph addresses must be shard.realm.num.
func ValidateAddress(network types.Network, addr string) bool {
	switch network {
	case types.AccountChain:
		return strings.HasPrefix(addr, accountPrefix) && len(addr) >= accountMinLength
	case types.Hashgraph:
		return hashgraphAccountPattern.MatchString(addr)
	default:
		return false
	}
}

package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
)

func TestSigningContextPresent(t *testing.T) {
	var nilCtx *SigningContext
	require.False(t, nilCtx.Present())
	require.False(t, (&SigningContext{PrivateKey: "  "}).Present())
	require.True(t, (&SigningContext{PrivateKey: "abc"}).Present())
}

func TestFailedCarriesKind(t *testing.T) {
	res := Failed(types.Hashgraph, decimal.RequireFromString("2"), context.DeadlineExceeded)
	require.False(t, res.Success)
	require.Equal(t, coreerrors.KindNetwork, res.Error.Kind)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "privateKey")
	require.Contains(t, string(raw), `"network":"hedera"`)
}

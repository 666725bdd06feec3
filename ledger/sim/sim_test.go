package sim

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/ledger"
	"afrochain/storage"
)

var farmer = "0x" + strings.Repeat("ab", 20)

func TestAccountChainTransferConfirms(t *testing.T) {
	chain := NewAccountChain(Options{Seed: 7})
	ctx := context.Background()

	res := chain.Transfer(ctx, farmer, decimal.RequireFromString("1.5"), &ledger.SigningContext{PrivateKey: "k"})
	require.True(t, res.Success)
	require.Len(t, res.TransactionRef, 66)
	require.Equal(t, types.AccountChain, res.Network)
	require.NotEmpty(t, res.BlockOrConsensusRef)

	status, err := chain.Status(ctx, res.TransactionRef)
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, status.State)
	require.EqualValues(t, 1, status.Confirmations)

	bal, err := chain.Balance(ctx, farmer)
	require.NoError(t, err)
	require.Equal(t, "101.5", bal.String())
}

func TestAccountChainReferencesAreReproducible(t *testing.T) {
	a := NewAccountChain(Options{Seed: 42})
	b := NewAccountChain(Options{Seed: 42})
	signer := &ledger.SigningContext{PrivateKey: "k"}
	amt := decimal.NewFromInt(2)
	ra := a.Transfer(context.Background(), farmer, amt, signer)
	rb := b.Transfer(context.Background(), farmer, amt, signer)
	require.Equal(t, ra.TransactionRef, rb.TransactionRef)
}

func TestAccountChainRequiresSigner(t *testing.T) {
	chain := NewAccountChain(Options{})
	res := chain.Transfer(context.Background(), farmer, decimal.NewFromInt(1), nil)
	require.False(t, res.Success)
	require.Equal(t, coreerrors.KindCredential, res.Error.Kind)
}

func TestAccountChainEscrowSettlesOnce(t *testing.T) {
	chain := NewAccountChain(Options{})
	ctx := context.Background()
	receipt, err := chain.Deploy(ctx, ledger.EscrowTerms{Farmer: farmer, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.True(t, ledger.ValidateAddress(types.AccountChain, receipt.Address))

	_, err = chain.Release(ctx, receipt.Address)
	require.NoError(t, err)
	_, err = chain.Refund(ctx, receipt.Address)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition))
}

func TestLatencyRespectsCancellation(t *testing.T) {
	chain := NewAccountChain(Options{Latency: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := chain.Transfer(ctx, farmer, decimal.NewFromInt(1), &ledger.SigningContext{PrivateKey: "k"})
	require.False(t, res.Success)
	require.NotEqual(t, coreerrors.KindNetwork, res.Error.Kind)
}

func TestHashgraphTopicOrdering(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// Frozen clock: consensus timestamps must still increase.
	h, err := NewHashgraph(Options{Now: func() time.Time { return base }})
	require.NoError(t, err)
	ctx := context.Background()

	topic, err := h.CreateTopic(ctx, "batch-1")
	require.NoError(t, err)
	require.True(t, ledger.ValidateAddress(types.Hashgraph, topic))

	var last time.Time
	for i, body := range []string{"harvest", "processing", "qc"} {
		ack, err := h.Submit(ctx, topic, []byte(body))
		require.NoError(t, err)
		require.EqualValues(t, i+1, ack.SequenceNumber)
		require.True(t, ack.ConsensusTimestamp.After(last))
		last = ack.ConsensusTimestamp
	}

	msgs, err := h.Messages(ctx, topic)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "harvest", string(msgs[0].Contents))
	require.Equal(t, "qc", string(msgs[2].Contents))
	require.NotEqual(t, msgs[0].RunningHash, msgs[1].RunningHash)

	_, err = h.Messages(ctx, "0.0.1")
	require.True(t, errors.Is(err, coreerrors.ErrNotFound))
}

func TestHashgraphJournalSurvivesRestart(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "journal"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	first, err := NewHashgraph(Options{Journal: db})
	require.NoError(t, err)
	topic, err := first.CreateTopic(ctx, "b")
	require.NoError(t, err)
	mint, err := first.MintNFT(ctx, []byte("bafkmeta"))
	require.NoError(t, err)

	second, err := NewHashgraph(Options{Journal: db})
	require.NoError(t, err)
	next, err := second.CreateTopic(ctx, "c")
	require.NoError(t, err)
	require.NotEqual(t, topic, next)

	meta, err := second.NFTMetadata(ctx, mint.TokenRef, mint.SerialNumber)
	require.NoError(t, err)
	require.Equal(t, "bafkmeta", string(meta))
	again, err := second.MintNFT(ctx, []byte("other"))
	require.NoError(t, err)
	require.Equal(t, mint.SerialNumber+1, again.SerialNumber)
}

func TestHashgraphTransferAndStatus(t *testing.T) {
	h, err := NewHashgraph(Options{})
	require.NoError(t, err)
	ctx := context.Background()

	res := h.Transfer(ctx, "0.0.7", decimal.NewFromInt(3), nil)
	require.True(t, res.Success)
	require.Regexp(t, `^0\.0\.1001@\d+\.\d{9}$`, res.TransactionRef)

	status, err := h.Status(ctx, res.TransactionRef)
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, status.State)

	_, err = h.Status(ctx, "not-a-tx")
	require.True(t, errors.Is(err, coreerrors.ErrValidation))

	bad := h.Transfer(ctx, "0x1234", decimal.NewFromInt(3), nil)
	require.Equal(t, coreerrors.KindValidation, bad.Error.Kind)
}

func TestContractStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	terms := ledger.EscrowTerms{Farmer: "0x" + strings.Repeat("f1", 20), Arbiter: "0x" + strings.Repeat("a1", 20), Amount: decimal.NewFromInt(2)}

	first := NewAccountChain(Options{Journal: db})
	receipt, err := first.Deploy(ctx, terms)
	require.NoError(t, err)

	second := NewAccountChain(Options{Journal: db})
	_, err = second.Release(ctx, receipt.Address)
	require.NoError(t, err)
	_, err = second.Refund(ctx, receipt.Address)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition), "got %v", err)

	next, err := second.Deploy(ctx, terms)
	require.NoError(t, err)
	require.NotEqual(t, receipt.Address, next.Address)

	_, err = second.Release(ctx, "0x"+strings.Repeat("0e", 20))
	require.True(t, errors.Is(err, coreerrors.ErrNotFound), "got %v", err)
}

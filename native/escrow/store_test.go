package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "afrochain/core/errors"
	"afrochain/ledger/sim"
	"afrochain/storage"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := OpenSQLStore("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoresRoundTrip(t *testing.T) {
	stores := map[string]Store{
		"kv":  NewKVStore(storage.NewMemDB()),
		"sql": newSQLiteStore(t),
	}
	created := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "nope")
			require.True(t, errors.Is(err, coreerrors.ErrNotFound))

			c := &Contract{
				ID:           uuid.NewString(),
				Address:      "0x" + "cc",
				Buyer:        buyerAddr,
				Farmer:       farmerAddr,
				Arbiter:      arbiterAddr,
				Amount:       decimal.RequireFromString("2.25"),
				BatchRef:     "batch-9",
				Status:       StatusActive,
				CreatedAt:    created,
				UpdatedAt:    created,
				AutoRefundAt: created.Add(DefaultAutoRefundAfter),
			}
			require.NoError(t, store.Put(ctx, c))

			next := c.Clone()
			next.Status = StatusDisputed
			next.DisputeReason = "moisture"
			require.NoError(t, store.Put(ctx, next))

			got, err := store.Get(ctx, c.ID)
			require.NoError(t, err)
			require.Equal(t, StatusDisputed, got.Status)
			require.Equal(t, "moisture", got.DisputeReason)
			require.True(t, c.Amount.Equal(got.Amount))
			require.True(t, c.AutoRefundAt.Equal(got.AutoRefundAt))
		})
	}
}

func TestEngineOnSQLStore(t *testing.T) {
	engine := NewEngine(newSQLiteStore(t), sim.NewAccountChain(sim.Options{}))
	var transitions []string
	engine.SetTransitionHook(func(from, to Status) {
		transitions = append(transitions, from.String()+">"+to.String())
	})
	c := deployTest(t, engine)
	_, err := engine.Release(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"PENDING>ACTIVE", "ACTIVE>COMPLETED"}, transitions)
}

func TestOpenSQLStoreUnknownDriver(t *testing.T) {
	_, err := OpenSQLStore("mysql", "")
	require.Error(t, err)
}

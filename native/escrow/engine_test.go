package escrow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "afrochain/core/errors"
	"afrochain/core/events"
	"afrochain/ledger"
	"afrochain/ledger/sim"
	"afrochain/storage"
)

var (
	farmerAddr  = "0x" + strings.Repeat("f1", 20)
	arbiterAddr = "0x" + strings.Repeat("a1", 20)
	buyerAddr   = "0x" + strings.Repeat("b1", 20)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *events.Recorder, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	engine := NewEngine(NewKVStore(storage.NewMemDB()), sim.NewAccountChain(sim.Options{}))
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	engine.SetNowFunc(clock.Now)
	return engine, rec, clock
}

func deployTest(t *testing.T, engine *Engine) *Contract {
	t.Helper()
	c, err := engine.Deploy(context.Background(), DeployRequest{
		Buyer:   buyerAddr,
		Farmer:  farmerAddr,
		Arbiter: arbiterAddr,
		Amount:  decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	return c
}

func TestDeployStartsActive(t *testing.T) {
	engine, rec, clock := newTestEngine(t)
	c := deployTest(t, engine)

	require.Equal(t, StatusActive, c.Status)
	require.NotEmpty(t, c.Address)
	require.NotEmpty(t, c.DeployTx)
	require.Equal(t, clock.Now().Add(7*24*time.Hour), c.AutoRefundAt)
	require.Equal(t, []string{EventTypeEscrowDeployed}, rec.Types())

	stored, err := engine.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, c.Address, stored.Address)
}

func TestDeployValidatesTerms(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	amt := decimal.NewFromInt(1)

	cases := []DeployRequest{
		{Farmer: "0.0.5", Arbiter: arbiterAddr, Amount: amt},
		{Farmer: farmerAddr, Arbiter: "bad", Amount: amt},
		{Buyer: "0x12", Farmer: farmerAddr, Arbiter: arbiterAddr, Amount: amt},
		{Farmer: farmerAddr, Arbiter: arbiterAddr, Amount: decimal.Zero},
	}
	for _, req := range cases {
		_, err := engine.Deploy(ctx, req)
		require.True(t, errors.Is(err, coreerrors.ErrValidation), "%+v", req)
	}
}

type failingBackend struct{ ledger.ContractBackend }

func (failingBackend) Deploy(context.Context, ledger.EscrowTerms) (ledger.ContractReceipt, error) {
	return ledger.ContractReceipt{}, coreerrors.Network("deploy", errors.New("rpc unavailable"))
}

func TestFailedDeployRecordsNothing(t *testing.T) {
	db := storage.NewMemDB()
	engine := NewEngine(NewKVStore(db), failingBackend{})
	_, err := engine.Deploy(context.Background(), DeployRequest{Farmer: farmerAddr, Arbiter: arbiterAddr, Amount: decimal.NewFromInt(1)})
	require.True(t, errors.Is(err, coreerrors.ErrNetwork))

	count := 0
	require.NoError(t, db.Iterate(kvPrefix, func(_, _ []byte) error { count++; return nil }))
	require.Zero(t, count)
}

func TestDisputeReleaseThenRefundRejected(t *testing.T) {
	engine, rec, _ := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	disputed, err := engine.Dispute(ctx, c.ID, "quality issue")
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, disputed.Status)
	require.Equal(t, "quality issue", disputed.DisputeReason)

	released, err := engine.Release(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, released.Status)

	_, err = engine.Refund(ctx, c.ID)
	var typed *coreerrors.Error
	require.True(t, errors.As(err, &typed))
	require.Equal(t, coreerrors.KindInvalidTransition, typed.Kind)
	require.Equal(t, "COMPLETED", typed.From)
	require.Equal(t, "REFUNDED", typed.To)

	require.Equal(t, []string{
		EventTypeEscrowDeployed,
		EventTypeEscrowDisputed,
		EventTypeEscrowReleased,
	}, rec.Types())
}

func TestReleaseIsIdempotent(t *testing.T) {
	engine, rec, _ := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	first, err := engine.Release(ctx, c.ID)
	require.NoError(t, err)
	second, err := engine.Release(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, first.SettleTx, second.SettleTx)
	require.Equal(t, StatusCompleted, second.Status)
	require.Len(t, rec.Types(), 2)
}

func TestReleaseAfterRefundRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	_, err := engine.Refund(ctx, c.ID)
	require.NoError(t, err)
	_, err = engine.Release(ctx, c.ID)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition))
	_, err = engine.Refund(ctx, c.ID)
	require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition))
}

func TestDisputeRules(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	_, err := engine.Dispute(ctx, c.ID, "   ")
	require.True(t, errors.Is(err, coreerrors.ErrValidation))

	_, err = engine.Dispute(ctx, c.ID, "late")
	require.NoError(t, err)
	_, err = engine.Dispute(ctx, c.ID, "again")
	require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition))

	_, err = engine.Dispute(ctx, "missing", "x")
	require.True(t, errors.Is(err, coreerrors.ErrNotFound))
}

func TestAutoRefundAfterWindow(t *testing.T) {
	engine, rec, clock := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	stored, err := engine.Get(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, stored.AutoRefundDue(clock.Now()))

	clock.Advance(7 * 24 * time.Hour)
	require.True(t, stored.AutoRefundDue(clock.Now()))

	refunded, err := engine.Refund(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)
	require.True(t, refunded.AutoRefunded)

	emitted := rec.Events()
	last := emitted[len(emitted)-1].(events.Typed)
	require.Equal(t, "auto", last.Event().Attributes["trigger"])
}

func TestConcurrentReleaseAndRefundSettleOnce(t *testing.T) {
	engine, rec, _ := newTestEngine(t)
	ctx := context.Background()
	c := deployTest(t, engine)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.Release(ctx, c.ID)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Refund(ctx, c.ID)
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	final, err := engine.Get(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, final.Status.Terminal())
	for _, err := range results {
		if err != nil {
			require.True(t, errors.Is(err, coreerrors.ErrInvalidTransition), err.Error())
		}
	}
	terminalEvents := 0
	for _, typ := range rec.Types() {
		if typ == EventTypeEscrowReleased || typ == EventTypeEscrowRefunded {
			terminalEvents++
		}
	}
	require.Equal(t, 1, terminalEvents)
}

func TestReleaseIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("release n times equals release once", prop.ForAll(
		func(n int, disputeFirst bool) bool {
			engine, _, _ := newTestEngine(t)
			ctx := context.Background()
			c := deployTest(t, engine)
			if disputeFirst {
				if _, err := engine.Dispute(ctx, c.ID, "check"); err != nil {
					return false
				}
			}
			once, err := engine.Release(ctx, c.ID)
			if err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				again, err := engine.Release(ctx, c.ID)
				if err != nil || again.Status != StatusCompleted || again.SettleTx != once.SettleTx {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestEscrowSurvivesRestartOnSharedJournal(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemDB()
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	first := NewEngine(NewKVStore(db), sim.NewAccountChain(sim.Options{Journal: db}))
	first.SetNowFunc(clock.Now)
	released := deployTest(t, first)
	expired := deployTest(t, first)
	require.NotEqual(t, released.Address, expired.Address)

	second := NewEngine(NewKVStore(db), sim.NewAccountChain(sim.Options{Journal: db}))
	second.SetNowFunc(clock.Now)

	c, err := second.Release(ctx, released.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, c.Status)

	clock.Advance(8 * 24 * time.Hour)
	c, err = second.Refund(ctx, expired.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, c.Status)

	fresh := deployTest(t, second)
	require.NotEqual(t, released.Address, fresh.Address)
	require.NotEqual(t, expired.Address, fresh.Address)
}

type flakyStore struct {
	Store
	failPut bool
}

func (s *flakyStore) Put(ctx context.Context, c *Contract) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, c)
}

func TestUnrecordedLedgerChangesAreLoggedWithRefs(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	store := &flakyStore{Store: NewKVStore(storage.NewMemDB())}
	engine := NewEngine(store, sim.NewAccountChain(sim.Options{}))
	engine.SetLogger(slog.New(slog.NewJSONHandler(&logs, nil)))

	store.failPut = true
	_, err := engine.Deploy(ctx, DeployRequest{Farmer: farmerAddr, Arbiter: arbiterAddr, Amount: decimal.NewFromInt(1)})
	require.Equal(t, coreerrors.KindInternal, coreerrors.KindOf(err))
	require.Contains(t, logs.String(), `"level":"ERROR"`)
	require.Contains(t, logs.String(), `"deployTx":"0x`)

	store.failPut = false
	c := deployTest(t, engine)
	logs.Reset()
	store.failPut = true
	_, err = engine.Release(ctx, c.ID)
	require.Equal(t, coreerrors.KindInternal, coreerrors.KindOf(err))
	require.Contains(t, logs.String(), `"settleTx":"0x`)
	require.Contains(t, logs.String(), c.Address)
}

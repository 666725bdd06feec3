// Package sim provides deterministic stand-ins for the account chain and the
// hashgraph network. Nothing here performs network I/O; identifiers are
// syntactically valid but carry no cryptographic meaning.
package sim

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	coreerrors "afrochain/core/errors"
	"afrochain/storage"
)

// DefaultLatency mimics the round trip of a public testnet.
const DefaultLatency = 200 * time.Millisecond

// Options configure a simulated ledger.
type Options struct {
	// Latency is the fixed delay applied to every ledger-facing call.
	Latency time.Duration
	// Seed makes generated references reproducible across runs.
	Seed int64
	// Journal persists simulated topics and tokens. Nil keeps them in memory.
	Journal storage.Database
	// Now overrides the wall clock.
	Now func() time.Time
	// Operator is the hashgraph account that pays for simulated transactions.
	Operator string
	// TokenRef is the certificate token collection on the hashgraph.
	TokenRef string
}

func (o Options) withDefaults() Options {
	if o.Latency < 0 {
		o.Latency = 0
	}
	if o.Journal == nil {
		o.Journal = storage.NewMemDB()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Operator == "" {
		o.Operator = "0.0.1001"
	}
	if o.TokenRef == "" {
		o.TokenRef = "0.0.4800001"
	}
	return o
}

// wait blocks for the configured latency. Cancellation surfaces as an
// internal error because simulated calls never report network failures.
func wait(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return coreerrors.Internal("simulated call interrupted", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return coreerrors.Internal("simulated call interrupted", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// sequencer derives reproducible keccak identifiers from the seed.
type sequencer struct {
	mu    sync.Mutex
	seed  int64
	count uint64
}

func (s *sequencer) next(parts ...[]byte) (common.Hash, uint64) {
	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()

	var head [16]byte
	binary.BigEndian.PutUint64(head[:8], uint64(s.seed))
	binary.BigEndian.PutUint64(head[8:], n)
	return crypto.Keccak256Hash(append([][]byte{head[:]}, parts...)...), n
}

// monotonicClock hands out strictly increasing timestamps.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UTC()
	if !ts.After(c.last) {
		ts = c.last.Add(time.Nanosecond)
	}
	c.last = ts
	return ts
}

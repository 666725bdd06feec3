package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSerialisesSameKey(t *testing.T) {
	var (
		locker  Locker
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("escrow-1")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 64, counter)
	require.Zero(t, locker.Len())
}

func TestLockIndependentKeys(t *testing.T) {
	var locker Locker
	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	require.Equal(t, 1, locker.Len())
	unlockA()
	require.Zero(t, locker.Len())
}

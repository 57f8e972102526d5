package semaphore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/apmkit/types"
)

func (s *Semaphore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func TestWaitDoesNotBlockWithinCapacity(t *testing.T) {
	s := New(2)
	s.Wait()
	s.Wait()
	assert.Zero(t, s.pending())
	s.Signal()
	s.Signal()
	assert.NoError(t, s.Close())
}

func TestSignalResumesWaitersInFIFOOrder(t *testing.T) {
	const n = 5
	s := New(1)
	s.Wait()

	var mu sync.Mutex
	var order []int
	for i := 0; i < n; i++ {
		i := i
		go func() {
			s.Wait()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		require.Eventually(t, func() bool { return s.pending() == i+1 }, time.Second, time.Millisecond)
	}

	for i := 0; i < n; i++ {
		s.Signal()
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		}, time.Second, time.Millisecond)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Zero(t, s.pending())
	assert.NoError(t, s.Close())
}

func TestWaitContextCancellationCompensatesCount(t *testing.T) {
	s := New(1)
	s.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.WaitContext(ctx) }()

	require.Eventually(t, func() bool { return s.pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.pending())

	// The cancelled waiter left no debt: one signal restores full capacity.
	s.Signal()
	require.NoError(t, s.WaitContext(context.Background()))
	s.Signal()
	assert.PanicsWithValue(t, ErrOverSignal, func() { s.Signal() })
}

func TestWaitContextAlreadyCancelled(t *testing.T) {
	s := New(1)
	s.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WaitContext(ctx)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.Zero(t, s.pending())
	s.Signal()
}

func TestSignalBeyondInitialValuePanics(t *testing.T) {
	s := New(1)
	assert.PanicsWithValue(t, ErrOverSignal, func() { s.Signal() })
}

func TestCloseWithPendingWaiters(t *testing.T) {
	s := New(1)
	s.Wait()

	go s.Wait()
	require.Eventually(t, func() bool { return s.pending() == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Close(), ErrWaitersPending)

	s.Signal()
	require.Eventually(t, func() bool { return s.pending() == 0 }, time.Second, time.Millisecond)
	assert.NoError(t, s.Close())
}

func TestDoBoundsConcurrency(t *testing.T) {
	const limit = 3
	s := New(limit)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.NoError(t, s.Close())
}

func TestCancellationRacingSignalResolvesOnce(t *testing.T) {
	for round := 0; round < 100; round++ {
		s := New(1)
		s.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.WaitContext(ctx) }()
		require.Eventually(t, func() bool { return s.pending() == 1 }, time.Second, time.Millisecond)

		go cancel()
		s.Signal()

		if err := <-done; err == nil {
			// Resumed: the waiter holds the unit and must release it.
			s.Signal()
		}
		assert.PanicsWithValue(t, ErrOverSignal, func() { s.Signal() })
		assert.NoError(t, s.Close())
	}
}

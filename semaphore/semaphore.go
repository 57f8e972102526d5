// Package semaphore provides a counting semaphore whose waiters suspend on
// channels and resume in FIFO order.
package semaphore

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/vitwit/apmkit/types"
)

var (
	// ErrOverSignal is the panic value when Signal would raise the count above its initial value.
	ErrOverSignal = errors.New("semaphore: signal without matching wait")

	// ErrWaitersPending is returned by Close while callers are still suspended.
	ErrWaitersPending = errors.New("semaphore: closed with pending waiters")

	errDoubleResume = errors.New("semaphore: waiter resumed twice")
)

type waiterState int

const (
	waiterPending waiterState = iota
	waiterResumed
	waiterCancelled
)

type waiter struct {
	ready chan struct{}
	state waiterState
}

// Semaphore is a counting semaphore. The count is only reachable through
// Wait, WaitContext and Signal.
type Semaphore struct {
	mu      sync.Mutex
	initial int
	value   int
	waiters *list.List
}

// New creates a semaphore admitting value concurrent holders.
func New(value int) *Semaphore {
	if value < 0 {
		panic("semaphore.New: negative value")
	}
	return &Semaphore{
		initial: value,
		value:   value,
		waiters: list.New(),
	}
}

// Wait decrements the count, suspending until a matching Signal when it goes negative.
func (s *Semaphore) Wait() {
	_ = s.WaitContext(context.Background())
}

// WaitContext is Wait that gives up when ctx ends. A cancelled waiter is removed
// from the queue, its decrement is undone and a cancelled failure is returned.
// If a Signal already resumed the waiter, the resume wins and nil is returned.
func (s *Semaphore) WaitContext(ctx context.Context) error {
	s.mu.Lock()
	s.value--
	if s.value >= 0 {
		s.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		s.value++
		s.mu.Unlock()
		return types.CancelledFailure(err)
	}
	w := &waiter{ready: make(chan struct{})}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w.state == waiterResumed {
		return nil
	}
	w.state = waiterCancelled
	s.waiters.Remove(elem)
	s.value++
	return types.CancelledFailure(ctx.Err())
}

// Signal increments the count and resumes the oldest waiter, if any.
// It panics with ErrOverSignal when the count would exceed its initial value.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value >= s.initial {
		panic(ErrOverSignal)
	}
	s.value++

	front := s.waiters.Front()
	if front == nil {
		return
	}
	s.waiters.Remove(front)
	w := front.Value.(*waiter)
	if w.state != waiterPending {
		panic(errDoubleResume)
	}
	w.state = waiterResumed
	close(w.ready)
}

// Do runs fn while holding one unit of the semaphore.
func (s *Semaphore) Do(ctx context.Context, fn func() error) error {
	if err := s.WaitContext(ctx); err != nil {
		return err
	}
	defer s.Signal()
	return fn()
}

// Close reports ErrWaitersPending if any caller is still suspended.
func (s *Semaphore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters.Len() > 0 {
		return ErrWaitersPending
	}
	return nil
}

package payment

import (
	"sort"
	"sync"
)

// Subscription is returned by Subscribe. Closing it stops delivery.
type Subscription struct {
	n  *notifier
	id uint64
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.n == nil {
		return
	}
	s.n.unsubscribe(s.id)
}

// notifier delivers states to subscribers from one goroutine, in publish order.
type notifier struct {
	mu       sync.Mutex
	queue    []State
	subs     map[uint64]func(State)
	nextID   uint64
	closed   bool
	wake     chan struct{}
	finished chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		subs:     make(map[uint64]func(State)),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) subscribe(fn func(State)) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.subs[n.nextID] = fn
	return &Subscription{n: n, id: n.nextID}
}

func (n *notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

func (n *notifier) publish(s State) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, s)
	n.mu.Unlock()
	n.signal()
}

// close stops accepting states. Already queued states are still delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.finished)
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return
			}
			<-n.wake
			continue
		}
		s := n.queue[0]
		n.queue = n.queue[1:]
		ids := make([]uint64, 0, len(n.subs))
		for id := range n.subs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		fns := make([]func(State), 0, len(ids))
		for _, id := range ids {
			fns = append(fns, n.subs[id])
		}
		n.mu.Unlock()

		for _, fn := range fns {
			fn(s.clone())
		}
	}
}

// Package telemetry ships error-level log events to the gateway in batches.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
	"github.com/vitwit/apmkit/semaphore"
	"github.com/vitwit/apmkit/types"
)

const (
	DefaultBatchSize                = 20
	DefaultFlushInterval            = 10 * time.Second
	DefaultMaxConcurrentSubmissions = 2
)

// Event is a single telemetry record.
type Event struct {
	Timestamp              time.Time         `json:"timestamp"`
	Level                  string            `json:"level"`
	Message                string            `json:"message"`
	GatewayConfigurationID string            `json:"gateway_configuration_id,omitempty"`
	InvoiceID              string            `json:"invoice_id,omitempty"`
	Attributes             map[string]string `json:"attributes,omitempty"`
}

// Batch is the unit submitted to a Repository.
type Batch struct {
	Events []Event `json:"events"`
}

// Repository persists telemetry batches.
type Repository interface {
	Submit(ctx context.Context, batch Batch) error
}

type BatcherOption func(*Batcher)

func WithBatcherClock(clk clock.Clock) BatcherOption {
	return func(b *Batcher) {
		if clk != nil {
			b.clock = clk
		}
	}
}

// WithBatcherLogger sets where submission failures are reported. It must not
// be a telemetry Logger feeding the same batcher.
func WithBatcherLogger(l logger.Logger) BatcherOption {
	return func(b *Batcher) {
		b.logger = logger.OrNoop(l)
	}
}

func WithBatcherMetrics(r metrics.Recorder) BatcherOption {
	return func(b *Batcher) {
		b.metrics = metrics.OrNoop(r)
	}
}

// Batcher groups events and submits them when a batch fills up or the
// flush interval elapses, whichever comes first.
type Batcher struct {
	repo          Repository
	batchSize     int
	flushInterval time.Duration
	sem           *semaphore.Semaphore
	clock         clock.Clock
	logger        logger.Logger
	metrics       metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu      sync.Mutex
	pending []Event
	timer   *clock.Timer
	closed  bool
}

// NewBatcher creates a new batcher. Zero values in cfg fall back to defaults.
func NewBatcher(repo Repository, cfg types.TelemetryConfig, opts ...BatcherOption) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxConcurrentSubmissions <= 0 {
		cfg.MaxConcurrentSubmissions = DefaultMaxConcurrentSubmissions
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		repo:          repo,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		sem:           semaphore.New(cfg.MaxConcurrentSubmissions),
		clock:         clock.New(),
		logger:        logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues e. Events added after Shutdown are dropped.
func (b *Batcher) Add(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.pending = append(b.pending, e)
	if len(b.pending) >= b.batchSize {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.flushInterval, b.Flush)
	}
}

// Flush submits whatever is pending.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	events := b.pending
	b.pending = nil

	b.group.Go(func() error {
		return b.sem.Do(b.ctx, func() error {
			return b.submit(events)
		})
	})
}

func (b *Batcher) submit(events []Event) error {
	start := b.clock.Now()
	err := b.repo.Submit(b.ctx, Batch{Events: events})
	b.metrics.ObserveLatency("telemetry_submit", b.clock.Now().Sub(start), map[string]string{"method": "POST"})
	if err != nil {
		b.metrics.IncCounter("telemetry_dropped", map[string]string{"kind": string(types.KindOf(err))})
		b.logger.Warn("dropping telemetry batch", map[string]any{
			"events": len(events),
			"error":  err,
		})
		return err
	}
	return nil
}

// Shutdown flushes pending events and waits for in-flight submissions.
// When ctx ends first the submissions are cancelled.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.group.Wait()
	}()

	select {
	case err := <-done:
		b.cancel()
		return err
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

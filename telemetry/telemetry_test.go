package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/types"
)

type recordingRepository struct {
	mu      sync.Mutex
	batches []Batch
	err     error
	block   chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (r *recordingRepository) Submit(ctx context.Context, batch Batch) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

func (r *recordingRepository) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.batches))
	for i, b := range r.batches {
		out[i] = len(b.Events)
	}
	return out
}

func event(msg string) Event {
	return Event{Level: "error", Message: msg}
}

func TestBatcherFlushesWhenFull(t *testing.T) {
	repo := &recordingRepository{}
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 2, FlushInterval: time.Hour}, WithBatcherClock(clock.NewMock()))

	b.Add(event("a"))
	b.Add(event("b"))
	b.Add(event("c"))

	require.Eventually(t, func() bool { return len(repo.sizes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{2}, repo.sizes())

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, repo.sizes())
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	repo := &recordingRepository{}
	mock := clock.NewMock()
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 10, FlushInterval: 5 * time.Second}, WithBatcherClock(mock))

	b.Add(event("a"))
	mock.Add(4 * time.Second)
	assert.Empty(t, repo.sizes())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return len(repo.sizes()) == 1 }, time.Second, time.Millisecond)

	b.Add(event("b"))
	mock.Add(5 * time.Second)
	require.Eventually(t, func() bool { return len(repo.sizes()) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestBatcherBoundsConcurrentSubmissions(t *testing.T) {
	repo := &recordingRepository{block: make(chan struct{})}
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 1, MaxConcurrentSubmissions: 2})

	for i := 0; i < 5; i++ {
		b.Add(event(fmt.Sprint(i)))
	}
	require.Eventually(t, func() bool { return repo.active.Load() == 2 }, time.Second, time.Millisecond)
	close(repo.block)

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Len(t, repo.sizes(), 5)
	assert.Equal(t, int32(2), repo.peak.Load())
}

func TestBatcherShutdownReportsFailuresAndDropsLateEvents(t *testing.T) {
	repo := &recordingRepository{err: errors.New("unavailable")}
	core, logs := observer.New(zapcore.WarnLevel)
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 10},
		WithBatcherLogger(logger.NewZapLoggerFrom(zap.New(core))))

	b.Add(event("a"))
	err := b.Shutdown(context.Background())
	assert.EqualError(t, err, "unavailable")
	assert.Equal(t, 1, logs.FilterMessage("dropping telemetry batch").Len())

	b.Add(event("late"))
	assert.NoError(t, b.Shutdown(context.Background()))
	assert.Len(t, repo.sizes(), 1)
}

func TestBatcherShutdownHonoursContext(t *testing.T) {
	repo := &recordingRepository{block: make(chan struct{})}
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 1})
	b.Add(event("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded)
}

func TestLoggerQueuesErrorsOnly(t *testing.T) {
	repo := &recordingRepository{}
	mock := clock.NewMock()
	b := NewBatcher(repo, types.TelemetryConfig{BatchSize: 10}, WithBatcherClock(mock))

	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(logger.NewZapLoggerFrom(zap.New(core)), b)

	l.Debug("debug", nil)
	l.Info("info", nil)
	l.Warn("warn", nil)
	l.Error("payment failed", map[string]any{
		"invoice_id":               "iv_1",
		"gateway_configuration_id": "gway_1",
		"status_code":              502,
	})
	assert.Equal(t, 4, logs.Len())

	require.NoError(t, b.Shutdown(context.Background()))
	require.Len(t, repo.batches, 1)
	require.Len(t, repo.batches[0].Events, 1)

	e := repo.batches[0].Events[0]
	assert.Equal(t, "payment failed", e.Message)
	assert.Equal(t, "error", e.Level)
	assert.Equal(t, "iv_1", e.InvoiceID)
	assert.Equal(t, "gway_1", e.GatewayConfigurationID)
	assert.Equal(t, map[string]string{"status_code": "502"}, e.Attributes)
	assert.Equal(t, mock.Now().UTC(), e.Timestamp)
}

func TestHTTPRepositorySubmit(t *testing.T) {
	var body map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/telemetry", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer srv.Close()

	c, err := connector.New(connector.Configuration{BaseURL: srv.URL, ProjectID: "proj_test"})
	require.NoError(t, err)

	err = NewHTTPRepository(c).Submit(context.Background(), Batch{Events: []Event{event("a")}})
	require.NoError(t, err)
	assert.Contains(t, body, "events")
	assert.Contains(t, body, "device")
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.IncCounter("http_retry", map[string]string{"kind": "network_unreachable"})
	rec.IncCounter("http_retry", map[string]string{"kind": "network_unreachable"})
	rec.IncCounter("payment_transition", map[string]string{"kind": "captured"})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues("http_retry", "network_unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.WithLabelValues("payment_transition", "captured")))
}

func TestPrometheusRecorderLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.ObserveLatency("http_request", 150*time.Millisecond, map[string]string{"method": "POST"})

	assert.Equal(t, 1, testutil.CollectAndCount(rec.histogram))
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

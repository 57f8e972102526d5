package apmkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/apmkit/config"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/payment"
	"github.com/vitwit/apmkit/types"
)

func testConfig(baseURL string) *types.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.ProjectID = "proj_test"
	cfg.RetryInterval = time.Millisecond
	cfg.ReturnURL = "myapp://return"
	return cfg
}

func waitDone(t *testing.T, m *payment.Machine) payment.State {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("payment did not finish, status %s", m.State().Status)
	}
	return m.State()
}

func TestAuthorizationFlowEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invoices/iv_1/apm-payment", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if calls.Add(1) == 1 {
			assert.NotContains(t, body, "submit_data")
			fmt.Fprint(w, `{"success":true,"state":"NEXT_STEP_REQUIRED","next_step":{"type":"submit_data",
				"parameters":{"parameter_definitions":[{"key":"email","type":"email","required":true}]}}}`)
			return
		}
		assert.Equal(t, map[string]any{"parameters": map[string]any{"email": "jane@example.com"}}, body["submit_data"])
		fmt.Fprint(w, `{"success":true,"state":"CAPTURED"}`)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	cfg := testConfig(srv.URL)
	cfg.EnableMetrics = true
	client, err := New(cfg, WithLogger(logger.NoopLogger{}), WithRegisterer(reg))
	require.NoError(t, err)
	defer client.Close()

	m, err := client.NewPayment(types.NewAuthorizationFlow("iv_1", "gway_1"))
	require.NoError(t, err)
	defer m.Close()

	m.Start()
	require.Eventually(t, func() bool { return m.State().Status == payment.StatusStarted }, 2*time.Second, time.Millisecond)

	m.UpdateParameter("email", "jane@example.com")
	m.Submit()

	assert.Equal(t, payment.StatusCaptured, waitDone(t, m).Status)
	assert.Equal(t, int32(2), calls.Load())

	count, err := testutil.GatherAndCount(reg, "apmkit_events_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Processout-Client-Secret", "sec_1")
		fmt.Fprint(w, `{"success":true,"invoice":{"id":"iv_1","amount":"5.00","currency":"USD"}}`)
	}))
	defer srv.Close()

	client, err := New(testConfig(srv.URL), WithLogger(logger.NoopLogger{}))
	require.NoError(t, err)
	defer client.Close()

	invoice, err := client.Invoice(context.Background(), "iv_1")
	require.NoError(t, err)
	assert.Equal(t, "5.00 USD", invoice.FormattedAmount())
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelemetryReportsFailedPayments(t *testing.T) {
	var mu sync.Mutex
	var events []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/telemetry" {
			var body struct {
				Events []map[string]any `json:"events"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			events = append(events, body.Events...)
			mu.Unlock()
			fmt.Fprint(w, `{"success":true}`)
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"success":false,"errorType":"gateway.declined"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Telemetry.Enabled = true
	client, err := New(cfg, WithLogger(logger.NoopLogger{}))
	require.NoError(t, err)

	m, err := client.NewPayment(types.NewAuthorizationFlow("iv_1", "gway_1"))
	require.NoError(t, err)
	m.Start()

	s := waitDone(t, m)
	require.NotNil(t, s.Failure)
	assert.Equal(t, types.KindServer, s.Failure.Kind)

	require.NoError(t, client.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "payment failed", events[0]["message"])
	assert.Equal(t, "iv_1", events[0]["invoice_id"])
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	var apmErr *types.APMError
	require.ErrorAs(t, err, &apmErr)
	assert.Equal(t, types.ErrInvalidConfig, apmErr.Code)

	_, err = New(&types.Config{BaseURL: "https://api.example.com"})
	require.ErrorAs(t, err, &apmErr)
	assert.Equal(t, types.ErrInvalidConfig, apmErr.Code)
}

func TestNewWithDefaults(t *testing.T) {
	client, err := NewWithDefaults("proj_1", WithLogger(logger.NoopLogger{}))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, config.DefaultBaseURL, client.Config().BaseURL)
	assert.Equal(t, "proj_1", client.Config().ProjectID)
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v["library_version"])
	assert.Contains(t, v["supported_flows"], "tokenization")
}

package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/types"
)

func newConnector(t *testing.T, handler http.HandlerFunc, privateKey string) connector.Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := connector.New(connector.Configuration{
		BaseURL:    srv.URL,
		ProjectID:  "proj_test",
		PrivateKey: privateKey,
	})
	require.NoError(t, err)
	return c
}

func TestInvoiceReadsClientSecretAndAmount(t *testing.T) {
	c := newConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/iv_1", r.URL.Path)
		assert.Equal(t, "transaction", r.URL.Query().Get("expand"))
		w.Header().Set(ClientSecretHeader, "sec_1")
		fmt.Fprint(w, `{"success":true,"invoice":{"id":"iv_1","amount":"19.90","currency":"EUR"}}`)
	}, "")

	invoice, err := NewInvoicesService(c, nil, time.Second).Invoice(context.Background(), "iv_1")
	require.NoError(t, err)

	assert.Equal(t, "sec_1", invoice.ClientSecret)
	assert.True(t, decimal.RequireFromString("19.9").Equal(invoice.Amount))
	assert.Equal(t, "19.90 EUR", invoice.FormattedAmount())
}

func TestCaptureRequiresPrivateKey(t *testing.T) {
	var calls atomic.Int32
	c := newConnector(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"success":true}`)
	}, "")

	err := NewInvoicesService(c, nil, 0).Capture(context.Background(), "iv_1", "gway_1")
	assert.Equal(t, types.KindInternal, types.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestCaptureSendsDeviceMetadata(t *testing.T) {
	var body string
	c := newConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/iv_1/capture", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)
		fmt.Fprint(w, `{"success":true}`)
	}, "key_test")

	err := NewInvoicesService(c, nil, 0).Capture(context.Background(), "iv_1", "gway_1")
	require.NoError(t, err)
	assert.Contains(t, body, `"device"`)
	assert.Contains(t, body, `"gateway_configuration_id":"gway_1"`)
}

func TestAuthorizeValidatesRequest(t *testing.T) {
	s := NewInvoicesService(nil, nil, 0)
	_, err := s.Authorize(context.Background(), AuthorizationRequest{InvoiceID: "iv_1"})

	var apmErr *types.APMError
	require.ErrorAs(t, err, &apmErr)
	assert.Equal(t, types.ErrInvalidFlow, apmErr.Code)
}

func TestTokenizeValidatesRequest(t *testing.T) {
	s := NewCustomerTokensService(nil, nil, 0)
	_, err := s.Tokenize(context.Background(), TokenizationRequest{CustomerID: "cust_1"})

	var apmErr *types.APMError
	require.ErrorAs(t, err, &apmErr)
}

func TestBatchAuthorizeKeepsOrderAndBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	c := newConnector(t, func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if strings.Contains(r.URL.Path, "iv_bad") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"success":false,"errorType":"request.invalid"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"state":"PENDING_CAPTURE"}`)
	}, "")

	reqs := []AuthorizationRequest{
		{InvoiceID: "iv_1", GatewayConfigurationID: "gway_1"},
		{InvoiceID: "iv_bad", GatewayConfigurationID: "gway_1"},
		{InvoiceID: "iv_3", GatewayConfigurationID: "gway_1"},
		{InvoiceID: "iv_4", GatewayConfigurationID: "gway_1"},
	}

	outcomes, err := NewInvoicesService(c, nil, 0).BatchAuthorize(context.Background(), reqs, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	for i, o := range outcomes {
		assert.Equal(t, reqs[i].InvoiceID, o.Request.InvoiceID)
	}
	assert.Equal(t, types.StatePendingCapture, outcomes[0].Response.State)
	assert.Equal(t, types.KindServer, types.KindOf(outcomes[1].Err))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatchAuthorizeRequiresRequests(t *testing.T) {
	_, err := NewInvoicesService(nil, nil, 0).BatchAuthorize(context.Background(), nil, 1)
	assert.Error(t, err)
}

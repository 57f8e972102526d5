// Package connector executes typed requests against the gateway API and
// classifies every outcome into the closed failure taxonomy.
package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
	"github.com/vitwit/apmkit/types"
)

// ErrMissingPrivateKey is wrapped by the internal failure returned when a
// request needs the private key and none is configured.
var ErrMissingPrivateKey = errors.New("private key is required but not configured")

// unknownServerErrorType is reported when a non 2xx body is not a failure envelope.
const unknownServerErrorType = "gateway.unknown"

// Connector executes requests. Implementations return a *types.Failure on error.
type Connector interface {
	Execute(ctx context.Context, req *Request) (*RawResponse, error)
}

// Configuration holds the values used to address and authorize requests.
type Configuration struct {
	BaseURL        string
	ProjectID      string
	PrivateKey     string
	Locale         string
	Version        string
	RequestTimeout time.Duration
}

// ConfigurationFrom derives connector settings from the library config.
func ConfigurationFrom(cfg types.Config, version string) Configuration {
	return Configuration{
		BaseURL:        cfg.BaseURL,
		ProjectID:      cfg.ProjectID,
		PrivateKey:     cfg.PrivateKey,
		Locale:         cfg.Locale,
		Version:        version,
		RequestTimeout: cfg.RequestTimeout,
	}
}

// HTTPConnector is the Connector backed by an injected Transport.
type HTTPConnector struct {
	config    Configuration
	baseURL   *url.URL
	transport Transport
	device    DeviceMetadataProvider
	clock     clock.Clock
	logger    logger.Logger
	metrics   metrics.Recorder
}

var _ Connector = (*HTTPConnector)(nil)

type Option func(*HTTPConnector)

func WithTransport(t Transport) Option {
	return func(c *HTTPConnector) {
		c.transport = t
	}
}

func WithDeviceMetadataProvider(p DeviceMetadataProvider) Option {
	return func(c *HTTPConnector) {
		c.device = p
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *HTTPConnector) {
		c.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *HTTPConnector) {
		c.metrics = metrics.OrNoop(r)
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *HTTPConnector) {
		c.clock = clk
	}
}

// New creates an HTTP connector. The transport defaults to http.DefaultClient.
func New(cfg Configuration, opts ...Option) (*HTTPConnector, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &types.APMError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("invalid base url %q", cfg.BaseURL),
		}
	}

	c := &HTTPConnector{
		config:    cfg,
		baseURL:   base,
		transport: http.DefaultClient,
		device:    NewStaticDeviceMetadataProvider("", cfg.Version),
		clock:     clock.New(),
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute sends req and returns the raw success envelope.
func (c *HTTPConnector) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	if req.RequiresPrivateKey && c.config.PrivateKey == "" {
		c.logger.Error("refusing to send request without private key", map[string]any{
			"request_id": req.ID,
			"path":       req.Path,
		})
		return nil, types.InternalFailure(ErrMissingPrivateKey)
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	httpReq, failure := c.buildRequest(ctx, req)
	if failure != nil {
		return nil, failure
	}

	c.logger.Debug("sending request", map[string]any{
		"request_id": req.ID,
		"request":    formatRequest(httpReq),
	})

	start := c.clock.Now()
	raw, err := c.send(ctx, httpReq)
	c.metrics.ObserveLatency("http_request", c.clock.Now().Sub(start), map[string]string{
		"method": string(req.Method),
	})

	if err != nil {
		c.logger.Debug("request failed", map[string]any{
			"request_id": req.ID,
			"error":      err,
		})
		c.metrics.IncCounter("http_request", map[string]string{"kind": string(types.KindOf(err))})
		return nil, err
	}

	c.logger.Debug("received response", map[string]any{
		"request_id":  req.ID,
		"status_code": raw.StatusCode,
		"body_bytes":  len(raw.Body),
	})
	c.metrics.IncCounter("http_request", map[string]string{"kind": "success"})
	return raw, nil
}

func (c *HTTPConnector) send(ctx context.Context, httpReq *http.Request) (*RawResponse, error) {
	resp, err := c.transport.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return decodeEnvelope(resp.StatusCode, resp.Header, body)
}

func (c *HTTPConnector) buildRequest(ctx context.Context, req *Request) (*http.Request, *types.Failure) {
	body, err := c.encodeBody(req)
	if err != nil {
		return nil, types.EncodingFailure(err)
	}

	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), u.String(), reader)
	if err != nil {
		return nil, types.InternalFailure(err)
	}

	for k, v := range c.defaultHeaders(req) {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// encodeBody encodes the body. Device bearing requests are always encoded,
// even without a caller body, so the device object reaches the server.
func (c *HTTPConnector) encodeBody(req *Request) ([]byte, error) {
	if !req.IncludesDeviceMetadata {
		if req.Body == nil {
			return nil, nil
		}
		return json.Marshal(req.Body)
	}

	merged := map[string]json.RawMessage{}
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(encoded, &merged); err != nil {
			return nil, fmt.Errorf("device metadata requires an object body: %w", err)
		}
		if merged == nil {
			merged = map[string]json.RawMessage{}
		}
	}

	device, err := json.Marshal(c.device.DeviceMetadata())
	if err != nil {
		return nil, err
	}
	merged["device"] = device
	return json.Marshal(merged)
}

func (c *HTTPConnector) defaultHeaders(req *Request) map[string]string {
	credentials := c.config.ProjectID + ":"
	if req.RequiresPrivateKey {
		credentials += c.config.PrivateKey
	}
	device := c.device.DeviceMetadata()

	headers := map[string]string{
		"Idempotency-Key":       req.ID,
		"User-Agent":            "apmkit/" + c.config.Version,
		"Content-Type":          "application/json",
		"Authorization":         "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		"Session-Id":            device.SessionID,
		"Installation-Id":       device.InstallationID,
		"Device-System-Name":    device.SystemName,
		"Device-System-Version": device.SystemVersion,
		"Product-Version":       c.config.Version,
	}
	if c.config.Locale != "" {
		headers["Accept-Language"] = c.config.Locale
	}
	if device.Model != "" {
		headers["Device-Model"] = device.Model
	}
	for k, v := range headers {
		if v == "" {
			delete(headers, k)
		}
	}
	return headers
}

type envelope struct {
	Success *bool `json:"success"`
}

// decodeEnvelope checks the success flag and turns failures into server or decoding failures.
func decodeEnvelope(status int, headers http.Header, body []byte) (*RawResponse, error) {
	is2xx := status >= 200 && status < 300

	var env envelope
	envErr := json.Unmarshal(body, &env)

	if envErr == nil && env.Success != nil && *env.Success && is2xx {
		return &RawResponse{StatusCode: status, Headers: headers, Body: body}, nil
	}

	if !is2xx || (envErr == nil && env.Success != nil && !*env.Success) {
		var serverErr types.ServerError
		if envErr == nil && json.Unmarshal(body, &serverErr) == nil && serverErr.ErrorType != "" {
			return nil, types.ServerFailure(serverErr, status)
		}
		return nil, types.ServerFailure(types.ServerError{ErrorType: unknownServerErrorType}, status)
	}

	if envErr == nil {
		envErr = errors.New("response envelope has no success flag")
	}
	return nil, types.DecodingFailure(status, envErr)
}

// formatRequest renders a request for debug logs with credentials redacted.
func formatRequest(r *http.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Method, r.URL.String())
	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value := strings.Join(r.Header[k], ",")
		if k == "Authorization" {
			value = "<redacted>"
		}
		fmt.Fprintf(&b, "\n%s: %s", k, value)
	}
	return b.String()
}

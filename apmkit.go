// Package apmkit drives alternative payment method authorizations and
// customer token tokenizations against the payment gateway API.
package apmkit

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/apmkit/adapter"
	"github.com/vitwit/apmkit/config"
	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
	"github.com/vitwit/apmkit/payment"
	"github.com/vitwit/apmkit/services"
	"github.com/vitwit/apmkit/telemetry"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

const shutdownTimeout = 5 * time.Second

// Client is the main struct that wires the connector stack, the gateway
// services and payment machines together.
type Client struct {
	config    *types.Config
	connector connector.Connector
	invoices  *services.InvoicesService
	tokens    *services.CustomerTokensService
	adapter   *adapter.Adapter
	telemetry *telemetry.Batcher

	logger     logger.Logger
	baseLogger logger.Logger
	metrics    metrics.Recorder
	clock      clock.Clock
	timeout    time.Duration
	transport  connector.Transport
	device     connector.DeviceMetadataProvider
	retry      *connector.RetryPolicy
	registerer prometheus.Registerer
}

// New creates a new Client with the given configuration.
func New(cfg *types.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidConfig,
			Message: "config is required",
		}
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseLogger == nil {
		c.baseLogger = logger.NewZapLogger(cfg.LogLevel)
	}
	if c.metrics == nil {
		if cfg.EnableMetrics {
			rec, err := metrics.NewPrometheusRecorder(c.registerer)
			if err != nil {
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
			c.metrics = rec
		} else {
			c.metrics = metrics.NoopRecorder{}
		}
	}
	if c.device == nil {
		c.device = connector.NewStaticDeviceMetadataProvider("apmkit", Version)
	}

	connOpts := []connector.Option{
		connector.WithDeviceMetadataProvider(c.device),
		connector.WithLogger(c.baseLogger),
		connector.WithMetrics(c.metrics),
		connector.WithClock(c.clock),
	}
	if c.transport != nil {
		connOpts = append(connOpts, connector.WithTransport(c.transport))
	}
	httpConnector, err := connector.New(connector.ConfigurationFrom(*cfg, Version), connOpts...)
	if err != nil {
		return nil, err
	}

	c.connector = connector.NewRetryConnector(httpConnector, c.retryPolicy(),
		connector.WithRetryClock(c.clock),
		connector.WithRetryLogger(c.baseLogger),
		connector.WithRetryMetrics(c.metrics),
	)

	c.logger = c.baseLogger
	if cfg.Telemetry.Enabled {
		c.telemetry = telemetry.NewBatcher(telemetry.NewHTTPRepository(httpConnector), cfg.Telemetry,
			telemetry.WithBatcherClock(c.clock),
			telemetry.WithBatcherLogger(c.baseLogger),
			telemetry.WithBatcherMetrics(c.metrics),
		)
		c.logger = telemetry.NewLogger(c.baseLogger, c.telemetry)
	}

	c.invoices = services.NewInvoicesService(c.connector, c.logger, c.timeout)
	c.tokens = services.NewCustomerTokensService(c.connector, c.logger, c.timeout)
	c.adapter = adapter.New(c.invoices, c.tokens)

	c.baseLogger.Debug("apmkit client initialized", map[string]any{
		"base_url":  cfg.BaseURL,
		"telemetry": cfg.Telemetry.Enabled,
		"metrics":   cfg.EnableMetrics,
	})
	return c, nil
}

// NewWithDefaults creates a new Client for projectID with default configuration.
func NewWithDefaults(projectID string, opts ...Option) (*Client, error) {
	cfg := config.DefaultConfig()
	cfg.ProjectID = projectID
	return New(cfg, opts...)
}

func (c *Client) retryPolicy() connector.RetryPolicy {
	if c.retry != nil {
		return *c.retry
	}
	interval := c.config.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	rate := c.config.RetryRate
	if rate <= 0 {
		rate = 3
	}
	return connector.RetryPolicy{
		MaxRetries: c.config.RetryCount,
		Backoff:    connector.ExponentialBackoff(interval, rate, 0),
	}
}

// NewPayment creates a payment machine for flow. Call Start on it to begin.
func (c *Client) NewPayment(flow types.PaymentFlow, opts ...payment.Option) (*payment.Machine, error) {
	base := []payment.Option{
		payment.WithLogger(c.logger),
		payment.WithMetrics(c.metrics),
		payment.WithClock(c.clock),
	}
	return payment.New(flow, c.adapter, payment.Config{
		ReturnURL:           c.config.ReturnURL,
		ConfirmationTimeout: c.config.ConfirmationTimeout,
		PollInterval:        c.config.PollInterval,
		Locale:              c.config.Locale,
	}, append(base, opts...)...)
}

// Invoice fetches invoice details, including the client secret header.
func (c *Client) Invoice(ctx context.Context, invoiceID string) (*types.Invoice, error) {
	return c.invoices.Invoice(ctx, invoiceID)
}

// Capture captures an authorized invoice. It requires a private key.
func (c *Client) Capture(ctx context.Context, invoiceID, gatewayConfigurationID string) error {
	return c.invoices.Capture(ctx, invoiceID, gatewayConfigurationID)
}

// BatchAuthorize starts several invoice authorizations with at most limit in flight.
func (c *Client) BatchAuthorize(ctx context.Context, requests []services.AuthorizationRequest, limit int) ([]services.AuthorizationOutcome, error) {
	return c.invoices.BatchAuthorize(ctx, requests, limit)
}

// Adapter exposes the flow adapter used by payment machines.
func (c *Client) Adapter() *adapter.Adapter {
	return c.adapter
}

// Config returns the configuration the client was built with.
func (c *Client) Config() types.Config {
	return *c.config
}

// Close flushes pending telemetry and syncs the logger.
func (c *Client) Close() error {
	var err error
	if c.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = c.telemetry.Shutdown(ctx)
		cancel()
	}
	if zl, ok := c.baseLogger.(*logger.ZapLogger); ok {
		_ = zl.Sync()
	}
	return err
}

// Version information
const (
	Version    = "1.0.0"
	APIVersion = 1
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"api_version":     APIVersion,
		"supported_flows": []string{
			"authorization", "tokenization",
		},
		"supported_parameter_types": []string{
			string(types.ParameterNumeric),
			string(types.ParameterText),
			string(types.ParameterEmail),
			string(types.ParameterPhone),
			string(types.ParameterSingleSelect),
			string(types.ParameterMultiSelect),
		},
	}
}

package apmkit

import (
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.baseLogger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithRegisterer sets where Prometheus collectors are registered when
// EnableMetrics is set. The default registerer is used otherwise.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithTimeout bounds each service call, retries included.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.timeout = t
	}
}

func WithTransport(t connector.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithDeviceMetadata(p connector.DeviceMetadataProvider) Option {
	return func(c *Client) {
		c.device = p
	}
}

func WithRetryPolicy(p connector.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = &p
	}
}

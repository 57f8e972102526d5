package telemetry

import (
	"fmt"

	"github.com/facebookgo/clock"

	"github.com/vitwit/apmkit/logger"
)

// Logger forwards every line to a base logger and additionally queues
// error lines as telemetry events.
type Logger struct {
	base    logger.Logger
	batcher *Batcher
	clock   clock.Clock
}

var _ logger.Logger = (*Logger)(nil)

// NewLogger creates a new telemetry logger.
func NewLogger(base logger.Logger, batcher *Batcher) *Logger {
	return &Logger{
		base:    logger.OrNoop(base),
		batcher: batcher,
		clock:   batcher.clock,
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.base.Debug(msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.base.Info(msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.base.Warn(msg, fields) }

func (l *Logger) Error(msg string, fields map[string]any) {
	l.base.Error(msg, fields)
	l.batcher.Add(l.event(msg, fields))
}

// event promotes gateway_configuration_id and invoice_id to event fields.
// Everything else becomes a string attribute.
func (l *Logger) event(msg string, fields map[string]any) Event {
	e := Event{
		Timestamp: l.clock.Now().UTC(),
		Level:     "error",
		Message:   msg,
	}
	for k, v := range fields {
		s := fmt.Sprint(v)
		switch k {
		case "gateway_configuration_id":
			e.GatewayConfigurationID = s
		case "invoice_id":
			e.InvoiceID = s
		default:
			if e.Attributes == nil {
				e.Attributes = make(map[string]string, len(fields))
			}
			e.Attributes[k] = s
		}
	}
	return e
}

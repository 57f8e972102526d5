package telemetry

import (
	"context"

	"github.com/vitwit/apmkit/connector"
)

// HTTPRepository submits batches to the gateway's telemetry endpoint.
type HTTPRepository struct {
	connector connector.Connector
}

var _ Repository = (*HTTPRepository)(nil)

// NewHTTPRepository creates a new repository on top of c.
func NewHTTPRepository(c connector.Connector) *HTTPRepository {
	return &HTTPRepository{connector: c}
}

// Submit posts the batch together with device metadata.
func (r *HTTPRepository) Submit(ctx context.Context, batch Batch) error {
	_, err := r.connector.Execute(ctx, connector.Post("/telemetry", batch, connector.WithDeviceMetadata()))
	return err
}

package connector

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vitwit/apmkit/types"
)

// RawResponse is a successful envelope as returned by a Connector.
// Body holds the complete JSON envelope.
type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Response is a decoded success envelope with its transport metadata.
type Response[V any] struct {
	Value      V
	StatusCode int
	Headers    http.Header
}

// Execute runs req through c and decodes the success payload into V.
func Execute[V any](ctx context.Context, c Connector, req *Request) (V, error) {
	resp, err := ExecuteResponse[V](ctx, c, req)
	if err != nil {
		var zero V
		return zero, err
	}
	return resp.Value, nil
}

// ExecuteResponse is like Execute but also returns status code and headers.
func ExecuteResponse[V any](ctx context.Context, c Connector, req *Request) (*Response[V], error) {
	raw, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	var value V
	if err := json.Unmarshal(raw.Body, &value); err != nil {
		return nil, types.DecodingFailure(raw.StatusCode, err)
	}

	return &Response[V]{
		Value:      value,
		StatusCode: raw.StatusCode,
		Headers:    raw.Headers,
	}, nil
}

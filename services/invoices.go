// Package services issues the gateway calls behind the payment adapter.
package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/semaphore"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

// ClientSecretHeader carries the invoice client secret on invoice responses.
const ClientSecretHeader = "X-Processout-Client-Secret"

// AuthorizationRequest continues an invoice payment through an alternative payment gateway.
type AuthorizationRequest struct {
	InvoiceID              string                `json:"-" validate:"required"`
	GatewayConfigurationID string                `json:"gateway_configuration_id" validate:"required"`
	Source                 string                `json:"source,omitempty"`
	SubmitData             *types.SubmitData     `json:"submit_data,omitempty"`
	Redirect               *types.RedirectResult `json:"redirect,omitempty"`
	Locale                 string                `json:"-"`
}

// AuthorizationResponse is the wire shape of an invoice payment step.
type AuthorizationResponse struct {
	State                  types.PaymentState  `json:"state"`
	GatewayConfigurationID string              `json:"gateway_configuration_id"`
	NextStep               *types.NextStep     `json:"next_step,omitempty"`
	CustomerInstructions   []types.Instruction `json:"customer_instructions,omitempty"`
}

// AuthorizationOutcome pairs a batch request with its result.
type AuthorizationOutcome struct {
	Request  AuthorizationRequest
	Response *AuthorizationResponse
	Err      error
}

// InvoicesService wraps the invoice endpoints.
type InvoicesService struct {
	connector connector.Connector
	logger    logger.Logger
	timeout   time.Duration
}

// NewInvoicesService creates a new invoices service. A zero timeout leaves
// deadlines to the caller.
func NewInvoicesService(c connector.Connector, l logger.Logger, timeout time.Duration) *InvoicesService {
	return &InvoicesService{
		connector: c,
		logger:    logger.OrNoop(l),
		timeout:   timeout,
	}
}

func (s *InvoicesService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Authorize submits the next step of an invoice payment.
func (s *InvoicesService) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResponse, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: fmt.Sprintf("invalid authorization request: %v", err),
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var opts []connector.RequestOption
	if req.Locale != "" {
		opts = append(opts, connector.WithHeaders(map[string]string{"Accept-Language": req.Locale}))
	}
	httpReq := connector.Post(
		fmt.Sprintf("/invoices/%s/apm-payment", url.PathEscape(req.InvoiceID)), req, opts...,
	)

	resp, err := connector.Execute[AuthorizationResponse](ctx, s.connector, httpReq)
	if err != nil {
		s.logger.Debug("invoice authorization failed", map[string]any{
			"invoice_id": req.InvoiceID,
			"error":      err,
		})
		return nil, err
	}
	return &resp, nil
}

// Invoice fetches invoice details, including the client secret header.
func (s *InvoicesService) Invoice(ctx context.Context, invoiceID string) (*types.Invoice, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	type response struct {
		Invoice types.Invoice `json:"invoice"`
	}
	httpReq := connector.Get(
		"/invoices/"+url.PathEscape(invoiceID),
		connector.WithQuery(map[string]any{"expand": "transaction"}),
	)
	resp, err := connector.ExecuteResponse[response](ctx, s.connector, httpReq)
	if err != nil {
		return nil, err
	}

	invoice := resp.Value.Invoice
	invoice.ClientSecret = resp.Headers.Get(ClientSecretHeader)
	return &invoice, nil
}

// Capture requests capture of an authorized invoice. It needs the private key.
func (s *InvoicesService) Capture(ctx context.Context, invoiceID, gatewayConfigurationID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body := map[string]string{"gateway_configuration_id": gatewayConfigurationID}
	httpReq := connector.Post(
		fmt.Sprintf("/invoices/%s/capture", url.PathEscape(invoiceID)), body,
		connector.WithDeviceMetadata(),
		connector.WithPrivateKey(),
	)
	_, err := s.connector.Execute(ctx, httpReq)
	return err
}

// BatchAuthorize authorizes several invoices, at most limit at a time.
// Results keep the order of requests.
func (s *InvoicesService) BatchAuthorize(ctx context.Context, requests []AuthorizationRequest, limit int) ([]AuthorizationOutcome, error) {
	if len(requests) == 0 {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: "at least one authorization request is required",
		}
	}
	if limit <= 0 {
		limit = len(requests)
	}

	sem := semaphore.New(limit)
	outcomes := make([]AuthorizationOutcome, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			return sem.Do(gctx, func() error {
				resp, err := s.Authorize(gctx, req)
				outcomes[i] = AuthorizationOutcome{Request: req, Response: resp, Err: err}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

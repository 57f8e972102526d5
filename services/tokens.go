package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vitwit/apmkit/connector"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

// TokenizationRequest continues tokenizing an alternative payment method for a customer token.
type TokenizationRequest struct {
	CustomerID             string                `json:"-" validate:"required"`
	CustomerTokenID        string                `json:"-" validate:"required"`
	GatewayConfigurationID string                `json:"gateway_configuration_id" validate:"required"`
	SubmitData             *types.SubmitData     `json:"submit_data,omitempty"`
	Redirect               *types.RedirectResult `json:"redirect,omitempty"`
	Locale                 string                `json:"-"`
}

// CustomerToken is the token being tokenized.
type CustomerToken struct {
	ID                     string `json:"id"`
	CustomerID             string `json:"customer_id"`
	GatewayConfigurationID string `json:"gateway_configuration_id"`
}

// TokenizationResponse is the wire shape of a tokenization step. Unlike invoice
// responses the gateway configuration is nested in the token.
type TokenizationResponse struct {
	State                types.PaymentState  `json:"state"`
	CustomerToken        *CustomerToken      `json:"customer_token,omitempty"`
	NextStep             *types.NextStep     `json:"next_step,omitempty"`
	CustomerInstructions []types.Instruction `json:"customer_instructions,omitempty"`
}

// CustomerTokensService wraps the customer token endpoints.
type CustomerTokensService struct {
	connector connector.Connector
	logger    logger.Logger
	timeout   time.Duration
}

// NewCustomerTokensService creates a new customer tokens service.
func NewCustomerTokensService(c connector.Connector, l logger.Logger, timeout time.Duration) *CustomerTokensService {
	return &CustomerTokensService{
		connector: c,
		logger:    logger.OrNoop(l),
		timeout:   timeout,
	}
}

// Tokenize submits the next tokenization step.
func (s *CustomerTokensService) Tokenize(ctx context.Context, req TokenizationRequest) (*TokenizationResponse, error) {
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: fmt.Sprintf("invalid tokenization request: %v", err),
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var opts []connector.RequestOption
	if req.Locale != "" {
		opts = append(opts, connector.WithHeaders(map[string]string{"Accept-Language": req.Locale}))
	}
	path := fmt.Sprintf(
		"/customers/%s/apm-tokens/%s/tokenize",
		url.PathEscape(req.CustomerID), url.PathEscape(req.CustomerTokenID),
	)

	resp, err := connector.Execute[TokenizationResponse](ctx, s.connector, connector.Post(path, req, opts...))
	if err != nil {
		s.logger.Debug("tokenization failed", map[string]any{
			"customer_token_id": req.CustomerTokenID,
			"error":             err,
		})
		return nil, err
	}
	return &resp, nil
}

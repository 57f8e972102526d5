// Package adapter routes a payment flow to the matching gateway service and
// normalizes the two response shapes into one.
package adapter

import (
	"context"
	"fmt"

	"github.com/vitwit/apmkit/services"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

// InvoiceAuthorizer is the part of the invoices service the adapter uses.
type InvoiceAuthorizer interface {
	Authorize(ctx context.Context, req services.AuthorizationRequest) (*services.AuthorizationResponse, error)
}

// CustomerTokenizer is the part of the customer tokens service the adapter uses.
type CustomerTokenizer interface {
	Tokenize(ctx context.Context, req services.TokenizationRequest) (*services.TokenizationResponse, error)
}

// Adapter translates flows into service calls. It never retries and passes
// failures through unchanged.
type Adapter struct {
	invoices InvoiceAuthorizer
	tokens   CustomerTokenizer
}

// New creates a new adapter.
func New(invoices InvoiceAuthorizer, tokens CustomerTokenizer) *Adapter {
	return &Adapter{invoices: invoices, tokens: tokens}
}

// ContinuePayment advances the flow with optional submit data or redirect result.
func (a *Adapter) ContinuePayment(ctx context.Context, req types.ContinueRequest) (*types.AuthorizationResult, error) {
	switch {
	case req.Flow.Authorization != nil:
		flow := req.Flow.Authorization
		resp, err := a.invoices.Authorize(ctx, services.AuthorizationRequest{
			InvoiceID:              flow.InvoiceID,
			GatewayConfigurationID: flow.GatewayConfigurationID,
			Source:                 flow.CustomerTokenID,
			SubmitData:             req.SubmitData,
			Redirect:               req.Redirect,
			Locale:                 req.Locale,
		})
		if err != nil {
			return nil, err
		}
		return normalize(resp.State, resp.GatewayConfigurationID, resp.NextStep, resp.CustomerInstructions)

	case req.Flow.Tokenization != nil:
		flow := req.Flow.Tokenization
		resp, err := a.tokens.Tokenize(ctx, services.TokenizationRequest{
			CustomerID:             flow.CustomerID,
			CustomerTokenID:        flow.CustomerTokenID,
			GatewayConfigurationID: flow.GatewayConfigurationID,
			SubmitData:             req.SubmitData,
			Redirect:               req.Redirect,
			Locale:                 req.Locale,
		})
		if err != nil {
			return nil, err
		}
		gatewayConfigurationID := flow.GatewayConfigurationID
		if resp.CustomerToken != nil && resp.CustomerToken.GatewayConfigurationID != "" {
			gatewayConfigurationID = resp.CustomerToken.GatewayConfigurationID
		}
		return normalize(resp.State, gatewayConfigurationID, resp.NextStep, resp.CustomerInstructions)

	default:
		return nil, types.InternalFailure(fmt.Errorf("unsupported payment flow %s", req.Flow))
	}
}

func normalize(
	state types.PaymentState,
	gatewayConfigurationID string,
	next *types.NextStep,
	instructions []types.Instruction,
) (*types.AuthorizationResult, error) {
	result := &types.AuthorizationResult{
		State:                  state,
		GatewayConfigurationID: gatewayConfigurationID,
		CustomerInstructions:   instructions,
	}

	if next != nil {
		switch next.Type {
		case types.NextStepSubmitData:
			defs := next.Parameters.Definitions
			if err := utils.ValidateDefinitions(defs); err != nil {
				return nil, types.InternalFailure(err)
			}
			result.Parameters = defs
			result.Elements = append(result.Elements, types.Element{Type: types.ElementForm, Parameters: defs})
		case types.NextStepRedirect:
			if next.URL == "" {
				return nil, types.InternalFailure(fmt.Errorf("redirect step without url"))
			}
			result.Redirect = &types.Redirect{URL: next.URL, Type: "web"}
		default:
			return nil, types.InternalFailure(fmt.Errorf("unsupported next step %q", next.Type))
		}
	}

	if len(instructions) > 0 {
		result.Elements = append(result.Elements, types.Element{Type: types.ElementInstructions, Instructions: instructions})
	}
	return result, nil
}

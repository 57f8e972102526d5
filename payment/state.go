package payment

import (
	"github.com/vitwit/apmkit/types"
)

// Status is the closed set of machine states.
type Status string

const (
	StatusIdle                 Status = "idle"
	StatusStarting             Status = "starting"
	StatusStarted              Status = "started"
	StatusSubmitting           Status = "submitting"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCaptured             Status = "captured"
	StatusFailed               Status = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCaptured || s == StatusFailed
}

// Parameter is a gateway parameter together with the customer's current input.
type Parameter struct {
	Definition      types.ParameterDefinition
	Value           string
	ValidationError string
}

// State is an immutable snapshot of a payment attempt. Each transition
// publishes a new State; slices are never shared between snapshots.
type State struct {
	Status                 Status
	Flow                   types.PaymentFlow
	GatewayConfigurationID string
	Parameters             []Parameter
	Elements               []types.Element

	// Redirect is set while a redirect callback is awaited.
	Redirect *types.Redirect

	// Failure is set in StatusFailed.
	Failure *types.Failure
}

// Parameter looks up a parameter by key.
func (s State) Parameter(key string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Definition.Key == key {
			return p, true
		}
	}
	return Parameter{}, false
}

// HasValidationErrors reports whether any parameter carries an error.
func (s State) HasValidationErrors() bool {
	for _, p := range s.Parameters {
		if p.ValidationError != "" {
			return true
		}
	}
	return false
}

func (s State) clone() State {
	out := s
	if s.Parameters != nil {
		out.Parameters = make([]Parameter, len(s.Parameters))
		for i, p := range s.Parameters {
			p.Definition = cloneDefinition(p.Definition)
			out.Parameters[i] = p
		}
	}
	if s.Elements != nil {
		out.Elements = make([]types.Element, len(s.Elements))
		for i, e := range s.Elements {
			e.Parameters = cloneDefinitions(e.Parameters)
			e.Instructions = append([]types.Instruction(nil), e.Instructions...)
			out.Elements[i] = e
		}
	}
	if s.Redirect != nil {
		r := *s.Redirect
		out.Redirect = &r
	}
	return out
}

func cloneDefinitions(defs []types.ParameterDefinition) []types.ParameterDefinition {
	if defs == nil {
		return nil
	}
	out := make([]types.ParameterDefinition, len(defs))
	for i, d := range defs {
		out[i] = cloneDefinition(d)
	}
	return out
}

func cloneDefinition(d types.ParameterDefinition) types.ParameterDefinition {
	d.Choices = append([]types.ParameterChoice(nil), d.Choices...)
	if d.MinLength != nil {
		v := *d.MinLength
		d.MinLength = &v
	}
	if d.MaxLength != nil {
		v := *d.MaxLength
		d.MaxLength = &v
	}
	return d
}

// newParameters creates one parameter per definition, prefilled with defaults.
func newParameters(defs []types.ParameterDefinition) []Parameter {
	params := make([]Parameter, len(defs))
	for i, d := range defs {
		params[i] = Parameter{Definition: cloneDefinition(d), Value: d.DefaultValue()}
	}
	return params
}

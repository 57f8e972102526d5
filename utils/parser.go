package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/apmkit/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct validates v using its `validate` struct tags.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// ValidateConfig checks a configuration value.
func ValidateConfig(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return &types.APMError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

// ParseConfig parses and validates Config from JSON
func ParseConfig(data []byte) (*types.Config, error) {
	var config types.Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidConfig,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ParseFlow parses and validates a PaymentFlow from JSON
func ParseFlow(data []byte) (*types.PaymentFlow, error) {
	var flow types.PaymentFlow

	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: fmt.Sprintf("failed to parse flow: %v", err),
		}
	}

	if err := flow.Validate(); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: err.Error(),
		}
	}
	if err := validate.Struct(&flow); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return &flow, nil
}

// ValidateDefinitions checks gateway supplied parameter definitions.
func ValidateDefinitions(defs []types.ParameterDefinition) error {
	seen := make(map[string]bool, len(defs))
	for i := range defs {
		if err := validate.Struct(&defs[i]); err != nil {
			return &types.APMError{
				Code:    types.ErrInvalidResponse,
				Message: fmt.Sprintf("parameter %d: %v", i, err),
			}
		}
		if seen[defs[i].Key] {
			return &types.APMError{
				Code:    types.ErrInvalidResponse,
				Message: fmt.Sprintf("duplicate parameter key %q", defs[i].Key),
			}
		}
		seen[defs[i].Key] = true
	}
	return nil
}

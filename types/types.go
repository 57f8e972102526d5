package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AuthorizationFlow authorizes an invoice through an alternative payment gateway.
type AuthorizationFlow struct {
	InvoiceID              string `json:"invoice_id" validate:"required"`
	GatewayConfigurationID string `json:"gateway_configuration_id" validate:"required"`

	// CustomerTokenID optionally pays with an existing customer token.
	CustomerTokenID string `json:"customer_token_id,omitempty"`
}

// TokenizationFlow tokenizes a payment method against a customer token.
type TokenizationFlow struct {
	CustomerID             string `json:"customer_id" validate:"required"`
	CustomerTokenID        string `json:"customer_token_id" validate:"required"`
	GatewayConfigurationID string `json:"gateway_configuration_id" validate:"required"`
}

// PaymentFlow is a tagged union, exactly one arm is set.
type PaymentFlow struct {
	Authorization *AuthorizationFlow `json:"authorization,omitempty"`
	Tokenization  *TokenizationFlow  `json:"tokenization,omitempty"`
}

// NewAuthorizationFlow creates an invoice authorization flow.
func NewAuthorizationFlow(invoiceID, gatewayConfigurationID string) PaymentFlow {
	return PaymentFlow{Authorization: &AuthorizationFlow{
		InvoiceID:              invoiceID,
		GatewayConfigurationID: gatewayConfigurationID,
	}}
}

// NewTokenizationFlow creates a customer token tokenization flow.
func NewTokenizationFlow(customerID, customerTokenID, gatewayConfigurationID string) PaymentFlow {
	return PaymentFlow{Tokenization: &TokenizationFlow{
		CustomerID:             customerID,
		CustomerTokenID:        customerTokenID,
		GatewayConfigurationID: gatewayConfigurationID,
	}}
}

func (f PaymentFlow) Validate() error {
	switch {
	case f.Authorization != nil && f.Tokenization != nil:
		return fmt.Errorf("flow must be either authorization or tokenization, not both")
	case f.Authorization != nil:
		if f.Authorization.InvoiceID == "" {
			return fmt.Errorf("authorization.invoice_id is required")
		}
		if f.Authorization.GatewayConfigurationID == "" {
			return fmt.Errorf("authorization.gateway_configuration_id is required")
		}
	case f.Tokenization != nil:
		if f.Tokenization.CustomerID == "" {
			return fmt.Errorf("tokenization.customer_id is required")
		}
		if f.Tokenization.CustomerTokenID == "" {
			return fmt.Errorf("tokenization.customer_token_id is required")
		}
		if f.Tokenization.GatewayConfigurationID == "" {
			return fmt.Errorf("tokenization.gateway_configuration_id is required")
		}
	default:
		return fmt.Errorf("flow is empty")
	}
	return nil
}

func (f PaymentFlow) String() string {
	switch {
	case f.Authorization != nil:
		return "authorization:" + f.Authorization.InvoiceID
	case f.Tokenization != nil:
		return "tokenization:" + f.Tokenization.CustomerTokenID
	default:
		return "unknown"
	}
}

// ParameterType is the input kind of a gateway parameter.
type ParameterType string

const (
	ParameterNumeric      ParameterType = "numeric"
	ParameterText         ParameterType = "text"
	ParameterEmail        ParameterType = "email"
	ParameterPhone        ParameterType = "phone"
	ParameterSingleSelect ParameterType = "single_select"
	ParameterMultiSelect  ParameterType = "multi_select"
)

// UnmarshalJSON maps wire type names onto the supported set. Unknown types collect free text.
func (t *ParameterType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToLower(raw) {
	case "numeric", "digits":
		*t = ParameterNumeric
	case "email":
		*t = ParameterEmail
	case "phone":
		*t = ParameterPhone
	case "single_select", "singleselect":
		*t = ParameterSingleSelect
	case "multi_select", "multiselect":
		*t = ParameterMultiSelect
	default:
		*t = ParameterText
	}
	return nil
}

// ParameterChoice is one selectable value of a select parameter.
type ParameterChoice struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Preselected bool   `json:"preselected,omitempty"`
}

// ParameterDefinition describes one value the gateway expects from the customer.
type ParameterDefinition struct {
	Key       string            `json:"key" validate:"required"`
	Label     string            `json:"label"`
	Type      ParameterType     `json:"type" validate:"required"`
	Required  bool              `json:"required"`
	Choices   []ParameterChoice `json:"available_values,omitempty"`
	MinLength *int              `json:"min_length,omitempty" validate:"omitempty,min=0"`
	MaxLength *int              `json:"max_length,omitempty" validate:"omitempty,min=0"`
	Pattern   string            `json:"pattern,omitempty"`
}

// DefaultValue returns the initial raw value derived from preselected choices.
func (d ParameterDefinition) DefaultValue() string {
	var selected []string
	for _, c := range d.Choices {
		if c.Preselected {
			selected = append(selected, c.Value)
		}
	}
	switch d.Type {
	case ParameterSingleSelect:
		if len(selected) > 0 {
			return selected[0]
		}
	case ParameterMultiSelect:
		return strings.Join(selected, ",")
	}
	return ""
}

// HasChoice reports whether value is one of the definition's choices.
func (d ParameterDefinition) HasChoice(value string) bool {
	for _, c := range d.Choices {
		if c.Value == value {
			return true
		}
	}
	return false
}

// PaymentState is the gateway reported state of a payment.
type PaymentState string

const (
	StateNextStepRequired PaymentState = "next_step_required"
	StatePendingCapture   PaymentState = "pending_capture"
	StateCaptured         PaymentState = "captured"
)

func (s *PaymentState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch st := PaymentState(strings.ToLower(raw)); st {
	case StateNextStepRequired, StatePendingCapture, StateCaptured:
		*s = st
		return nil
	default:
		return fmt.Errorf("unknown payment state %q", raw)
	}
}

// Redirect describes an out of band hop the customer must complete.
type Redirect struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Instruction is a piece of guidance shown to the customer while the payment is pending.
type Instruction struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// ElementType identifies an element of the next step.
type ElementType string

const (
	ElementForm         ElementType = "form"
	ElementInstructions ElementType = "instructions"
)

// Element is a renderable piece of the current payment step.
type Element struct {
	Type         ElementType           `json:"type"`
	Parameters   []ParameterDefinition `json:"parameters,omitempty"`
	Instructions []Instruction         `json:"instructions,omitempty"`
}

// NextStepType identifies what the gateway expects next.
type NextStepType string

const (
	NextStepSubmitData NextStepType = "submit_data"
	NextStepRedirect   NextStepType = "redirect"
)

// NextStep is the wire shape of the gateway's next step descriptor.
type NextStep struct {
	Type       NextStepType `json:"type"`
	URL        string       `json:"url,omitempty"`
	Parameters struct {
		Definitions []ParameterDefinition `json:"parameter_definitions"`
	} `json:"parameters"`
}

// SubmitData carries the customer's parameter values.
type SubmitData struct {
	Parameters map[string]any `json:"parameters"`
}

// RedirectResult reports the outcome of a completed redirect.
type RedirectResult struct {
	Success bool `json:"success"`
}

// ContinueRequest asks the gateway to advance a flow.
type ContinueRequest struct {
	Flow       PaymentFlow
	SubmitData *SubmitData
	Redirect   *RedirectResult
	Locale     string
}

// AuthorizationResult is the normalized gateway response shared by both flows.
type AuthorizationResult struct {
	State                  PaymentState
	GatewayConfigurationID string
	Elements               []Element
	Parameters             []ParameterDefinition
	Redirect               *Redirect
	CustomerInstructions   []Instruction
}

// Invoice is the subset of invoice details used when presenting a payment.
type Invoice struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency"`
	ReturnURL    string          `json:"return_url,omitempty"`
	ClientSecret string          `json:"-"`
}

// FormattedAmount renders the amount with the currency's two decimal places.
func (i Invoice) FormattedAmount() string {
	return i.Amount.StringFixed(2) + " " + i.CurrencyCode
}

// TelemetryConfig controls error event submission.
type TelemetryConfig struct {
	Enabled                  bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	BatchSize                int           `json:"batchSize" mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0"`
	FlushInterval            time.Duration `json:"flushInterval" mapstructure:"flush_interval" yaml:"flush_interval"`
	MaxConcurrentSubmissions int           `json:"maxConcurrentSubmissions" mapstructure:"max_concurrent_submissions" yaml:"max_concurrent_submissions" validate:"gte=0"`
}

// Config contains global configuration for the apmkit library
type Config struct {
	BaseURL             string          `json:"baseUrl" mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	ProjectID           string          `json:"projectId" mapstructure:"project_id" yaml:"project_id" validate:"required"`
	PrivateKey          string          `json:"privateKey,omitempty" mapstructure:"private_key" yaml:"private_key,omitempty"`
	Locale              string          `json:"locale,omitempty" mapstructure:"locale" yaml:"locale"`
	RequestTimeout      time.Duration   `json:"requestTimeout,omitempty" mapstructure:"request_timeout" yaml:"request_timeout" validate:"gte=0"`
	RetryCount          int             `json:"retryCount,omitempty" mapstructure:"retry_count" yaml:"retry_count" validate:"gte=0,lte=10"`
	RetryInterval       time.Duration   `json:"retryInterval,omitempty" mapstructure:"retry_interval" yaml:"retry_interval" validate:"gte=0"`
	RetryRate           float64         `json:"retryRate,omitempty" mapstructure:"retry_rate" yaml:"retry_rate" validate:"gte=0"`
	ConfirmationTimeout time.Duration   `json:"confirmationTimeout,omitempty" mapstructure:"confirmation_timeout" yaml:"confirmation_timeout" validate:"gte=0"`
	PollInterval        time.Duration   `json:"pollInterval,omitempty" mapstructure:"poll_interval" yaml:"poll_interval" validate:"gte=0"`
	ReturnURL           string          `json:"returnUrl,omitempty" mapstructure:"return_url" yaml:"return_url" validate:"omitempty,url"`
	LogLevel            string          `json:"logLevel,omitempty" mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics       bool            `json:"enableMetrics,omitempty" mapstructure:"enable_metrics" yaml:"enable_metrics"`
	Telemetry           TelemetryConfig `json:"telemetry" mapstructure:"telemetry" yaml:"telemetry"`
}

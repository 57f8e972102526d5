package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind is the closed set of failure classes surfaced by the connector.
type FailureKind string

const (
	KindEncoding           FailureKind = "encoding"
	KindDecoding           FailureKind = "decoding"
	KindNetworkUnreachable FailureKind = "network_unreachable"
	KindTimeout            FailureKind = "timeout"
	KindServer             FailureKind = "server"
	KindCancelled          FailureKind = "cancelled"
	KindInternal           FailureKind = "internal"
)

// InvalidField describes a single rejected input reported by the gateway.
type InvalidField struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ServerError is decoded from a non-success server envelope.
type ServerError struct {
	ErrorType     string         `json:"errorType"`
	Message       *string        `json:"message,omitempty"`
	InvalidFields []InvalidField `json:"invalidFields,omitempty"`
}

// UnmarshalJSON accepts both camelCase and snake_case envelope keys.
func (e *ServerError) UnmarshalJSON(data []byte) error {
	var raw struct {
		ErrorType          string         `json:"errorType"`
		ErrorTypeSnake     string         `json:"error_type"`
		Message            *string        `json:"message"`
		InvalidFields      []InvalidField `json:"invalidFields"`
		InvalidFieldsSnake []InvalidField `json:"invalid_fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ErrorType = raw.ErrorType
	if e.ErrorType == "" {
		e.ErrorType = raw.ErrorTypeSnake
	}
	e.Message = raw.Message
	e.InvalidFields = raw.InvalidFields
	if e.InvalidFields == nil {
		e.InvalidFields = raw.InvalidFieldsSnake
	}
	return nil
}

// Failure is the error value produced by every layer below the state machine.
// It is never mutated after construction.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Server     *ServerError
	Err        error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindServer:
		msg := ""
		if f.Server != nil {
			msg = f.Server.ErrorType
			if f.Server.Message != nil {
				msg += ": " + *f.Server.Message
			}
		}
		return fmt.Sprintf("server failure (status %d) %s", f.StatusCode, msg)
	case KindDecoding:
		if f.Err != nil {
			return fmt.Sprintf("decoding failure (status %d): %v", f.StatusCode, f.Err)
		}
		return fmt.Sprintf("decoding failure (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s failure", f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message returns the user presentable message. It prefers the gateway
// message and never exposes the failure kind.
func (f *Failure) Message() string {
	if f.Server != nil && f.Server.Message != nil && *f.Server.Message != "" {
		return *f.Server.Message
	}
	return "Something went wrong. Please try again."
}

// InvalidFields returns the field errors carried by a server failure.
func (f *Failure) InvalidFields() []InvalidField {
	if f.Kind != KindServer || f.Server == nil {
		return nil
	}
	return f.Server.InvalidFields
}

func EncodingFailure(err error) *Failure {
	return &Failure{Kind: KindEncoding, Err: err}
}

func DecodingFailure(statusCode int, err error) *Failure {
	return &Failure{Kind: KindDecoding, StatusCode: statusCode, Err: err}
}

func ServerFailure(serverErr ServerError, statusCode int) *Failure {
	return &Failure{Kind: KindServer, StatusCode: statusCode, Server: &serverErr}
}

func NetworkUnreachableFailure(err error) *Failure {
	return &Failure{Kind: KindNetworkUnreachable, Err: err}
}

func TimeoutFailure(err error) *Failure {
	return &Failure{Kind: KindTimeout, Err: err}
}

func CancelledFailure(err error) *Failure {
	return &Failure{Kind: KindCancelled, Err: err}
}

func InternalFailure(err error) *Failure {
	return &Failure{Kind: KindInternal, Err: err}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) FailureKind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return KindInternal
}

// APMError reports configuration and input problems detected before any call is made.
type APMError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e APMError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidConfig    = "INVALID_CONFIG"
	ErrInvalidFlow      = "INVALID_FLOW"
	ErrInvalidParameter = "INVALID_PARAMETER"
	ErrInvalidResponse  = "INVALID_RESPONSE"
)

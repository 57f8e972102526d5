package connector

import (
	"fmt"

	"github.com/google/uuid"
)

// Method is an HTTP method supported by the connector.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Request describes one outbound call. It is built per call and never
// modified afterwards, so retries resend the exact same value.
type Request struct {
	ID                     string
	Method                 Method
	Path                   string
	Query                  map[string]string
	Body                   any
	Headers                map[string]string
	IncludesDeviceMetadata bool
	RequiresPrivateKey     bool
}

// RequestOption customizes a Request during construction.
type RequestOption func(*Request)

// NewRequest creates a request with a fresh id.
func NewRequest(method Method, path string, opts ...RequestOption) *Request {
	r := &Request{
		ID:      uuid.NewString(),
		Method:  method,
		Path:    path,
		Query:   map[string]string{},
		Headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func Get(path string, opts ...RequestOption) *Request {
	return NewRequest(MethodGet, path, opts...)
}

func Post(path string, body any, opts ...RequestOption) *Request {
	return NewRequest(MethodPost, path, append([]RequestOption{WithBody(body)}, opts...)...)
}

func Put(path string, body any, opts ...RequestOption) *Request {
	return NewRequest(MethodPut, path, append([]RequestOption{WithBody(body)}, opts...)...)
}

func Delete(path string, opts ...RequestOption) *Request {
	return NewRequest(MethodDelete, path, opts...)
}

func WithBody(body any) RequestOption {
	return func(r *Request) {
		r.Body = body
	}
}

// WithQuery adds query items, formatting each value with fmt.Sprint.
func WithQuery(query map[string]any) RequestOption {
	return func(r *Request) {
		for k, v := range query {
			r.Query[k] = fmt.Sprint(v)
		}
	}
}

func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) {
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

// WithDeviceMetadata merges a "device" object into the encoded body.
func WithDeviceMetadata() RequestOption {
	return func(r *Request) {
		r.IncludesDeviceMetadata = true
	}
}

// WithPrivateKey requires the configured private key to authorize the call.
func WithPrivateKey() RequestOption {
	return func(r *Request) {
		r.RequiresPrivateKey = true
	}
}

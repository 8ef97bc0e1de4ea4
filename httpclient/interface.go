// Package httpclient executes requests against the model-inference proxy with
// retries, exponential backoff and overload detection, returning either a fully
// buffered response or a lazily consumed text stream.
package httpclient

import (
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"time"
)

const (
	// HeaderContentType is added to every request unless the caller sets it
	HeaderContentType = "Content-Type"
	// ContentTypeJSON is the default request content type
	ContentTypeJSON = "application/json"
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *nethttp.Request) (*nethttp.Response, error)
}

// Request describes one logical call. It is never modified by the executor.
type Request struct {
	// Method defaults to GET when empty
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent verbatim. Mutually exclusive with JSON.
	Body []byte
	// JSON is serialized once per Execute and sent as the body
	JSON any
}

// Response is a fully buffered proxy response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	// CallCount is the number of attempts made, including the successful one
	CallCount int64
}

// Result holds exactly one of Response (buffered mode) or Stream (streaming mode).
type Result struct {
	Response *Response
	Stream   *Stream
}

// Decode unmarshals the buffered body as JSON into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

func (r *Request) method() string {
	if r.Method == "" {
		return nethttp.MethodGet
	}
	return r.Method
}

// payload returns the bytes to send, marshaling JSON when no raw body is given.
func (r *Request) payload() ([]byte, error) {
	if r.Body != nil && r.JSON != nil {
		return nil, NewValidationError("request sets both Body and JSON", "body")
	}
	if r.Body != nil {
		return r.Body, nil
	}
	if r.JSON == nil {
		return nil, nil
	}
	data, err := json.Marshal(r.JSON)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("encoding JSON payload: %v", err), "json")
	}
	return data, nil
}

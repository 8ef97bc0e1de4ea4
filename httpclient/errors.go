package httpclient

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

// ErrorKind identifies the terminal classification of a failed call
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindOverloaded means the final attempt carried the upstream overload signal
	KindOverloaded
	// KindClientRejected is a structured 4xx error body; never retried
	KindClientRejected
	// KindTransport is a connection-level failure of a single attempt
	KindTransport
	// KindExhausted means every attempt failed without a structured signal
	KindExhausted
	// KindValidation is raised before any network call
	KindValidation
	// KindStreamingBody is raised lazily by a Stream whose status is >= 400
	KindStreamingBody
	// KindCanceled means the caller's context ended the call
	KindCanceled
	// KindHTTPStatus is an unexpected status reported by request-building code
	KindHTTPStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindOverloaded:
		return "overloaded"
	case KindClientRejected:
		return "client rejected"
	case KindTransport:
		return "transport"
	case KindExhausted:
		return "retries exhausted"
	case KindValidation:
		return "validation"
	case KindStreamingBody:
		return "streaming body"
	case KindCanceled:
		return "canceled"
	case KindHTTPStatus:
		return "http status"
	default:
		return "unknown"
	}
}

// OverloadedMessage is the message carried by every KindOverloaded error
const OverloadedMessage = "the API is currently overloaded, please try again later"

// ClientError is the classified error returned by the executor and streams.
type ClientError struct {
	kind       ErrorKind
	message    string
	statusCode int
	errorType  string
	field      string
	body       []byte
	attempts   int
	cause      error
}

func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString(e.kind.String())
	b.WriteString(" error")
	if e.errorType != "" {
		b.WriteString(" (")
		b.WriteString(e.errorType)
		b.WriteString(")")
	}
	if e.message != "" {
		b.WriteString(": ")
		b.WriteString(e.message)
	}
	if e.field != "" {
		b.WriteString(" field=")
		b.WriteString(e.field)
	}
	if e.statusCode != 0 {
		b.WriteString(fmt.Sprintf(" [http %d]", e.statusCode))
	}
	if e.attempts > 0 {
		b.WriteString(fmt.Sprintf(" after %d attempt(s)", e.attempts))
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *ClientError) Unwrap() error { return e.cause }

// Kind returns the classification
func (e *ClientError) Kind() ErrorKind { return e.kind }

// Message returns the human readable message without decoration
func (e *ClientError) Message() string { return e.message }

// StatusCode returns the HTTP status, or 0 when no response was involved
func (e *ClientError) StatusCode() int { return e.statusCode }

// ErrorType returns the upstream error.type value, if any
func (e *ClientError) ErrorType() string { return e.errorType }

// Field returns the offending field of a validation error
func (e *ClientError) Field() string { return e.field }

// Body returns the response body captured with the error
func (e *ClientError) Body() []byte { return e.body }

// Attempts returns how many attempts were made before the error
func (e *ClientError) Attempts() int { return e.attempts }

// NewOverloadedError reports an overload signal on the final attempt
func NewOverloadedError(statusCode, attempts int, body []byte) *ClientError {
	return &ClientError{
		kind:       KindOverloaded,
		message:    OverloadedMessage,
		errorType:  overloadedErrorType,
		statusCode: statusCode,
		body:       body,
		attempts:   attempts,
	}
}

// NewClientRejectedError reports a structured, non-retryable 4xx error
func NewClientRejectedError(message, errorType string, statusCode int, body []byte) *ClientError {
	return &ClientError{
		kind:       KindClientRejected,
		message:    message,
		errorType:  errorType,
		statusCode: statusCode,
		body:       body,
		attempts:   1,
	}
}

// NewTransportError wraps a connection-level failure
func NewTransportError(message string, cause error) *ClientError {
	return &ClientError{kind: KindTransport, message: message, cause: cause}
}

// NewExhaustedError reports that all attempts failed. cause is the last
// attempt's error and statusCode its status, if it got a response.
func NewExhaustedError(attempts, statusCode int, cause error) *ClientError {
	return &ClientError{
		kind:       KindExhausted,
		message:    "request failed",
		statusCode: statusCode,
		attempts:   attempts,
		cause:      cause,
	}
}

// NewValidationError reports an input problem found before any network call
func NewValidationError(message, field string) *ClientError {
	return &ClientError{kind: KindValidation, message: message, field: field}
}

// NewStreamingBodyError reports an error status discovered by a Stream
func NewStreamingBodyError(message string, statusCode int, body []byte) *ClientError {
	return &ClientError{kind: KindStreamingBody, message: message, statusCode: statusCode, body: body}
}

// NewCanceledError reports that the caller's context ended the call
func NewCanceledError(cause error, attempts int) *ClientError {
	return &ClientError{kind: KindCanceled, message: "request canceled", attempts: attempts, cause: cause}
}

// NewHTTPError reports a response status the caller did not expect
func NewHTTPError(message string, statusCode int, body []byte) *ClientError {
	return &ClientError{kind: KindHTTPStatus, message: message, statusCode: statusCode, body: body}
}

// AsClientError extracts a *ClientError from err's chain.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsErrorKind reports whether err is a *ClientError of the given kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	ce, ok := AsClientError(err)
	return ok && ce.kind == kind
}

// IsOverloaded reports whether err is a terminal overload error
func IsOverloaded(err error) bool { return IsErrorKind(err, KindOverloaded) }

// IsHTTPStatusError reports whether err carries the given status code
func IsHTTPStatusError(err error, statusCode int) bool {
	ce, ok := AsClientError(err)
	return ok && ce.statusCode == statusCode
}

// IsSuccessStatus reports whether statusCode is in the 2xx range
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= nethttp.StatusOK && statusCode < nethttp.StatusMultipleChoices
}

func isClientErrorStatus(statusCode int) bool {
	return statusCode >= nethttp.StatusBadRequest && statusCode < nethttp.StatusInternalServerError
}

func isServerErrorStatus(statusCode int) bool {
	return statusCode >= nethttp.StatusInternalServerError && statusCode < 600
}

package fixtures

import (
	"errors"
	nethttp "net/http"

	"github.com/gaborage/go-modelproxy/testing/mocks"
)

// Canned upstream bodies
const (
	OverloadedBody  = `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`
	RateLimitBody   = `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`
	ServerErrorBody = `{"error":{"message":"internal error"}}`

	CompletionBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-4",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],` +
		`"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`
)

// StatusOverloaded is the non-standard status the upstream uses for overload
const StatusOverloaded = 529

// ErrConnectionRefused is the transport failure returned by failing doers
var ErrConnectionRefused = errors.New("dial tcp 127.0.0.1:443: connect: connection refused")

// NewWorkingDoer answers every request with 200 and body
func NewWorkingDoer(body string) *mocks.MockDoer {
	doer := &mocks.MockDoer{}
	doer.ExpectDoStatus(nethttp.StatusOK, body)
	return doer
}

// NewFlakyDoer fails with status the given number of times before answering
// with 200 and body.
func NewFlakyDoer(failures, status int, body string) *mocks.MockDoer {
	doer := &mocks.MockDoer{}
	if failures > 0 {
		doer.ExpectDoStatus(status, ServerErrorBody).Times(failures)
	}
	doer.ExpectDoStatus(nethttp.StatusOK, body)
	return doer
}

// NewOverloadedDoer always reports an upstream overload
func NewOverloadedDoer() *mocks.MockDoer {
	doer := &mocks.MockDoer{}
	doer.ExpectDoStatus(StatusOverloaded, OverloadedBody)
	return doer
}

// NewUnreachableDoer fails every request at the transport level
func NewUnreachableDoer() *mocks.MockDoer {
	doer := &mocks.MockDoer{}
	doer.ExpectDoError(ErrConnectionRefused)
	return doer
}

package mocks

import (
	"bytes"
	"io"
	nethttp "net/http"

	"github.com/stretchr/testify/mock"
)

// MockDoer provides a testify-based mock implementation of httpclient.Doer.
//
// Example usage:
//
//	doer := &mocks.MockDoer{}
//	doer.ExpectDoStatus(503, `{"error":"busy"}`).Once()
//	doer.ExpectDoStatus(200, `{"id":"x"}`)
//	exec := httpclient.NewExecutor(httpclient.WithDoer(doer))
type MockDoer struct {
	mock.Mock
}

// Do implements httpclient.Doer
func (m *MockDoer) Do(req *nethttp.Request) (*nethttp.Response, error) {
	args := m.Called(req)
	switch r := args.Get(0).(type) {
	case func(*nethttp.Request) (*nethttp.Response, error):
		return r(req)
	case *nethttp.Response:
		return r, args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

// ExpectDoStatus answers any request with a fresh response of the given
// status and body. Each call gets its own body reader.
func (m *MockDoer) ExpectDoStatus(status int, body string) *mock.Call {
	return m.On("Do", mock.AnythingOfType("*http.Request")).
		Return(respond(status, body), nil)
}

// ExpectDoError fails any request with err before a response is received
func (m *MockDoer) ExpectDoError(err error) *mock.Call {
	return m.On("Do", mock.AnythingOfType("*http.Request")).Return(nil, err)
}

// ExpectDoMatching answers requests accepted by match
func (m *MockDoer) ExpectDoMatching(match func(*nethttp.Request) bool, status int, body string) *mock.Call {
	return m.On("Do", mock.MatchedBy(match)).
		Return(respond(status, body), nil)
}

// Requests returns the requests received so far, in order
func (m *MockDoer) Requests() []*nethttp.Request {
	var out []*nethttp.Request
	for _, c := range m.Calls {
		if c.Method == "Do" {
			out = append(out, c.Arguments.Get(0).(*nethttp.Request))
		}
	}
	return out
}

// NewResponse builds a JSON response with the given status and body
func NewResponse(status int, body string) *nethttp.Response {
	return &nethttp.Response{
		StatusCode:    status,
		Status:        nethttp.StatusText(status),
		Header:        nethttp.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
	}
}

func respond(status int, body string) func(*nethttp.Request) (*nethttp.Response, error) {
	return func(*nethttp.Request) (*nethttp.Response, error) {
		return NewResponse(status, body), nil
	}
}

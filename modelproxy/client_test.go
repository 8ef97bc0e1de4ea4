package modelproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-modelproxy/config"
	"github.com/gaborage/go-modelproxy/httpclient"
	"github.com/gaborage/go-modelproxy/logger"
	testconsts "github.com/gaborage/go-modelproxy/testing"
	"github.com/gaborage/go-modelproxy/testing/fixtures"
	"github.com/gaborage/go-modelproxy/testing/mocks"
)

var helloMessages = []Message{{Role: RoleUser, Content: "hi"}}

// captured is a request as seen by the test server
type captured struct {
	method string
	path   string
	header nethttp.Header
	body   []byte
}

type proxyServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []captured
}

func newProxyServer(t *testing.T, handler nethttp.HandlerFunc) *proxyServer {
	t.Helper()
	ps := &proxyServer{}
	ps.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		ps.mu.Lock()
		ps.requests = append(ps.requests, captured{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: body})
		ps.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *proxyServer) Requests() []captured {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]captured(nil), ps.requests...)
}

func respondWith(status int, body string) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func proxyConfig(baseURL string) config.ProxyConfig {
	return config.ProxyConfig{
		BaseURL:     baseURL,
		APIKey:      testconsts.TestAPIKey,
		Model:       testconsts.TestModel,
		Temperature: 0.7,
	}
}

func newTestClient(t *testing.T, cfg config.ProxyConfig, doer httpclient.Doer, sleeper *sleepRecorder) *Client {
	t.Helper()
	opts := []httpclient.Option{httpclient.WithSleeper(sleeper.Sleep), httpclient.WithRandom(func() float64 { return 0.5 })}
	if doer != nil {
		opts = append(opts, httpclient.WithDoer(doer))
	}
	return NewClient(cfg, WithExecutor(httpclient.NewExecutor(opts...)))
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestNewClientNormalizesBaseURL(t *testing.T) {
	c := NewClient(config.ProxyConfig{BaseURL: "https://proxy.example.com//", Model: testconsts.TestModel})
	assert.Equal(t, "https://proxy.example.com", c.BaseURL())

	c = NewClient(config.ProxyConfig{Model: testconsts.TestModel})
	assert.Equal(t, config.DefaultBaseURL, c.BaseURL())
}

func TestChatCompletionsSuccess(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	c := newTestClient(t, proxyConfig(srv.URL+"/"), nil, &sleepRecorder{})

	resp, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content())
	assert.Equal(t, "chatcmpl-1", resp.ID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.JSONEq(t, fixtures.CompletionBody, string(resp.Raw))

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, nethttp.MethodPost, reqs[0].method)
	assert.Equal(t, chatCompletionsPath, reqs[0].path)
	assert.Equal(t, "Bearer "+testconsts.TestAPIKey, reqs[0].header.Get("Authorization"))
	assert.Equal(t, httpclient.ContentTypeJSON, reqs[0].header.Get(httpclient.HeaderContentType))
	assert.NotEmpty(t, reqs[0].header.Get("X-Request-ID"))

	body := decodeBody(t, reqs[0].body)
	assert.Equal(t, testconsts.TestModel, body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)
	assert.Equal(t, false, body["stream"])
	assert.Len(t, body["messages"], 1)
}

func TestChatCompletionsOverridesModelAndTemperature(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	c := newTestClient(t, proxyConfig(srv.URL), nil, &sleepRecorder{})

	_, err := c.ChatCompletions(context.Background(), ChatRequest{
		Messages:    helloMessages,
		Model:       "claude-3",
		Temperature: Temperature(0),
	})
	require.NoError(t, err)

	body := decodeBody(t, srv.Requests()[0].body)
	assert.Equal(t, "claude-3", body["model"])
	assert.InDelta(t, 0.0, body["temperature"], 1e-9)
}

func TestChatCompletionsWithoutAPIKeyOmitsAuthorization(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	cfg := proxyConfig(srv.URL)
	cfg.APIKey = ""
	c := newTestClient(t, cfg, nil, &sleepRecorder{})

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.NoError(t, err)
	assert.Empty(t, srv.Requests()[0].header.Get("Authorization"))
}

func TestChatCompletionsRejectsInvalidMessagesWithoutCalling(t *testing.T) {
	doer := &mocks.MockDoer{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, &sleepRecorder{})

	_, err := c.ChatCompletions(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindValidation))
	doer.AssertNotCalled(t, "Do", mock.Anything)
}

func TestChatCompletionsRetriesServerErrors(t *testing.T) {
	doer := fixtures.NewFlakyDoer(2, nethttp.StatusServiceUnavailable, fixtures.CompletionBody)
	sleeper := &sleepRecorder{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, sleeper)

	resp, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content())
	doer.AssertNumberOfCalls(t, "Do", 3)
	assert.Equal(t, 2, sleeper.Count())

	// the payload is resent unchanged on every attempt
	reqs := doer.Requests()
	require.Len(t, reqs, 3)
	var payloads [][]byte
	for _, r := range reqs {
		b, err := r.GetBody()
		require.NoError(t, err)
		data, err := io.ReadAll(b)
		require.NoError(t, err)
		payloads = append(payloads, data)
	}
	assert.Equal(t, payloads[0], payloads[1])
	assert.Equal(t, payloads[0], payloads[2])
}

func TestChatCompletionsOverloaded(t *testing.T) {
	doer := fixtures.NewOverloadedDoer()
	sleeper := &sleepRecorder{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, sleeper)

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.Error(t, err)
	assert.True(t, httpclient.IsOverloaded(err))
	assert.Contains(t, err.Error(), "chat completions:")

	ce, ok := httpclient.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, 5, ce.Attempts())
	doer.AssertNumberOfCalls(t, "Do", 5)
	assert.Equal(t, 4, sleeper.Count())
}

func TestChatCompletionsStructuredClientErrorIsNotRetried(t *testing.T) {
	doer := &mocks.MockDoer{}
	doer.ExpectDoStatus(nethttp.StatusTooManyRequests, fixtures.RateLimitBody)
	sleeper := &sleepRecorder{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, sleeper)

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.Error(t, err)

	ce, ok := httpclient.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, httpclient.KindClientRejected, ce.Kind())
	assert.Equal(t, "rate_limit_error", ce.ErrorType())
	assert.Equal(t, "Rate limit exceeded", ce.Message())
	doer.AssertNumberOfCalls(t, "Do", 1)
	assert.Zero(t, sleeper.Count())
}

func TestChatCompletionsUnstructuredClientErrorIsReported(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusNotFound, "not found"))
	c := newTestClient(t, proxyConfig(srv.URL), nil, &sleepRecorder{})

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.Error(t, err)
	assert.True(t, httpclient.IsHTTPStatusError(err, nethttp.StatusNotFound))
	assert.Contains(t, err.Error(), "API error: 404 - not found")
	assert.Len(t, srv.Requests(), 1)
}

func TestChatCompletionsTransportFailureExhausts(t *testing.T) {
	doer := fixtures.NewUnreachableDoer()
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, &sleepRecorder{})

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.Error(t, err)
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindExhausted))
	assert.ErrorIs(t, err, fixtures.ErrConnectionRefused)
	doer.AssertNumberOfCalls(t, "Do", 5)
}

func TestChatCompletionsStream(t *testing.T) {
	srv := newProxyServer(t, func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		flusher := w.(nethttp.Flusher)
		for _, part := range []string{"data: Hel", "lo\n\n", "data: [DONE]\n\n"} {
			_, _ = io.WriteString(w, part)
			flusher.Flush()
		}
	})
	c := newTestClient(t, proxyConfig(srv.URL), nil, &sleepRecorder{})

	stream, err := c.ChatCompletionsStream(context.Background(), ChatRequest{Messages: helloMessages})
	require.NoError(t, err)
	text, err := stream.Text()
	require.NoError(t, err)
	assert.Equal(t, "data: Hello\n\ndata: [DONE]\n\n", text)

	body := decodeBody(t, srv.Requests()[0].body)
	assert.Equal(t, true, body["stream"])
}

func TestChatCompletionsStreamRejectsInvalidMessages(t *testing.T) {
	doer := &mocks.MockDoer{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, &sleepRecorder{})

	_, err := c.ChatCompletionsStream(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser}}})
	require.Error(t, err)
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindValidation))
	doer.AssertNotCalled(t, "Do", mock.Anything)
}

func TestApplyEdit(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	c := newTestClient(t, proxyConfig(srv.URL), nil, &sleepRecorder{})

	resp, err := c.ApplyEdit(context.Background(), "make it shorter", "a long text", "claude-3")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content())

	var sent ChatRequest
	require.NoError(t, json.Unmarshal(srv.Requests()[0].body, &sent))
	assert.Equal(t, "claude-3", sent.Model)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: editSystemPrompt}, sent.Messages[0])
	assert.Equal(t, RoleUser, sent.Messages[1].Role)
	assert.Equal(t, "Content to edit:\n\na long text\n\nInstruction: make it shorter", sent.Messages[1].Content)
}

func TestApplyEditDefaultsModel(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	c := newTestClient(t, proxyConfig(srv.URL), nil, &sleepRecorder{})

	_, err := c.ApplyEdit(context.Background(), "fix typos", "teh text", "")
	require.NoError(t, err)
	assert.Equal(t, testconsts.TestModel, decodeBody(t, srv.Requests()[0].body)["model"])
}

func TestApplyEditRejectsBlankInput(t *testing.T) {
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), &mocks.MockDoer{}, &sleepRecorder{})

	tests := []struct {
		name        string
		instruction string
		content     string
		field       string
	}{
		{name: "empty instruction", content: "text", field: "instruction"},
		{name: "whitespace instruction", instruction: "  \n", content: "text", field: "instruction"},
		{name: "empty content", instruction: "shorten", field: "content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ApplyEdit(context.Background(), tt.instruction, tt.content, "")
			ce, ok := httpclient.AsClientError(err)
			require.True(t, ok)
			assert.Equal(t, httpclient.KindValidation, ce.Kind())
			assert.Equal(t, tt.field, ce.Field())
		})
	}
}

func TestStreamDiffGetWithoutMessages(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, "+added\n-removed\n"))
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), nil, &sleepRecorder{})

	stream, err := c.StreamDiff(context.Background(), srv.URL+"/diff", map[string]string{"X-Workspace": "ws-1"}, nil)
	require.NoError(t, err)
	text, err := stream.Text()
	require.NoError(t, err)
	assert.Equal(t, "+added\n-removed\n", text)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, nethttp.MethodGet, reqs[0].method)
	assert.Equal(t, "/diff", reqs[0].path)
	assert.Equal(t, "ws-1", reqs[0].header.Get("X-Workspace"))
	assert.Empty(t, reqs[0].header.Get("Authorization"))
	assert.Empty(t, reqs[0].body)
}

func TestStreamDiffPostsMessages(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, "diff"))
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), nil, &sleepRecorder{})

	stream, err := c.StreamDiff(context.Background(), srv.URL, nil, helloMessages)
	require.NoError(t, err)
	_, err = stream.Text()
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, nethttp.MethodPost, reqs[0].method)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(reqs[0].body))
}

func TestStreamDiffValidationErrorIsNotWrapped(t *testing.T) {
	doer := &mocks.MockDoer{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, &sleepRecorder{})

	_, err := c.StreamDiff(context.Background(), testconsts.TestBaseURL, nil, []Message{{Content: "x"}})
	require.Error(t, err)
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindValidation))
	assert.NotContains(t, err.Error(), "failed to stream diff")
	doer.AssertNotCalled(t, "Do", mock.Anything)
}

func TestStreamDiffRetriesThenWraps(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusInternalServerError, fixtures.ServerErrorBody))
	sleeper := &sleepRecorder{}
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), nil, sleeper)

	_, err := c.StreamDiff(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to stream diff from "+srv.URL+": "))
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindExhausted))
	assert.Len(t, srv.Requests(), 5)
	assert.Equal(t, 4, sleeper.Count())
}

func TestStreamDiffClientErrorSurfacesOnRead(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusBadRequest, `{"error":"bad diff"}`))
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), nil, &sleepRecorder{})

	stream, err := c.StreamDiff(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Error(t, err)
	assert.True(t, httpclient.IsErrorKind(err, httpclient.KindStreamingBody))
	assert.Contains(t, err.Error(), `HTTP 400`)
	assert.Len(t, srv.Requests(), 1)
}

func TestClientLogsWithoutCredentials(t *testing.T) {
	srv := newProxyServer(t, respondWith(nethttp.StatusOK, fixtures.CompletionBody))
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, testconsts.TestLoggerLevelDebug, nil)
	exec := httpclient.NewExecutor(httpclient.WithLogger(log))
	c := NewClient(proxyConfig(srv.URL), WithExecutor(exec), WithLogger(log))

	_, err := c.ChatCompletions(context.Background(), ChatRequest{Messages: helloMessages})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Sending chat completions request")
	assert.NotContains(t, buf.String(), testconsts.TestAPIKey)
}

func TestChatCompletionsCanceledContext(t *testing.T) {
	doer := &mocks.MockDoer{}
	doer.On("Do", mock.Anything).Return(nil, context.Canceled).Maybe()
	c := newTestClient(t, proxyConfig(testconsts.TestBaseURL), doer, &sleepRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ChatCompletions(ctx, ChatRequest{Messages: helloMessages})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

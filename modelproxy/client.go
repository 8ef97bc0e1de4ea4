// Package modelproxy is a client for the Continue model proxy built on the
// retrying executor in httpclient.
package modelproxy

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gaborage/go-modelproxy/config"
	"github.com/gaborage/go-modelproxy/httpclient"
	"github.com/gaborage/go-modelproxy/logger"
)

const (
	chatCompletionsPath = "/model-proxy/v1/chat/completions"

	editSystemPrompt = "You are a helpful assistant that edits content according to instructions."

	headerAuthorization = "Authorization"
)

// DefaultPolicy is used for proxy calls when no policy is configured
func DefaultPolicy() httpclient.RetryPolicy {
	return httpclient.RetryPolicy{
		MaxAttempts:      5,
		InitialDelay:     2 * time.Second,
		MaxDelay:         60 * time.Second,
		JitterFraction:   0.1,
		DetectOverloaded: true,
	}
}

// DiffPolicy is used by StreamDiff
func DiffPolicy() httpclient.RetryPolicy {
	p := httpclient.DefaultRetryPolicy()
	p.MaxAttempts = 5
	return p
}

// Client talks to the model proxy. It is safe for concurrent use.
type Client struct {
	baseURL     string
	headers     map[string]string
	model       string
	temperature float64
	policy      httpclient.RetryPolicy
	exec        *httpclient.Executor
	log         logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithExecutor sets the executor used for every call
func WithExecutor(exec *httpclient.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the client logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRetryPolicy overrides DefaultPolicy for chat calls
func WithRetryPolicy(p httpclient.RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a client for cfg.BaseURL. The API key, when set, is sent
// as a bearer token on chat calls.
func NewClient(cfg config.ProxyConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		headers:     map[string]string{httpclient.HeaderContentType: httpclient.ContentTypeJSON},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		policy:      DefaultPolicy(),
		log:         logger.Nop(),
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultBaseURL
	}
	if cfg.APIKey != "" {
		c.headers[headerAuthorization] = "Bearer " + cfg.APIKey
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.exec = httpclient.NewExecutor(httpclient.WithLogger(c.log))
	}
	return c
}

// BaseURL returns the normalized proxy URL
func (c *Client) BaseURL() string { return c.baseURL }

// ChatCompletions sends a non-streaming chat request and decodes the reply.
// Any status other than 200 that survives the retry policy is reported as a
// KindHTTPStatus error carrying the response body.
func (c *Client) ChatCompletions(ctx context.Context, req ChatRequest) (*ChatCompletion, error) {
	req.Stream = false
	httpReq, err := c.chatRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.exec.Do(ctx, httpReq, c.policy)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		c.log.Error().Int("status", resp.StatusCode).Msg("Chat completions returned an error status")
		return nil, httpclient.NewHTTPError(
			fmt.Sprintf("API error: %d - %s", resp.StatusCode, resp.Body), resp.StatusCode, resp.Body)
	}

	var out ChatCompletion
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	out.Raw = resp.Body
	return &out, nil
}

// ChatCompletionsStream sends a streaming chat request. The caller owns the
// returned stream and must drain or Close it.
func (c *Client) ChatCompletionsStream(ctx context.Context, req ChatRequest) (*httpclient.Stream, error) {
	req.Stream = true
	httpReq, err := c.chatRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.exec.Stream(ctx, httpReq, c.policy)
	if err != nil {
		return nil, fmt.Errorf("chat completions stream: %w", err)
	}
	return stream, nil
}

// ApplyEdit asks the model to rewrite content following instruction. An
// empty model uses the configured default.
func (c *Client) ApplyEdit(ctx context.Context, instruction, content, model string) (*ChatCompletion, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, httpclient.NewValidationError("instruction cannot be empty", "instruction")
	}
	if strings.TrimSpace(content) == "" {
		return nil, httpclient.NewValidationError("content cannot be empty", "content")
	}

	return c.ChatCompletions(ctx, ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: RoleSystem, Content: editSystemPrompt},
			{Role: RoleUser, Content: fmt.Sprintf("Content to edit:\n\n%s\n\nInstruction: %s", content, instruction)},
		},
	})
}

// StreamDiff streams a diff from url. With messages it POSTs
// {"messages": ...} after validating them, otherwise it issues a GET.
// Only the given headers are sent; the client's credentials are not added.
func (c *Client) StreamDiff(ctx context.Context, url string, headers map[string]string, messages []Message) (*httpclient.Stream, error) {
	req := &httpclient.Request{Method: nethttp.MethodGet, URL: url, Headers: headers}
	if len(messages) > 0 {
		if err := ValidateMessages(messages); err != nil {
			return nil, err
		}
		req.Method = nethttp.MethodPost
		req.JSON = diffRequest{Messages: messages}
	}

	c.log.Debug().Str("url", url).Str("method", req.Method).Int("messages", len(messages)).Msg("Streaming diff")
	stream, err := c.exec.Stream(ctx, req, DiffPolicy())
	if err != nil {
		return nil, fmt.Errorf("failed to stream diff from %s: %w", url, err)
	}
	return stream, nil
}

func (c *Client) chatRequest(req ChatRequest) (*httpclient.Request, error) {
	if err := ValidateMessages(req.Messages); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Temperature == nil {
		req.Temperature = Temperature(c.temperature)
	}

	c.log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Bool("stream", req.Stream).
		Msg("Sending chat completions request")

	return &httpclient.Request{
		Method:  nethttp.MethodPost,
		URL:     c.baseURL + chatCompletionsPath,
		Headers: c.headers,
		JSON:    req,
	}, nil
}

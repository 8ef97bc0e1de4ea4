package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-modelproxy/httpclient/internal/tracking"
	"github.com/gaborage/go-modelproxy/logger"
	"github.com/gaborage/go-modelproxy/trace"
)

const (
	tracerName = "github.com/gaborage/go-modelproxy/httpclient"
	spanName   = "modelproxy.request"

	// drainLimit bounds how much of an uninspected error body is discarded
	// to let the connection be reused
	drainLimit = 64 << 10
)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs requests under a RetryPolicy. It is safe for concurrent use;
// each Execute call keeps its own state.
type Executor struct {
	doer           Doer
	log            logger.Logger
	sleep          Sleeper
	random         func() float64
	tracerProvider oteltrace.TracerProvider
}

// Option configures an Executor
type Option func(*Executor)

// WithDoer sets the HTTP transport. Defaults to a pooled cleanhttp client.
func WithDoer(d Doer) Option {
	return func(e *Executor) {
		if d != nil {
			e.doer = d
		}
	}
}

// WithLogger sets the logger used for attempt and retry events
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSleeper replaces the backoff wait, mainly for tests
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Executor) {
		if fn != nil {
			e.random = fn
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracerProvider = tp
	}
}

// NewExecutor creates an Executor with the given options
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		doer:   cleanhttp.DefaultPooledClient(),
		log:    logger.Nop(),
		sleep:  sleep,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do executes req in buffered mode
func (e *Executor) Do(ctx context.Context, req *Request, policy RetryPolicy) (*Response, error) {
	res, err := e.Execute(ctx, req, policy, false)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// Stream executes req in streaming mode. The caller must Close the stream or
// consume it to the end.
func (e *Executor) Stream(ctx context.Context, req *Request, policy RetryPolicy) (*Stream, error) {
	res, err := e.Execute(ctx, req, policy, true)
	if err != nil {
		return nil, err
	}
	return res.Stream, nil
}

// Execute performs req, retrying transport failures and 5xx responses with
// exponential backoff. With DetectOverloaded the error body of 4xx and 5xx
// responses is inspected: an overload signal on the last attempt and any
// structured 4xx error are terminal.
func (e *Executor) Execute(ctx context.Context, req *Request, policy RetryPolicy, streaming bool) (*Result, error) {
	if req == nil {
		return nil, NewValidationError("request is nil", "request")
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, NewValidationError("request URL is empty", "url")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	body, err := req.payload()
	if err != nil {
		return nil, err
	}

	ctx, requestID := trace.EnsureRequestID(ctx)
	method := req.method()

	tp := e.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(tracerName).Start(ctx, spanName,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", req.URL),
			attribute.Bool("modelproxy.streaming", streaming),
			attribute.Int("modelproxy.max_attempts", policy.MaxAttempts),
		),
	)
	defer span.End()

	c := &call{
		exec:      e,
		method:    method,
		url:       req.URL,
		headers:   buildHeaders(req.Headers, requestID),
		body:      body,
		policy:    policy,
		streaming: streaming,
		requestID: requestID,
		span:      span,
		start:     time.Now(),
		log: e.log.WithFields(map[string]any{
			"method":     method,
			"url":        req.URL,
			"request_id": requestID,
			"streaming":  streaming,
		}),
	}

	res, attempts, err := c.run(ctx)
	span.SetAttributes(attribute.Int("modelproxy.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tracking.RecordResult(ctx, method, resultLabel(err), attempts, streaming)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	tracking.RecordResult(ctx, method, c.lastOutcome.String(), attempts, streaming)
	return res, nil
}

// call carries the state of one Execute invocation
type call struct {
	exec      *Executor
	log       logger.Logger
	method    string
	url       string
	headers   map[string]string
	body      []byte
	policy    RetryPolicy
	streaming bool
	requestID string
	span      oteltrace.Span
	start     time.Time

	lastOutcome attemptOutcome
}

// attemptResult is what a single attempt produced
type attemptResult struct {
	verdict
	resp       *nethttp.Response
	data       []byte
	statusCode int
	err        error
}

func (c *call) run(ctx context.Context) (*Result, int, error) {
	delay := c.policy.InitialDelay
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, NewCanceledError(err, attempt-1)
		}

		c.log.Debug().Int("attempt", attempt).Int("max_attempts", c.policy.MaxAttempts).Msg("Sending proxy request")
		began := time.Now()
		ar := c.attempt(ctx, attempt)
		c.lastOutcome = ar.outcome
		tracking.RecordAttempt(ctx, c.method, ar.outcome.String(), ar.statusCode, time.Since(began))

		switch ar.action {
		case actionReturn:
			c.log.Debug().
				Int("status", ar.statusCode).
				Int("attempts", attempt).
				Dur("elapsed", time.Since(c.start)).
				Msg("Proxy request completed")
			return c.result(ar, attempt), attempt, nil
		case actionFail:
			c.log.Error().Err(ar.err).Int("status", ar.statusCode).Int("attempts", attempt).Msg("Proxy request failed")
			return nil, attempt, ar.err
		}

		lastErr, lastStatus = ar.err, ar.statusCode
		if attempt == c.policy.MaxAttempts {
			break
		}

		wait := c.policy.jitteredDelay(delay, c.exec.random())
		event := c.log.Warn()
		if ar.outcome == outcomeOverloadedSignal {
			event = event.Str("reason", "overloaded")
		}
		event.Err(ar.err).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Int("status", ar.statusCode).
			Dur("delay", wait).
			Msgf("Proxy request attempt %d/%d failed, retrying", attempt, c.policy.MaxAttempts)
		c.span.AddEvent("retry", oteltrace.WithAttributes(
			attribute.Int("modelproxy.attempt", attempt),
			attribute.String("modelproxy.attempt.outcome", ar.outcome.String()),
			attribute.Int64("modelproxy.retry.delay_ms", wait.Milliseconds()),
		))
		tracking.RecordRetry(ctx, c.method, ar.outcome.String(), wait)

		if err := c.exec.sleep(ctx, wait); err != nil {
			return nil, attempt, NewCanceledError(err, attempt)
		}
		delay = c.policy.nextDelay(delay)
	}

	err := NewExhaustedError(c.policy.MaxAttempts, lastStatus, lastErr)
	c.log.Error().Err(lastErr).Int("status", lastStatus).Int("attempts", c.policy.MaxAttempts).Msg("Proxy request retries exhausted")
	return nil, c.policy.MaxAttempts, err
}

// attempt performs one HTTP exchange. Any response body that is not handed
// to the caller is closed before it returns.
func (c *call) attempt(ctx context.Context, attempt int) attemptResult {
	httpReq, err := c.newRequest(ctx)
	if err != nil {
		return attemptResult{
			verdict: verdict{outcome: outcomeTransportFailure, action: actionFail},
			err:     NewValidationError(fmt.Sprintf("building request: %v", err), "url"),
		}
	}

	resp, err := c.exec.doer.Do(httpReq)
	if err != nil {
		return c.transportFailure(ctx, attempt, "request failed", err)
	}
	status := resp.StatusCode
	inspect := c.policy.DetectOverloaded && (isClientErrorStatus(status) || isServerErrorStatus(status))

	// Only 5xx are retried, so without inspection their body is discarded.
	if isServerErrorStatus(status) && !inspect {
		drainAndClose(resp.Body)
		v := classify(status, nil, attempt, c.policy)
		return attemptResult{verdict: v, statusCode: status, err: serverError(status, nil)}
	}

	if c.streaming && !inspect {
		v := classify(status, nil, attempt, c.policy)
		return attemptResult{verdict: v, resp: resp, statusCode: status}
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return c.transportFailure(ctx, attempt, "reading response body", err)
	}

	v := classify(status, data, attempt, c.policy)
	ar := attemptResult{verdict: v, resp: resp, data: data, statusCode: status}
	switch {
	case v.outcome == outcomeOverloadedSignal && v.action == actionFail:
		ar.err = NewOverloadedError(status, attempt, data)
	case v.outcome == outcomeOverloadedSignal:
		c.log.Warn().Int("status", status).Int("attempt", attempt).Msg("Upstream reported overload")
		ar.err = serverError(status, data)
	case v.outcome == outcomeServerError:
		ar.err = serverError(status, data)
	case v.outcome == outcomeClientError:
		ar.err = NewClientRejectedError(v.upstream.Message, v.upstream.Type, status, data)
	case c.streaming:
		// the body was read for inspection; replay it to the stream
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	return ar
}

func (c *call) newRequest(ctx context.Context) (*nethttp.Request, error) {
	var body io.Reader = nethttp.NoBody
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}
	httpReq, err := nethttp.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	trace.InjectHeaders(ctx, httpReq.Header)
	return httpReq, nil
}

func (c *call) transportFailure(ctx context.Context, attempt int, message string, err error) attemptResult {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attemptResult{
			verdict: verdict{outcome: outcomeTransportFailure, action: actionFail},
			err:     NewCanceledError(ctxErr, attempt),
		}
	}
	return attemptResult{
		verdict: verdict{outcome: outcomeTransportFailure, action: actionRetry},
		err:     NewTransportError(message, err),
	}
}

func (c *call) result(ar attemptResult, attempts int) *Result {
	if c.streaming {
		return &Result{Stream: newStream(ar.resp)}
	}
	return &Result{Response: &Response{
		StatusCode: ar.statusCode,
		Body:       ar.data,
		Headers:    ar.resp.Header,
		Stats: Stats{
			ElapsedTime: time.Since(c.start),
			CallCount:   int64(attempts),
		},
	}}
}

func serverError(status int, body []byte) *ClientError {
	return NewHTTPError(fmt.Sprintf("server returned %d %s", status, nethttp.StatusText(status)), status, body)
}

// buildHeaders derives the headers of the outgoing request without touching
// the caller's map.
func buildHeaders(caller map[string]string, requestID string) map[string]string {
	headers := make(map[string]string, len(caller)+2)
	maps.Copy(headers, caller)
	if !hasHeader(headers, HeaderContentType) {
		headers[HeaderContentType] = ContentTypeJSON
	}
	if !hasHeader(headers, trace.HeaderXRequestID) {
		headers[trace.HeaderXRequestID] = requestID
	}
	return headers
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}

func resultLabel(err error) string {
	if ce, ok := AsClientError(err); ok {
		return strings.ReplaceAll(ce.Kind().String(), " ", "_")
	}
	return "error"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	overloadedBody = `{"type":"error","error":{"type":"overloaded_error","message":"x"}}`
	rateLimitBody  = `{"type":"error","error":{"type":"rate_limited","message":"slow down"}}`
	testURL        = "http://proxy.test/model-proxy/v1/chat/completions"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:1: connect: connection refused")

// trackingBody records whether the executor released it
type trackingBody struct {
	r       io.Reader
	readErr error
	closed  atomic.Bool
}

func newTrackingBody(r io.Reader) *trackingBody {
	return &trackingBody{r: r}
}

func (b *trackingBody) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, errors.New("read on closed body")
	}
	n, err := b.r.Read(p)
	if errors.Is(err, io.EOF) && b.readErr != nil {
		return n, b.readErr
	}
	return n, err
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *trackingBody) Closed() bool { return b.closed.Load() }

// step scripts one attempt of a scriptedDoer
type step struct {
	status  int
	body    string
	err     error
	readErr error
}

// scriptedDoer replays steps in order, repeating the last one when exhausted
type scriptedDoer struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	headers  []nethttp.Header
	payloads [][]byte
	bodies   []*trackingBody
}

func newScriptedDoer(steps ...step) *scriptedDoer {
	return &scriptedDoer{steps: steps}
}

func (d *scriptedDoer) Do(req *nethttp.Request) (*nethttp.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.steps[min(d.calls, len(d.steps)-1)]
	d.calls++
	d.headers = append(d.headers, req.Header.Clone())
	var payload []byte
	if req.Body != nil {
		payload, _ = io.ReadAll(req.Body)
	}
	d.payloads = append(d.payloads, payload)

	if s.err != nil {
		return nil, s.err
	}
	body := newTrackingBody(strings.NewReader(s.body))
	body.readErr = s.readErr
	d.bodies = append(d.bodies, body)
	return &nethttp.Response{
		StatusCode: s.status,
		Status:     nethttp.StatusText(s.status),
		Header:     nethttp.Header{"X-Upstream": []string{"test"}},
		Body:       body,
		Request:    req,
	}, nil
}

func (d *scriptedDoer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDoer) Bodies() []*trackingBody {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*trackingBody(nil), d.bodies...)
}

// recordingSleeper captures backoff delays without waiting
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// noJitter makes uniform(-J, J) evaluate to 0
func noJitter() float64 { return 0.5 }

func newTestExecutor(doer Doer, sleeper *recordingSleeper, opts ...Option) *Executor {
	base := []Option{WithDoer(doer), WithSleeper(sleeper.Sleep), WithRandom(noJitter)}
	return NewExecutor(append(base, opts...)...)
}

func policyWith(attempts int, detect bool) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.JitterFraction = 0
	p.DetectOverloaded = detect
	return p
}

func readAllString(r io.Reader) string {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

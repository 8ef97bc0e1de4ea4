package tracking

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// Meter name for proxy client instrumentation
	clientMeterName = "go-modelproxy/httpclient"

	// Per-attempt duration, named after the OTel HTTP client convention
	metricAttemptDuration = "http.client.request.duration" // Histogram in seconds

	metricRetries    = "modelproxy.client.retries"     // Counter
	metricRetryDelay = "modelproxy.client.retry.delay" // Histogram in seconds
	metricResults    = "modelproxy.client.results"     // Counter
	metricAttempts   = "modelproxy.client.attempts"    // Histogram of attempts per call

	attrHTTPMethod     = "http.request.method"
	attrHTTPStatusCode = "http.response.status_code"
	attrOutcome        = "modelproxy.attempt.outcome"
	attrResult         = "modelproxy.result"
	attrStreaming      = "modelproxy.streaming"
)

var (
	clientMeter metric.Meter
	meterOnce   sync.Once
	meterInitMu sync.Mutex

	attemptDuration metric.Float64Histogram
	retryCounter    metric.Int64Counter
	retryDelay      metric.Float64Histogram
	resultCounter   metric.Int64Counter
	attemptsPerCall metric.Int64Histogram
)

func logMetricError(metricName string, err error) {
	if err != nil {
		otel.Handle(fmt.Errorf("failed to initialize proxy client metric %s: %w", metricName, err))
	}
}

func initClientMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if clientMeter != nil {
		return
	}

	clientMeter = otel.Meter(clientMeterName)

	var err error

	attemptDuration, err = clientMeter.Float64Histogram(
		metricAttemptDuration,
		metric.WithDescription("Duration of a single proxy request attempt"),
		metric.WithUnit("s"),
	)
	logMetricError(metricAttemptDuration, err)

	retryCounter, err = clientMeter.Int64Counter(
		metricRetries,
		metric.WithDescription("Number of retried proxy request attempts"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRetries, err)

	retryDelay, err = clientMeter.Float64Histogram(
		metricRetryDelay,
		metric.WithDescription("Backoff delay slept before a retry"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRetryDelay, err)

	resultCounter, err = clientMeter.Int64Counter(
		metricResults,
		metric.WithDescription("Number of completed proxy calls by result"),
		metric.WithUnit("{call}"),
	)
	logMetricError(metricResults, err)

	attemptsPerCall, err = clientMeter.Int64Histogram(
		metricAttempts,
		metric.WithDescription("Attempts made per proxy call"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)
}

func ensureClientMeterInitialized() {
	meterOnce.Do(initClientMeter)
}

// RecordAttempt records the duration and outcome of one attempt.
// statusCode is 0 when the attempt failed before a response arrived.
func RecordAttempt(ctx context.Context, method, outcome string, statusCode int, duration time.Duration) {
	ensureClientMeterInitialized()
	if attemptDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrOutcome, outcome),
	}
	if statusCode != 0 {
		attrs = append(attrs, attribute.Int(attrHTTPStatusCode, statusCode))
	}
	attemptDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRetry records that an attempt will be retried after delay
func RecordRetry(ctx context.Context, method, outcome string, delay time.Duration) {
	ensureClientMeterInitialized()

	attrs := metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrOutcome, outcome),
	)
	if retryCounter != nil {
		retryCounter.Add(ctx, 1, attrs)
	}
	if retryDelay != nil {
		retryDelay.Record(ctx, delay.Seconds(), attrs)
	}
}

// RecordResult records the terminal result of a call. result is "success",
// "passthrough" or the error kind.
func RecordResult(ctx context.Context, method, result string, attempts int, streaming bool) {
	ensureClientMeterInitialized()

	attrs := metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrResult, result),
		attribute.String(attrStreaming, strconv.FormatBool(streaming)),
	)
	if resultCounter != nil {
		resultCounter.Add(ctx, 1, attrs)
	}
	if attemptsPerCall != nil {
		attemptsPerCall.Record(ctx, int64(attempts), attrs)
	}
}

// IsInitialized reports whether the meter has been created
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return clientMeter != nil
}

// ResetForTesting resets the metric state for testing purposes.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	clientMeter = nil
	attemptDuration = nil
	retryCounter = nil
	retryDelay = nil
	resultCounter = nil
	attemptsPerCall = nil
	meterOnce = sync.Once{}
}

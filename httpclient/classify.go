package httpclient

import (
	"github.com/tidwall/gjson"
)

const overloadedErrorType = "overloaded_error"

// attemptOutcome is the classification of a single attempt
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeTransportFailure
	outcomeServerError
	outcomeClientError
	outcomeOverloadedSignal
	outcomePassthrough
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeTransportFailure:
		return "transport_failure"
	case outcomeServerError:
		return "server_error"
	case outcomeClientError:
		return "client_error"
	case outcomeOverloadedSignal:
		return "overloaded"
	case outcomePassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// action is what the retry loop does with an attempt
type action int

const (
	actionReturn action = iota
	actionRetry
	actionFail
)

// upstreamError is the structured error carried by {"type":"error","error":{...}} bodies
type upstreamError struct {
	Type    string
	Message string
}

type verdict struct {
	outcome  attemptOutcome
	action   action
	upstream *upstreamError
}

// classify decides the fate of an attempt that produced a response. body is
// nil when it was not read; it is only inspected when DetectOverloaded is set.
func classify(statusCode int, body []byte, attempt int, policy RetryPolicy) verdict {
	switch {
	case IsSuccessStatus(statusCode):
		return verdict{outcome: outcomeSuccess, action: actionReturn}

	case isServerErrorStatus(statusCode):
		if policy.DetectOverloaded && isOverloadedBody(body) {
			if attempt >= policy.MaxAttempts {
				return verdict{outcome: outcomeOverloadedSignal, action: actionFail}
			}
			return verdict{outcome: outcomeOverloadedSignal, action: actionRetry}
		}
		return verdict{outcome: outcomeServerError, action: actionRetry}

	case isClientErrorStatus(statusCode) && policy.DetectOverloaded:
		if u := parseUpstreamError(body); u != nil {
			return verdict{outcome: outcomeClientError, action: actionFail, upstream: u}
		}
		return verdict{outcome: outcomePassthrough, action: actionReturn}

	default:
		// 1xx, 3xx and 4xx without detection reach the caller as-is
		return verdict{outcome: outcomePassthrough, action: actionReturn}
	}
}

func parseUpstreamError(body []byte) *upstreamError {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() || root.Get("type").String() != "error" {
		return nil
	}
	detail := root.Get("error")
	if !detail.IsObject() {
		return nil
	}
	u := &upstreamError{
		Type:    detail.Get("type").String(),
		Message: detail.Get("message").String(),
	}
	if u.Message == "" {
		u.Message = "unknown error"
	}
	return u
}

func isOverloadedBody(body []byte) bool {
	u := parseUpstreamError(body)
	return u != nil && u.Type == overloadedErrorType
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a completion-endpoint failure.
type Kind string

const (
	KindNotConfigured  Kind = "not_configured"  // no API credential configured
	KindInvalidRequest Kind = "invalid_request" // caller passed out-of-range parameters
	KindAuth           Kind = "auth"            // upstream rejected the credential
	KindRateLimited    Kind = "rate_limited"    // upstream throttled the request
	KindServerError    Kind = "server_error"    // upstream 5xx or unknown failure
	KindTimeout        Kind = "timeout"         // request exceeded the configured bound
	KindEmptyResponse  Kind = "empty_response"  // upstream returned no usable content
)

// Error is a classified completion-endpoint failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying. Auth and
// configuration failures never are; content failures (empty responses) are
// handled downstream rather than re-requested.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout:
		return true
	}
	return false
}

// Classify maps a raw client error onto the wrapper's error taxonomy.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "completion request timed out", Err: err}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "401", "invalid api key", "incorrect api key", "authentication", "unauthorized"):
		return &Error{Kind: KindAuth, Message: "completion endpoint rejected credentials", Err: err}
	case containsAny(errStr, "429", "rate limit", "too many requests", "quota"):
		return &Error{Kind: KindRateLimited, Message: "completion endpoint rate limit exceeded", Err: err}
	case containsAny(errStr, "timeout", "deadline exceeded"):
		return &Error{Kind: KindTimeout, Message: "completion request timed out", Err: err}
	default:
		return &Error{Kind: KindServerError, Message: "completion endpoint request failed", Err: err}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

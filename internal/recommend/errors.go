package recommend

import (
	"fmt"
	"net/http"

	"github.com/coursecompass/internal/llm"
)

// Reason is the stable machine-readable failure reason reported to callers.
type Reason string

const (
	ReasonInvalidInput        Reason = "invalid_input"
	ReasonPromptTooShort      Reason = "prompt_too_short"
	ReasonPromptTooLong       Reason = "prompt_too_long"
	ReasonInvalidCount        Reason = "invalid_count"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonUsageCapExceeded    Reason = "usage_cap_exceeded"
	ReasonNotConfigured       Reason = "not_configured"
	ReasonUpstreamAuth        Reason = "upstream_auth_error"
	ReasonUpstreamRateLimited Reason = "upstream_rate_limited"
	ReasonUpstreamServer      Reason = "upstream_server_error"
	ReasonTimeout             Reason = "upstream_timeout"
	ReasonEmptyResponse       Reason = "empty_response"
	ReasonParseFailed         Reason = "response_parse_error"
	ReasonInternal            Reason = "internal"
)

// Error is a pipeline failure carrying both a stable reason and a human
// message. RawResponse is populated only for parse failures, where echoing
// the model output back helps debugging; it is never set on auth or
// configuration failures.
type Error struct {
	Reason      Reason
	Message     string
	RawResponse string
	Usage       *UsageInfo // set only on usage-cap rejections
	Err         error
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

// HTTPStatus maps the failure reason onto an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Reason {
	case ReasonInvalidInput, ReasonPromptTooShort, ReasonPromptTooLong, ReasonInvalidCount:
		return http.StatusBadRequest
	case ReasonRateLimited, ReasonUsageCapExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fromInvocationError maps the wrapper's classified errors onto the
// pipeline's reason taxonomy.
func fromInvocationError(err *llm.Error) *Error {
	reason := ReasonUpstreamServer
	message := "Failed to get recommendations from the completion endpoint"

	switch err.Kind {
	case llm.KindNotConfigured:
		reason = ReasonNotConfigured
		message = "Completion API key is not configured"
	case llm.KindAuth:
		reason = ReasonUpstreamAuth
		message = "Completion endpoint rejected credentials"
	case llm.KindRateLimited:
		reason = ReasonUpstreamRateLimited
		message = "Completion endpoint rate limit exceeded"
	case llm.KindTimeout:
		reason = ReasonTimeout
		message = "Completion request timed out"
	case llm.KindEmptyResponse:
		reason = ReasonEmptyResponse
		message = "Completion endpoint returned an empty response"
	}

	return &Error{Reason: reason, Message: message, Err: err}
}

package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coursecompass/internal/retry"
)

// DefaultTimeout bounds a single wrapped invocation, retries included.
const DefaultTimeout = 30 * time.Second

// ResilientClient wraps a completion client with bounded retries for
// transient upstream failures and a hard invocation timeout. It is the single
// choke point for calling the completion endpoint.
type ResilientClient struct {
	client      Client
	retryConfig retry.Config
	timeout     time.Duration
}

// InvokeResult is a completion result annotated with resiliency information.
type InvokeResult struct {
	*CompletionResult
	Attempts int
	Duration time.Duration
}

// NewResilientClient creates a resilient wrapper around the given client.
func NewResilientClient(client Client, config retry.Config, timeout time.Duration) *ResilientClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ResilientClient{
		client:      client,
		retryConfig: config,
		timeout:     timeout,
	}
}

// NewResilientClientWithDefaults creates a resilient wrapper with the
// upstream retry configuration and the default timeout.
func NewResilientClientWithDefaults(client Client) *ResilientClient {
	return NewResilientClient(client, retry.UpstreamConfig(), DefaultTimeout)
}

// Invoke calls the completion endpoint, retrying transient network failures
// up to the configured bound. Auth, configuration, and content failures are
// never retried. The returned error is always a classified *Error.
func (rc *ResilientClient) Invoke(ctx context.Context, req CompletionRequest) (*InvokeResult, error) {
	if !rc.client.Configured() {
		return nil, &Error{Kind: KindNotConfigured, Message: "completion API key is not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	var completion *CompletionResult
	result := retry.Do(ctx, rc.retryConfig, func() error {
		res, err := rc.client.Complete(ctx, req)
		if err != nil {
			return err
		}
		completion = res
		return nil
	})

	if !result.Success {
		err := result.LastError
		if errors.Is(err, context.DeadlineExceeded) {
			err = &Error{Kind: KindTimeout, Message: "completion request timed out", Err: result.LastError}
		}

		classified := Classify(err)
		log.Warn().
			Str("kind", string(classified.Kind)).
			Int("attempts", result.Attempts).
			Dur("duration", result.TotalDuration).
			Strs("retry_reasons", result.RetryReasons).
			Msg("Completion invocation failed")
		return nil, classified
	}

	if result.Attempts > 1 {
		log.Info().
			Int("attempts", result.Attempts).
			Dur("duration", result.TotalDuration).
			Msg("Completion invocation succeeded after retries")
	}

	return &InvokeResult{
		CompletionResult: completion,
		Attempts:         result.Attempts,
		Duration:         result.TotalDuration,
	}, nil
}

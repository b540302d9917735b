package recommend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coursecompass/internal/ledger"
	"github.com/coursecompass/internal/llm"
)

// Prompt bounds, measured in characters.
const (
	minPromptLength   = 5
	maxPromptLength   = 500
	promptExcerptSize = 200

	minSuggestions     = 1
	maxSuggestions     = 10
	defaultSuggestions = 5
)

// Invoker is the completion-wrapper capability the orchestrator needs.
// *llm.ResilientClient satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req llm.CompletionRequest) (*llm.InvokeResult, error)
}

// Request is a validated-on-entry recommendation request. CallerID is empty
// for anonymous traffic; CallerAddress is always set. CountProvided marks an
// explicit MaxSuggestions so a literal 0 is rejected instead of defaulted.
type Request struct {
	Prompt         string
	MaxSuggestions int
	CountProvided  bool
	CallerID       string
	CallerAddress  string
}

// Result is a successful recommendation outcome.
type Result struct {
	Recommendations []Recommendation
	TokensUsed      int
	Usage           *UsageInfo
	ProcessingTime  time.Duration
}

// ModelSettings carries the completion parameters the orchestrator uses.
type ModelSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Service orchestrates the recommendation pipeline: validate, admit, invoke,
// normalize, match, log. Every request that passes the short-window limiter
// resolves with exactly one ledger write, success or failure.
type Service struct {
	guard    *Guard
	invoker  Invoker
	matcher  *Matcher
	store    ledger.Store
	settings ModelSettings
}

// NewService creates the recommendation orchestrator.
func NewService(guard *Guard, invoker Invoker, matcher *Matcher, store ledger.Store, settings ModelSettings) *Service {
	return &Service{
		guard:    guard,
		invoker:  invoker,
		matcher:  matcher,
		store:    store,
		settings: settings,
	}
}

// Recommend runs one request through the pipeline. On failure the returned
// error is always a *Error carrying the stable reason.
func (s *Service) Recommend(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	entry := &ledger.Entry{
		RequestID:      uuid.NewString(),
		CallerAddress:  req.CallerAddress,
		MaxSuggestions: defaultSuggestions,
	}
	if req.CallerID != "" {
		entry.CallerID = sql.NullString{String: req.CallerID, Valid: true}
	}
	entry.PromptExcerpt = excerpt(req.Prompt, promptExcerptSize)
	entry.PromptLength = promptLength(req.Prompt)
	if req.CountProvided || req.MaxSuggestions != 0 {
		entry.MaxSuggestions = req.MaxSuggestions
	}

	// Validating. A zero count is only a default when the caller omitted it;
	// an explicit zero is out of range
	if !req.CountProvided && req.MaxSuggestions == 0 {
		req.MaxSuggestions = defaultSuggestions
	}
	if verr := validate(req); verr != nil {
		return nil, s.reject(ctx, entry, verr)
	}

	// Admitting: the window check is cheap, precedes persistence, and is the
	// only rejection that writes no ledger entry
	if !s.guard.AllowAddress(req.CallerAddress) {
		return nil, &Error{
			Reason:  ReasonRateLimited,
			Message: "Too many requests from this address, please try again after a minute",
		}
	}

	usage, err := s.guard.CheckCap(ctx, req.CallerID, req.CallerAddress)
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			return nil, s.reject(ctx, entry, derr)
		}
		return nil, s.reject(ctx, entry, internalError(err))
	}

	// Invoking
	invocation, err := s.invoker.Invoke(ctx, llm.CompletionRequest{
		Prompt:           req.Prompt,
		SystemPrompt:     buildSystemPrompt(req.MaxSuggestions),
		Model:            s.settings.Model,
		MaxTokens:        s.settings.MaxTokens,
		Temperature:      s.settings.Temperature,
		StructuredOutput: true,
	})
	if err != nil {
		var lerr *llm.Error
		if errors.As(err, &lerr) {
			return nil, s.reject(ctx, entry, fromInvocationError(lerr))
		}
		return nil, s.reject(ctx, entry, internalError(err))
	}
	entry.TokensUsed = invocation.TokensUsed

	log.Debug().
		Str("request_id", entry.RequestID).
		Int("attempts", invocation.Attempts).
		Int("tokens_used", invocation.TokensUsed).
		Msg("Completion call resolved")

	// Normalizing
	suggestions, err := NormalizeSuggestions(invocation.Text, req.MaxSuggestions)
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			return nil, s.reject(ctx, entry, derr)
		}
		return nil, s.reject(ctx, entry, internalError(err))
	}

	// Matching
	recommendations, err := s.matcher.Match(ctx, suggestions)
	if err != nil {
		return nil, s.reject(ctx, entry, internalError(err))
	}

	// Logging: the single commit point; the audit record must land before the
	// response is sent
	entry.Success = true
	if err := s.commit(ctx, entry); err != nil {
		return nil, internalError(err)
	}

	return &Result{
		Recommendations: recommendations,
		TokensUsed:      invocation.TokensUsed,
		Usage:           usage,
		ProcessingTime:  time.Since(start),
	}, nil
}

// reject records the failure in the ledger and returns the error unchanged.
// A failed ledger write on a rejection path is logged but does not mask the
// original error.
func (s *Service) reject(ctx context.Context, entry *ledger.Entry, derr *Error) *Error {
	entry.Success = false
	entry.ErrorMessage = sql.NullString{String: derr.Message, Valid: true}
	if err := s.commit(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("request_id", entry.RequestID).
			Msg("Ledger write failed on rejection path")
	}
	return derr
}

// commit appends the ledger entry on a context detached from the request so
// a client disconnect cannot cancel the audit trail.
func (s *Service) commit(ctx context.Context, entry *ledger.Entry) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Append(writeCtx, entry); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func validate(req Request) *Error {
	if req.Prompt == "" {
		return &Error{Reason: ReasonInvalidInput, Message: "Please provide a valid prompt"}
	}

	length := promptLength(req.Prompt)
	if length < minPromptLength {
		return &Error{Reason: ReasonPromptTooShort, Message: fmt.Sprintf("Prompt must be at least %d characters long", minPromptLength)}
	}
	if length > maxPromptLength {
		return &Error{Reason: ReasonPromptTooLong, Message: fmt.Sprintf("Prompt must not exceed %d characters", maxPromptLength)}
	}

	if req.MaxSuggestions < minSuggestions || req.MaxSuggestions > maxSuggestions {
		return &Error{Reason: ReasonInvalidCount, Message: fmt.Sprintf("maxSuggestions must be between %d and %d", minSuggestions, maxSuggestions)}
	}

	return nil
}

func internalError(err error) *Error {
	return &Error{Reason: ReasonInternal, Message: "Server error", Err: err}
}

// buildSystemPrompt instructs the model to return exactly count bare-array
// items. The wording leans hard on "EXACTLY" because smaller models drift on
// counts at higher temperatures.
func buildSystemPrompt(count int) string {
	return fmt.Sprintf(`You are a course recommendation assistant. Given a user's learning goal or interest, recommend EXACTLY %d relevant courses.

Return your response as ONLY a valid JSON array of EXACTLY %d objects with the following structure:
[
  {
    "title": "Course Title 1",
    "reason": "Brief explanation why this course is recommended"
  },
  {
    "title": "Course Title 2",
    "reason": "Brief explanation why this course is recommended"
  }
]

Continue with exactly %d unique items. Do not output less or more.

Focus on practical, relevant courses that match the user's goal. Be specific and concise. NO additional text, introductions, explanations, or markdown outside the JSON array.`, count, count, count)
}

func promptLength(s string) int {
	return len([]rune(s))
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

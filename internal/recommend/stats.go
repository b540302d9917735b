package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/coursecompass/internal/ledger"
)

// recentEntryLimit bounds the history returned with usage statistics.
const recentEntryLimit = 10

// Stats aggregates a caller's ledger entries.
type Stats struct {
	TotalCalls      int   `json:"total_calls"`
	SuccessfulCalls int   `json:"successful_calls"`
	FailedCalls     int   `json:"failed_calls"`
	RemainingCalls  int   `json:"remaining_calls"`
	Limit           int   `json:"limit"`
	TotalTokens     int64 `json:"total_tokens"`
	AvgTokens       int   `json:"avg_tokens"`
}

// RecentEntry is the excerpted ledger view exposed with statistics.
type RecentEntry struct {
	PromptLength int       `json:"prompt_length"`
	TokensUsed   int       `json:"tokens_used"`
	Success      bool      `json:"success"`
	Timestamp    time.Time `json:"timestamp"`
}

// Reporter computes usage statistics from the ledger. Read-only; it never
// mutates entries.
type Reporter struct {
	store    ledger.Store
	capLimit int
}

// NewReporter creates a stats reporter with the given lifetime cap.
func NewReporter(store ledger.Store, capLimit int) *Reporter {
	return &Reporter{store: store, capLimit: capLimit}
}

// Report aggregates the caller's attempts, token usage, and recent history.
func (r *Reporter) Report(ctx context.Context, callerID string) (*Stats, []RecentEntry, error) {
	total, successful, err := r.store.CountForUser(ctx, callerID)
	if err != nil {
		return nil, nil, fmt.Errorf("count calls: %w", err)
	}

	totalTokens, avgTokens, err := r.store.TokenTotals(ctx, callerID)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate tokens: %w", err)
	}

	entries, err := r.store.Recent(ctx, callerID, recentEntryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch recent entries: %w", err)
	}

	remaining := r.capLimit - total
	if remaining < 0 {
		remaining = 0
	}

	stats := &Stats{
		TotalCalls:      total,
		SuccessfulCalls: successful,
		FailedCalls:     total - successful,
		RemainingCalls:  remaining,
		Limit:           r.capLimit,
		TotalTokens:     totalTokens,
		AvgTokens:       avgTokens,
	}

	recent := make([]RecentEntry, 0, len(entries))
	for _, e := range entries {
		recent = append(recent, RecentEntry{
			PromptLength: e.PromptLength,
			TokensUsed:   e.TokensUsed,
			Success:      e.Success,
			Timestamp:    e.CreatedAt,
		})
	}

	return stats, recent, nil
}

package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one append-only audit record of a recommendation attempt. Entries
// are created exactly once per attempt, success or failure, and are never
// updated or deleted afterwards.
type Entry struct {
	ID             int64          `json:"id"`
	RequestID      string         `json:"request_id"`
	CallerID       sql.NullString `json:"caller_id"`
	CallerAddress  string         `json:"caller_address"`
	PromptExcerpt  string         `json:"prompt_excerpt"` // first 200 chars of the raw prompt
	PromptLength   int            `json:"prompt_length"`
	MaxSuggestions int            `json:"max_suggestions"`
	TokensUsed     int            `json:"tokens_used"`
	Success        bool           `json:"success"`
	ErrorMessage   sql.NullString `json:"error_message"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Store is the append-only ledger contract. CountForCaller partitions by
// caller ID when present, falling back to the caller address with a null
// caller ID for anonymous traffic.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	CountForCaller(ctx context.Context, callerID, callerAddress string) (int, error)
	CountForUser(ctx context.Context, callerID string) (total, successful int, err error)
	TokenTotals(ctx context.Context, callerID string) (total int64, avg int, err error)
	Recent(ctx context.Context, callerID string, limit int) ([]Entry, error)
}

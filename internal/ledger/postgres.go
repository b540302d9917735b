package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// PostgresStore persists ledger entries in the recommendation_log table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new ledger store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger table and its indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS recommendation_log (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		caller_id TEXT,
		caller_address TEXT NOT NULL,
		prompt_excerpt TEXT NOT NULL DEFAULT '',
		prompt_length INT NOT NULL DEFAULT 0,
		max_suggestions INT NOT NULL DEFAULT 5,
		tokens_used INT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_recommendation_log_caller
		ON recommendation_log (caller_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_recommendation_log_address
		ON recommendation_log (caller_address, created_at DESC);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Append inserts a new ledger entry and fills in its ID and creation time.
func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	query := `
	INSERT INTO recommendation_log (
		request_id, caller_id, caller_address, prompt_excerpt, prompt_length,
		max_suggestions, tokens_used, success, error_message, created_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, NOW()
	) RETURNING id, created_at
	`

	var callerID, errorMessage interface{}
	if entry.CallerID.Valid && entry.CallerID.String != "" {
		callerID = entry.CallerID.String
	}
	if entry.ErrorMessage.Valid && entry.ErrorMessage.String != "" {
		errorMessage = entry.ErrorMessage.String
	}

	err := s.db.QueryRowContext(
		ctx, query,
		entry.RequestID, callerID, entry.CallerAddress, entry.PromptExcerpt, entry.PromptLength,
		entry.MaxSuggestions, entry.TokensUsed, entry.Success, errorMessage,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	log.Debug().
		Int64("entry_id", entry.ID).
		Str("request_id", entry.RequestID).
		Bool("success", entry.Success).
		Msg("Ledger entry appended")

	return nil
}

// CountForCaller counts all entries for the caller's partition key: the
// caller ID when present, else the caller address restricted to anonymous
// entries.
func (s *PostgresStore) CountForCaller(ctx context.Context, callerID, callerAddress string) (int, error) {
	var count int
	var err error

	if callerID != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recommendation_log WHERE caller_id = $1`,
			callerID,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recommendation_log WHERE caller_address = $1 AND caller_id IS NULL`,
			callerAddress,
		).Scan(&count)
	}

	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// CountForUser returns total and successful entry counts for a caller ID.
func (s *PostgresStore) CountForUser(ctx context.Context, callerID string) (int, int, error) {
	query := `
	SELECT COUNT(*), COUNT(*) FILTER (WHERE success)
	FROM recommendation_log
	WHERE caller_id = $1
	`

	var total, successful int
	if err := s.db.QueryRowContext(ctx, query, callerID).Scan(&total, &successful); err != nil {
		return 0, 0, fmt.Errorf("failed to count ledger entries for user: %w", err)
	}
	return total, successful, nil
}

// TokenTotals returns the sum and rounded average of tokens used across a
// caller's entries.
func (s *PostgresStore) TokenTotals(ctx context.Context, callerID string) (int64, int, error) {
	query := `
	SELECT COALESCE(SUM(tokens_used), 0), COALESCE(AVG(tokens_used), 0)
	FROM recommendation_log
	WHERE caller_id = $1
	`

	var total int64
	var avg float64
	if err := s.db.QueryRowContext(ctx, query, callerID).Scan(&total, &avg); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate token usage: %w", err)
	}
	return total, int(math.Round(avg)), nil
}

// Recent returns the caller's most recent entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, callerID string, limit int) ([]Entry, error) {
	query := `
	SELECT id, request_id, caller_id, caller_address, prompt_excerpt, prompt_length,
	       max_suggestions, tokens_used, success, error_message, created_at
	FROM recommendation_log
	WHERE caller_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.CallerID, &e.CallerAddress, &e.PromptExcerpt, &e.PromptLength,
			&e.MaxSuggestions, &e.TokensUsed, &e.Success, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coursecompass/internal/catalog"
	"github.com/coursecompass/internal/ledger"
	"github.com/coursecompass/internal/llm"
)

// memLedger is an in-memory ledger.Store for tests.
type memLedger struct {
	mu        sync.Mutex
	entries   []ledger.Entry
	appendErr error
	countErr  error
}

func (m *memLedger) Append(ctx context.Context, entry *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}

	entry.ID = int64(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLedger) CountForCaller(ctx context.Context, callerID, callerAddress string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countErr != nil {
		return 0, m.countErr
	}

	count := 0
	for _, e := range m.entries {
		if callerID != "" {
			if e.CallerID.Valid && e.CallerID.String == callerID {
				count++
			}
		} else if !e.CallerID.Valid && e.CallerAddress == callerAddress {
			count++
		}
	}
	return count, nil
}

func (m *memLedger) CountForUser(ctx context.Context, callerID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, successful := 0, 0
	for _, e := range m.entries {
		if e.CallerID.Valid && e.CallerID.String == callerID {
			total++
			if e.Success {
				successful++
			}
		}
	}
	return total, successful, nil
}

func (m *memLedger) TokenTotals(ctx context.Context, callerID string) (int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	count := 0
	for _, e := range m.entries {
		if e.CallerID.Valid && e.CallerID.String == callerID {
			total += int64(e.TokensUsed)
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return total, int(math.Round(float64(total) / float64(count))), nil
}

func (m *memLedger) Recent(ctx context.Context, callerID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []ledger.Entry
	for i := len(m.entries) - 1; i >= 0 && len(matched) < limit; i-- {
		e := m.entries[i]
		if e.CallerID.Valid && e.CallerID.String == callerID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memLedger) last() ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

// fakeCatalog is an in-memory catalog.Store for tests. Only the approximate
// title search matters to the recommendation core.
type fakeCatalog struct {
	courses []catalog.Course
	findErr error
}

func (f *fakeCatalog) FindByApproximateTitle(ctx context.Context, title string, limit int) ([]catalog.Course, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}

	var matches []catalog.Course
	for _, c := range f.courses {
		if strings.Contains(strings.ToLower(c.Title), strings.ToLower(title)) {
			matches = append(matches, c)
			if len(matches) == limit {
				break
			}
		}
	}
	return matches, nil
}

func (f *fakeCatalog) List(ctx context.Context) ([]catalog.Course, error) {
	return f.courses, nil
}

func (f *fakeCatalog) Get(ctx context.Context, id int64) (*catalog.Course, error) {
	for _, c := range f.courses {
		if c.ID == id {
			course := c
			return &course, nil
		}
	}
	return nil, fmt.Errorf("course not found: %d", id)
}

func (f *fakeCatalog) Create(ctx context.Context, course *catalog.Course) error { return nil }
func (f *fakeCatalog) Update(ctx context.Context, course *catalog.Course) error { return nil }
func (f *fakeCatalog) Delete(ctx context.Context, id int64) error               { return nil }

// stubInvoker returns a canned completion result or error and counts calls.
type stubInvoker struct {
	mu     sync.Mutex
	text   string
	tokens int
	err    error
	calls  int
}

func (s *stubInvoker) Invoke(ctx context.Context, req llm.CompletionRequest) (*llm.InvokeResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return &llm.InvokeResult{
		CompletionResult: &llm.CompletionResult{
			Text:         s.text,
			TokensUsed:   s.tokens,
			FinishReason: "stop",
		},
		Attempts: 1,
	}, nil
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

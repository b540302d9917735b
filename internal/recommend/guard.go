package recommend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/coursecompass/internal/ledger"
)

// UsageInfo reports a caller's position against the lifetime cap. Computed
// during the cap check and echoed back on successful responses.
type UsageInfo struct {
	TotalCalls     int `json:"total_calls"`
	RemainingCalls int `json:"remaining_calls"`
	Limit          int `json:"limit"`
}

// Guard runs the two admission checks that precede every completion call: a
// short-window per-address limiter for bursty abuse, and a lifetime call cap
// against the ledger for slow cost exhaustion. The window check is cheaper
// and always runs first.
type Guard struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int

	capLimit int
	store    ledger.Store

	stopClean chan struct{}
	stopOnce  sync.Once
}

// limiterEntry wraps a per-address limiter with its last access time so
// stale entries can be evicted.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewGuard creates a guard allowing requestsPerWindow requests per window per
// caller address, with a lifetime cap of capLimit ledger entries per caller.
func NewGuard(store ledger.Store, requestsPerWindow int, window time.Duration, capLimit int) *Guard {
	g := &Guard{
		limiters: make(map[string]*limiterEntry),
		// Refill one token per window/burst so a steady caller sustains
		// requestsPerWindow per window, not just the initial burst
		rate:  rate.Every(window / time.Duration(requestsPerWindow)),
		burst: requestsPerWindow,
		capLimit:  capLimit,
		store:     store,
		stopClean: make(chan struct{}),
	}
	go g.cleanupLoop(5 * time.Minute)
	return g
}

// AllowAddress consumes one token from the address's window limiter and
// reports whether the request may proceed. Each address has an independent
// limiter; a stalled caller never delays counting for another.
func (g *Guard) AllowAddress(address string) bool {
	g.mu.Lock()
	entry, exists := g.limiters[address]
	if !exists {
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(g.rate, g.burst),
			lastAccess: time.Now(),
		}
		g.limiters[address] = entry
	} else {
		entry.lastAccess = time.Now()
	}
	limiter := entry.limiter
	g.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		log.Info().
			Str("caller_address", address).
			Msg("Request denied by short-window limiter")
	}
	return allowed
}

// CheckCap counts the caller's ledger entries and denies the request once
// the lifetime cap is reached. A failing count query fails open — the
// request is admitted and the fault logged — so a transient storage problem
// does not block legitimate traffic.
func (g *Guard) CheckCap(ctx context.Context, callerID, callerAddress string) (*UsageInfo, error) {
	total, err := g.store.CountForCaller(ctx, callerID, callerAddress)
	if err != nil {
		log.Error().
			Err(err).
			Str("caller_id", callerID).
			Str("caller_address", callerAddress).
			Msg("Lifetime cap check failed, admitting request")
		return nil, nil
	}

	if total >= g.capLimit {
		log.Info().
			Str("caller_id", callerID).
			Str("caller_address", callerAddress).
			Int("total_calls", total).
			Int("limit", g.capLimit).
			Msg("Request denied by lifetime cap")
		usage := &UsageInfo{TotalCalls: total, RemainingCalls: 0, Limit: g.capLimit}
		return usage, &Error{
			Reason:  ReasonUsageCapExceeded,
			Message: "You have reached the maximum limit of AI recommendations",
			Usage:   usage,
		}
	}

	return &UsageInfo{
		TotalCalls:     total,
		RemainingCalls: g.capLimit - total,
		Limit:          g.capLimit,
	}, nil
}

// Cap returns the configured lifetime cap.
func (g *Guard) Cap() int {
	return g.capLimit
}

// cleanupLoop periodically evicts limiters that have not been touched for an
// hour.
func (g *Guard) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopClean:
			return
		}
	}
}

func (g *Guard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	threshold := time.Now().Add(-1 * time.Hour)
	for address, entry := range g.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(g.limiters, address)
		}
	}
}

// Stop stops the cleanup goroutine.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopClean)
	})
}

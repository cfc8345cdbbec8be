package abuse

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Outcome classifies a single join attempt.
type Outcome string

const (
	// OutcomePending marks an attempt reserved before verification and not
	// yet settled.
	OutcomePending       Outcome = "pending"
	OutcomeSuccess       Outcome = "success"
	OutcomeBadPassphrase Outcome = "bad_passphrase"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeInvalidCode   Outcome = "invalid_code"
)

// IsFailure reports whether the outcome is a settled failure.
func (o Outcome) IsFailure() bool {
	return o == OutcomeBadPassphrase || o == OutcomeInvalidCode
}

// CountsTowardLimit reports whether the outcome uses up the code's budget.
// An unsettled attempt counts as a failure until it is settled.
func (o Outcome) CountsTowardLimit() bool {
	return o.IsFailure() || o == OutcomePending
}

// Attempt is one entry of the append-only join attempt log.
type Attempt struct {
	ID        int64     `json:"-"`
	Code      string    `json:"code"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityOverview is the host-only summary of recent activity against a code.
type SecurityOverview struct {
	SessionCode          string     `json:"session_code"`
	PendingRequests      int        `json:"pending_requests"`
	RecentFailedAttempts int        `json:"recent_failed_attempts"`
	RecentRateLimited    int        `json:"recent_rate_limited"`
	LastFailedAttempt    *time.Time `json:"last_failed_attempt,omitempty"`
}

// AttemptRepo stores the join attempt log.
type AttemptRepo interface {
	// Append adds a to the log.
	Append(ctx context.Context, a Attempt) error
	// Reserve atomically counts code's attempts at or after since that count
	// toward the limit. Below threshold it appends a pending attempt at `at`
	// and returns its ID with ok true. Otherwise it appends a rate_limited
	// attempt and returns ok false.
	Reserve(ctx context.Context, code string, since, at time.Time, threshold int) (id int64, ok bool, err error)
	// Settle replaces a pending attempt's outcome. Settling an attempt that
	// was already pruned is a no-op.
	Settle(ctx context.Context, id int64, outcome Outcome) error
	// ListSince returns the code's attempts at or after since, oldest first.
	ListSince(ctx context.Context, code string, since time.Time) ([]Attempt, error)
	// DeleteOlderThan drops attempts before cutoff for every code.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryAttemptRepo keeps the attempt log in process memory.
type InMemoryAttemptRepo struct {
	mu     sync.RWMutex
	byCode map[string][]Attempt
	lastID int64
}

var _ AttemptRepo = (*InMemoryAttemptRepo)(nil)

func NewInMemoryAttemptRepo() *InMemoryAttemptRepo {
	return &InMemoryAttemptRepo{byCode: make(map[string][]Attempt)}
}

func (r *InMemoryAttemptRepo) Append(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendLocked(a)
	return nil
}

func (r *InMemoryAttemptRepo) Reserve(_ context.Context, code string, since, at time.Time, threshold int) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counted := 0
	for _, a := range r.byCode[code] {
		if !a.Timestamp.Before(since) && a.Outcome.CountsTowardLimit() {
			counted++
		}
	}
	if counted >= threshold {
		r.appendLocked(Attempt{Code: code, Outcome: OutcomeRateLimited, Timestamp: at})
		return 0, false, nil
	}
	return r.appendLocked(Attempt{Code: code, Outcome: OutcomePending, Timestamp: at}), true, nil
}

func (r *InMemoryAttemptRepo) Settle(_ context.Context, id int64, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, attempts := range r.byCode {
		for i := range attempts {
			if attempts[i].ID == id {
				attempts[i].Outcome = outcome
				return nil
			}
		}
	}
	return nil
}

func (r *InMemoryAttemptRepo) appendLocked(a Attempt) int64 {
	r.lastID++
	a.ID = r.lastID
	r.byCode[a.Code] = append(r.byCode[a.Code], a)
	return a.ID
}

func (r *InMemoryAttemptRepo) ListSince(_ context.Context, code string, since time.Time) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Attempt, 0)
	for _, a := range r.byCode[code] {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *InMemoryAttemptRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for code, attempts := range r.byCode {
		kept := attempts[:0]
		for _, a := range attempts {
			if a.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(r.byCode, code)
			continue
		}
		r.byCode[code] = kept
	}
	return deleted, nil
}

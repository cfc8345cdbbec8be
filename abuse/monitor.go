// Package abuse tracks join attempts per code and decides when a code is rate
// limited. Counts are always computed from the stored timestamps at read time,
// so pruning is housekeeping only.
package abuse

import (
	"context"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const (
	DefaultWindow    = 10 * time.Minute
	DefaultThreshold = 5
)

// PendingCounter is the slice of the session store the overview needs.
type PendingCounter interface {
	GetSessionByCode(ctx context.Context, code string) (*sessions.Session, error)
	CountPendingMemberships(ctx context.Context, sessionID string) (int, error)
}

// Monitor applies the sliding-window rate limit to join attempts.
type Monitor struct {
	attempts  AttemptRepo
	pending   PendingCounter
	window    time.Duration
	threshold int
	nowTime   func() time.Time
}

// MonitorOption defines a function type to modify the Monitor instance.
type MonitorOption func(*Monitor)

// WithWindow sets how far back attempts are counted.
func WithWindow(window time.Duration) MonitorOption {
	return func(m *Monitor) {
		if window > 0 {
			m.window = window
		}
	}
}

// WithThreshold sets the number of failures in the window that trips the limit.
func WithThreshold(threshold int) MonitorOption {
	return func(m *Monitor) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.nowTime = nowFunc
	}
}

func NewMonitor(attempts AttemptRepo, pending PendingCounter, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		attempts:  attempts,
		pending:   pending,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		nowTime:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Window() time.Duration { return m.window }

func (m *Monitor) Threshold() int { return m.threshold }

// RecordAttempt appends one attempt for code, timestamped now.
func (m *Monitor) RecordAttempt(ctx context.Context, code string, outcome Outcome) error {
	err := m.attempts.Append(ctx, Attempt{Code: code, Outcome: outcome, Timestamp: m.nowTime().UTC()})
	return errors.Wrap(err, "[Monitor.RecordAttempt]")
}

// IsRateLimited reports whether code has reached the failure threshold within
// the window. Rate-limited attempts themselves do not extend the limit.
func (m *Monitor) IsRateLimited(ctx context.Context, code string) (bool, error) {
	recent, err := m.attempts.ListSince(ctx, code, m.windowStart())
	if err != nil {
		return false, errors.Wrap(err, "[Monitor.IsRateLimited]")
	}

	counted := 0
	for _, a := range recent {
		if a.Outcome.CountsTowardLimit() {
			counted++
		}
	}
	return counted >= m.threshold, nil
}

// Reserve is the check-and-record step of a join. When code is under the
// limit it holds a pending attempt, which counts as a failure until Settle
// replaces it. When code is limited the rate_limited outcome is already
// recorded and ok is false.
func (m *Monitor) Reserve(ctx context.Context, code string) (id int64, ok bool, err error) {
	now := m.nowTime().UTC()
	id, ok, err = m.attempts.Reserve(ctx, code, now.Add(-m.window), now, m.threshold)
	if err != nil {
		return 0, false, errors.Wrap(err, "[Monitor.Reserve]")
	}
	return id, ok, nil
}

// Settle records the final outcome of a reserved attempt.
func (m *Monitor) Settle(ctx context.Context, id int64, outcome Outcome) error {
	return errors.Wrap(m.attempts.Settle(ctx, id, outcome), "[Monitor.Settle]")
}

// HasRecentAttempts reports whether anything was attempted against code
// within the window.
func (m *Monitor) HasRecentAttempts(ctx context.Context, code string) (bool, error) {
	recent, err := m.attempts.ListSince(ctx, code, m.windowStart())
	if err != nil {
		return false, errors.Wrap(err, "[Monitor.HasRecentAttempts]")
	}
	return len(recent) > 0, nil
}

// Summarize builds the security overview for code. It never records an attempt.
func (m *Monitor) Summarize(ctx context.Context, code string) (*SecurityOverview, error) {
	recent, err := m.attempts.ListSince(ctx, code, m.windowStart())
	if err != nil {
		return nil, errors.Wrap(err, "[Monitor.Summarize] list attempts")
	}

	overview := &SecurityOverview{SessionCode: code}
	for _, a := range recent {
		switch {
		case a.Outcome.IsFailure():
			overview.RecentFailedAttempts++
			if overview.LastFailedAttempt == nil || a.Timestamp.After(*overview.LastFailedAttempt) {
				ts := a.Timestamp
				overview.LastFailedAttempt = &ts
			}
		case a.Outcome == OutcomeRateLimited:
			overview.RecentRateLimited++
		}
	}

	session, err := m.pending.GetSessionByCode(ctx, code)
	switch {
	case apperrors.Is(err, apperrors.ErrSessionNotFound):
		return overview, nil
	case err != nil:
		return nil, errors.Wrap(err, "[Monitor.Summarize] lookup session")
	}

	overview.PendingRequests, err = m.pending.CountPendingMemberships(ctx, session.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Monitor.Summarize] count pending")
	}
	return overview, nil
}

// Prune drops attempts that have fallen out of the window.
func (m *Monitor) Prune(ctx context.Context) (int64, error) {
	n, err := m.attempts.DeleteOlderThan(ctx, m.windowStart())
	if err != nil {
		return 0, errors.Wrap(err, "[Monitor.Prune]")
	}
	return n, nil
}

func (m *Monitor) windowStart() time.Time {
	return m.nowTime().UTC().Add(-m.window)
}

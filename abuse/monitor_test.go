package abuse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/sessions"
	"github.com/jrsteele09/go-pairing-server/sessions/sessionstest"
)

const code = "ABCDEFGH"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMonitor(t *testing.T, opts ...abuse.MonitorOption) (*abuse.Monitor, *clock, *sessions.InMemoryRepo) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := sessions.NewInMemoryRepo()
	opts = append([]abuse.MonitorOption{abuse.WithNowTime(c.Now)}, opts...)
	return abuse.NewMonitor(abuse.NewInMemoryAttemptRepo(), store, opts...), c, store
}

func record(t *testing.T, m *abuse.Monitor, outcome abuse.Outcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, m.RecordAttempt(context.Background(), code, outcome))
	}
}

func TestMonitorDefaults(t *testing.T) {
	m := abuse.NewMonitor(abuse.NewInMemoryAttemptRepo(), sessions.NewInMemoryRepo())
	require.Equal(t, abuse.DefaultWindow, m.Window())
	require.Equal(t, abuse.DefaultThreshold, m.Threshold())

	// Non-positive values keep the defaults
	m = abuse.NewMonitor(abuse.NewInMemoryAttemptRepo(), sessions.NewInMemoryRepo(),
		abuse.WithWindow(0), abuse.WithThreshold(-1))
	require.Equal(t, abuse.DefaultWindow, m.Window())
	require.Equal(t, abuse.DefaultThreshold, m.Threshold())
}

func TestIsRateLimited(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		outcomes map[abuse.Outcome]int
		limited  bool
	}{
		{name: "no attempts", limited: false},
		{name: "below threshold", outcomes: map[abuse.Outcome]int{abuse.OutcomeBadPassphrase: 4}, limited: false},
		{name: "at threshold", outcomes: map[abuse.Outcome]int{abuse.OutcomeBadPassphrase: 5}, limited: true},
		{name: "mixed failures", outcomes: map[abuse.Outcome]int{abuse.OutcomeBadPassphrase: 3, abuse.OutcomeInvalidCode: 2}, limited: true},
		{name: "successes do not count", outcomes: map[abuse.Outcome]int{abuse.OutcomeSuccess: 10, abuse.OutcomeBadPassphrase: 4}, limited: false},
		{name: "rate limited attempts do not count", outcomes: map[abuse.Outcome]int{abuse.OutcomeRateLimited: 10}, limited: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMonitor(t)
			for outcome, n := range tt.outcomes {
				record(t, m, outcome, n)
			}
			limited, err := m.IsRateLimited(ctx, code)
			require.NoError(t, err)
			require.Equal(t, tt.limited, limited)
		})
	}
}

func TestRateLimitIsPerCode(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMonitor(t)
	record(t, m, abuse.OutcomeBadPassphrase, 5)

	limited, err := m.IsRateLimited(ctx, "ZZZZZZZZ")
	require.NoError(t, err)
	require.False(t, limited)
}

func TestRateLimitWindowSlides(t *testing.T) {
	ctx := context.Background()
	m, c, _ := newMonitor(t, abuse.WithThreshold(3))

	record(t, m, abuse.OutcomeBadPassphrase, 2)
	c.Advance(6 * time.Minute)
	record(t, m, abuse.OutcomeBadPassphrase, 1)

	limited, err := m.IsRateLimited(ctx, code)
	require.NoError(t, err)
	require.True(t, limited)

	// The first two fall out of the window
	c.Advance(5 * time.Minute)
	limited, err = m.IsRateLimited(ctx, code)
	require.NoError(t, err)
	require.False(t, limited)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	m, c, store := newMonitor(t)

	s := sessionstest.NewSession("host-1", code, c.Now())
	require.NoError(t, store.CreateSession(ctx, s))
	require.NoError(t, store.CreateMembership(ctx, sessionstest.NewMembership(s.ID, "joiner-1", sessions.MembershipPending, c.Now())))
	require.NoError(t, store.CreateMembership(ctx, sessionstest.NewMembership(s.ID, "joiner-2", sessions.MembershipApproved, c.Now())))

	record(t, m, abuse.OutcomeSuccess, 1)
	record(t, m, abuse.OutcomeBadPassphrase, 2)
	c.Advance(time.Minute)
	record(t, m, abuse.OutcomeInvalidCode, 1)
	lastFailure := c.Now()
	c.Advance(time.Minute)
	record(t, m, abuse.OutcomeRateLimited, 3)

	overview, err := m.Summarize(ctx, code)
	require.NoError(t, err)
	require.Equal(t, code, overview.SessionCode)
	require.Equal(t, 1, overview.PendingRequests)
	require.Equal(t, 3, overview.RecentFailedAttempts)
	require.Equal(t, 3, overview.RecentRateLimited)
	require.NotNil(t, overview.LastFailedAttempt)
	require.True(t, overview.LastFailedAttempt.Equal(lastFailure))

	// Summarize is a pure read
	again, err := m.Summarize(ctx, code)
	require.NoError(t, err)
	require.Equal(t, overview, again)
}

func TestSummarizeWithoutSessionOrAttempts(t *testing.T) {
	m, _, _ := newMonitor(t)

	overview, err := m.Summarize(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, &abuse.SecurityOverview{SessionCode: code}, overview)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	m, c, _ := newMonitor(t)

	record(t, m, abuse.OutcomeBadPassphrase, 3)
	c.Advance(11 * time.Minute)
	record(t, m, abuse.OutcomeSuccess, 1)

	n, err := m.Prune(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	n, err = m.Prune(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	m, c, _ := newMonitor(t, abuse.WithThreshold(2))

	first, ok, err := m.Reserve(ctx, code)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := m.Reserve(ctx, code)
	require.NoError(t, err)
	require.True(t, ok)

	// Both are unsettled, so the code is already at its limit.
	limited, err := m.IsRateLimited(ctx, code)
	require.NoError(t, err)
	require.True(t, limited)
	_, ok, err = m.Reserve(ctx, code)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Settle(ctx, first, abuse.OutcomeSuccess))
	require.NoError(t, m.Settle(ctx, second, abuse.OutcomeBadPassphrase))

	overview, err := m.Summarize(ctx, code)
	require.NoError(t, err)
	require.Equal(t, 1, overview.RecentFailedAttempts)
	require.Equal(t, 1, overview.RecentRateLimited)

	limited, err = m.IsRateLimited(ctx, code)
	require.NoError(t, err)
	require.False(t, limited)

	c.Advance(11 * time.Minute)
	_, ok, err = m.Reserve(ctx, code)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasRecentAttempts(t *testing.T) {
	ctx := context.Background()
	m, c, _ := newMonitor(t)

	recent, err := m.HasRecentAttempts(ctx, code)
	require.NoError(t, err)
	require.False(t, recent)

	record(t, m, abuse.OutcomeInvalidCode, 1)
	recent, err = m.HasRecentAttempts(ctx, code)
	require.NoError(t, err)
	require.True(t, recent)

	c.Advance(11 * time.Minute)
	recent, err = m.HasRecentAttempts(ctx, code)
	require.NoError(t, err)
	require.False(t, recent)
}

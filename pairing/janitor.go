package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const (
	DefaultJanitorInterval = 5 * time.Minute
	DefaultPendingTTL      = 24 * time.Hour
	DefaultEndedRetention  = 30 * 24 * time.Hour
)

// JanitorConfig holds the parameters for NewJanitor. Zero durations select
// the defaults; a negative PendingTTL or EndedRetention disables that sweep.
type JanitorConfig struct {
	Interval       time.Duration
	PendingTTL     time.Duration
	EndedRetention time.Duration
}

// SweepResult counts what one sweep removed or changed.
type SweepResult struct {
	PrunedAttempts  int64
	ExpiredRequests int64
	DeletedSessions int64
}

// Janitor periodically prunes the attempt log, expires stale pending requests
// and deletes long-ended sessions. Nothing depends on it running promptly.
type Janitor struct {
	sessions sessions.Repo
	monitor  *abuse.Monitor
	cfg      JanitorConfig
	logger   zerolog.Logger
	nowTime  func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// JanitorOption defines a function type to modify the Janitor instance.
type JanitorOption func(*Janitor)

// WithJanitorNowTime sets the now time function (primarily for testing)
func WithJanitorNowTime(nowFunc func() time.Time) JanitorOption {
	return func(j *Janitor) {
		j.nowTime = nowFunc
	}
}

// WithJanitorLogger replaces the global zerolog logger.
func WithJanitorLogger(logger zerolog.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = logger
	}
}

// NewJanitor creates a janitor but does not start it.
func NewJanitor(repo sessions.Repo, monitor *abuse.Monitor, cfg JanitorConfig, opts ...JanitorOption) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultJanitorInterval
	}
	if cfg.PendingTTL == 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.EndedRetention == 0 {
		cfg.EndedRetention = DefaultEndedRetention
	}

	j := &Janitor{
		sessions: repo,
		monitor:  monitor,
		cfg:      cfg,
		logger:   log.Logger,
		nowTime:  time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs a sweep immediately, then repeats on the configured interval
// until ctx is cancelled or Stop is called. Starting twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return
	}

	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	go j.loop(ctx, j.done)

	j.logger.Info().
		Dur("interval", j.cfg.Interval).
		Dur("pending_ttl", j.cfg.PendingTTL).
		Dur("ended_retention", j.cfg.EndedRetention).
		Msg("janitor started")
}

// Stop signals the loop to exit and waits for it. Safe to call more than once
// or without Start.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	j.Sweep(ctx)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Each step is independent; a failing step is logged
// and the others still run.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := j.nowTime().UTC()

	if j.monitor != nil {
		n, err := j.monitor.Prune(ctx)
		if err != nil {
			j.logger.Error().Err(err).Msg("janitor: prune attempts")
		}
		result.PrunedAttempts = n
	}

	if j.cfg.PendingTTL > 0 {
		n, err := j.sessions.ExpirePendingBefore(ctx, now.Add(-j.cfg.PendingTTL), now)
		if err != nil {
			j.logger.Error().Err(err).Msg("janitor: expire pending requests")
		}
		result.ExpiredRequests = n
	}

	if j.cfg.EndedRetention > 0 {
		n, err := j.sessions.DeleteEndedBefore(ctx, now.Add(-j.cfg.EndedRetention))
		if err != nil {
			j.logger.Error().Err(err).Msg("janitor: delete ended sessions")
		}
		result.DeletedSessions = n
	}

	if result != (SweepResult{}) {
		j.logger.Debug().
			Int64("attempts", result.PrunedAttempts).
			Int64("expired", result.ExpiredRequests).
			Int64("deleted", result.DeletedSessions).
			Msg("janitor sweep")
	}
	return result
}

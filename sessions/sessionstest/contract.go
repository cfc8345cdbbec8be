// Package sessionstest holds the behavioural tests every sessions.Repo
// implementation must pass.
package sessionstest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/internal/utils"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

// Factory returns an empty repository for a single subtest.
type Factory func(t *testing.T) sessions.Repo

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// NewSession builds an unsaved active session for ownerID.
func NewSession(ownerID, code string, at time.Time) *sessions.Session {
	return &sessions.Session{
		ID:          uuid.New().String(),
		Code:        code,
		OwnerUserID: ownerID,
		Status:      sessions.StatusActive,
		CreatedAt:   at,
	}
}

// NewMembership builds an unsaved membership for participantID.
func NewMembership(sessionID, participantID string, status sessions.MembershipStatus, at time.Time) *sessions.Membership {
	m := &sessions.Membership{
		ID:                uuid.New().String(),
		SessionID:         sessionID,
		ParticipantUserID: participantID,
		ParticipantName:   "Participant " + participantID,
		ParticipantEmail:  participantID + "@example.com",
		DeviceID:          utils.Ptr("device-" + participantID),
		Status:            status,
		RequestedAt:       at,
	}
	if status != sessions.MembershipPending {
		m.ResolvedAt = utils.Ptr(at)
	}
	return m
}

// RunRepoTests runs the contract against repositories built by newRepo.
func RunRepoTests(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("create and fetch session", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		s.PassphraseHash = utils.Ptr("hash")
		s.ApprovalRequired = true
		require.NoError(t, repo.CreateSession(ctx, s))

		got, err := repo.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s.ID, got.ID)
		require.Equal(t, "ABCDEFGH", got.Code)
		require.Equal(t, "host-1", got.OwnerUserID)
		require.Equal(t, "hash", utils.Value(got.PassphraseHash))
		require.True(t, got.ApprovalRequired)
		require.Equal(t, sessions.StatusActive, got.Status)
		require.True(t, got.CreatedAt.Equal(baseTime))
		require.Nil(t, got.EndedAt)

		byCode, err := repo.GetSessionByCode(ctx, "ABCDEFGH")
		require.NoError(t, err)
		require.Equal(t, s.ID, byCode.ID)

		byOwner, err := repo.GetActiveSessionForOwner(ctx, "host-1")
		require.NoError(t, err)
		require.Equal(t, s.ID, byOwner.ID)

		active, err := repo.IsCodeActive(ctx, "ABCDEFGH")
		require.NoError(t, err)
		require.True(t, active)
	})

	t.Run("missing session", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.GetSession(ctx, "nope")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		_, err = repo.GetSessionByCode(ctx, "ZZZZZZZZ")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		_, err = repo.GetActiveSessionForOwner(ctx, "nobody")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		require.ErrorIs(t, repo.EndSession(ctx, "nope", baseTime), apperrors.ErrSessionNotFound)

		active, err := repo.IsCodeActive(ctx, "ZZZZZZZZ")
		require.NoError(t, err)
		require.False(t, active)
	})

	t.Run("one active session per owner", func(t *testing.T) {
		repo := newRepo(t)
		first := NewSession("host-1", "AAAAAAAA", baseTime)
		require.NoError(t, repo.CreateSession(ctx, first))

		second := NewSession("host-1", "BBBBBBBB", baseTime.Add(time.Minute))
		require.NoError(t, repo.CreateSession(ctx, second))

		prior, err := repo.GetSession(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.StatusEnded, prior.Status)
		require.NotNil(t, prior.EndedAt)

		active, err := repo.GetActiveSessionForOwner(ctx, "host-1")
		require.NoError(t, err)
		require.Equal(t, second.ID, active.ID)

		_, err = repo.GetSessionByCode(ctx, "AAAAAAAA")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

		// Other owners are unaffected
		other := NewSession("host-2", "CCCCCCCC", baseTime)
		require.NoError(t, repo.CreateSession(ctx, other))
		stillActive, err := repo.GetActiveSessionForOwner(ctx, "host-1")
		require.NoError(t, err)
		require.Equal(t, second.ID, stillActive.ID)
	})

	t.Run("concurrent creates leave one active session", func(t *testing.T) {
		repo := newRepo(t)
		codes := []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC", "DDDDDDDD", "EEEEEEEE", "FFFFFFFF"}

		var wg sync.WaitGroup
		errs := make(chan error, len(codes))
		for i, code := range codes {
			wg.Add(1)
			go func(i int, code string) {
				defer wg.Done()
				errs <- repo.CreateSession(ctx, NewSession("host-1", code, baseTime.Add(time.Duration(i)*time.Second)))
			}(i, code)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		activeCount := 0
		for _, code := range codes {
			active, err := repo.IsCodeActive(ctx, code)
			require.NoError(t, err)
			if active {
				activeCount++
			}
		}
		require.Equal(t, 1, activeCount)
	})

	t.Run("end session", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		endedAt := baseTime.Add(time.Hour)
		require.NoError(t, repo.EndSession(ctx, s.ID, endedAt))
		// Ending twice is a no-op
		require.NoError(t, repo.EndSession(ctx, s.ID, endedAt.Add(time.Hour)))

		got, err := repo.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.StatusEnded, got.Status)
		require.True(t, got.EndedAt.Equal(endedAt))

		_, err = repo.GetActiveSessionForOwner(ctx, "host-1")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

		active, err := repo.IsCodeActive(ctx, "ABCDEFGH")
		require.NoError(t, err)
		require.False(t, active)

		// The code can be reissued once its session has ended
		reissued := NewSession("host-2", "ABCDEFGH", baseTime.Add(2*time.Hour))
		require.NoError(t, repo.CreateSession(ctx, reissued))
		byCode, err := repo.GetSessionByCode(ctx, "ABCDEFGH")
		require.NoError(t, err)
		require.Equal(t, reissued.ID, byCode.ID)
	})

	t.Run("memberships", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		m1 := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime.Add(time.Minute))
		m2 := NewMembership(s.ID, "joiner-2", sessions.MembershipApproved, baseTime.Add(2*time.Minute))
		m3 := NewMembership(s.ID, "joiner-3", sessions.MembershipPending, baseTime.Add(3*time.Minute))
		for _, m := range []*sessions.Membership{m1, m2, m3} {
			require.NoError(t, repo.CreateMembership(ctx, m))
		}

		got, err := repo.GetMembership(ctx, m1.ID)
		require.NoError(t, err)
		require.Equal(t, "joiner-1", got.ParticipantUserID)
		require.Equal(t, "Participant joiner-1", got.ParticipantName)
		require.Equal(t, "joiner-1@example.com", got.ParticipantEmail)
		require.Equal(t, "device-joiner-1", utils.Value(got.DeviceID))
		require.Equal(t, sessions.MembershipPending, got.Status)
		require.Nil(t, got.ResolvedAt)

		pending, err := repo.ListPendingMemberships(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, m1.ID, pending[0].ID)
		require.Equal(t, m3.ID, pending[1].ID)

		all, err := repo.ListMemberships(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, all, 3)

		count, err := repo.CountPendingMemberships(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		_, err = repo.GetMembership(ctx, "nope")
		require.ErrorIs(t, err, apperrors.ErrMembershipNotFound)

		empty, err := repo.ListPendingMemberships(ctx, "no-session")
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("membership requires session", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.CreateMembership(ctx, NewMembership("no-session", "joiner-1", sessions.MembershipPending, baseTime))
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("ended session takes no memberships", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))
		require.NoError(t, repo.EndSession(ctx, s.ID, baseTime.Add(time.Minute)))

		for _, status := range []sessions.MembershipStatus{sessions.MembershipPending, sessions.MembershipApproved} {
			err := repo.CreateMembership(ctx, NewMembership(s.ID, "joiner-1", status, baseTime.Add(2*time.Minute)))
			require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		}

		all, err := repo.ListMemberships(ctx, s.ID)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("one non-denied membership per participant", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		first := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime)
		require.NoError(t, repo.CreateMembership(ctx, first))

		dup := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime.Add(time.Second))
		require.ErrorIs(t, repo.CreateMembership(ctx, dup), apperrors.ErrAlreadyRequested)

		_, err := repo.ResolveMembership(ctx, first.ID, true, "", baseTime.Add(time.Minute))
		require.NoError(t, err)
		again := NewMembership(s.ID, "joiner-1", sessions.MembershipApproved, baseTime.Add(2*time.Minute))
		require.ErrorIs(t, repo.CreateMembership(ctx, again), apperrors.ErrAlreadyRequested)
	})

	t.Run("rejoin after denial creates a new row", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		first := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime)
		require.NoError(t, repo.CreateMembership(ctx, first))
		_, err := repo.ResolveMembership(ctx, first.ID, false, "not now", baseTime.Add(time.Minute))
		require.NoError(t, err)

		second := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime.Add(2*time.Minute))
		require.NoError(t, repo.CreateMembership(ctx, second))

		old, err := repo.GetMembership(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipDenied, old.Status)
		require.Equal(t, "not now", old.Note)

		all, err := repo.ListMemberships(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
	})

	t.Run("concurrent joins for one participant", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		const attempts = 8
		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.CreateMembership(ctx, NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime))
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			if err == nil {
				created++
				continue
			}
			require.ErrorIs(t, err, apperrors.ErrAlreadyRequested)
		}
		require.Equal(t, 1, created)
	})

	t.Run("resolve is first-resolver-wins", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))
		m := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime)
		require.NoError(t, repo.CreateMembership(ctx, m))

		resolvedAt := baseTime.Add(time.Minute)
		approved, err := repo.ResolveMembership(ctx, m.ID, true, "welcome", resolvedAt)
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipApproved, approved.Status)
		require.Equal(t, "welcome", approved.Note)
		require.True(t, approved.ResolvedAt.Equal(resolvedAt))

		// Same outcome again: no error, resolvedAt unchanged
		again, err := repo.ResolveMembership(ctx, m.ID, true, "", resolvedAt.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipApproved, again.Status)
		require.True(t, again.ResolvedAt.Equal(resolvedAt))

		// Opposite outcome never reverses a terminal state
		reversed, err := repo.ResolveMembership(ctx, m.ID, false, "changed my mind", resolvedAt.Add(2*time.Hour))
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipApproved, reversed.Status)
		require.Equal(t, "welcome", reversed.Note)

		_, err = repo.ResolveMembership(ctx, "nope", true, "", resolvedAt)
		require.ErrorIs(t, err, apperrors.ErrMembershipNotFound)
	})

	t.Run("concurrent resolvers agree on one outcome", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))
		m := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime)
		require.NoError(t, repo.CreateMembership(ctx, m))

		const resolvers = 10
		var wg sync.WaitGroup
		type result struct {
			m   *sessions.Membership
			err error
		}
		results := make(chan result, resolvers)
		for i := 0; i < resolvers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, err := repo.ResolveMembership(ctx, m.ID, i%2 == 0, "", baseTime.Add(time.Duration(i+1)*time.Second))
				results <- result{m: got, err: err}
			}(i)
		}
		wg.Wait()
		close(results)

		final, err := repo.GetMembership(ctx, m.ID)
		require.NoError(t, err)
		for got := range results {
			require.NoError(t, got.err)
			require.Equal(t, final.Status, got.m.Status)
			require.True(t, final.ResolvedAt.Equal(*got.m.ResolvedAt))
		}
	})

	t.Run("expire pending before cutoff", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("host-1", "ABCDEFGH", baseTime)
		require.NoError(t, repo.CreateSession(ctx, s))

		old := NewMembership(s.ID, "joiner-1", sessions.MembershipPending, baseTime)
		fresh := NewMembership(s.ID, "joiner-2", sessions.MembershipPending, baseTime.Add(2*time.Hour))
		approved := NewMembership(s.ID, "joiner-3", sessions.MembershipApproved, baseTime)
		for _, m := range []*sessions.Membership{old, fresh, approved} {
			require.NoError(t, repo.CreateMembership(ctx, m))
		}

		now := baseTime.Add(3 * time.Hour)
		n, err := repo.ExpirePendingBefore(ctx, baseTime.Add(time.Hour), now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		got, err := repo.GetMembership(ctx, old.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipDenied, got.Status)
		require.Equal(t, sessions.ExpiredNote, got.Note)
		require.True(t, got.ResolvedAt.Equal(now))

		got, err = repo.GetMembership(ctx, fresh.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipPending, got.Status)

		got, err = repo.GetMembership(ctx, approved.ID)
		require.NoError(t, err)
		require.Equal(t, sessions.MembershipApproved, got.Status)
	})

	t.Run("delete ended sessions before cutoff", func(t *testing.T) {
		repo := newRepo(t)
		oldSession := NewSession("host-1", "AAAAAAAA", baseTime)
		require.NoError(t, repo.CreateSession(ctx, oldSession))
		m := NewMembership(oldSession.ID, "joiner-1", sessions.MembershipApproved, baseTime)
		require.NoError(t, repo.CreateMembership(ctx, m))
		require.NoError(t, repo.EndSession(ctx, oldSession.ID, baseTime.Add(time.Hour)))

		recent := NewSession("host-2", "BBBBBBBB", baseTime)
		require.NoError(t, repo.CreateSession(ctx, recent))
		require.NoError(t, repo.EndSession(ctx, recent.ID, baseTime.Add(48*time.Hour)))

		active := NewSession("host-3", "CCCCCCCC", baseTime)
		require.NoError(t, repo.CreateSession(ctx, active))

		n, err := repo.DeleteEndedBefore(ctx, baseTime.Add(24*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		_, err = repo.GetSession(ctx, oldSession.ID)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		_, err = repo.GetMembership(ctx, m.ID)
		require.ErrorIs(t, err, apperrors.ErrMembershipNotFound)

		_, err = repo.GetSession(ctx, recent.ID)
		require.NoError(t, err)
		_, err = repo.GetSession(ctx, active.ID)
		require.NoError(t, err)
	})
}

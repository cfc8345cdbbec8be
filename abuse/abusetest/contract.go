// Package abusetest holds the behavioural tests every abuse.AttemptRepo
// implementation must pass.
package abusetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-pairing-server/abuse"
)

// Factory returns an empty repository for a single subtest.
type Factory func(t *testing.T) abuse.AttemptRepo

var baseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func RunAttemptRepoTests(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("list since filters by code and time", func(t *testing.T) {
		repo := newRepo(t)
		attempts := []abuse.Attempt{
			{Code: "AAAAAAAA", Outcome: abuse.OutcomeBadPassphrase, Timestamp: baseTime},
			{Code: "AAAAAAAA", Outcome: abuse.OutcomeSuccess, Timestamp: baseTime.Add(2 * time.Minute)},
			{Code: "AAAAAAAA", Outcome: abuse.OutcomeInvalidCode, Timestamp: baseTime.Add(time.Minute)},
			{Code: "BBBBBBBB", Outcome: abuse.OutcomeRateLimited, Timestamp: baseTime.Add(time.Minute)},
		}
		for _, a := range attempts {
			require.NoError(t, repo.Append(ctx, a))
		}

		got, err := repo.ListSince(ctx, "AAAAAAAA", baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, abuse.OutcomeInvalidCode, got[0].Outcome)
		require.True(t, got[0].Timestamp.Equal(baseTime.Add(time.Minute)))
		require.Equal(t, abuse.OutcomeSuccess, got[1].Outcome)
		require.Equal(t, "AAAAAAAA", got[1].Code)

		all, err := repo.ListSince(ctx, "AAAAAAAA", baseTime.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, all, 3)

		none, err := repo.ListSince(ctx, "CCCCCCCC", baseTime.Add(-time.Hour))
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("delete older than", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 4; i++ {
			at := baseTime.Add(time.Duration(i) * time.Minute)
			require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "AAAAAAAA", Outcome: abuse.OutcomeBadPassphrase, Timestamp: at}))
			require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "BBBBBBBB", Outcome: abuse.OutcomeSuccess, Timestamp: at}))
		}

		n, err := repo.DeleteOlderThan(ctx, baseTime.Add(2*time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 4, n)

		left, err := repo.ListSince(ctx, "AAAAAAAA", baseTime.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, left, 2)
		left, err = repo.ListSince(ctx, "BBBBBBBB", baseTime.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, left, 2)
	})

	t.Run("reserve counts failures and unsettled attempts", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "AAAAAAAA", Outcome: abuse.OutcomeBadPassphrase, Timestamp: baseTime}))
		require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "AAAAAAAA", Outcome: abuse.OutcomeSuccess, Timestamp: baseTime}))
		require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "AAAAAAAA", Outcome: abuse.OutcomeRateLimited, Timestamp: baseTime}))
		// Outside the window
		require.NoError(t, repo.Append(ctx, abuse.Attempt{Code: "AAAAAAAA", Outcome: abuse.OutcomeInvalidCode, Timestamp: baseTime.Add(-time.Hour)}))

		since := baseTime.Add(-time.Minute)
		at := baseTime.Add(time.Second)

		id, ok, err := repo.Reserve(ctx, "AAAAAAAA", since, at, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotZero(t, id)

		// One failure plus one unsettled reservation
		second, ok, err := repo.Reserve(ctx, "AAAAAAAA", since, at, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.NotEqual(t, id, second)

		_, ok, err = repo.Reserve(ctx, "AAAAAAAA", since, at, 3)
		require.NoError(t, err)
		require.False(t, ok)

		got, err := repo.ListSince(ctx, "AAAAAAAA", since)
		require.NoError(t, err)
		require.Len(t, got, 6)
		require.Equal(t, abuse.OutcomePending, got[3].Outcome)
		require.Equal(t, abuse.OutcomePending, got[4].Outcome)
		require.Equal(t, abuse.OutcomeRateLimited, got[5].Outcome)
		require.True(t, got[5].Timestamp.Equal(at))

		// A settled success frees its slot.
		require.NoError(t, repo.Settle(ctx, id, abuse.OutcomeSuccess))
		_, ok, err = repo.Reserve(ctx, "AAAAAAAA", since, at, 3)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("settle sets the final outcome", func(t *testing.T) {
		repo := newRepo(t)
		id, ok, err := repo.Reserve(ctx, "AAAAAAAA", baseTime.Add(-time.Minute), baseTime, 5)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.Settle(ctx, id, abuse.OutcomeBadPassphrase))
		got, err := repo.ListSince(ctx, "AAAAAAAA", baseTime.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, id, got[0].ID)
		require.Equal(t, abuse.OutcomeBadPassphrase, got[0].Outcome)

		// Pruned attempts settle silently
		_, err = repo.DeleteOlderThan(ctx, baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.Settle(ctx, id, abuse.OutcomeSuccess))
	})

	t.Run("concurrent reservations never exceed the threshold", func(t *testing.T) {
		repo := newRepo(t)
		const threshold = 4

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := repo.Reserve(ctx, "AAAAAAAA", baseTime.Add(-time.Minute), baseTime, threshold)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				granted++
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Equal(t, threshold, granted)

		got, err := repo.ListSince(ctx, "AAAAAAAA", baseTime.Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 40)
	})
}

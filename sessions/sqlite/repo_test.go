package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-pairing-server/internal/db/dbtest"
	"github.com/jrsteele09/go-pairing-server/internal/utils"
	"github.com/jrsteele09/go-pairing-server/sessions"
	"github.com/jrsteele09/go-pairing-server/sessions/sessionstest"
	"github.com/jrsteele09/go-pairing-server/sessions/sqlite"
)

func newRepo(t *testing.T) *sqlite.Repo {
	conn := dbtest.Open(t)
	return sqlite.NewRepo(conn, dbtest.NewWriter(t, conn))
}

func TestSQLiteRepo(t *testing.T) {
	sessionstest.RunRepoTests(t, func(t *testing.T) sessions.Repo {
		return newRepo(t)
	})
}

func TestSQLiteRepoNullableColumns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	s := sessionstest.NewSession("host-1", "ABCDEFGH", now)
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Nil(t, got.PassphraseHash)
	require.False(t, got.HasPassphrase())

	m := sessionstest.NewMembership(s.ID, "joiner-1", sessions.MembershipPending, now)
	m.DeviceID = nil
	m.ParticipantEmail = ""
	require.NoError(t, repo.CreateMembership(ctx, m))

	gotM, err := repo.GetMembership(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, gotM.DeviceID)
	require.Empty(t, gotM.ParticipantEmail)
	require.Nil(t, gotM.ResolvedAt)
}

func TestSQLiteRepoPreservesMillisecondTimes(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	created := time.Date(2026, 3, 14, 9, 0, 0, 123_000_000, time.UTC)

	s := sessionstest.NewSession("host-1", "ABCDEFGH", created)
	s.PassphraseHash = utils.Ptr("$2a$10$hash")
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(created))
	require.Equal(t, time.UTC, got.CreatedAt.Location())
}

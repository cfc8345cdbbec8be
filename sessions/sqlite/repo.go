// Package sqlite implements sessions.Repo on SQLite. Reads use the shared
// connection pool directly; writes are serialized through a db.Worker so every
// read-check-write runs in one transaction with no interleaving writer.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jrsteele09/go-pairing-server/internal/db"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const sessionColumns = `id, code, owner_user_id, passphrase_hash, approval_required, status, created_at_ms, ended_at_ms`

const membershipColumns = `id, session_id, participant_user_id, participant_name, participant_email, device_id, status, note, requested_at_ms, resolved_at_ms`

type Repo struct {
	db     *sql.DB
	writer *db.Worker
}

var _ sessions.Repo = (*Repo)(nil)

func NewRepo(conn *sql.DB, writer *db.Worker) *Repo {
	return &Repo{db: conn, writer: writer}
}

func (r *Repo) CreateSession(ctx context.Context, s *sessions.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("[Repo.CreateSession] session ID is required")
	}
	if s.OwnerUserID == "" {
		return errors.New("[Repo.CreateSession] owner is required")
	}

	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// End the owner's prior active session first so the partial unique
		// indexes never see two active rows.
		if _, err := tx.ExecContext(ctx, `
UPDATE pairing_sessions
   SET status = 'ended', ended_at_ms = ?
 WHERE owner_user_id = ? AND status = 'active';`,
			db.ToMillis(s.CreatedAt), s.OwnerUserID,
		); err != nil {
			return errors.Wrap(err, "end prior session")
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO pairing_sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, 'active', ?, NULL);`,
			s.ID, s.Code, s.OwnerUserID, nullString(s.PassphraseHash), s.ApprovalRequired, db.ToMillis(s.CreatedAt),
		)
		return errors.Wrap(err, "insert session")
	})
	if err != nil {
		return errors.Wrap(err, "[Repo.CreateSession]")
	}

	s.Status = sessions.StatusActive
	s.EndedAt = nil
	return nil
}

func (r *Repo) GetSession(ctx context.Context, id string) (*sessions.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM pairing_sessions WHERE id = ?;`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.GetSession]")
	}
	return s, nil
}

func (r *Repo) GetActiveSessionForOwner(ctx context.Context, ownerID string) (*sessions.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM pairing_sessions WHERE owner_user_id = ? AND status = 'active';`, ownerID)
	s, err := scanSession(row)
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.GetActiveSessionForOwner]")
	}
	return s, nil
}

func (r *Repo) GetSessionByCode(ctx context.Context, code string) (*sessions.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM pairing_sessions WHERE code = ? AND status = 'active';`, code)
	s, err := scanSession(row)
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.GetSessionByCode]")
	}
	return s, nil
}

func (r *Repo) IsCodeActive(ctx context.Context, code string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM pairing_sessions WHERE code = ? AND status = 'active';`, code).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "[Repo.IsCodeActive]")
	}
	return n > 0, nil
}

func (r *Repo) EndSession(ctx context.Context, id string, at time.Time) error {
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM pairing_sessions WHERE id = ?;`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if sessions.Status(status) == sessions.StatusEnded {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE pairing_sessions SET status = 'ended', ended_at_ms = ? WHERE id = ? AND status = 'active';`,
			db.ToMillis(at), id)
		return err
	})
	return errors.Wrap(err, "[Repo.EndSession]")
}

func (r *Repo) CreateMembership(ctx context.Context, m *sessions.Membership) error {
	if m == nil || m.ID == "" {
		return errors.New("[Repo.CreateMembership] membership ID is required")
	}

	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM pairing_sessions WHERE id = ? AND status = 'active';`, m.SessionID).Scan(&active); err != nil {
			return err
		}
		if active == 0 {
			return apperrors.ErrSessionNotFound
		}

		var open int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(1) FROM pairing_memberships
 WHERE session_id = ? AND participant_user_id = ? AND status <> 'denied';`,
			m.SessionID, m.ParticipantUserID,
		).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return apperrors.ErrAlreadyRequested
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO pairing_memberships (`+membershipColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			m.ID, m.SessionID, m.ParticipantUserID, m.ParticipantName, m.ParticipantEmail,
			nullString(m.DeviceID), string(m.Status), m.Note,
			db.ToMillis(m.RequestedAt), db.NullMillis(m.ResolvedAt),
		)
		if isUniqueViolation(err) {
			return apperrors.ErrAlreadyRequested
		}
		return err
	})
	return errors.Wrap(err, "[Repo.CreateMembership]")
}

func (r *Repo) GetMembership(ctx context.Context, id string) (*sessions.Membership, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM pairing_memberships WHERE id = ?;`, id)
	m, err := scanMembership(row)
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.GetMembership]")
	}
	return m, nil
}

func (r *Repo) ListPendingMemberships(ctx context.Context, sessionID string) ([]*sessions.Membership, error) {
	out, err := r.listMemberships(ctx, `
SELECT `+membershipColumns+` FROM pairing_memberships
 WHERE session_id = ? AND status = 'pending'
 ORDER BY requested_at_ms, rowid;`, sessionID)
	return out, errors.Wrap(err, "[Repo.ListPendingMemberships]")
}

func (r *Repo) ListMemberships(ctx context.Context, sessionID string) ([]*sessions.Membership, error) {
	out, err := r.listMemberships(ctx, `
SELECT `+membershipColumns+` FROM pairing_memberships
 WHERE session_id = ?
 ORDER BY requested_at_ms, rowid;`, sessionID)
	return out, errors.Wrap(err, "[Repo.ListMemberships]")
}

func (r *Repo) CountPendingMemberships(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM pairing_memberships WHERE session_id = ? AND status = 'pending';`, sessionID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "[Repo.CountPendingMemberships]")
	}
	return n, nil
}

func (r *Repo) ResolveMembership(ctx context.Context, id string, approve bool, note string, at time.Time) (*sessions.Membership, error) {
	status := sessions.MembershipDenied
	if approve {
		status = sessions.MembershipApproved
	}

	var resolved *sessions.Membership
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Only a pending row changes; a resolved row is returned as stored.
		if _, err := tx.ExecContext(ctx, `
UPDATE pairing_memberships
   SET status = ?, note = ?, resolved_at_ms = ?
 WHERE id = ? AND status = 'pending';`,
			string(status), note, db.ToMillis(at), id,
		); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM pairing_memberships WHERE id = ?;`, id)
		m, err := scanMembership(row)
		if err != nil {
			return err
		}
		resolved = m
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Repo.ResolveMembership]")
	}
	return resolved, nil
}

func (r *Repo) ExpirePendingBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	var n int64
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE pairing_memberships
   SET status = 'denied', note = ?, resolved_at_ms = ?
 WHERE status = 'pending' AND requested_at_ms < ?;`,
			sessions.ExpiredNote, db.ToMillis(at), db.ToMillis(cutoff),
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "[Repo.ExpirePendingBefore]")
	}
	return n, nil
}

func (r *Repo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Memberships cascade with foreign_keys on; delete them explicitly too
		// so the sweep does not depend on the connection PRAGMA.
		if _, err := tx.ExecContext(ctx, `
DELETE FROM pairing_memberships
 WHERE session_id IN (
   SELECT id FROM pairing_sessions WHERE status = 'ended' AND ended_at_ms < ?
 );`, db.ToMillis(cutoff)); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM pairing_sessions WHERE status = 'ended' AND ended_at_ms < ?;`, db.ToMillis(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "[Repo.DeleteEndedBefore]")
	}
	return n, nil
}

func (r *Repo) listMemberships(ctx context.Context, query string, args ...any) ([]*sessions.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*sessions.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*sessions.Session, error) {
	var (
		s         sessions.Session
		hash      sql.NullString
		status    string
		createdMs int64
		endedMs   sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.Code, &s.OwnerUserID, &hash, &s.ApprovalRequired, &status, &createdMs, &endedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if hash.Valid {
		s.PassphraseHash = &hash.String
	}
	s.Status = sessions.Status(status)
	s.CreatedAt = db.FromMillis(createdMs)
	s.EndedAt = db.TimePtr(endedMs)
	return &s, nil
}

func scanMembership(row scanner) (*sessions.Membership, error) {
	var (
		m           sessions.Membership
		deviceID    sql.NullString
		status      string
		requestedMs int64
		resolvedMs  sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.ParticipantUserID, &m.ParticipantName, &m.ParticipantEmail,
		&deviceID, &status, &m.Note, &requestedMs, &resolvedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}

	if deviceID.Valid {
		m.DeviceID = &deviceID.String
	}
	m.Status = sessions.MembershipStatus(status)
	m.RequestedAt = db.FromMillis(requestedMs)
	m.ResolvedAt = db.TimePtr(resolvedMs)
	return &m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

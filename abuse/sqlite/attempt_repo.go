// Package sqlite stores the join attempt log in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/internal/db"
)

type AttemptRepo struct {
	db     *sql.DB
	writer *db.Worker
}

var _ abuse.AttemptRepo = (*AttemptRepo)(nil)

func NewAttemptRepo(conn *sql.DB, writer *db.Worker) *AttemptRepo {
	return &AttemptRepo{db: conn, writer: writer}
}

func (r *AttemptRepo) Append(ctx context.Context, a abuse.Attempt) error {
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO join_attempts (code, outcome, attempted_ms) VALUES (?, ?, ?);`,
			a.Code, string(a.Outcome), db.ToMillis(a.Timestamp))
		return err
	})
	return errors.Wrap(err, "[AttemptRepo.Append]")
}

func (r *AttemptRepo) Reserve(ctx context.Context, code string, since, at time.Time, threshold int) (int64, bool, error) {
	var (
		id int64
		ok bool
	)
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var counted int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(1) FROM join_attempts
 WHERE code = ? AND attempted_ms >= ?
   AND outcome IN ('pending', 'bad_passphrase', 'invalid_code');`,
			code, db.ToMillis(since),
		).Scan(&counted); err != nil {
			return errors.Wrap(err, "count")
		}

		outcome := abuse.OutcomePending
		if counted >= threshold {
			outcome = abuse.OutcomeRateLimited
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO join_attempts (code, outcome, attempted_ms) VALUES (?, ?, ?);`,
			code, string(outcome), db.ToMillis(at))
		if err != nil {
			return errors.Wrap(err, "insert")
		}
		if outcome == abuse.OutcomeRateLimited {
			return nil
		}
		ok = true
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "[AttemptRepo.Reserve]")
	}
	return id, ok, nil
}

func (r *AttemptRepo) Settle(ctx context.Context, id int64, outcome abuse.Outcome) error {
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE join_attempts SET outcome = ? WHERE id = ?;`, string(outcome), id)
		return err
	})
	return errors.Wrap(err, "[AttemptRepo.Settle]")
}

func (r *AttemptRepo) ListSince(ctx context.Context, code string, since time.Time) ([]abuse.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, code, outcome, attempted_ms FROM join_attempts
 WHERE code = ? AND attempted_ms >= ?
 ORDER BY attempted_ms, id;`, code, db.ToMillis(since))
	if err != nil {
		return nil, errors.Wrap(err, "[AttemptRepo.ListSince]")
	}
	defer rows.Close()

	out := make([]abuse.Attempt, 0)
	for rows.Next() {
		var (
			a       abuse.Attempt
			outcome string
			ms      int64
		)
		if err := rows.Scan(&a.ID, &a.Code, &outcome, &ms); err != nil {
			return nil, errors.Wrap(err, "[AttemptRepo.ListSince] scan")
		}
		a.Outcome = abuse.Outcome(outcome)
		a.Timestamp = db.FromMillis(ms)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "[AttemptRepo.ListSince]")
	}
	return out, nil
}

func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM join_attempts WHERE attempted_ms < ?;`, db.ToMillis(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "[AttemptRepo.DeleteOlderThan]")
	}
	return n, nil
}

package sessions

import (
	"context"
	"time"
)

// Repo defines persistence for pairing sessions and their memberships. It is
// the single source of truth for both; implementations must make every method
// atomic per row.
//
// Codes passed to Repo methods are expected in canonical form (see
// joincode.Canonicalize).
type Repo interface {
	// CreateSession persists s as the owner's active session, ending any
	// prior active session of the same owner in the same atomic step.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns the session by ID, in any status.
	GetSession(ctx context.Context, id string) (*Session, error)

	// GetActiveSessionForOwner returns the owner's active session, or
	// ErrSessionNotFound.
	GetActiveSessionForOwner(ctx context.Context, ownerID string) (*Session, error)

	// GetSessionByCode returns the active session holding code, or
	// ErrSessionNotFound.
	GetSessionByCode(ctx context.Context, code string) (*Session, error)

	// IsCodeActive reports whether an active session holds code.
	IsCodeActive(ctx context.Context, code string) (bool, error)

	// EndSession marks the session ended. Ending an ended session is a no-op.
	EndSession(ctx context.Context, id string, at time.Time) error

	// CreateMembership persists m. It fails with ErrSessionNotFound unless the
	// session is active, and with ErrAlreadyRequested when the participant
	// already holds a pending or approved membership in the session.
	CreateMembership(ctx context.Context, m *Membership) error

	// GetMembership returns a membership by ID.
	GetMembership(ctx context.Context, id string) (*Membership, error)

	// ListPendingMemberships returns the session's pending memberships, oldest first.
	ListPendingMemberships(ctx context.Context, sessionID string) ([]*Membership, error)

	// ListMemberships returns every membership of the session, oldest first.
	ListMemberships(ctx context.Context, sessionID string) ([]*Membership, error)

	// CountPendingMemberships returns the number of pending memberships.
	CountPendingMemberships(ctx context.Context, sessionID string) (int, error)

	// ResolveMembership moves a pending membership to approved or denied. The
	// first resolver wins: resolving an already resolved membership returns
	// it unchanged without error.
	ResolveMembership(ctx context.Context, id string, approve bool, note string, at time.Time) (*Membership, error)

	// ExpirePendingBefore denies pending memberships requested before cutoff,
	// recording ExpiredNote. Returns the number of rows changed.
	ExpirePendingBefore(ctx context.Context, cutoff, at time.Time) (int64, error)

	// DeleteEndedBefore removes sessions that ended before cutoff together
	// with their memberships. Returns the number of sessions removed.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

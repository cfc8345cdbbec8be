package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-pairing-server/abuse"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/joincode"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

// Sessions is the facade device apps call. It holds no business rules: every
// call goes to the Backend, and failures land in a single error slot as a
// displayable message.
type Sessions struct {
	backend Backend
	cache   *Cache
	logger  zerolog.Logger

	mu     sync.Mutex
	errMsg string
}

// SessionsOption defines a function type to modify the Sessions instance.
type SessionsOption func(*Sessions)

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) SessionsOption {
	return func(s *Sessions) {
		s.logger = logger
	}
}

func NewSessions(backend Backend, opts ...SessionsOption) *Sessions {
	s := &Sessions{backend: backend, logger: log.Logger}
	s.cache = NewCache(s.load)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache exposes the current-session cache for consumers that render it.
func (s *Sessions) Cache() *Cache {
	return s.cache
}

// Current returns the cached current session, loading it if stale. Nil means
// the device is in no session.
func (s *Sessions) Current(ctx context.Context) (*CurrentSession, error) {
	cs, err := s.cache.Get(ctx)
	if err != nil {
		return nil, s.fail(err)
	}
	return cs, nil
}

func (s *Sessions) CreateSession(ctx context.Context, opts pairing.CreateOptions) (*CurrentSession, error) {
	s.cache.Invalidate()

	created, err := s.backend.CreateSession(ctx, opts)
	if err != nil {
		return nil, s.fail(err)
	}

	cs := hostView(created)
	s.cache.Set(cs)
	return cs, nil
}

// JoinSession joins with a code as typed. The result's Session is nil while
// the request waits for the host.
func (s *Sessions) JoinSession(ctx context.Context, code string, opts pairing.JoinOptions) (*pairing.JoinResult, error) {
	s.cache.Invalidate()

	result, err := s.backend.JoinSession(ctx, code, opts)
	if err != nil {
		return nil, s.fail(err)
	}

	s.cache.Set(participantView(result.Membership, result.Session, joincode.Canonicalize(code)))
	return result, nil
}

func (s *Sessions) EndSession(ctx context.Context, sessionID string) error {
	s.cache.Invalidate()

	if err := s.backend.EndSession(ctx, sessionID); err != nil {
		return s.fail(err)
	}

	s.cache.Set(nil)
	return nil
}

// ResolveRequest approves or denies a pending request on the host's session.
// On failure the pending list is untouched and only the error slot changes.
func (s *Sessions) ResolveRequest(ctx context.Context, membershipID string, approve bool, note string) (*sessions.Membership, error) {
	s.cache.Invalidate()

	m, err := s.backend.ResolveRequest(ctx, membershipID, approve, note)
	if err != nil {
		return nil, s.fail(err)
	}

	// The host's own view does not change, but re-read it so the cache is
	// valid again.
	if _, err := s.cache.Refresh(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("refresh after resolve")
	}
	return m, nil
}

func (s *Sessions) ListPendingRequests(ctx context.Context, code string) ([]*sessions.Membership, error) {
	pending, err := s.backend.ListPendingRequests(ctx, code)
	if err != nil {
		return nil, s.fail(err)
	}
	return pending, nil
}

func (s *Sessions) GetSecurityOverview(ctx context.Context, code string) (*abuse.SecurityOverview, error) {
	overview, err := s.backend.GetSecurityOverview(ctx, code)
	if err != nil {
		return nil, s.fail(err)
	}
	return overview, nil
}

// Error returns the last failure's message, or "".
func (s *Sessions) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Sessions) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
}

func (s *Sessions) fail(err error) error {
	s.mu.Lock()
	s.errMsg = Message(err)
	s.mu.Unlock()
	return err
}

// load rebuilds the current session. A participant's membership is re-read
// first; if it is no longer live the device falls back to its hosted session.
func (s *Sessions) load(ctx context.Context, last *CurrentSession) (*CurrentSession, error) {
	if last != nil && last.Role == RoleParticipant && last.Membership != nil {
		view, err := s.backend.GetMembership(ctx, last.Membership.ID)
		switch {
		case err == nil:
			if view.Membership.Blocks() && view.Session.IsActive() {
				session := view.Session
				if view.Membership.Status != sessions.MembershipApproved {
					session = nil
				}
				return participantView(view.Membership, session, view.Session.Code), nil
			}
		case !apperrors.Is(err, apperrors.ErrMembershipNotFound) && !apperrors.Is(err, apperrors.ErrSessionNotFound):
			return nil, err
		}
	}

	hosted, err := s.backend.GetActiveSession(ctx)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hostView(hosted), nil
}

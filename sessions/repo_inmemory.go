package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
)

// InMemoryRepo is an in-memory implementation of Repo. All state is guarded
// by a single lock, which gives every method the per-row atomicity Repo
// requires. Callers receive copies, never the stored rows.
type InMemoryRepo struct {
	mu            sync.RWMutex
	sessions      map[string]*Session    // sessionID -> session
	activeByOwner map[string]string      // ownerID -> active sessionID
	activeByCode  map[string]string      // code -> active sessionID
	memberships   map[string]*Membership // membershipID -> membership
	bySession     map[string][]string    // sessionID -> membershipIDs in request order
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates an empty in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions:      make(map[string]*Session),
		activeByOwner: make(map[string]string),
		activeByCode:  make(map[string]string),
		memberships:   make(map[string]*Membership),
		bySession:     make(map[string][]string),
	}
}

func (r *InMemoryRepo) CreateSession(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("[InMemoryRepo.CreateSession] session ID is required")
	}
	if s.OwnerUserID == "" {
		return errors.New("[InMemoryRepo.CreateSession] owner is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return errors.Errorf("[InMemoryRepo.CreateSession] session %s already exists", s.ID)
	}
	if holder, taken := r.activeByCode[s.Code]; taken && r.sessions[holder].OwnerUserID != s.OwnerUserID {
		return errors.New("[InMemoryRepo.CreateSession] code already held by an active session")
	}

	// End the owner's prior active session before activating the new one.
	if priorID, ok := r.activeByOwner[s.OwnerUserID]; ok {
		prior := r.sessions[priorID]
		endedAt := s.CreatedAt
		prior.Status = StatusEnded
		prior.EndedAt = &endedAt
		delete(r.activeByCode, prior.Code)
	}

	stored := cloneSession(s)
	stored.Status = StatusActive
	stored.EndedAt = nil
	r.sessions[stored.ID] = stored
	r.activeByOwner[stored.OwnerUserID] = stored.ID
	r.activeByCode[stored.Code] = stored.ID
	s.Status = StatusActive
	return nil
}

func (r *InMemoryRepo) GetSession(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (r *InMemoryRepo) GetActiveSessionForOwner(_ context.Context, ownerID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.activeByOwner[ownerID]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return cloneSession(r.sessions[id]), nil
}

func (r *InMemoryRepo) GetSessionByCode(_ context.Context, code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.activeByCode[code]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return cloneSession(r.sessions[id]), nil
}

func (r *InMemoryRepo) IsCodeActive(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.activeByCode[code]
	return ok, nil
}

func (r *InMemoryRepo) EndSession(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if s.Status == StatusEnded {
		return nil
	}
	s.Status = StatusEnded
	s.EndedAt = &at
	delete(r.activeByCode, s.Code)
	if r.activeByOwner[s.OwnerUserID] == s.ID {
		delete(r.activeByOwner, s.OwnerUserID)
	}
	return nil
}

func (r *InMemoryRepo) CreateMembership(_ context.Context, m *Membership) error {
	if m == nil || m.ID == "" {
		return errors.New("[InMemoryRepo.CreateMembership] membership ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Ended sessions take no new members.
	if s, ok := r.sessions[m.SessionID]; !ok || s.Status != StatusActive {
		return apperrors.ErrSessionNotFound
	}
	if _, exists := r.memberships[m.ID]; exists {
		return errors.Errorf("[InMemoryRepo.CreateMembership] membership %s already exists", m.ID)
	}
	for _, existingID := range r.bySession[m.SessionID] {
		existing := r.memberships[existingID]
		if existing.ParticipantUserID == m.ParticipantUserID && existing.Blocks() {
			return apperrors.ErrAlreadyRequested
		}
	}

	r.memberships[m.ID] = cloneMembership(m)
	r.bySession[m.SessionID] = append(r.bySession[m.SessionID], m.ID)
	return nil
}

func (r *InMemoryRepo) GetMembership(_ context.Context, id string) (*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memberships[id]
	if !ok {
		return nil, apperrors.ErrMembershipNotFound
	}
	return cloneMembership(m), nil
}

func (r *InMemoryRepo) ListPendingMemberships(_ context.Context, sessionID string) ([]*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked(sessionID, func(m *Membership) bool { return m.Status == MembershipPending }), nil
}

func (r *InMemoryRepo) ListMemberships(_ context.Context, sessionID string) ([]*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked(sessionID, func(*Membership) bool { return true }), nil
}

func (r *InMemoryRepo) CountPendingMemberships(_ context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range r.bySession[sessionID] {
		if r.memberships[id].Status == MembershipPending {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepo) ResolveMembership(_ context.Context, id string, approve bool, note string, at time.Time) (*Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memberships[id]
	if !ok {
		return nil, apperrors.ErrMembershipNotFound
	}
	if m.Status != MembershipPending {
		return cloneMembership(m), nil
	}

	m.Status = MembershipDenied
	if approve {
		m.Status = MembershipApproved
	}
	m.Note = note
	m.ResolvedAt = &at
	return cloneMembership(m), nil
}

func (r *InMemoryRepo) ExpirePendingBefore(_ context.Context, cutoff, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired int64
	for _, m := range r.memberships {
		if m.Status == MembershipPending && m.RequestedAt.Before(cutoff) {
			resolvedAt := at
			m.Status = MembershipDenied
			m.Note = ExpiredNote
			m.ResolvedAt = &resolvedAt
			expired++
		}
	}
	return expired, nil
}

func (r *InMemoryRepo) DeleteEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, s := range r.sessions {
		if s.Status != StatusEnded || s.EndedAt == nil || !s.EndedAt.Before(cutoff) {
			continue
		}
		for _, membershipID := range r.bySession[id] {
			delete(r.memberships, membershipID)
		}
		delete(r.bySession, id)
		delete(r.sessions, id)
		deleted++
	}
	return deleted, nil
}

func (r *InMemoryRepo) listLocked(sessionID string, keep func(*Membership) bool) []*Membership {
	out := make([]*Membership, 0)
	for _, id := range r.bySession[sessionID] {
		if m := r.memberships[id]; keep(m) {
			out = append(out, cloneMembership(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func cloneSession(s *Session) *Session {
	c := *s
	if s.PassphraseHash != nil {
		hash := *s.PassphraseHash
		c.PassphraseHash = &hash
	}
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		c.EndedAt = &endedAt
	}
	return &c
}

func cloneMembership(m *Membership) *Membership {
	c := *m
	if m.DeviceID != nil {
		deviceID := *m.DeviceID
		c.DeviceID = &deviceID
	}
	if m.ResolvedAt != nil {
		resolvedAt := *m.ResolvedAt
		c.ResolvedAt = &resolvedAt
	}
	return &c
}

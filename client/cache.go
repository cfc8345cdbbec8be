package client

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-pairing-server/joincode"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

// Role is how the device takes part in its current session.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// CurrentSession is the device's own participation view.
type CurrentSession struct {
	Role Role

	// Session is nil while a participant's request is pending.
	Session *sessions.Session

	// Membership is set for participants only.
	Membership *sessions.Membership

	// DisplayCode is the grouped join code, e.g. ABCD-EFGH.
	DisplayCode string
}

// IsPending reports whether the device is waiting for the host.
func (c *CurrentSession) IsPending() bool {
	return c != nil && c.Membership != nil && c.Membership.Status == sessions.MembershipPending
}

func hostView(s *sessions.Session) *CurrentSession {
	return &CurrentSession{Role: RoleHost, Session: s, DisplayCode: joincode.FormatInput(s.Code)}
}

func participantView(m *sessions.Membership, s *sessions.Session, code string) *CurrentSession {
	return &CurrentSession{Role: RoleParticipant, Session: s, Membership: m, DisplayCode: joincode.FormatInput(code)}
}

// Cache is an explicitly owned, read-through cache of the CurrentSession.
// It is only valid between a Set or Refresh and the next Invalidate.
type Cache struct {
	mu      sync.RWMutex
	current *CurrentSession
	valid   bool
	fetch   func(ctx context.Context, last *CurrentSession) (*CurrentSession, error)
}

// NewCache returns an invalid cache that loads through fetch. fetch receives
// the last known value, which may be stale or nil.
func NewCache(fetch func(ctx context.Context, last *CurrentSession) (*CurrentSession, error)) *Cache {
	return &Cache{fetch: fetch}
}

// Current returns the cached value and whether it is valid.
func (c *Cache) Current() (*CurrentSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.valid
}

// Set stores cs as the valid current session. Nil means "no session".
func (c *Cache) Set(cs *CurrentSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = cs
	c.valid = true
}

// Invalidate marks the cached value stale. The last value is kept as a hint
// for the next Refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// Refresh reloads the current session through the fetch function. On error
// the cache stays invalid.
func (c *Cache) Refresh(ctx context.Context) (*CurrentSession, error) {
	c.mu.RLock()
	last := c.current
	c.mu.RUnlock()

	cs, err := c.fetch(ctx, last)
	if err != nil {
		c.Invalidate()
		return nil, err
	}
	c.Set(cs)
	return cs, nil
}

// Get returns the cached value when valid, otherwise refreshes.
func (c *Cache) Get(ctx context.Context) (*CurrentSession, error) {
	if cs, ok := c.Current(); ok {
		return cs, nil
	}
	return c.Refresh(ctx)
}

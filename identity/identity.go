// Package identity turns bearer tokens into the authenticated user the
// pairing workflow acts for. Tokens come either from a shared-secret HS256
// issuer or from an OpenID Connect provider.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"sub"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Verifier validates a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

type options struct {
	issuer   string
	audience string
	ttl      time.Duration
	nowTime  func() time.Time
}

// Option configures verifiers and issuers.
type Option func(*options)

// WithIssuer sets the expected (or issued) iss claim.
func WithIssuer(issuer string) Option {
	return func(o *options) {
		o.issuer = issuer
	}
}

// WithAudience sets the expected (or issued) aud claim.
func WithAudience(audience string) Option {
	return func(o *options) {
		o.audience = audience
	}
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(o *options) {
		o.nowTime = nowFunc
	}
}

func newOptions(opts []Option) options {
	o := options{
		ttl:     time.Hour,
		nowTime: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

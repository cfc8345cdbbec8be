// Package client is the session facade device apps call. It forwards every
// operation to a Backend, keeps the device's own view of its current session
// in a Cache and turns workflow errors into messages fit for display.
package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/identity"
	"github.com/jrsteele09/go-pairing-server/internal/utils"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

// Backend is the pairing workflow bound to one authenticated device.
type Backend interface {
	CreateSession(ctx context.Context, opts pairing.CreateOptions) (*sessions.Session, error)
	GetActiveSession(ctx context.Context) (*sessions.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	JoinSession(ctx context.Context, code string, opts pairing.JoinOptions) (*pairing.JoinResult, error)
	ResolveRequest(ctx context.Context, membershipID string, approve bool, note string) (*sessions.Membership, error)
	ListPendingRequests(ctx context.Context, code string) ([]*sessions.Membership, error)
	GetSecurityOverview(ctx context.Context, code string) (*abuse.SecurityOverview, error)
	GetMembership(ctx context.Context, membershipID string) (*pairing.MembershipView, error)
}

// LocalBackend calls a pairing.Service in the same process.
type LocalBackend struct {
	svc      *pairing.Service
	id       identity.Identity
	deviceID *string
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend binds svc to id. deviceID may be empty.
func NewLocalBackend(svc *pairing.Service, id identity.Identity, deviceID string) (*LocalBackend, error) {
	if svc == nil {
		return nil, errors.New("[NewLocalBackend] service is required")
	}
	if id.UserID == "" {
		return nil, errors.New("[NewLocalBackend] identity is required")
	}
	return &LocalBackend{svc: svc, id: id, deviceID: utils.NonEmpty(deviceID)}, nil
}

func (b *LocalBackend) CreateSession(ctx context.Context, opts pairing.CreateOptions) (*sessions.Session, error) {
	return b.svc.CreateSession(ctx, b.id.UserID, opts)
}

func (b *LocalBackend) GetActiveSession(ctx context.Context) (*sessions.Session, error) {
	return b.svc.GetActiveSession(ctx, b.id.UserID)
}

func (b *LocalBackend) EndSession(ctx context.Context, sessionID string) error {
	return b.svc.EndSession(ctx, b.id.UserID, sessionID)
}

func (b *LocalBackend) JoinSession(ctx context.Context, code string, opts pairing.JoinOptions) (*pairing.JoinResult, error) {
	return b.svc.JoinSession(ctx, code, pairing.Participant{
		UserID:   b.id.UserID,
		Name:     b.id.Name,
		Email:    b.id.Email,
		DeviceID: b.deviceID,
	}, opts)
}

func (b *LocalBackend) ResolveRequest(ctx context.Context, membershipID string, approve bool, note string) (*sessions.Membership, error) {
	return b.svc.ResolveRequest(ctx, b.id.UserID, membershipID, approve, note)
}

func (b *LocalBackend) ListPendingRequests(ctx context.Context, code string) ([]*sessions.Membership, error) {
	return b.svc.ListPendingRequests(ctx, b.id.UserID, code)
}

func (b *LocalBackend) GetSecurityOverview(ctx context.Context, code string) (*abuse.SecurityOverview, error) {
	return b.svc.GetSecurityOverview(ctx, b.id.UserID, code)
}

func (b *LocalBackend) GetMembership(ctx context.Context, membershipID string) (*pairing.MembershipView, error) {
	return b.svc.GetMembership(ctx, b.id.UserID, membershipID)
}

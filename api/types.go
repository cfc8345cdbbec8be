// Package api holds the JSON request and response bodies of the pairing HTTP
// API, shared by the server and the HTTP client backend.
package api

import (
	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/joincode"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	// Passphrase joiners must present. Empty means none.
	// Length: 8 to 72 bytes when set.
	Passphrase string `json:"passphrase,omitempty"`

	// ApprovalRequired queues every join for the host's decision.
	ApprovalRequired bool `json:"approval_required"`
}

// JoinSessionRequest is the body of POST /api/sessions/join.
type JoinSessionRequest struct {
	// Code as typed by the user. Separators and case are ignored.
	// Example: "abcd-efgh"
	Code string `json:"code"`

	Passphrase string `json:"passphrase,omitempty"`

	// DeviceID identifies the joining device to the host.
	DeviceID *string `json:"device_id,omitempty"`
}

// ResolveRequest is the body of POST /api/memberships/{id}/resolve.
type ResolveRequest struct {
	Approve bool `json:"approve"`

	// Note is an optional reason shown to the participant.
	Note string `json:"note,omitempty"`
}

// Session is a session as returned to its host or an approved participant.
type Session struct {
	*sessions.Session

	// DisplayCode is Code grouped for reading aloud.
	// Example: "ABCD-EFGH"
	DisplayCode string `json:"display_code"`

	// PassphraseRequired tells clients whether to prompt for a passphrase.
	PassphraseRequired bool `json:"passphrase_required"`
}

// NewSession wraps s for the wire. Nil in, nil out.
func NewSession(s *sessions.Session) *Session {
	if s == nil {
		return nil
	}
	return &Session{
		Session:            s,
		DisplayCode:        joincode.FormatInput(s.Code),
		PassphraseRequired: s.HasPassphrase(),
	}
}

// JoinResponse is the body returned by a successful join.
type JoinResponse struct {
	// Status is "approved" or "pending".
	Status string `json:"status"`

	// Session is only present when Status is "approved".
	Session *Session `json:"session,omitempty"`

	Membership *sessions.Membership `json:"membership"`

	Message string `json:"message,omitempty"`
}

func NewJoinResponse(r *pairing.JoinResult) *JoinResponse {
	return &JoinResponse{
		Status:     r.Status,
		Session:    NewSession(r.Session),
		Membership: r.Membership,
		Message:    r.Message,
	}
}

// MembershipResponse is the body of GET /api/memberships/{id}.
type MembershipResponse struct {
	Membership *sessions.Membership `json:"membership"`
	Session    *Session             `json:"session"`
}

func NewMembershipResponse(v *pairing.MembershipView) *MembershipResponse {
	return &MembershipResponse{Membership: v.Membership, Session: NewSession(v.Session)}
}

// PendingRequestsResponse is the body of GET /api/sessions/{code}/requests.
type PendingRequestsResponse struct {
	Requests []*sessions.Membership `json:"requests"`
}

// SecurityOverviewResponse is the body of GET /api/sessions/{code}/security.
type SecurityOverviewResponse struct {
	*abuse.SecurityOverview
	DisplayCode string `json:"display_code"`
}

func NewSecurityOverviewResponse(o *abuse.SecurityOverview) *SecurityOverviewResponse {
	return &SecurityOverviewResponse{SecurityOverview: o, DisplayCode: joincode.FormatInput(o.SessionCode)}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a machine-readable kind, e.g. "rate_limited" or "join_failed".
	Error string `json:"error"`

	// ErrorDescription is a human-readable message.
	ErrorDescription string `json:"error_description,omitempty"`
}

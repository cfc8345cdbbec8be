package sessions

import "time"

// Status is the lifecycle state of a pairing session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// MembershipStatus is the approval state of a participant's membership.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "pending"
	MembershipApproved MembershipStatus = "approved"
	MembershipDenied   MembershipStatus = "denied"
)

// ExpiredNote is recorded on pending memberships denied by retention sweeps.
const ExpiredNote = "expired"

// Session is a host-created context that other devices join with its code.
// Once ended a session is immutable; a new session (and code) must be created.
type Session struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`                     // Canonical join code
	OwnerUserID      string     `json:"owner_user_id"`            // Host user
	PassphraseHash   *string    `json:"-"`                        // nil when no passphrase is required - never serialize
	ApprovalRequired bool       `json:"approval_required"`        // Host must approve each joiner
	Status           Status     `json:"status"`                   // active | ended
	CreatedAt        time.Time  `json:"created_at"`               // When the host created the session
	EndedAt          *time.Time `json:"ended_at,omitempty"`       // Set when the session ends
}

// IsActive reports whether the session accepts joins and resolutions.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// HasPassphrase reports whether joiners must present a passphrase.
func (s *Session) HasPassphrase() bool {
	return s != nil && s.PassphraseHash != nil
}

// IsOwnedBy reports whether userID is the session's host.
func (s *Session) IsOwnedBy(userID string) bool {
	return s != nil && userID != "" && s.OwnerUserID == userID
}

// Membership is one participant device's relationship to a session.
type Membership struct {
	ID                string           `json:"id"`
	SessionID         string           `json:"session_id"`
	ParticipantUserID string           `json:"participant_user_id"`
	ParticipantName   string           `json:"participant_name,omitempty"`
	ParticipantEmail  string           `json:"participant_email,omitempty"`
	DeviceID          *string          `json:"device_id,omitempty"`
	Status            MembershipStatus `json:"status"`
	Note              string           `json:"note,omitempty"` // Optional host reason recorded on resolution
	RequestedAt       time.Time        `json:"requested_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// IsResolved reports whether the membership reached a terminal state.
func (m *Membership) IsResolved() bool {
	return m != nil && m.Status != MembershipPending
}

// Blocks reports whether the membership prevents the same participant from
// opening another request on the session.
func (m *Membership) Blocks() bool {
	return m != nil && m.Status != MembershipDenied
}

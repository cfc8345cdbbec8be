// Package pairing implements the join workflow: hosts create and end
// sessions, joiners present a code and optional passphrase, and hosts resolve
// pending requests.
//
// Session states: active -> ended (terminal).
// Membership states: pending -> approved | denied (both terminal).
package pairing

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/credentials"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/joincode"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const (
	MinPassphraseLength = 8
	// MaxPassphraseLength is bcrypt's input limit in bytes.
	MaxPassphraseLength = 72
)

// Join result statuses.
const (
	JoinApproved = "approved"
	JoinPending  = "pending"
)

const (
	joinedMessage  = "You have joined the session."
	pendingMessage = "Your request has been sent. Waiting for the host to approve it."
)

// Repos holds all repository dependencies for the Service
type Repos struct {
	Sessions sessions.Repo     // Sessions and memberships
	Attempts abuse.AttemptRepo // Join attempt log
}

// CreateOptions are the host's choices for a new session.
type CreateOptions struct {
	Passphrase       string
	ApprovalRequired bool
}

// Participant is the authenticated identity of a joining device.
type Participant struct {
	UserID   string
	Name     string
	Email    string
	DeviceID *string
}

// JoinOptions carry the joiner's credentials.
type JoinOptions struct {
	Passphrase string
}

// JoinResult is returned by a successful JoinSession. Session is only set
// when the membership was approved immediately.
type JoinResult struct {
	Status     string               `json:"status"`
	Session    *sessions.Session    `json:"session,omitempty"`
	Membership *sessions.Membership `json:"membership"`
	Message    string               `json:"message,omitempty"`
}

// Service orchestrates session creation, joins and resolution.
type Service struct {
	repos     Repos
	monitor   *abuse.Monitor
	verifier  credentials.Verifier
	generator *joincode.Generator
	logger    zerolog.Logger
	nowTime   func() time.Time

	monitorOptions   []abuse.MonitorOption
	generatorOptions []joincode.GeneratorOption
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMonitorOptions configures the abuse monitor built over repos.Attempts.
func WithMonitorOptions(opts ...abuse.MonitorOption) ServiceOption {
	return func(s *Service) {
		s.monitorOptions = append(s.monitorOptions, opts...)
	}
}

// WithCodeGeneratorOptions configures the default generator.
func WithCodeGeneratorOptions(opts ...joincode.GeneratorOption) ServiceOption {
	return func(s *Service) {
		s.generatorOptions = append(s.generatorOptions, opts...)
	}
}

// WithCodeGenerator replaces the default generator, which skips codes held by
// an active session or attempted within the rate-limit window.
func WithCodeGenerator(g *joincode.Generator) ServiceOption {
	return func(s *Service) {
		s.generator = g
	}
}

// NewService initializes a new Service with required dependencies.
// Optional configuration can be provided via options (e.g., WithNowTime for testing).
func NewService(
	repos Repos,
	verifier credentials.Verifier,
	options ...ServiceOption,
) (*Service, error) {
	if repos.Sessions == nil {
		return nil, errors.New("[NewService] Sessions repo is required")
	}
	if repos.Attempts == nil {
		return nil, errors.New("[NewService] Attempts repo is required")
	}
	if verifier == nil {
		return nil, errors.New("[NewService] verifier is required")
	}

	s := &Service{
		repos:    repos,
		verifier: verifier,
		logger:   log.Logger,
		nowTime:  time.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	// The monitor shares the workflow's clock unless told otherwise.
	monitorOptions := append([]abuse.MonitorOption{abuse.WithNowTime(s.nowTime)}, s.monitorOptions...)
	s.monitor = abuse.NewMonitor(repos.Attempts, repos.Sessions, monitorOptions...)

	if s.generator == nil {
		s.generator = joincode.NewGenerator(codeChecker{sessions: repos.Sessions, monitor: s.monitor}, s.generatorOptions...)
	}
	return s, nil
}

// Monitor exposes the abuse monitor, mainly for the janitor.
func (s *Service) Monitor() *abuse.Monitor {
	return s.monitor
}

// CreateSession starts a new active session for ownerID, ending the owner's
// previous one.
func (s *Service) CreateSession(ctx context.Context, ownerID string, opts CreateOptions) (*sessions.Session, error) {
	if ownerID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if opts.Passphrase != "" {
		if err := ValidatePassphrase(opts.Passphrase); err != nil {
			return nil, err
		}
	}

	hash, err := s.verifier.Hash(opts.Passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CreateSession] hash passphrase")
	}

	code, err := s.generator.Generate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CreateSession]")
	}

	session := &sessions.Session{
		ID:               uuid.New().String(),
		Code:             code,
		OwnerUserID:      ownerID,
		PassphraseHash:   hash,
		ApprovalRequired: opts.ApprovalRequired,
		Status:           sessions.StatusActive,
		CreatedAt:        s.now(),
	}
	if err := s.repos.Sessions.CreateSession(ctx, session); err != nil {
		return nil, errors.Wrap(err, "[Service.CreateSession] persist")
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("owner", ownerID).
		Bool("passphrase", session.HasPassphrase()).
		Bool("approval_required", session.ApprovalRequired).
		Msg("session created")
	return session, nil
}

// JoinSession runs a join attempt. Input validation happens before anything is
// recorded; every attempt past validation records exactly one outcome.
// ErrInvalidCode and ErrInvalidPassphrase are distinct here so the attempt log
// is accurate; callers facing the joiner should not tell them apart.
func (s *Service) JoinSession(ctx context.Context, rawCode string, participant Participant, opts JoinOptions) (*JoinResult, error) {
	if participant.UserID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if opts.Passphrase != "" {
		if err := ValidatePassphrase(opts.Passphrase); err != nil {
			return nil, err
		}
	}
	code, err := joincode.Parse(rawCode)
	if err != nil {
		return nil, err
	}

	// Reserve checks and records in one step. The reservation counts as a
	// failure until it is settled.
	attemptID, allowed, err := s.monitor.Reserve(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.JoinSession]")
	}
	if !allowed {
		s.logger.Warn().Str("code", code).Msg("join rate limited")
		return nil, apperrors.ErrRateLimited
	}

	// On store errors the reservation is left unsettled and keeps counting
	// until it leaves the window.
	session, err := s.repos.Sessions.GetSessionByCode(ctx, code)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		s.logger.Warn().Str("code", code).Msg("join with unknown code")
		return nil, s.settle(ctx, attemptID, abuse.OutcomeInvalidCode, apperrors.ErrInvalidCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.JoinSession] lookup")
	}

	if !s.verifier.Verify(opts.Passphrase, session.PassphraseHash) {
		s.logger.Warn().Str("code", code).Msg("join with bad passphrase")
		return nil, s.settle(ctx, attemptID, abuse.OutcomeBadPassphrase, apperrors.ErrInvalidPassphrase)
	}

	if err := s.settle(ctx, attemptID, abuse.OutcomeSuccess, nil); err != nil {
		return nil, err
	}

	now := s.now()
	membership := &sessions.Membership{
		ID:                uuid.New().String(),
		SessionID:         session.ID,
		ParticipantUserID: participant.UserID,
		ParticipantName:   participant.Name,
		ParticipantEmail:  participant.Email,
		DeviceID:          participant.DeviceID,
		Status:            sessions.MembershipPending,
		RequestedAt:       now,
	}
	if !session.ApprovalRequired {
		membership.Status = sessions.MembershipApproved
		membership.ResolvedAt = &now
	}

	err = s.repos.Sessions.CreateMembership(ctx, membership)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		// Ended after the lookup.
		return nil, apperrors.ErrInvalidCode
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.JoinSession] create membership")
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("membership_id", membership.ID).
		Str("participant", participant.UserID).
		Str("status", string(membership.Status)).
		Msg("join accepted")

	if membership.Status == sessions.MembershipApproved {
		return &JoinResult{Status: JoinApproved, Session: session, Membership: membership, Message: joinedMessage}, nil
	}
	return &JoinResult{Status: JoinPending, Membership: membership, Message: pendingMessage}, nil
}

// ResolveRequest approves or denies a membership. Only the session's owner may
// resolve, and only while the session is active. Resolving an already
// resolved membership returns it unchanged.
func (s *Service) ResolveRequest(ctx context.Context, callerID, membershipID string, approve bool, note string) (*sessions.Membership, error) {
	membership, err := s.repos.Sessions.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ResolveRequest]")
	}

	session, err := s.repos.Sessions.GetSession(ctx, membership.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ResolveRequest]")
	}
	if !session.IsOwnedBy(callerID) {
		return nil, apperrors.ErrUnauthorized
	}
	if !session.IsActive() {
		return nil, apperrors.ErrSessionNotFound
	}

	resolved, err := s.repos.Sessions.ResolveMembership(ctx, membershipID, approve, note, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ResolveRequest]")
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("membership_id", resolved.ID).
		Str("status", string(resolved.Status)).
		Msg("request resolved")
	return resolved, nil
}

// EndSession ends the caller's session. Ending an ended session is a no-op.
func (s *Service) EndSession(ctx context.Context, callerID, sessionID string) error {
	session, err := s.repos.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "[Service.EndSession]")
	}
	if !session.IsOwnedBy(callerID) {
		return apperrors.ErrUnauthorized
	}

	if err := s.repos.Sessions.EndSession(ctx, sessionID, s.now()); err != nil {
		return errors.Wrap(err, "[Service.EndSession]")
	}

	s.logger.Info().Str("session_id", sessionID).Msg("session ended")
	return nil
}

// GetSecurityOverview returns the abuse summary for the caller's active
// session with the given code.
func (s *Service) GetSecurityOverview(ctx context.Context, callerID, rawCode string) (*abuse.SecurityOverview, error) {
	session, err := s.ownedSessionByCode(ctx, callerID, rawCode)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetSecurityOverview]")
	}

	overview, err := s.monitor.Summarize(ctx, session.Code)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetSecurityOverview]")
	}
	return overview, nil
}

// ListPendingRequests returns the pending memberships of the caller's active
// session with the given code, oldest first.
func (s *Service) ListPendingRequests(ctx context.Context, callerID, rawCode string) ([]*sessions.Membership, error) {
	session, err := s.ownedSessionByCode(ctx, callerID, rawCode)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListPendingRequests]")
	}

	pending, err := s.repos.Sessions.ListPendingMemberships(ctx, session.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListPendingRequests]")
	}
	return pending, nil
}

// GetActiveSession returns ownerID's active session.
func (s *Service) GetActiveSession(ctx context.Context, ownerID string) (*sessions.Session, error) {
	if ownerID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	session, err := s.repos.Sessions.GetActiveSessionForOwner(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetActiveSession]")
	}
	return session, nil
}

// MembershipView is a membership together with its session, as seen by the
// participant or the host.
type MembershipView struct {
	Membership *sessions.Membership `json:"membership"`
	Session    *sessions.Session    `json:"session"`
}

// GetMembership returns a membership and its session. Only the participant
// and the session's owner may read it.
func (s *Service) GetMembership(ctx context.Context, callerID, membershipID string) (*MembershipView, error) {
	membership, err := s.repos.Sessions.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetMembership]")
	}
	session, err := s.repos.Sessions.GetSession(ctx, membership.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetMembership]")
	}
	if callerID == "" || (membership.ParticipantUserID != callerID && !session.IsOwnedBy(callerID)) {
		return nil, apperrors.ErrUnauthorized
	}
	return &MembershipView{Membership: membership, Session: session}, nil
}

// ValidatePassphrase checks a non-empty passphrase against the length limits.
func ValidatePassphrase(passphrase string) error {
	if utf8.RuneCountInString(passphrase) < MinPassphraseLength {
		return apperrors.ErrPassphraseTooShort
	}
	if len(passphrase) > MaxPassphraseLength {
		return apperrors.ErrPassphraseTooLong
	}
	return nil
}

func (s *Service) ownedSessionByCode(ctx context.Context, callerID, rawCode string) (*sessions.Session, error) {
	code, err := joincode.Parse(rawCode)
	if err != nil {
		return nil, err
	}
	session, err := s.repos.Sessions.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !session.IsOwnedBy(callerID) {
		return nil, apperrors.ErrUnauthorized
	}
	return session, nil
}

// settle records the reserved attempt's outcome and returns cause. A recording
// error takes precedence so attempts are never silently dropped.
func (s *Service) settle(ctx context.Context, attemptID int64, outcome abuse.Outcome, cause error) error {
	if err := s.monitor.Settle(ctx, attemptID, outcome); err != nil {
		return errors.Wrap(err, "[Service.JoinSession]")
	}
	return cause
}

// codeChecker treats a code as taken while an active session holds it or while
// attempts against it are still in the window. A reissued code then starts
// with a clean attempt history.
type codeChecker struct {
	sessions sessions.Repo
	monitor  *abuse.Monitor
}

func (c codeChecker) IsCodeActive(ctx context.Context, code string) (bool, error) {
	active, err := c.sessions.IsCodeActive(ctx, code)
	if err != nil || active {
		return active, err
	}
	return c.monitor.HasRecentAttempts(ctx, code)
}

func (s *Service) now() time.Time {
	return s.nowTime().UTC()
}

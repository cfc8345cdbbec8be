package errors

import "errors"

// Kind classifies a pairing failure for callers that need to branch on it
// (HTTP status mapping, user-facing messages).
type Kind string

const (
	KindNone               Kind = ""
	KindInvalidCode        Kind = "invalid_code"
	KindInvalidPassphrase  Kind = "invalid_passphrase"
	KindPassphraseTooShort Kind = "passphrase_too_short"
	KindPassphraseTooLong  Kind = "passphrase_too_long"
	KindRateLimited        Kind = "rate_limited"
	KindAlreadyRequested   Kind = "already_requested"
	KindUnauthorized       Kind = "unauthorized"
	KindSessionNotFound    Kind = "session_not_found"
	KindMembershipNotFound Kind = "membership_not_found"
	KindCodeSpaceExhausted Kind = "code_space_exhausted"
	KindJoinFailed         Kind = "join_failed"
	KindInternal           Kind = "internal"
)

// Pairing errors
var (
	// Join errors
	ErrInvalidCode        = errors.New("invalid join code")
	ErrInvalidPassphrase  = errors.New("invalid passphrase")
	ErrPassphraseTooShort = errors.New("passphrase too short")
	ErrPassphraseTooLong  = errors.New("passphrase too long")
	ErrRateLimited        = errors.New("too many failed join attempts")
	ErrAlreadyRequested   = errors.New("join already requested")
	// ErrJoinFailed is what a joiner sees for either an unknown code or a
	// wrong passphrase.
	ErrJoinFailed = errors.New("join failed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Store errors
	ErrSessionNotFound    = errors.New("session not found")
	ErrMembershipNotFound = errors.New("membership not found")

	// Code generation
	ErrCodeSpaceExhausted = errors.New("join code space exhausted")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidCode, KindInvalidCode},
	{ErrInvalidPassphrase, KindInvalidPassphrase},
	{ErrPassphraseTooShort, KindPassphraseTooShort},
	{ErrPassphraseTooLong, KindPassphraseTooLong},
	{ErrRateLimited, KindRateLimited},
	{ErrAlreadyRequested, KindAlreadyRequested},
	{ErrUnauthorized, KindUnauthorized},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrMembershipNotFound, KindMembershipNotFound},
	{ErrCodeSpaceExhausted, KindCodeSpaceExhausted},
	{ErrJoinFailed, KindJoinFailed},
}

// KindOf returns the Kind of the first taxonomy error found in err's chain.
// Nil maps to KindNone and anything unrecognised to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Public returns the kind a joiner may see. Unknown codes and wrong
// passphrases collapse into KindJoinFailed so a response never confirms that
// a code exists.
func Public(kind Kind) Kind {
	switch kind {
	case KindInvalidCode, KindInvalidPassphrase:
		return KindJoinFailed
	}
	return kind
}

// FromKind returns the sentinel for kind, or nil for KindNone and unknown
// kinds. Used to rebuild errors received over the wire.
func FromKind(kind Kind) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

package client

import (
	"fmt"

	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/pairing"
)

// joinFailedMessage is shared by unknown codes and wrong passphrases.
const joinFailedMessage = "Could not join the session. Check the code and passphrase and try again."

var messages = map[apperrors.Kind]string{
	apperrors.KindInvalidCode:        joinFailedMessage,
	apperrors.KindInvalidPassphrase:  joinFailedMessage,
	apperrors.KindJoinFailed:         joinFailedMessage,
	apperrors.KindPassphraseTooShort: fmt.Sprintf("Passphrase must be at least %d characters.", pairing.MinPassphraseLength),
	apperrors.KindPassphraseTooLong:  fmt.Sprintf("Passphrase must be at most %d characters.", pairing.MaxPassphraseLength),
	apperrors.KindRateLimited:        "Too many failed attempts. Please wait a few minutes and try again.",
	apperrors.KindAlreadyRequested:   "You have already asked to join this session.",
	apperrors.KindUnauthorized:       "Only the host can do that.",
	apperrors.KindSessionNotFound:    "This session has ended or no longer exists.",
	apperrors.KindMembershipNotFound: "That request no longer exists.",
	apperrors.KindCodeSpaceExhausted: "Could not create a session right now. Please try again.",
}

const genericMessage = "Something went wrong. Please try again."

// Message returns the user-facing text for err, or "" for nil.
func Message(err error) string {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindNone {
		return ""
	}
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return genericMessage
}

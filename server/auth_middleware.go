package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-pairing-server/identity"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyIdentity stores the authenticated *identity.Identity
const ContextKeyIdentity ContextKey = "identity"

// RequireAuth is middleware that validates a Bearer token and stores the
// caller's identity in the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pairing"`)
				writeJSONError(w, string(apperrors.KindUnauthorized), "missing or malformed Authorization header", http.StatusUnauthorized)
				return
			}

			id, err := s.verifier.Verify(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
				w.Header().Set("WWW-Authenticate", `Bearer realm="pairing", error="invalid_token"`)
				writeJSONError(w, string(apperrors.KindUnauthorized), "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, id)
			next(w, r.WithContext(ctx))
		}
	}
}

// IdentityFromContext returns the identity stored by RequireAuth.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(*identity.Identity)
	return id, ok && id != nil
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

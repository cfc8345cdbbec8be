package identity

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// OIDCVerifier validates ID tokens issued by an OpenID Connect provider for
// this server's client ID.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the provider at issuerURL and verifies tokens
// against its published keys.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewOIDCVerifier] failed to create OIDC provider")
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierWithKeySet verifies tokens from issuer against a fixed key
// set, skipping discovery.
func NewOIDCVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet, opts ...Option) *OIDCVerifier {
	o := newOptions(opts)
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID: clientID,
			Now:      o.nowTime,
		}),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if idToken.Subject == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing sub")
	}

	var profile struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&profile); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}

	return &Identity{UserID: idToken.Subject, Name: profile.Name, Email: profile.Email}, nil
}

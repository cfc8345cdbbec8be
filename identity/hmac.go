package identity

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims are the JWT claims the server reads.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	opts   options
}

var _ Verifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret string, opts ...Option) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("[NewHMACVerifier] secret is required")
	}
	return &HMACVerifier{secret: []byte(secret), opts: newOptions(opts)}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.opts.nowTime),
	}
	if v.opts.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.issuer))
	}
	if v.opts.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.opts.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing sub")
	}

	return &Identity{UserID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// Issuer mints HS256 tokens accepted by an HMACVerifier with the same secret.
// It backs local development and tests; production deployments normally use
// an OIDC provider.
type Issuer struct {
	secret []byte
	opts   options
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("[NewIssuer] secret is required")
	}
	return &Issuer{secret: []byte(secret), opts: newOptions(opts)}, nil
}

func (i *Issuer) Issue(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("[Issuer.Issue] user ID is required")
	}

	now := i.opts.nowTime()
	claims := Claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.opts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.ttl)),
		},
	}
	if i.opts.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.opts.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.Issue] failed to sign token with HMAC")
	}
	return signed, nil
}

package config

type SecurityConfig interface {
	GetBcryptCost() int
	// GetJWTSecret is the HS256 key for bearer tokens. Empty with no OIDC
	// issuer means a throwaway key in DEV.
	GetJWTSecret() string
	GetJWTIssuer() string
	GetJWTAudience() string
	// GetOIDCIssuer selects OpenID Connect verification when set.
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

func (c mainConfig) GetBcryptCost() int {
	return c.v.GetInt(KeyBcryptCost)
}

func (c mainConfig) GetJWTSecret() string {
	return c.v.GetString(KeyJWTSecret)
}

func (c mainConfig) GetJWTIssuer() string {
	return c.v.GetString(KeyJWTIssuer)
}

func (c mainConfig) GetJWTAudience() string {
	return c.v.GetString(KeyJWTAudience)
}

func (c mainConfig) GetOIDCIssuer() string {
	return c.v.GetString(KeyOIDCIssuer)
}

func (c mainConfig) GetOIDCClientID() string {
	return c.v.GetString(KeyOIDCClientID)
}

// Package config exposes server settings through small getter interfaces.
// Values come from, in order of precedence: command-line flags that were set,
// environment variables, an optional config file, then defaults.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config interface {
	EnvConfig
	CorsConfig
	PairingConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetStore() string
	GetDBPath() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// Config keys. Each is also the environment variable that sets it.
const (
	KeyPort                  = "PORT"
	KeyAppName               = "APP_NAME"
	KeyEnv                   = "ENV"
	KeyStore                 = "STORE"
	KeyDBPath                = "DB_PATH"
	KeyJWTSecret             = "JWT_SECRET"
	KeyJWTIssuer             = "JWT_ISSUER"
	KeyJWTAudience           = "JWT_AUDIENCE"
	KeyOIDCIssuer            = "OIDC_ISSUER"
	KeyOIDCClientID          = "OIDC_CLIENT_ID"
	KeyBcryptCost            = "BCRYPT_COST"
	KeyCodeLength            = "CODE_LENGTH"
	KeyAttemptWindow         = "ATTEMPT_WINDOW"
	KeyRateLimitThreshold    = "RATE_LIMIT_THRESHOLD"
	KeyPendingTTL            = "PENDING_TTL"
	KeyEndedSessionRetention = "ENDED_SESSION_RETENTION"
	KeyJanitorInterval       = "JANITOR_INTERVAL"
	KeyAllowedOrigins        = "ALLOWED_ORIGINS"
)

// Stores
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// EnvDev enables colour route logging and the console log writer.
const EnvDev = "DEV"

// codeLength is the only supported join code length.
const codeLength = 8

type mainConfig struct {
	v *viper.Viper
}

var _ Config = mainConfig{}

type settings struct {
	file  string
	flags *pflag.FlagSet
}

// Option configures New.
type Option func(*settings)

// WithConfigFile reads path (any format viper understands) beneath the
// environment. A missing file is an error.
func WithConfigFile(path string) Option {
	return func(s *settings) {
		s.file = path
	}
}

// WithFlags binds every flag in fs registered by RegisterFlags.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(s *settings) {
		s.flags = fs
	}
}

// New loads and validates the configuration.
func New(opts ...Option) (Config, error) {
	var st settings
	for _, opt := range opts {
		opt(&st)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if st.file != "" {
		v.SetConfigFile(st.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "[config.New] read %s", st.file)
		}
	}

	if st.flags != nil {
		if err := bindFlags(v, st.flags); err != nil {
			return nil, err
		}
	}

	c := mainConfig{v: v}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyAppName, "Pairing Server")
	v.SetDefault(KeyEnv, EnvDev)
	v.SetDefault(KeyStore, StoreMemory)
	v.SetDefault(KeyDBPath, "./data/pairing.db")
	v.SetDefault(KeyJWTIssuer, "")
	v.SetDefault(KeyJWTAudience, "")
	v.SetDefault(KeyBcryptCost, bcrypt.DefaultCost)
	v.SetDefault(KeyCodeLength, codeLength)
	v.SetDefault(KeyAttemptWindow, "10m")
	v.SetDefault(KeyRateLimitThreshold, 5)
	v.SetDefault(KeyPendingTTL, "24h")
	v.SetDefault(KeyEndedSessionRetention, "720h")
	v.SetDefault(KeyJanitorInterval, "5m")
	v.SetDefault(KeyAllowedOrigins, "")
}

func (c mainConfig) validate() error {
	switch c.GetStore() {
	case StoreMemory, StoreSQLite:
	default:
		return errors.Errorf("config: %s must be %q or %q", KeyStore, StoreMemory, StoreSQLite)
	}
	if c.GetStore() == StoreSQLite && c.GetDBPath() == "" {
		return errors.Errorf("config: %s is required when %s=%s", KeyDBPath, KeyStore, StoreSQLite)
	}
	if cost := c.GetBcryptCost(); cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return errors.Errorf("config: %s must be between %d and %d", KeyBcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.GetCodeLength() != codeLength {
		return errors.Errorf("config: %s must be %d", KeyCodeLength, codeLength)
	}
	if c.GetAttemptWindow() <= 0 {
		return errors.Errorf("config: %s must be positive", KeyAttemptWindow)
	}
	if c.GetRateLimitThreshold() <= 0 {
		return errors.Errorf("config: %s must be positive", KeyRateLimitThreshold)
	}
	if c.GetEnv() != EnvDev && c.GetJWTSecret() == "" && c.GetOIDCIssuer() == "" {
		return errors.Errorf("config: %s or %s is required outside %s", KeyJWTSecret, KeyOIDCIssuer, EnvDev)
	}
	if c.GetOIDCIssuer() != "" && c.GetOIDCClientID() == "" {
		return errors.Errorf("config: %s is required with %s", KeyOIDCClientID, KeyOIDCIssuer)
	}
	return nil
}

// RegisterFlags adds the command-line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(flagName(KeyPort), "", "port to listen on")
	fs.String(flagName(KeyEnv), "", "environment (DEV enables console logging)")
	fs.String(flagName(KeyStore), "", "storage backend: memory or sqlite")
	fs.String(flagName(KeyDBPath), "", "sqlite database file")
	fs.String(flagName(KeyOIDCIssuer), "", "OpenID Connect issuer URL")
	fs.String(flagName(KeyOIDCClientID), "", "expected audience of OIDC ID tokens")
	fs.Int(flagName(KeyBcryptCost), 0, "bcrypt cost for session passphrases")
	fs.Duration(flagName(KeyJanitorInterval), 0, "interval between janitor sweeps")
	fs.String(flagName(KeyAllowedOrigins), "", "comma-separated CORS origins")
}

// bindFlags binds each flag to its key. Only flags the user set override the
// environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !f.Changed {
			return
		}
		bindErr = v.BindPFlag(keyName(f.Name), f)
	})
	return errors.Wrap(bindErr, "[config.bindFlags]")
}

// flagName turns DB_PATH into db-path.
func flagName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

func keyName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

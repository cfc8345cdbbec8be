package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-pairing-server/internal/config"
)

func TestDefaults(t *testing.T) {
	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, config.EnvDev, c.GetEnv())
	require.Equal(t, config.StoreMemory, c.GetStore())
	require.Equal(t, 8, c.GetCodeLength())
	require.Equal(t, 10*time.Minute, c.GetAttemptWindow())
	require.Equal(t, 5, c.GetRateLimitThreshold())
	require.Equal(t, 24*time.Hour, c.GetPendingTTL())
	require.Equal(t, 30*24*time.Hour, c.GetEndedSessionRetention())
	require.Equal(t, 5*time.Minute, c.GetJanitorInterval())
	require.Empty(t, c.GetAllowedOrigins())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("ENV", "prod")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE", "SQLite")
	t.Setenv("ATTEMPT_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_THRESHOLD", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, "PROD", c.GetEnv())
	require.Equal(t, config.StoreSQLite, c.GetStore())
	require.Equal(t, 2*time.Minute, c.GetAttemptWindow())
	require.Equal(t, 3, c.GetRateLimitThreshold())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://b.example"))
	require.Equal(t, "https://a.example, https://b.example", c.GetAllowedOrigins().String())
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE", "memory")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--port", "7000", "--janitor-interval", "1m"}))

	c, err := config.New(config.WithFlags(fs))
	require.NoError(t, err)

	require.Equal(t, ":7000", c.GetPort())
	require.Equal(t, time.Minute, c.GetJanitorInterval())
	// Unset flags leave the environment in charge.
	require.Equal(t, config.StoreMemory, c.GetStore())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME: From File\nPENDING_TTL: 1h\n"), 0o600))

	c, err := config.New(config.WithConfigFile(path))
	require.NoError(t, err)
	require.Equal(t, "From File", c.GetAppName())
	require.Equal(t, time.Hour, c.GetPendingTTL())

	_, err = config.New(config.WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE": "redis"}},
		{"bcrypt cost too low", map[string]string{"BCRYPT_COST": "2"}},
		{"code length", map[string]string{"CODE_LENGTH": "6"}},
		{"zero window", map[string]string{"ATTEMPT_WINDOW": "0s"}},
		{"zero threshold", map[string]string{"RATE_LIMIT_THRESHOLD": "0"}},
		{"no token verification outside DEV", map[string]string{"ENV": "PROD"}},
		{"oidc without client", map[string]string{"OIDC_ISSUER": "https://issuer.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.New()
			require.Error(t, err)
		})
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	origins := config.ParseAllowedOrigins(" * ,,https://x.example")
	require.Len(t, origins, 2)
	require.True(t, origins.IsAllowedOrigin("*"))
	require.False(t, origins.IsAllowedOrigin("https://y.example"))
}

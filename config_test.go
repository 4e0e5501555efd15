package accounts_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("file over defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  base_url: "https://accounts.example.com"
auth:
  signing_key: "0123456789abcdef-file"
  verification_ttl: 24h
mail:
  smtp_server: "smtp.example.com"
  smtp_port: 465
persistence:
  driver: "postgres"
  dsn: "postgres://localhost/accounts"
  ping_timeout: 2s
`)

		cfg, err := accounts.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "https://accounts.example.com", cfg.Server.BaseURL)
		assert.Equal(t, ":8572", cfg.Server.Addr)
		assert.Equal(t, "0123456789abcdef-file", cfg.Auth.GetSigningKey())
		assert.Equal(t, 24*time.Hour, cfg.Auth.VerificationTTL)
		assert.Equal(t, "jwt", cfg.Auth.GetContextKey())
		assert.Equal(t, 465, cfg.Mail.SMTPPort)
		assert.Equal(t, accounts.DriverPostgres, cfg.Persistence.Driver)
		assert.Equal(t, 2*time.Second, cfg.Persistence.GetPingTimeout())
	})

	t.Run("file does not validate", func(t *testing.T) {
		cfg, err := accounts.LoadConfig(writeConfig(t, `
persistence:
  driver: "oracle"
`))
		require.NoError(t, err)
		assert.Equal(t, "oracle", cfg.Persistence.Driver)
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := accounts.LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, accounts.DefaultConfig(), cfg)
	})

	t.Run("environment is left to the container", func(t *testing.T) {
		t.Setenv("ACCOUNTS_SIGNING_KEY", "0123456789abcdef-env")

		cfg, err := accounts.LoadConfig("")
		require.NoError(t, err)
		assert.Empty(t, cfg.Auth.SigningKey)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := accounts.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("broken yaml", func(t *testing.T) {
		_, err := accounts.LoadConfig(writeConfig(t, "server: [unterminated"))
		assert.Error(t, err)
	})
}

func TestDefaultConfigIsValidOnceKeyed(t *testing.T) {
	cfg := accounts.DefaultConfig()

	err := cfg.Validate()
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)

	cfg.Auth.SigningKey = "short"
	assert.Error(t, cfg.Validate())

	cfg.Auth.SigningKey = testSecret
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, accounts.DefaultVerificationTokenTTL, cfg.Auth.VerificationTTL)
	assert.Equal(t, 5*time.Second, accounts.PersistenceConfig{}.GetPingTimeout())
}

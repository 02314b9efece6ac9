package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredSecrets provides the env-only secrets Load refuses to
// start without.
func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("QOREDB_LICENSE_PRIVATE_KEY", "dGVzdC1rZXk")
	t.Setenv("QOREDB_PAYMENTS_SECRET_KEY", "sk_test_123")
	t.Setenv("QOREDB_PAYMENTS_WEBHOOK_SECRET", "whsec_test_789")
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, "qoredb/qoredb", cfg.Releases.Repo)
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("QOREDB_SERVER_PORT", "9090")
	t.Setenv("QOREDB_MAILER_API_KEY", "re_test_456")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "dGVzdC1rZXk", cfg.License.PrivateKey)
	assert.Equal(t, "sk_test_123", cfg.Payments.SecretKey)
	assert.Equal(t, "whsec_test_789", cfg.Payments.WebhookSecret)
	assert.Equal(t, "re_test_456", cfg.Mailer.APIKey)
}

func TestLoadRequiresSecrets(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{"missing signing key", "QOREDB_LICENSE_PRIVATE_KEY"},
		{"missing payment secret", "QOREDB_PAYMENTS_SECRET_KEY"},
		{"missing webhook secret", "QOREDB_PAYMENTS_WEBHOOK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredSecrets(t)
			require.NoError(t, os.Unsetenv(tt.omit))

			_, err := Load()
			assert.ErrorContains(t, err, tt.omit)
		})
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	setRequiredSecrets(t)
	dir := t.TempDir()
	content := []byte("server:\n  port: 3000\nsite:\n  base_url: https://staging.qoredb.com\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("QOREDB_SERVER_PORT", "4000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, "https://staging.qoredb.com", cfg.Site.BaseURL)
}

func TestValidateRejectsBadPort(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("QOREDB_SERVER_PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateForcesJSONLogging(t *testing.T) {
	setRequiredSecrets(t)
	t.Setenv("QOREDB_LOGGING_FORMAT", "text")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearClientEnv(t *testing.T) {
	for _, name := range []string{
		"LAMP_RELAY_URL", "LAMP_POLL_INTERVAL", "LAMP_STALE_THRESHOLD", "LAMP_RELAY_TIMEOUT",
		"LAMP_MAILGUN_DOMAIN", "LAMP_MAILGUN_API_KEY", "LAMP_MAILGUN_API_KEY_FILE",
		"LAMP_MAILGUN_SENDER", "LAMP_MAILGUN_RECIPIENTS",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadClientEnablesDemoModeWhenRelayURLIsMissing(t *testing.T) {
	clearClientEnv(t)

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.True(t, cfg.DemoMode)
	assert.Empty(t, cfg.RelayURL)
	assert.Equal(t, 800*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.StaleThreshold)
	assert.Equal(t, ":8081", cfg.HTTPListenAddr)
	assert.False(t, cfg.Mailgun.Enabled())
}

func TestLoadClientNormalizesRelayURL(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LAMP_RELAY_URL", "http://relay.local:3000/")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.False(t, cfg.DemoMode)
	assert.Equal(t, "http://relay.local:3000", cfg.RelayURL)
}

func TestLoadClientRejectsRelativeRelayURL(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LAMP_RELAY_URL", "relay.local")

	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadClientAcceptsNumericDurationsInSeconds(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LAMP_STALE_THRESHOLD", "45")
	t.Setenv("LAMP_POLL_INTERVAL", "2")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoadClientRejectsZeroPollInterval(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LAMP_POLL_INTERVAL", "0s")

	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadClientMailgunRequiresKey(t *testing.T) {
	clearClientEnv(t)
	t.Setenv("LAMP_MAILGUN_DOMAIN", "mg.example.com")
	t.Setenv("LAMP_MAILGUN_RECIPIENTS", "ops@example.com")

	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadClientMailgunReadsKeyFile(t *testing.T) {
	clearClientEnv(t)
	keyFile := filepath.Join(t.TempDir(), "mailgun.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("key-123\n"), 0o600))
	t.Setenv("LAMP_MAILGUN_DOMAIN", "mg.example.com")
	t.Setenv("LAMP_MAILGUN_API_KEY_FILE", keyFile)
	t.Setenv("LAMP_MAILGUN_RECIPIENTS", "ops@example.com, night@example.com")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.True(t, cfg.Mailgun.Enabled())
	assert.Equal(t, "key-123", cfg.Mailgun.APIKey)
	assert.Equal(t, []string{"ops@example.com", "night@example.com"}, cfg.Mailgun.Recipients)
	assert.Equal(t, "Street Lamp <lamp@mg.example.com>", cfg.Mailgun.Sender)
}

func TestLoadRelayDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("FIREBASE_DB_URL", "")
	t.Setenv("LAMP_STATE_PATH", "")
	t.Setenv("LAMP_TOKENS_PATH", "")
	t.Setenv("LAMP_KAFKA_BROKERS", "")

	cfg, err := LoadRelay()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "veriler", cfg.StatePath)
	assert.Equal(t, "tokens", cfg.TokensPath)
	assert.Equal(t, "lamp-commands", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadRelayRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "http")

	_, err := LoadRelay()
	assert.Error(t, err)
}

func TestLoadRelayRequiresCredentialsForFirebase(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("FIREBASE_DB_URL", "https://lamp-default-rtdb.firebaseio.com")
	t.Setenv("FIREBASE_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "missing.json"))

	_, err := LoadRelay()
	assert.Error(t, err)
}

func TestLoadDotEnvDoesNotOverrideAndIgnoresMissingFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LAMP_TEST_FROM_FILE=file\nLAMP_TEST_PRESET=file\n"), 0o600))
	t.Setenv("LAMP_TEST_PRESET", "env")
	t.Setenv("LAMP_TEST_FROM_FILE", "")
	os.Unsetenv("LAMP_TEST_FROM_FILE")

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "absent.env")))

	assert.Equal(t, "file", os.Getenv("LAMP_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("LAMP_TEST_PRESET"))
}

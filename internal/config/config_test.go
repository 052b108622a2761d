package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgram = "0x5c3f0b4a2f9d1e6e8d0a3b7c9e1f2a4b6c8d0e1f"

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer("")
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, "fixed", cfg.CountEncoding)
	assert.Equal(t, "@every 30s", cfg.GaugeSchedule)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.Origins())
}

func TestLoadServer_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
port: 8080
database_url: postgres://yaml
cors_origins: "https://a.example, https://b.example/"
rate_limit_rps: 5
`)
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_BURST", "7")

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres://yaml", cfg.DatabaseURL)
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 7, cfg.RateBurst)
	assert.Equal(t, []string{"https://a.example", "https://b.example/"}, cfg.Origins())
}

func TestLoadServer_Invalid(t *testing.T) {
	t.Setenv("PROGRAM_ID", "not-an-address")
	t.Setenv("COUNT_ENCODING", "varint")

	_, err := LoadServer("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "PROGRAM_ID")
	assert.ErrorContains(t, err, "COUNT_ENCODING")
}

func TestLoadServer_MissingFile(t *testing.T) {
	_, err := LoadServer(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadServer_BadYAML(t *testing.T) {
	_, err := LoadServer(writeYAML(t, "port: [1, 2"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadClient(t *testing.T) {
	t.Setenv("PROGRAM_ID", testProgram)
	t.Setenv("VARA_ETH_WS", "wss://node.example")
	t.Setenv("WATCH_TIMEOUT", "90s")
	t.Setenv("REGISTRATION_BLOCKING", "true")

	cfg, err := LoadClient("")
	require.NoError(t, err)
	assert.Equal(t, testProgram, cfg.ProgramID)
	assert.Equal(t, "wss://node.example", cfg.WSURL)
	assert.Equal(t, 90*time.Second, cfg.WatchTimeout)
	assert.True(t, cfg.RegistrationBlocking)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, DefaultAuthProviderURL, cfg.AuthProviderURL)
	assert.False(t, cfg.Passkey())
}

func TestLoadClient_RequiresProgram(t *testing.T) {
	t.Setenv("PROGRAM_ID", "")
	_, err := LoadClient("")
	assert.ErrorContains(t, err, "PROGRAM_ID is required")
}

func TestClient_Validate(t *testing.T) {
	base := DefaultClient()
	base.ProgramID = testProgram

	t.Run("passkey needs nonce program", func(t *testing.T) {
		cfg := base
		cfg.VerifierProgramID = testProgram
		assert.ErrorContains(t, cfg.Validate(), "NONCE_PROGRAM_ID is required")

		cfg.NonceProgramID = testProgram
		assert.NoError(t, cfg.Validate())
		assert.True(t, cfg.Passkey())
	})

	t.Run("bad router address", func(t *testing.T) {
		cfg := base
		cfg.RouterAddress = "0x12"
		assert.ErrorContains(t, cfg.Validate(), "ROUTER_ADDRESS")
	})

	t.Run("address errors keep field order", func(t *testing.T) {
		cfg := base
		cfg.RouterAddress = "0x12"
		cfg.VerifierProgramID = "0x34"
		cfg.NonceProgramID = "0x56"
		want := strings.Join([]string{
			`ROUTER_ADDRESS: invalid program address "0x12"`,
			`VERIFIER_PROGRAM_ID: invalid program address "0x34"`,
			`NONCE_PROGRAM_ID: invalid program address "0x56"`,
		}, "\n")
		for i := 0; i < 20; i++ {
			require.EqualError(t, cfg.Validate(), want)
		}
	})

	t.Run("non-positive watch timeout", func(t *testing.T) {
		cfg := base
		cfg.WatchTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "WATCH_TIMEOUT")
	})
}

func TestClient_Callback(t *testing.T) {
	cfg := DefaultClient()
	assert.Equal(t, "http://127.0.0.1:5174/auth/callback", cfg.Callback())

	cfg.CallbackURL = "https://oneofus.example/auth/callback"
	assert.Equal(t, "https://oneofus.example/auth/callback", cfg.Callback())
}

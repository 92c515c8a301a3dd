package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsRequireToken(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_token")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
server:
  public_url: https://interviews.example.com
twilio:
  auth_token: file-token
  from_number: "+15550000000"
interview:
  self_record: true
  pin_ttl: 10m
locales:
  fr-CA:
    intro: https://cdn.example.com/fr/intro.mp3
`)
	t.Setenv("INTERVIEW_TWILIO_AUTH_TOKEN", "env-token")
	t.Setenv("INTERVIEW_PRACTICE_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://interviews.example.com", cfg.Server.PublicURL)
	assert.Equal(t, "env-token", cfg.Twilio.AuthToken)
	assert.Equal(t, "+15550000000", cfg.Twilio.FromNumber)
	assert.True(t, cfg.Interview.SelfRecord)
	assert.False(t, cfg.Interview.PracticeEnabled)
	assert.Equal(t, 10*time.Minute, cfg.Interview.PINTTL)

	pack := cfg.AudioPackFor("fr-CA")
	assert.Equal(t, "https://cdn.example.com/fr/intro.mp3", pack.Intro)
	assert.Equal(t, cfg.Audio.Outro, pack.Outro, "missing locale entries fall back to the default pack")
	assert.Equal(t, cfg.Audio, cfg.AudioPackFor("de-DE"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "server:\n  listen_adr: \":9000\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	t.Setenv("INTERVIEW_REDIS_DB", "not-a-number")
	assert.Equal(t, 3, ParseInt("INTERVIEW_REDIS_DB", 3))
	t.Setenv("INTERVIEW_SKIP_OUTRO", "maybe")
	assert.True(t, ParseBool("INTERVIEW_SKIP_OUTRO", true))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Twilio.AuthToken = "x"
	require.NoError(t, cfg.Validate())

	cfg.Server.PublicURL = "/relative"
	cfg.Interview.PINLength = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public_url")
	assert.Contains(t, err.Error(), "pin_length")
}

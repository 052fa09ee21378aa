package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCLI_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("LEADCTL_CONFIG_DIR", t.TempDir())

	cfg, err := LoadCLI("")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Equal(t, "http://localhost:8088", cfg.GetIngestURL(""))
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, filepath.Join(os.Getenv("LEADCTL_CONFIG_DIR"), "config.yaml"), cfg.Path())
}

func TestLoadCLI_EnvOverridesIngestURL(t *testing.T) {
	t.Setenv("LEADCTL_CONFIG_DIR", t.TempDir())
	t.Setenv("LEADCTL_INGEST_URL", "http://ingest.internal:8088")

	cfg, err := LoadCLI("")
	require.NoError(t, err)
	assert.Equal(t, "http://ingest.internal:8088", cfg.GetIngestURL(""))
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadCLI(path)
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("staging", &CLIProfile{
		IngestURL:     "https://ingest.staging.example.com",
		WorkspaceID:   "ws-1",
		WebhookSecret: "s3cret",
	}))
	require.NoError(t, cfg.SaveAccessToken("staging", "jwt-token"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", reloaded.CurrentProfile)

	p, err := reloaded.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", p.WorkspaceID)
	assert.Equal(t, "jwt-token", p.AccessToken)
	assert.Equal(t, "https://ingest.staging.example.com", reloaded.GetIngestURL("staging"))
}

func TestGetProfile_NotFound(t *testing.T) {
	cfg := DefaultCLI()
	_, err := cfg.GetProfile("nope")
	assert.Error(t, err)
}

func TestRemoveProfile(t *testing.T) {
	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("a", &CLIProfile{IngestURL: "http://a"}))

	require.NoError(t, cfg.RemoveProfile("a"))
	assert.Empty(t, cfg.CurrentProfile)
	assert.Error(t, cfg.RemoveProfile("a"))
	assert.Equal(t, "http://localhost:8088", cfg.GetIngestURL(""))
}

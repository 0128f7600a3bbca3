package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.BatchSize)
	assert.Equal(t, 0.80, cfg.FuzzyThreshold)
	assert.Equal(t, 2000, cfg.HistoryLimit)
	assert.Equal(t, 10*time.Minute, cfg.StuckGracePeriod)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().BatchSize, cfg.BatchSize)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spesalog.yaml")

	cfg := Default()
	cfg.BatchSize = 20
	cfg.BatchMax = 30
	cfg.ArchiveBucket = "spesalog-raw"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.BatchSize)
	assert.Equal(t, "spesalog-raw", loaded.ArchiveBucket)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SPESALOG_BATCH_SIZE", "12")
	t.Setenv("SPESALOG_MODEL_TIMEOUT", "30s")
	t.Setenv("SPESALOG_SIMULATE", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.ModelTimeout)
	assert.True(t, cfg.Simulate)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg := Default()
	cfg.BatchMin = 20
	cfg.BatchSize = 10
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.SemanticAutoDistance = 0.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ModelBackend = "mystery"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RetryBaseDelay = -time.Second
	assert.Error(t, cfg.Validate())
}

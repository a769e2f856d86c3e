package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 200, cfg.JobCacheLimit)
	assert.Equal(t, 4, cfg.SectionConcurrency)
	assert.Equal(t, 600, cfg.RenderTimeout)
	assert.True(t, cfg.OutputCleanupEnabled)
	assert.True(t, cfg.OutputKeepOnlyFinal)
	assert.Equal(t, 10, cfg.GeminiTTSRPM)
}

func TestLoadEnforcesMinimums(t *testing.T) {
	t.Setenv("JOB_MANAGER_CACHE_LIMIT", "5")
	t.Setenv("SECTION_CONCURRENCY", "0")
	t.Setenv("GEMINI_TTS_RPM", "-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.JobCacheLimit)
	assert.Equal(t, 1, cfg.SectionConcurrency)
	assert.Equal(t, 1, cfg.GeminiTTSRPM)
}

func TestLoadReadsRetentionKnobs(t *testing.T) {
	t.Setenv("OUTPUT_RETENTION_HOURS", "12.5")
	t.Setenv("UPLOAD_CLEANUP_MAX_DELETIONS", "50")
	t.Setenv("OUTPUT_CLEANUP_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.OutputRetentionHours)
	assert.Equal(t, 50, cfg.UploadCleanupMaxDeletions)
	assert.False(t, cfg.OutputCleanupEnabled)
}

func TestProductionDefaultsToStrictChecks(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.StrictRuntimeChecks)

	t.Setenv("STARTUP_STRICT_RUNTIME_CHECKS", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.StrictRuntimeChecks)
}

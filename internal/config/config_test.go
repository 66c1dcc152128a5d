package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()

	warnings, err := cfg.Validate()
	require.NoError(t, err)

	// The free tier cannot afford a youtube search or trending call; those
	// combinations surface as warnings, not errors.
	assert.NotEmpty(t, warnings)
	for _, w := range warnings {
		assert.Greater(t, w.Cost, w.Limit)
	}
}

func TestStrictCostValidation(t *testing.T) {
	cfg := Default()
	cfg.StrictCostValidation = true

	warnings, err := cfg.Validate()
	assert.Error(t, err)
	assert.NotEmpty(t, warnings)
}

func TestValidateRejectsBadFailMode(t *testing.T) {
	cfg := Default()
	cfg.FailMode = "maybe"

	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsInvertedRatios(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.QuotaWarnRatio = 0.95
	cfg.Monitoring.QuotaCriticalRatio = 0.90

	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsMissingLimit(t *testing.T) {
	cfg := Default()
	cfg.Quota.Tiers.Free.Steam = 0

	_, err := cfg.Validate()
	assert.Error(t, err)
}

func TestOperationLookup(t *testing.T) {
	cfg := Default()

	settings, ok := cfg.Quota.Operations.Lookup(APIYouTube, OpSearch)
	require.True(t, ok)
	assert.Equal(t, int64(100), settings.Cost)
	assert.Equal(t, OpSearch, settings.Name)

	_, ok = cfg.Quota.Operations.Lookup(APISteam, OpSearch)
	assert.False(t, ok)
}

func TestQuotaLimit(t *testing.T) {
	cfg := Default()

	limit, ok := cfg.Quota.Limit("free", APIYouTube)
	require.True(t, ok)
	assert.Equal(t, int64(50), limit)

	limit, ok = cfg.Quota.Limit("enterprise", APILLM)
	require.True(t, ok)
	assert.Equal(t, int64(2000), limit)

	_, ok = cfg.Quota.Limit("platinum", APIYouTube)
	assert.False(t, ok)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "open", cfg.FailMode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"server": {"port": "9090"}, "fail_mode": "closed"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "closed", cfg.FailMode)

	// Untouched sections keep their defaults
	assert.Equal(t, int64(50), cfg.Quota.Tiers.Free.YouTube)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

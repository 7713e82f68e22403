package heap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsZeroValue(t *testing.T) {
	fc, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.json"), "")
	require.NoError(t, err)
	assert.Equal(t, FileConfig{}, fc)
}

func TestLoadConfigValidFileIsDecoded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heapgc.json")
	const body = `{
		"backend": "generational",
		"heap-size": 4194304,
		"nursery-size": 524288,
		"promote-age": 3,
		"threshold-bytes": 2097152,
		"growth-expr": "live * 2",
		"debug": true,
		"bridge": {"addr": ":6062", "rate-limit-per-sec": 5},
		"events": {"address": "nats://localhost:4222", "subject": "heapgc.events"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	fc, err := LoadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, "generational", fc.Backend)
	assert.Equal(t, 4194304, fc.HeapSize)
	assert.Equal(t, 524288, fc.NurserySize)
	assert.Equal(t, 3, fc.PromoteAge)
	assert.Equal(t, uint64(2097152), fc.ThresholdBytes)
	assert.Equal(t, "live * 2", fc.GrowthExpr)
	assert.True(t, fc.Debug)
	assert.Equal(t, ":6062", fc.Bridge.Addr)
	assert.Equal(t, 5.0, fc.Bridge.RateLimitPerSec)
	assert.Equal(t, "nats://localhost:4222", fc.Events.Address)
	assert.Equal(t, "heapgc.events", fc.Events.Subject)
}

func TestLoadConfigLoadsEnvFileBeforeReadingConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("HEAPGC_TEST_VAR=loaded\n"), 0o644))

	_, err := LoadConfig(filepath.Join(dir, "missing.json"), envPath)
	require.NoError(t, err)

	assert.Equal(t, "loaded", os.Getenv("HEAPGC_TEST_VAR"))
	os.Unsetenv("HEAPGC_TEST_VAR")
}

func TestLoadConfigMissingEnvFileIsNotAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadConfigEnvVarOverridesFileBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heapgc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend": "markSweep"}`), 0o644))

	os.Setenv("HEAPGC_BACKEND", "generational")
	defer os.Unsetenv("HEAPGC_BACKEND")

	fc, err := LoadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "generational", fc.Backend)
}

func TestToBackendConfigProjectsCollectorFields(t *testing.T) {
	fc := FileConfig{
		Backend:        "copying",
		HeapSize:       1024,
		NurserySize:    2048,
		PromoteAge:     4,
		ThresholdBytes: 512,
		GrowthExpr:     "live * 1.2",
		Debug:          true,
	}
	cfg := fc.ToBackendConfig()
	assert.Equal(t, 1024, cfg.HeapSize)
	assert.Equal(t, 2048, cfg.NurserySize)
	assert.Equal(t, 4, cfg.PromoteAge)
	assert.Equal(t, uint64(512), cfg.ThresholdBytes)
	assert.Equal(t, "live * 1.2", cfg.GrowthExpr)
	assert.True(t, cfg.Debug)
}

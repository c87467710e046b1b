package dipole

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_EmbeddedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, float32(4.0), cfg.Simulation.LifetimeSec)
	assert.Equal(t, float32(1.0), cfg.Simulation.SpeedMultiplier)
	assert.Equal(t, 400, cfg.Field.Capacity)
	assert.Equal(t, float32(0.5), cfg.Field.LobeOffset)
	assert.Equal(t, 1280, cfg.Viewer.Width)
	assert.Empty(t, cfg.Telemetry.Dir)
}

func TestLoadConfig_OverlaysUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dipole.yaml")
	body := []byte("simulation:\n  spawn_rate: 99.0\nfield:\n  capacity: 32\n")
	require.NoError(t, os.WriteFile(path, body, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, float32(99.0), cfg.Simulation.SpawnRate)
	assert.Equal(t, 32, cfg.Field.Capacity)
	// Everything the file omits keeps its default.
	assert.Equal(t, float32(4.0), cfg.Simulation.LifetimeSec)
	assert.Equal(t, float32(0.5), cfg.Field.LobeOffset)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n -not yaml"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigPatch_AppliesOnlySetFields(t *testing.T) {
	cfg := Config{LifetimeSec: 4, SpeedMultiplier: 1, SpawnRate: 20, ScaleBase: 0.6, ScaleVariance: 0.5, SpinSpeed: 1.5}

	speed := float32(2)
	spin := float32(0)
	cfg.apply(ConfigPatch{SpeedMultiplier: &speed, SpinSpeed: &spin})

	assert.Equal(t, float32(2), cfg.SpeedMultiplier)
	assert.Equal(t, float32(0), cfg.SpinSpeed, "explicit zero is a real value, not an omission")
	assert.Equal(t, float32(4), cfg.LifetimeSec)
	assert.Equal(t, float32(20), cfg.SpawnRate)
}

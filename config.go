package dipole

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds the runtime tunables of the simulation. All fields are
// independent: updates merge field by field with no cross-field
// atomicity, and the values a tick uses are whatever was last merged
// before it started.
type Config struct {
	// LifetimeSec is the base particle life; actual lifetimes get up to
	// 40% jitter either way.
	LifetimeSec float32 `yaml:"lifetime_sec"`
	// SpeedMultiplier scales how fast particles age.
	SpeedMultiplier float32 `yaml:"speed_multiplier"`
	// SpawnRate is the expected spawns per second, evaluated as one
	// Bernoulli trial per tick with probability SpawnRate*dt.
	SpawnRate float32 `yaml:"spawn_rate"`
	// ScaleBase and ScaleVariance set the peak lobe radius:
	// base * (1 ± variance), uniformly sampled at spawn.
	ScaleBase     float32 `yaml:"scale_base"`
	ScaleVariance float32 `yaml:"scale_variance"`
	// SpinSpeed is the precession rate in radians per second.
	SpinSpeed float32 `yaml:"spin_speed"`
}

// ConfigPatch is a partial configuration update. Nil fields leave the
// current value unchanged, mirroring the update-configuration message
// where unspecified fields simply fail to merge.
type ConfigPatch struct {
	LifetimeSec     *float32 `yaml:"lifetime_sec,omitempty"`
	SpeedMultiplier *float32 `yaml:"speed_multiplier,omitempty"`
	SpawnRate       *float32 `yaml:"spawn_rate,omitempty"`
	ScaleBase       *float32 `yaml:"scale_base,omitempty"`
	ScaleVariance   *float32 `yaml:"scale_variance,omitempty"`
	SpinSpeed       *float32 `yaml:"spin_speed,omitempty"`
}

func (c *Config) apply(patch ConfigPatch) {
	if patch.LifetimeSec != nil {
		c.LifetimeSec = *patch.LifetimeSec
	}
	if patch.SpeedMultiplier != nil {
		c.SpeedMultiplier = *patch.SpeedMultiplier
	}
	if patch.SpawnRate != nil {
		c.SpawnRate = *patch.SpawnRate
	}
	if patch.ScaleBase != nil {
		c.ScaleBase = *patch.ScaleBase
	}
	if patch.ScaleVariance != nil {
		c.ScaleVariance = *patch.ScaleVariance
	}
	if patch.SpinSpeed != nil {
		c.SpinSpeed = *patch.SpinSpeed
	}
}

// FieldConfig fixes the session-level parameters that only an init can
// change: the pool size and the per-lobe offset distance.
type FieldConfig struct {
	Capacity   int     `yaml:"capacity"`
	LobeOffset float32 `yaml:"lobe_offset"`
}

// ViewerConfig holds window settings for the reference viewer.
type ViewerConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
}

// TelemetryConfig enables CSV tick-stats output when Dir is non-empty.
type TelemetryConfig struct {
	Dir string `yaml:"dir"`
}

// FileConfig is the on-disk configuration: embedded defaults overlaid
// with an optional user file.
type FileConfig struct {
	Simulation Config          `yaml:"simulation"`
	Field      FieldConfig     `yaml:"field"`
	Viewer     ViewerConfig    `yaml:"viewer"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() FileConfig {
	var cfg FileConfig
	// The embedded file is validated by tests; a decode failure here is
	// a build defect, not a runtime condition.
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("dipole: embedded defaults.yaml invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads path and merges it over the embedded defaults.
// An empty path returns the defaults untouched.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

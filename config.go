package spacemouse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.viam.com/rdk/logging"
)

// SpaceMouseConfig configures the twist sensor and the shared poller behind
// it. Everything except the sensitivities identifies the poller in the
// shared registry, so resources sharing a source must agree on those fields.
type SpaceMouseConfig struct {
	// Source names the input controller component to poll. Required.
	Source string `json:"source"`

	// PosSensitivity scales the three translation axes. Default: 0.4.
	PosSensitivity float64 `json:"pos_sensitivity,omitempty"`
	// RotSensitivity scales the three rotation axes. Default: 0.8.
	RotSensitivity float64 `json:"rot_sensitivity,omitempty"`

	// IntervalMS is the polling period in milliseconds. Default: 10.
	IntervalMS float64 `json:"interval_ms,omitempty"`

	// Layout names the control mapping; LeftButton and RightButton override
	// its side buttons with raw control names.
	Layout      string `json:"layout,omitempty"`
	LeftButton  string `json:"left_button,omitempty"`
	RightButton string `json:"right_button,omitempty"`

	// ProfileFile is an optional axis calibration profile. Relative paths
	// resolve under VIAM_MODULE_DATA.
	ProfileFile string `json:"profile_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *SpaceMouseConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Source == "" {
		return nil, nil, fmt.Errorf(`expected "source" attribute for %q`, path)
	}

	cfg.applyDefaults()

	if cfg.IntervalMS < 1 {
		return nil, nil, fmt.Errorf("interval_ms must be at least 1, got %v", cfg.IntervalMS)
	}
	if _, err := cfg.layout(); err != nil {
		return nil, nil, err
	}

	return []string{cfg.Source}, nil, nil
}

func (cfg *SpaceMouseConfig) applyDefaults() {
	if cfg.PosSensitivity == 0 {
		cfg.PosSensitivity = DefaultPosSensitivity
	}
	if cfg.RotSensitivity == 0 {
		cfg.RotSensitivity = DefaultRotSensitivity
	}
	if cfg.IntervalMS == 0 {
		cfg.IntervalMS = DefaultIntervalMS
	}
	if cfg.Layout == "" {
		cfg.Layout = DefaultLayout
	}
}

func (cfg *SpaceMouseConfig) interval() time.Duration {
	return time.Duration(cfg.IntervalMS * float64(time.Millisecond))
}

func (cfg *SpaceMouseConfig) layout() (DeviceLayout, error) {
	layout, err := LayoutForName(cfg.Layout)
	if err != nil {
		return DeviceLayout{}, err
	}
	return layout.WithButtons(cfg.LeftButton, cfg.RightButton), nil
}

// LoadProfile loads the configured axis profile and reports whether it came
// from a file. Missing or unreadable files log a warning and fall back to
// the identity profile.
func (cfg *SpaceMouseConfig) LoadProfile(logger logging.Logger) (AxisProfile, bool) {
	if cfg.ProfileFile == "" {
		return DefaultAxisProfile, false
	}

	profilePath := resolveProfilePath(cfg.ProfileFile)
	profile, err := LoadAxisProfileFromFile(profilePath)
	if err != nil {
		if logger != nil {
			logger.Warnf("failed to load axis profile from %s: %v, using identity profile", profilePath, err)
		}
		return DefaultAxisProfile, false
	}

	if logger != nil {
		logger.Infof("loaded axis profile from %s", profilePath)
	}
	return profile, true
}

// resolveProfilePath expands a relative profile path under VIAM_MODULE_DATA,
// falling back to /tmp when the module data directory is unset.
func resolveProfilePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	return filepath.Join(moduleDataDir, path)
}

// LoadAxisProfileFromFile reads and validates a profile, filling axes the
// file omits with pass-through calibrations.
func LoadAxisProfileFromFile(path string) (AxisProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AxisProfile{}, fmt.Errorf("failed to read profile file: %w", err)
	}

	var profile AxisProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return AxisProfile{}, fmt.Errorf("failed to parse profile file: %w", err)
	}

	convertOrDefault := func(c *AxisCalibration) *AxisCalibration {
		if c != nil {
			return c
		}
		return &AxisCalibration{}
	}
	profile.X = convertOrDefault(profile.X)
	profile.Y = convertOrDefault(profile.Y)
	profile.Z = convertOrDefault(profile.Z)
	profile.RX = convertOrDefault(profile.RX)
	profile.RY = convertOrDefault(profile.RY)
	profile.RZ = convertOrDefault(profile.RZ)

	if err := profile.Validate(); err != nil {
		return AxisProfile{}, fmt.Errorf("invalid profile file: %w", err)
	}
	return profile, nil
}

// SaveAxisProfileToFile writes a profile as indented JSON.
func SaveAxisProfileToFile(path string, profile AxisProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid profile: %w", err)
	}
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	return nil
}

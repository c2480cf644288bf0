package config

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides holds optional editorial tuning loaded from .geosignal.yaml.
//
// Everything here has a baked-in default; the file exists so editors can
// re-weight topics or patch geo name resolution without a redeploy.
type Overrides struct {
	// TopicWeights maps IPTC top-level topic names to hotspot score weights.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	TopicWeights map[string]float64 `yaml:"topic_weights"`

	// GeoNameOverrides maps lowercase colloquial country names to ISO alpha-2 codes.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	GeoNameOverrides map[string]string `yaml:"geo_name_overrides"`
}

// DefaultOverridesPath is the default location for the overrides file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultOverridesPath = ".geosignal.yaml"

// OverridesPathEnvVar is the environment variable name for a custom overrides path.
const OverridesPathEnvVar = "GEOSIGNAL_CONFIG_PATH"

// LoadOverrides loads editorial overrides from a YAML file at the given path.
//
// Behavior:
//   - Returns empty overrides (not error) if the file doesn't exist - overrides are optional
//   - Returns empty overrides + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated overrides on success
//
// The pipeline must be able to start without the file; every consumer falls
// back to its compiled-in defaults for any key the file omits.
func LoadOverrides(path string) (*Overrides, error) {
	ov := &Overrides{
		TopicWeights:     make(map[string]float64),
		GeoNameOverrides: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Overrides file not found, using defaults",
				slog.String("path", path))

			return ov, nil
		}

		slog.Warn("Failed to read overrides file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return ov, nil
	}

	if len(data) == 0 {
		return ov, nil
	}

	if err := yaml.Unmarshal(data, ov); err != nil {
		slog.Warn("Failed to parse overrides file, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Overrides{
			TopicWeights:     make(map[string]float64),
			GeoNameOverrides: make(map[string]string),
		}, nil
	}

	if ov.TopicWeights == nil {
		ov.TopicWeights = make(map[string]float64)
	}

	if ov.GeoNameOverrides == nil {
		ov.GeoNameOverrides = make(map[string]string)
	}

	return ov, nil
}

// LoadOverridesFromEnv loads overrides from the path in GEOSIGNAL_CONFIG_PATH,
// falling back to ".geosignal.yaml" in the current directory if not set.
func LoadOverridesFromEnv() (*Overrides, error) {
	path := GetEnvStr(OverridesPathEnvVar, DefaultOverridesPath)

	return LoadOverrides(path)
}

package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvStr(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue string
		expected     string
	}{
		{name: "set value wins", envValue: "custom", defaultValue: "fallback", expected: "custom"},
		{name: "empty falls back", envValue: "", defaultValue: "fallback", expected: "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("GEOSIGNAL_TEST_STR", tt.envValue)
			}

			assert.Equal(t, tt.expected, GetEnvStr("GEOSIGNAL_TEST_STR", tt.defaultValue))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		expected     int
	}{
		{name: "valid int", envValue: "42", defaultValue: 7, expected: 42},
		{name: "invalid falls back", envValue: "not-a-number", defaultValue: 7, expected: 7},
		{name: "unset falls back", envValue: "", defaultValue: 7, expected: 7},
		{name: "negative parsed", envValue: "-3", defaultValue: 7, expected: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("GEOSIGNAL_TEST_INT", tt.envValue)
			}

			assert.Equal(t, tt.expected, GetEnvInt("GEOSIGNAL_TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue float64
		expected     float64
	}{
		{name: "valid float", envValue: "0.65", defaultValue: 0.8, expected: 0.65},
		{name: "integer string", envValue: "2", defaultValue: 0.8, expected: 2},
		{name: "invalid falls back", envValue: "high", defaultValue: 0.8, expected: 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("GEOSIGNAL_TEST_FLOAT", tt.envValue)
			}

			assert.InDelta(t, tt.expected, GetEnvFloat("GEOSIGNAL_TEST_FLOAT", tt.defaultValue), 1e-9)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{name: "true", envValue: "true", defaultValue: false, expected: true},
		{name: "1", envValue: "1", defaultValue: false, expected: true},
		{name: "yes uppercase", envValue: "YES", defaultValue: false, expected: true},
		{name: "false", envValue: "false", defaultValue: true, expected: false},
		{name: "0", envValue: "0", defaultValue: true, expected: false},
		{name: "garbage falls back", envValue: "maybe", defaultValue: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEOSIGNAL_TEST_BOOL", tt.envValue)

			assert.Equal(t, tt.expected, GetEnvBool("GEOSIGNAL_TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{name: "seconds", envValue: "30s", defaultValue: time.Minute, expected: 30 * time.Second},
		{name: "composite", envValue: "1h30m", defaultValue: time.Minute, expected: 90 * time.Minute},
		{name: "bare number falls back", envValue: "30", defaultValue: time.Minute, expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEOSIGNAL_TEST_DUR", tt.envValue)

			assert.Equal(t, tt.expected, GetEnvDuration("GEOSIGNAL_TEST_DUR", tt.defaultValue))
		})
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected slog.Level
	}{
		{name: "debug", envValue: "debug", expected: slog.LevelDebug},
		{name: "warning alias", envValue: "WARNING", expected: slog.LevelWarn},
		{name: "error with whitespace", envValue: " error ", expected: slog.LevelError},
		{name: "unknown falls back", envValue: "verbose", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEOSIGNAL_TEST_LEVEL", tt.envValue)

			assert.Equal(t, tt.expected, GetEnvLogLevel("GEOSIGNAL_TEST_LEVEL", slog.LevelInfo))
		})
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: []string{}},
		{name: "single", input: "kafka-1:9092", expected: []string{"kafka-1:9092"}},
		{name: "trims and filters", input: " a, ,b ,", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCommaSeparatedList(tt.input))
		})
	}
}

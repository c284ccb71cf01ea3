package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
	"github.com/Scottcjn/Rustchain-sub002/internal/logging"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, attest.DefaultThreshold, cfg.Engine.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL())
	assert.Equal(t, 5*time.Second, cfg.TimeoutMargin())
	assert.Equal(t, 24*time.Hour, cfg.NonceRetention())
}

func TestDecode_TOML(t *testing.T) {
	cfg := Default()
	data := []byte(`
version = 1

[engine]
target_id = "node-7"
threshold = 60
challenge_ttl_sec = 120

[calibration.classes.lab]
max_clock_cv = 0.5
min_cache_ratio = 1.01
min_memory_cv = 0.01
min_instruction_cv = 0.01
max_thermal_stable = 0.02
`)
	require.NoError(t, Decode(data, ".toml", cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "node-7", cfg.Engine.TargetID)
	assert.Equal(t, 60, cfg.Engine.Threshold)
	assert.Equal(t, 2*time.Minute, cfg.ChallengeTTL())
	assert.Equal(t, 0.5, cfg.CalibrationFor("lab").MaxClockCV)
}

func TestDecode_JSON(t *testing.T) {
	cfg := Default()
	data := []byte(`{"version":1,"engine":{"target_id":"node-9","threshold":70,"challenge_ttl_sec":300}}`)
	require.NoError(t, Decode(data, ".json", cfg))
	assert.Equal(t, "node-9", cfg.Engine.TargetID)
	assert.Equal(t, 70, cfg.Engine.Threshold)
}

func TestDecode_YAML(t *testing.T) {
	cfg := Default()
	data := []byte(`
version: 1
engine:
  target_id: node-11
logging:
  level: debug
  format: json
`)
	require.NoError(t, Decode(data, ".yaml", cfg))
	assert.Equal(t, "node-11", cfg.Engine.TargetID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestDecode_UnknownExtension(t *testing.T) {
	err := Decode([]byte("x = 1"), ".ini", Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attest.toml")
	data := []byte("version = 1\n\n[engine]\ntarget_id = \"node-1\"\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Engine.TargetID)
	// Unset sections keep defaults.
	assert.Equal(t, attest.DefaultThreshold, cfg.Engine.Threshold)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, attest.DefaultThreshold, cfg.Engine.Threshold)
}

func TestLoad_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attest.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = = 1"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RUSTCHAIN_TARGET_ID", "env-node")
	t.Setenv("RUSTCHAIN_THRESHOLD", "65")
	t.Setenv("RUSTCHAIN_DB_PATH", "/tmp/env.db")
	t.Setenv("RUSTCHAIN_LOG_LEVEL", "warn")
	t.Setenv("RUSTCHAIN_TPM_ENABLED", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "env-node", cfg.Engine.TargetID)
	assert.Equal(t, 65, cfg.Engine.Threshold)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Hardware.TPMEnabled)
}

func TestApplyEnvOverrides_BadValuesIgnored(t *testing.T) {
	t.Setenv("RUSTCHAIN_THRESHOLD", "not-a-number")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, attest.DefaultThreshold, cfg.Engine.Threshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"bad version", func(cfg *Config) { cfg.Version = 99 }},
		{"threshold above 100", func(cfg *Config) { cfg.Engine.Threshold = 101 }},
		{"negative threshold", func(cfg *Config) { cfg.Engine.Threshold = -1 }},
		{"zero ttl", func(cfg *Config) { cfg.Engine.ChallengeTTLSec = 0 }},
		{"negative margin", func(cfg *Config) { cfg.Engine.TimeoutMarginSec = -1 }},
		{"empty storage path", func(cfg *Config) { cfg.Storage.Path = "" }},
		{"zero retention", func(cfg *Config) { cfg.Storage.NonceRetentionHours = 0 }},
		{"zero clock cv", func(cfg *Config) { cfg.Calibration.Default.MaxClockCV = 0 }},
		{"cache ratio below one", func(cfg *Config) {
			cal := cfg.Calibration.Classes["vintage"]
			cal.MinCacheRatio = 0.9
			cfg.Calibration.Classes["vintage"] = cal
		}},
		{"bad log level", func(cfg *Config) { cfg.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestCalibrationFor(t *testing.T) {
	cfg := Default()

	classic := cfg.CalibrationFor("classic")
	assert.Equal(t, 0.9, classic.MaxClockCV)

	fallback := cfg.CalibrationFor("no-such-class")
	assert.Equal(t, cfg.Calibration.Default, fallback)
}

func TestLoggerConfig(t *testing.T) {
	lc := LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   "/tmp/attest.log",
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 2,
		Compress:   true,
	}
	cfg, err := lc.LoggerConfig()
	require.NoError(t, err)

	assert.Equal(t, logging.LevelDebug, cfg.Level)
	assert.Equal(t, logging.FormatJSON, cfg.Format)
	assert.Equal(t, "file", cfg.Output)
	assert.Equal(t, "/tmp/attest.log", cfg.FilePath)
	assert.Equal(t, int64(10), cfg.MaxSize)
	assert.True(t, cfg.Compress)
}

func TestLoggerConfig_BadLevel(t *testing.T) {
	_, err := LoggingConfig{Level: "loud"}.LoggerConfig()
	require.Error(t, err)
}

func TestPlatformPaths(t *testing.T) {
	assert.NotEmpty(t, PlatformDataDir())
	assert.NotEmpty(t, PlatformConfigDir())
	assert.Contains(t, DefaultConfigPath(), "attest.toml")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCalibrationFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCalibrationWatcher_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.toml")
	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.4
min_cache_ratio = 1.02
min_memory_cv = 0.001
min_instruction_cv = 0.001
max_thermal_stable = 1.0

[classes.vintage]
max_clock_cv = 0.8
min_cache_ratio = 1.01
min_memory_cv = 0.001
min_instruction_cv = 0.001
max_thermal_stable = 1.0
`)

	w, err := NewCalibrationWatcher(path, Default().Calibration)
	require.NoError(t, err)

	assert.Equal(t, 0.4, w.CalibrationFor("modern").MaxClockCV, "fallback to default set")
	assert.Equal(t, 0.8, w.CalibrationFor("vintage").MaxClockCV)
}

func TestCalibrationWatcher_MissingFile(t *testing.T) {
	_, err := NewCalibrationWatcher(filepath.Join(t.TempDir(), "nope.toml"), Default().Calibration)
	require.Error(t, err)
}

func TestCalibrationWatcher_InvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.toml")
	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.0
min_cache_ratio = 1.0
max_thermal_stable = 1.0
`)
	_, err := NewCalibrationWatcher(path, Default().Calibration)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCalibrationWatcher_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.toml")
	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.4
min_cache_ratio = 1.02
max_thermal_stable = 1.0
`)

	w, err := NewCalibrationWatcher(path, Default().Calibration)
	require.NoError(t, err)
	require.Equal(t, 0.4, w.CalibrationFor("modern").MaxClockCV)

	// Half-saved file: syntactically broken.
	writeCalibrationFile(t, path, "[default\nmax_clock")
	require.Error(t, w.reload())
	assert.Equal(t, 0.4, w.CalibrationFor("modern").MaxClockCV, "previous set survives a bad reload")

	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.3
min_cache_ratio = 1.02
max_thermal_stable = 1.0
`)
	require.NoError(t, w.reload())
	assert.Equal(t, 0.3, w.CalibrationFor("modern").MaxClockCV)
}

func TestCalibrationWatcher_LiveReload(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem watch timing")
	}

	path := filepath.Join(t.TempDir(), "calibration.toml")
	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.4
min_cache_ratio = 1.02
max_thermal_stable = 1.0
`)

	w, err := NewCalibrationWatcher(path, Default().Calibration)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.25
min_cache_ratio = 1.02
max_thermal_stable = 1.0
`)

	require.Eventually(t, func() bool {
		return w.CalibrationFor("modern").MaxClockCV == 0.25
	}, 5*time.Second, 50*time.Millisecond, "watcher should pick up the rewrite")
}

func TestCalibrationWatcher_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.toml")
	writeCalibrationFile(t, path, `
[default]
max_clock_cv = 0.4
min_cache_ratio = 1.02
max_thermal_stable = 1.0
`)
	w, err := NewCalibrationWatcher(path, Default().Calibration)
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}

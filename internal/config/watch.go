package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
)

// calibrationFile is the on-disk shape of an external calibration file.
type calibrationFile struct {
	Default attest.Calibration            `toml:"default" json:"default" yaml:"default"`
	Classes map[string]attest.Calibration `toml:"classes" json:"classes" yaml:"classes"`
}

// CalibrationWatcher keeps validator thresholds in sync with an external
// calibration file. Lookups always see the most recently loaded set, so
// threshold tuning does not require restarting the engine.
type CalibrationWatcher struct {
	path string

	mu      sync.RWMutex
	current calibrationFile

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewCalibrationWatcher loads the calibration file at path and prepares a
// watcher seeded with fallback values for anything the file omits.
func NewCalibrationWatcher(path string, fallback CalibrationConfig) (*CalibrationWatcher, error) {
	w := &CalibrationWatcher{
		path: path,
		current: calibrationFile{
			Default: fallback.Default,
			Classes: fallback.Classes,
		},
		done: make(chan struct{}),
	}

	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start begins watching the calibration file for changes. Edits are
// debounced briefly so partially written files are not picked up.
func (w *CalibrationWatcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsWatcher

	// Watch the parent directory: editors replace files via rename,
	// which drops a watch placed on the file itself.
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts down the watcher.
func (w *CalibrationWatcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}
	close(w.done)
	w.wg.Wait()
	return w.fsWatcher.Close()
}

// CalibrationFor resolves the calibration for an architecture class from
// the most recently loaded set.
func (w *CalibrationWatcher) CalibrationFor(archClass string) attest.Calibration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if cal, ok := w.current.Classes[archClass]; ok {
		return cal
	}
	return w.current.Default
}

func (w *CalibrationWatcher) loop() {
	defer w.wg.Done()

	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-w.done:
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(250 * time.Millisecond)
				pendingC = pending.C
			} else {
				pending.Reset(250 * time.Millisecond)
			}

		case <-pendingC:
			pending = nil
			pendingC = nil
			// Keep the previous set on a bad reload; a half-saved
			// file must not wipe the running thresholds.
			_ = w.reload()

		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload parses the calibration file and swaps in the new set.
func (w *CalibrationWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read calibration file: %w", err)
	}

	var cf calibrationFile
	w.mu.RLock()
	cf.Default = w.current.Default
	w.mu.RUnlock()

	switch strings.ToLower(filepath.Ext(w.path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cf)
	case ".json":
		err = json.Unmarshal(data, &cf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cf)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(w.path))
	}
	if err != nil {
		return fmt.Errorf("parse calibration file: %w", err)
	}

	if err := validateCalibration("default", cf.Default); err != nil {
		return err
	}
	for class, cal := range cf.Classes {
		if err := validateCalibration(class, cal); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.current = cf
	w.mu.Unlock()
	return nil
}

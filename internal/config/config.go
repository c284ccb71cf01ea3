// Package config loads and validates attestation engine configuration.
// Config files may be TOML, JSON, or YAML; the format is chosen by file
// extension. Environment variables with the RUSTCHAIN_ prefix override
// individual fields after loading.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Scottcjn/Rustchain-sub002/internal/attest"
	"github.com/Scottcjn/Rustchain-sub002/internal/logging"
)

// Version is the current config schema version.
const Version = 1

var (
	ErrUnknownFormat = errors.New("unknown config format")
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the top-level configuration for the attestation engine.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Engine      EngineConfig      `toml:"engine" json:"engine" yaml:"engine"`
	Storage     StorageConfig     `toml:"storage" json:"storage" yaml:"storage"`
	Signing     SigningConfig     `toml:"signing" json:"signing" yaml:"signing"`
	Calibration CalibrationConfig `toml:"calibration" json:"calibration" yaml:"calibration"`
	Hardware    HardwareConfig    `toml:"hardware" json:"hardware" yaml:"hardware"`
	Logging     LoggingConfig     `toml:"logging" json:"logging" yaml:"logging"`
}

// EngineConfig controls round issuance and scoring.
type EngineConfig struct {
	// TargetID identifies this node in challenges and records.
	TargetID string `toml:"target_id" json:"target_id" yaml:"target_id"`

	// Threshold is the minimum confidence score for a VERIFIED verdict.
	Threshold int `toml:"threshold" json:"threshold" yaml:"threshold"`

	// ChallengeTTLSec bounds how long an issued challenge stays valid.
	ChallengeTTLSec int `toml:"challenge_ttl_sec" json:"challenge_ttl_sec" yaml:"challenge_ttl_sec"`

	// TimeoutMarginSec is added to the per-challenge timing window when
	// deriving the workload execution deadline.
	TimeoutMarginSec int `toml:"timeout_margin_sec" json:"timeout_margin_sec" yaml:"timeout_margin_sec"`
}

// StorageConfig controls the SQLite nonce ledger and record archive.
type StorageConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`

	// NonceRetentionHours controls how long consumed nonces are kept
	// before Purge removes them.
	NonceRetentionHours int `toml:"nonce_retention_hours" json:"nonce_retention_hours" yaml:"nonce_retention_hours"`
}

// SigningConfig locates the Ed25519 key used to sign attestation records.
type SigningConfig struct {
	KeyPath       string `toml:"key_path" json:"key_path" yaml:"key_path"`
	PublicKeyPath string `toml:"public_key_path" json:"public_key_path" yaml:"public_key_path"`
}

// CalibrationConfig carries validator thresholds, with optional per
// architecture-class overrides. Older hardware has noisier clocks and
// flatter caches, so classic and vintage classes ship looser defaults.
type CalibrationConfig struct {
	Default attest.Calibration            `toml:"default" json:"default" yaml:"default"`
	Classes map[string]attest.Calibration `toml:"classes" json:"classes" yaml:"classes"`

	// FilePath, when set, points at an external calibration file that
	// overrides Default and Classes. With LiveReload the file is watched
	// and changes take effect without a restart.
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	LiveReload bool   `toml:"live_reload" json:"live_reload" yaml:"live_reload"`
}

// LoggingConfig is the serializable logging section. It converts to the
// logging package's runtime config via LoggerConfig.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
	AddSource  bool   `toml:"add_source" json:"add_source" yaml:"add_source"`

	// AuditEnabled turns on the security audit trail (challenge issuance,
	// verdicts, replay attempts). AuditPath overrides the platform default
	// audit log location.
	AuditEnabled bool   `toml:"audit_enabled" json:"audit_enabled" yaml:"audit_enabled"`
	AuditPath    string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// LoggerConfig converts the logging section into a logging.Config.
func (lc LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	if strings.EqualFold(lc.Format, "json") {
		cfg.Format = logging.FormatJSON
	} else {
		cfg.Format = logging.FormatText
	}
	if lc.Output != "" {
		cfg.Output = lc.Output
	}
	if lc.FilePath != "" {
		cfg.FilePath = lc.FilePath
	}
	if lc.MaxSizeMB > 0 {
		cfg.MaxSize = lc.MaxSizeMB
	}
	if lc.MaxAgeDays > 0 {
		cfg.MaxAge = lc.MaxAgeDays
	}
	if lc.MaxBackups > 0 {
		cfg.MaxBackups = lc.MaxBackups
	}
	cfg.Compress = lc.Compress
	cfg.AddSource = lc.AddSource
	return cfg, nil
}

// HardwareConfig controls platform probing.
type HardwareConfig struct {
	TPMEnabled  bool   `toml:"tpm_enabled" json:"tpm_enabled" yaml:"tpm_enabled"`
	TPMPath     string `toml:"tpm_path" json:"tpm_path" yaml:"tpm_path"`
	DBusEnabled bool   `toml:"dbus_enabled" json:"dbus_enabled" yaml:"dbus_enabled"`

	// HWDBPath overrides the embedded hardware class table.
	HWDBPath string `toml:"hwdb_path" json:"hwdb_path" yaml:"hwdb_path"`
}

// Default returns the baseline configuration with platform-appropriate paths.
func Default() *Config {
	dataDir := PlatformDataDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			Threshold:        attest.DefaultThreshold,
			ChallengeTTLSec:  300,
			TimeoutMarginSec: 5,
		},
		Storage: StorageConfig{
			Path:                filepath.Join(dataDir, "attest.db"),
			NonceRetentionHours: 24,
		},
		Signing: SigningConfig{
			KeyPath: filepath.Join(dataDir, "keys", "attest_ed25519"),
		},
		Calibration: CalibrationConfig{
			Default: attest.DefaultCalibration(),
			Classes: defaultClassCalibrations(),
		},
		Hardware: HardwareConfig{
			TPMEnabled:  true,
			DBusEnabled: true,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			Output:       "stderr",
			MaxSizeMB:    100,
			MaxAgeDays:   30,
			MaxBackups:   5,
			Compress:     true,
			AuditEnabled: true,
		},
	}
}

// defaultClassCalibrations loosens thresholds for older hardware classes.
// A Pentium II has no invariant TSC and its clock jitter runs well past
// the modern ceiling.
func defaultClassCalibrations() map[string]attest.Calibration {
	classic := attest.DefaultCalibration()
	classic.MaxClockCV = 0.9
	classic.MinCacheRatio = 1.005

	vintage := attest.DefaultCalibration()
	vintage.MaxClockCV = 0.75

	heritage := attest.DefaultCalibration()
	heritage.MaxClockCV = 0.6

	return map[string]attest.Calibration{
		"classic":  classic,
		"vintage":  vintage,
		"heritage": heritage,
	}
}

// Load reads a config file, applies environment overrides and validates.
// A missing path returns defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			if err := Decode(data, filepath.Ext(path), cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals config data in the format implied by ext into cfg.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse toml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	return nil
}

// ApplyEnvOverrides lets environment variables override individual fields.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RUSTCHAIN_TARGET_ID"); v != "" {
		c.Engine.TargetID = v
	}
	if v := os.Getenv("RUSTCHAIN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.Threshold = n
		}
	}
	if v := os.Getenv("RUSTCHAIN_CHALLENGE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.ChallengeTTLSec = n
		}
	}
	if v := os.Getenv("RUSTCHAIN_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RUSTCHAIN_KEY_PATH"); v != "" {
		c.Signing.KeyPath = v
	}
	if v := os.Getenv("RUSTCHAIN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RUSTCHAIN_TPM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Hardware.TPMEnabled = b
		}
	}
}

// Validate checks field ranges and cross-field consistency.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidConfig, c.Version)
	}
	if c.Engine.Threshold < 0 || c.Engine.Threshold > 100 {
		return fmt.Errorf("%w: threshold %d outside [0,100]", ErrInvalidConfig, c.Engine.Threshold)
	}
	if c.Engine.ChallengeTTLSec <= 0 {
		return fmt.Errorf("%w: challenge_ttl_sec must be positive", ErrInvalidConfig)
	}
	if c.Engine.TimeoutMarginSec < 0 {
		return fmt.Errorf("%w: timeout_margin_sec must not be negative", ErrInvalidConfig)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage path is required", ErrInvalidConfig)
	}
	if c.Storage.NonceRetentionHours <= 0 {
		return fmt.Errorf("%w: nonce_retention_hours must be positive", ErrInvalidConfig)
	}
	if err := validateCalibration("default", c.Calibration.Default); err != nil {
		return err
	}
	for class, cal := range c.Calibration.Classes {
		if err := validateCalibration(class, cal); err != nil {
			return err
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func validateCalibration(name string, cal attest.Calibration) error {
	if cal.MaxClockCV <= 0 {
		return fmt.Errorf("%w: calibration %q: max_clock_cv must be positive", ErrInvalidConfig, name)
	}
	if cal.MinCacheRatio < 1.0 {
		return fmt.Errorf("%w: calibration %q: min_cache_ratio below 1.0", ErrInvalidConfig, name)
	}
	if cal.MinMemoryCV < 0 || cal.MinInstructionCV < 0 {
		return fmt.Errorf("%w: calibration %q: CV floors must not be negative", ErrInvalidConfig, name)
	}
	if cal.MaxThermalStable <= 0 {
		return fmt.Errorf("%w: calibration %q: max_thermal_stable must be positive", ErrInvalidConfig, name)
	}
	return nil
}

// ChallengeTTL returns the challenge lifetime as a duration.
func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.Engine.ChallengeTTLSec) * time.Second
}

// TimeoutMargin returns the execution deadline slack as a duration.
func (c *Config) TimeoutMargin() time.Duration {
	return time.Duration(c.Engine.TimeoutMarginSec) * time.Second
}

// NonceRetention returns how long consumed nonces are retained.
func (c *Config) NonceRetention() time.Duration {
	return time.Duration(c.Storage.NonceRetentionHours) * time.Hour
}

// CalibrationFor resolves the calibration for an architecture class,
// falling back to the default set when no class override exists.
func (c *Config) CalibrationFor(archClass string) attest.Calibration {
	if cal, ok := c.Calibration.Classes[archClass]; ok {
		return cal
	}
	return c.Calibration.Default
}

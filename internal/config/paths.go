package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the per-user data directory for attestation
// state (ledger database, signing keys).
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "rustchain-data"
		}
		return filepath.Join(home, "Library", "Application Support", "rustchain")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "rustchain")
		}
		return "rustchain-data"
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "rustchain")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "rustchain-data"
		}
		return filepath.Join(home, ".local", "share", "rustchain")
	}
}

// PlatformConfigDir returns the per-user directory searched for the
// default config file.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, "Library", "Application Support", "rustchain")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "rustchain")
		}
		return "."
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "rustchain")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, ".config", "rustchain")
	}
}

// DefaultConfigPath returns the conventional location of the config file.
func DefaultConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "attest.toml")
}

// Package config loads application settings from config files, SPICE_ environment variables and flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}

// DefaultDatabasePath is the rule database location when none is configured.
func DefaultDatabasePath() string {
	return filepath.Join("~", ".local", "share", "spice-rules", "rules.db")
}

// DefaultConfigDir is the first directory searched for config.yaml.
func DefaultConfigDir() string {
	return ExpandPath(filepath.Join("~", ".config", "spice-rules"))
}

// DefaultCertDir holds the self-signed certificate used when the API serves HTTPS.
func DefaultCertDir() string {
	return filepath.Join("~", ".config", "spice-rules", "certs")
}

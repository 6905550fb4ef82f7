package config

import (
	"os"
	"path/filepath"
)

// Home returns the vegaflow home directory.
// It defaults to ~/.vegaflow but can be overridden with the VEGAFLOW_HOME environment variable.
func Home() string {
	if v := os.Getenv("VEGAFLOW_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vegaflow")
}

// DefaultDBPath returns the default SQLite database path (~/.vegaflow/vegaflow.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "vegaflow.db")
}

// EnsureDir creates the directory holding path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

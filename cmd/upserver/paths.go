package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved upserver state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.upserver or UPSERVER_HOME
	PIDPath    string // upserver.pid or UPSERVER_PID_PATH
	ConfigPath string // config.yaml or UPSERVER_CONFIG
}

// ResolvePaths returns all upserver paths, respecting env var overrides.
// Environment variables:
//   - UPSERVER_HOME: base directory for all upserver state (default: ~/.upserver)
//   - UPSERVER_PID_PATH: serve daemon PID file (default: $UPSERVER_HOME/upserver.pid)
//   - UPSERVER_CONFIG: configuration file (default: $UPSERVER_HOME/config.yaml)
func ResolvePaths() (*Paths, error) {
	home := os.Getenv("UPSERVER_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		home = filepath.Join(userHome, ".upserver")
	}

	return &Paths{
		Home:       home,
		PIDPath:    resolvePathWithEnv("UPSERVER_PID_PATH", home, "upserver.pid"),
		ConfigPath: resolvePathWithEnv("UPSERVER_CONFIG", home, "config.yaml"),
	}, nil
}

func resolvePathWithEnv(envVar, base, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return filepath.Join(base, name)
}

// EnsureHome creates the upserver home directory if needed.
func (p *Paths) EnsureHome() error {
	if err := os.MkdirAll(p.Home, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", p.Home, err)
	}
	return nil
}

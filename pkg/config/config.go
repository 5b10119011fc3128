// Package config loads and validates the UpServer configuration file.
// Port-range and fixed-port consistency is enforced here, at
// configuration-write time, so the allocator never has to re-check it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config location relative to the upserver home dir.
const DefaultPath = "config.yaml"

// Config holds all UpServer settings.
type Config struct {
	// SiteRoot is the directory containing one subdirectory per customer
	// working tree.
	SiteRoot string `yaml:"site_root"`

	// DBPath is the SQLite state database location.
	DBPath string `yaml:"db_path"`

	// ListenAddr is the admin/dashboard HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	Ports struct {
		// RangeStart/RangeEnd bound the free-port scan, inclusive.
		RangeStart int `yaml:"range_start"`
		RangeEnd   int `yaml:"range_end"`
		// Fixed maps a customer id to its assigned port. A fixed port is a
		// hard requirement: the reverse tunnel routes the public staging
		// hostname to exactly that port.
		Fixed map[string]int `yaml:"fixed"`
	} `yaml:"ports"`

	Staging struct {
		// ReadySeconds bounds the total readiness-poll time after spawn.
		ReadySeconds int `yaml:"ready_seconds"`
		// InstallSeconds bounds the synchronous dependency install.
		InstallSeconds int `yaml:"install_seconds"`
		// IdleMinutes is the inactivity threshold for the cleanup sweep.
		IdleMinutes int `yaml:"idle_minutes"`
		// CleanupIntervalMinutes is how often the sweep runs.
		CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	} `yaml:"staging"`

	Agent struct {
		// Command is the external edit-agent argv. Empty disables the
		// chat surface; triage can still be exercised through the API.
		Command []string `yaml:"command"`
	} `yaml:"agent"`

	Notify struct {
		// RedisAddr enables the redis-stream notification sink when set.
		RedisAddr string `yaml:"redis_addr"`
		// Stream is the redis stream key notifications are appended to.
		Stream string `yaml:"stream"`
	} `yaml:"notify"`

	Triage struct {
		// MaxFilesTouched is the wide-change-set threshold.
		MaxFilesTouched int `yaml:"max_files_touched"`
		// FlagIncompleteWithEdits flags turns where the agent reported
		// non-success but did touch files. Off by default: such turns are
		// treated as likely-successful and fall through to content checks.
		FlagIncompleteWithEdits bool `yaml:"flag_incomplete_with_edits"`
	} `yaml:"triage"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.SiteRoot = "sites"
	cfg.DBPath = "state.db"
	cfg.ListenAddr = "127.0.0.1:7700"
	cfg.Ports.RangeStart = 4000
	cfg.Ports.RangeEnd = 4999
	cfg.Ports.Fixed = map[string]int{}
	cfg.Staging.ReadySeconds = 20
	cfg.Staging.InstallSeconds = 180
	cfg.Staging.IdleMinutes = 30
	cfg.Staging.CleanupIntervalMinutes = 5
	cfg.Notify.Stream = "upserver:notifications"
	cfg.Triage.MaxFilesTouched = 8
	return cfg
}

// Load reads the config at path, layering it over defaults. A missing file
// yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // config path is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed. The
// config is validated before anything touches disk.
func Save(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks range sanity and fixed-port membership. Fixed ports must
// fall inside the allocation range so the tunnel mapping and the scanner
// agree on the port namespace.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SiteRoot) == "" {
		return fmt.Errorf("site_root must be set")
	}
	if cfg.Ports.RangeStart <= 0 || cfg.Ports.RangeEnd <= 0 {
		return fmt.Errorf("port range bounds must be positive")
	}
	if cfg.Ports.RangeStart > cfg.Ports.RangeEnd {
		return fmt.Errorf("port range start %d exceeds end %d", cfg.Ports.RangeStart, cfg.Ports.RangeEnd)
	}

	// Deterministic error ordering for tests and operators.
	customers := make([]string, 0, len(cfg.Ports.Fixed))
	for id := range cfg.Ports.Fixed {
		customers = append(customers, id)
	}
	sort.Strings(customers)

	seen := make(map[int]string, len(customers))
	for _, id := range customers {
		port := cfg.Ports.Fixed[id]
		if port < cfg.Ports.RangeStart || port > cfg.Ports.RangeEnd {
			return fmt.Errorf("fixed port %d for customer %s outside range %d-%d",
				port, id, cfg.Ports.RangeStart, cfg.Ports.RangeEnd)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("fixed port %d assigned to both %s and %s", port, other, id)
		}
		seen[port] = id
	}

	if cfg.Staging.IdleMinutes <= 0 {
		return fmt.Errorf("staging idle_minutes must be positive")
	}
	if cfg.Staging.ReadySeconds <= 0 {
		return fmt.Errorf("staging ready_seconds must be positive")
	}
	return nil
}

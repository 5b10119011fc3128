package siteprofile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// overrideFile is the per-site escape hatch for nonstandard stacks.
const overrideFile = "upserver.toml"

// Detect determines a site's profile from its directory contents.
func Detect(siteDir string) (Profile, error) {
	// 1. upserver.toml override (highest priority).
	overridePath := filepath.Join(siteDir, overrideFile)
	if data, err := os.ReadFile(overridePath); err == nil { //nolint:gosec // path is under the operator's site root
		return loadOverride(overridePath, data)
	}

	// 2. Node project by package.json.
	manifestPath := filepath.Join(siteDir, "package.json")
	if data, err := os.ReadFile(manifestPath); err == nil { //nolint:gosec // same
		return detectNode(manifestPath, data), nil
	}

	// 3. Plain files — serve statically.
	return staticProfile(), nil
}

// loadOverride parses upserver.toml:
//
//	[dev]
//	command = "bundle exec jekyll serve --port {port}"
//	[install]
//	dir = "vendor"
//	command = "bundle install"
func loadOverride(path string, data []byte) (Profile, error) {
	var override struct {
		Dev struct {
			Command string `toml:"command"`
		} `toml:"dev"`
		Install struct {
			Dir     string `toml:"dir"`
			Command string `toml:"command"`
		} `toml:"install"`
	}

	if err := toml.Unmarshal(data, &override); err != nil {
		return Profile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return customProfile(path, override.Dev.Command, override.Install.Dir, override.Install.Command)
}

// detectNode inspects package.json for a dev script. A parse error demotes
// the site to the no-dev-script serve path rather than failing the start.
func detectNode(manifestPath string, data []byte) Profile {
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nodeProfile(manifestPath, false)
	}
	_, hasDev := pkg.Scripts["dev"]
	return nodeProfile(manifestPath, hasDev)
}

// Package siteprofile detects what kind of project a customer site is and
// how to run its preview server. Priority: upserver.toml override in the
// site directory > manifest-based detection > static fallback.
package siteprofile

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the detected project type.
type Kind string

// Project kind constants.
const (
	KindNode   Kind = "node"
	KindStatic Kind = "static"
	KindCustom Kind = "custom" // upserver.toml override
)

// Profile describes how to install and run a customer site's preview.
type Profile struct {
	Kind Kind

	// ManifestPath is the file that triggered detection, empty for static.
	ManifestPath string

	// DependencyDir, when non-empty, must exist before the first run;
	// if absent the supervisor triggers InstallArgs synchronously.
	DependencyDir string
	InstallArgs   []string

	// devTemplate holds the dev-server argv with "{port}" placeholders.
	devTemplate []string
}

// DevCommand returns the argv to spawn the preview server on port.
func (p Profile) DevCommand(port int) []string {
	out := make([]string, len(p.devTemplate))
	for i, arg := range p.devTemplate {
		out[i] = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
	}
	return out
}

// NeedsInstall reports whether the profile has a dependency step.
func (p Profile) NeedsInstall() bool {
	return p.DependencyDir != "" && len(p.InstallArgs) > 0
}

func staticProfile() Profile {
	return Profile{
		Kind:        KindStatic,
		devTemplate: []string{"python3", "-m", "http.server", "{port}", "--bind", "127.0.0.1"},
	}
}

func nodeProfile(manifestPath string, hasDevScript bool) Profile {
	p := Profile{
		Kind:          KindNode,
		ManifestPath:  manifestPath,
		DependencyDir: "node_modules",
		InstallArgs:   []string{"npm", "install", "--no-audit", "--no-fund"},
	}
	if hasDevScript {
		p.devTemplate = []string{"npm", "run", "dev", "--", "--port", "{port}"}
	} else {
		p.devTemplate = []string{"npx", "--yes", "serve", "--listen", "{port}", "."}
	}
	return p
}

func customProfile(manifestPath string, dev string, installDir, installCmd string) (Profile, error) {
	devArgs := strings.Fields(dev)
	if len(devArgs) == 0 {
		return Profile{}, fmt.Errorf("override %s: empty dev command", manifestPath)
	}
	p := Profile{
		Kind:         KindCustom,
		ManifestPath: manifestPath,
		devTemplate:  devArgs,
	}
	if installDir != "" && installCmd != "" {
		p.DependencyDir = installDir
		p.InstallArgs = strings.Fields(installCmd)
	}
	return p, nil
}

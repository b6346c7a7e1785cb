package config

import (
	"fmt"
	"regexp"
)

// Plugin represents a plugin configuration. A plugin is started from Path,
// or from the installed copy of Source at Version.
type Plugin struct {
	Name     string
	Path     string
	Source   string
	Version  string
	Settings map[string]string
}

// semverRegex matches semantic versioning strings like v1.0.0, v0.1.0-beta, etc.
// Also allows "local" for locally built plugins
var semverRegex = regexp.MustCompile(`^(local|v?\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?)$`)

// ReservedPluginNames cannot be used as plugin names.
var ReservedPluginNames = []string{"builtin"}

// Validate checks that the plugin configuration is valid
func (p *Plugin) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	for _, r := range ReservedPluginNames {
		if p.Name == r {
			return fmt.Errorf("plugin name '%s' is reserved for built-in tools", p.Name)
		}
	}

	if p.Path != "" {
		return nil
	}
	if p.Source == "" {
		return fmt.Errorf("plugin needs a path, or a source and version")
	}
	if p.Version == "" {
		return fmt.Errorf("plugin version is required with source")
	}
	if !semverRegex.MatchString(p.Version) {
		return fmt.Errorf("invalid version '%s': must be 'local' or semantic version (e.g., v1.0.0)", p.Version)
	}
	return nil
}

// IsLocal returns true if this is a locally built plugin
func (p *Plugin) IsLocal() bool {
	return p.Path != "" || p.Version == "local"
}

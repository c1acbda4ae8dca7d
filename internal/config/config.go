// Package config loads and validates the kiln configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kiln-build/kiln/internal/version"
)

// Config represents the application configuration
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Cache     CacheConfig     `yaml:"cache"`
	Build     BuildConfig     `yaml:"build"`
	Placement PlacementConfig `yaml:"placement"`
	Artifact  ArtifactConfig  `yaml:"artifact,omitempty"`
	Units     []Unit          `yaml:"units"`
}

// RegistryConfig points at the object registry sources are pulled from.
type RegistryConfig struct {
	// URL is the git repository whose tags pin registry revisions.
	URL string `yaml:"url"`

	// Tag selects the registry revision; resolved to a commit hash once
	// per run.
	Tag string `yaml:"tag,omitempty"`

	// Hash pins the revision directly, skipping remote resolution.
	// Required for offline builds.
	Hash string `yaml:"hash,omitempty"`

	// FetchBase is the HTTP base URL objects are fetched from.
	FetchBase string `yaml:"fetch_base,omitempty"`
}

// CacheConfig locates the shared artifact cache.
type CacheConfig struct {
	Root string `yaml:"root"`
}

// BuildConfig holds the per-run build knobs.
type BuildConfig struct {
	TargetDir     string `yaml:"target"`
	OutputDir     string `yaml:"output"`
	Workers       int    `yaml:"workers,omitempty"`
	Force         bool   `yaml:"force,omitempty"`
	FailOnWarning bool   `yaml:"fail_on_warning,omitempty"`
	Offline       bool   `yaml:"offline,omitempty"`

	// ToolVersion overrides the compiled-in version, mainly for tests.
	ToolVersion string `yaml:"tool_version,omitempty"`
}

// PlacementConfig configures the binary placement pass.
type PlacementConfig struct {
	Rewrite  bool     `yaml:"rewrite,omitempty"`
	Includes []string `yaml:"include,omitempty"`
	Excludes []string `yaml:"exclude,omitempty"`

	// Manifest is the dependency manifest written by the external resolver;
	// ResolveDir anchors the extracted trees it names.
	Manifest   string `yaml:"manifest,omitempty"`
	ResolveDir string `yaml:"resolve_dir,omitempty"`
}

// ArtifactConfig is the coordinate of the artifact being built. Transitive
// occurrences of it are filtered out before placement.
type ArtifactConfig struct {
	Group    string `yaml:"group,omitempty"`
	Artifact string `yaml:"artifact,omitempty"`
}

// Unit registers one compilation unit with its discovery provenance.
type Unit struct {
	Identifier   string `yaml:"identifier"`
	DiscoveredAt string `yaml:"discovered_at,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvedToolVersion returns the configured tool version override or the
// compiled-in version.
func (c *Config) ResolvedToolVersion() string {
	if c.Build.ToolVersion != "" {
		return c.Build.ToolVersion
	}
	return version.Version
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Build.Offline && c.Registry.Hash == "" {
		return fmt.Errorf("offline build requires registry.hash to be pinned")
	}
	if c.Registry.Hash == "" && c.Registry.URL == "" {
		return fmt.Errorf("either registry.url or registry.hash must be set")
	}
	seen := make(map[string]bool, len(c.Units))
	for _, u := range c.Units {
		if u.Identifier == "" {
			return fmt.Errorf("unit with empty identifier")
		}
		if seen[u.Identifier] {
			return fmt.Errorf("duplicate unit %q", u.Identifier)
		}
		seen[u.Identifier] = true
	}
	return nil
}

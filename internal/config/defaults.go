package config

import (
	"os"
	"path/filepath"
	"runtime"
)

func (c *Config) applyDefaults() {
	if c.Registry.Tag == "" {
		c.Registry.Tag = "master"
	}
	if c.Cache.Root == "" {
		c.Cache.Root = defaultCacheRoot()
	}
	if c.Build.TargetDir == "" {
		c.Build.TargetDir = "./target"
	}
	if c.Build.OutputDir == "" {
		c.Build.OutputDir = filepath.Join(c.Build.TargetDir, "output")
	}
	if c.Build.Workers <= 0 {
		c.Build.Workers = runtime.NumCPU()
	}
	if c.Placement.Manifest == "" {
		c.Placement.Manifest = filepath.Join(c.Build.TargetDir, "deps.yaml")
	}
	if c.Placement.ResolveDir == "" {
		c.Placement.ResolveDir = filepath.Join(c.Build.TargetDir, "deps")
	}
	for i := range c.Units {
		if c.Units[i].DiscoveredAt == "" {
			c.Units[i].DiscoveredAt = "configuration file"
		}
	}
}

func defaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kiln-cache"
	}
	return filepath.Join(home, ".kiln", "cache")
}

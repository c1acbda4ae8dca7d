// Package workspace manages the build target directory and its numbered
// stage subdirectories.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/internal/logfields"
)

// Manager handles target directory operations (both temporary and persistent)
type Manager struct {
	baseDir    string
	dir        string
	persistent bool // If true, use baseDir directly without timestamps
}

// NewManager creates a workspace manager with ephemeral timestamped
// directories, for tests and scratch builds.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// NewPersistentManager creates a workspace manager over a fixed target
// directory that survives Cleanup, which is what incremental builds need.
func NewPersistentManager(targetDir string) *Manager {
	return &Manager{
		baseDir:    targetDir,
		dir:        targetDir,
		persistent: true,
	}
}

// Create creates the workspace directory.
func (m *Manager) Create() error {
	if m.persistent {
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			return fmt.Errorf("failed to create target directory: %w", err)
		}
		slog.Debug("Using persistent target directory", logfields.Target(m.dir))
		return nil
	}

	timestamp := time.Now().Format("20060102-150405")
	dir := filepath.Join(m.baseDir, fmt.Sprintf("kiln-%s", timestamp))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	m.dir = dir
	slog.Debug("Created workspace", logfields.Target(dir))
	return nil
}

// Path returns the workspace directory.
func (m *Manager) Path() string {
	return m.dir
}

// StageDir returns (and creates) the numbered directory of one pipeline
// stage, e.g. "1-pull".
func (m *Manager) StageDir(ordinal int, name string) (string, error) {
	if m.dir == "" {
		return "", fmt.Errorf("workspace not created")
	}
	dir := filepath.Join(m.dir, fmt.Sprintf("%d-%s", ordinal, name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create stage directory: %w", err)
	}
	return dir, nil
}

// Cleanup removes ephemeral workspaces; persistent target directories are
// kept for the next incremental run.
func (m *Manager) Cleanup() error {
	if m.dir == "" || m.persistent {
		return nil
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	m.dir = ""
	return nil
}

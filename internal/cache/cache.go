// Package cache provides the content-addressed artifact cache shared across
// pipeline stages. Entries are keyed by (stage cache name, tool version,
// content hash, relative artifact path) and laid out on disk as
//
//	<root>/<stage>/<toolVersion>/<contentHash>/<relativeArtifactPath>
//
// The layout is stable: existing caches written by other builds of the same
// tool version must remain readable bit for bit.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the root of the on-disk content cache. Reads are safe for
// unbounded concurrency; writes to the same key are serialized with a
// per-key mutex plus write-to-temp-then-rename semantics.
type Cache struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a cache rooted at the given directory. The directory is
// created lazily on first write.
func New(root string) *Cache {
	return &Cache{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Entry derives the cache endpoint for one artifact. stage is the short
// fixed token of the pipeline stage (e.g. "pulled", "linted") so artifacts
// never collide across stages.
func (c *Cache) Entry(stage, toolVersion, contentHash, rel string) *Entry {
	path := filepath.Join(c.root, stage, toolVersion, contentHash, rel)
	return &Entry{path: path, lock: c.keyLock(path)}
}

func (c *Cache) keyLock(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[path]
	if !ok {
		l = &sync.Mutex{}
		c.locks[path] = l
	}
	return l
}

// Entry is the read/write endpoint for a single derived cache key.
// Never deleted by the engine; eviction is an external housekeeping concern.
type Entry struct {
	path string
	lock *sync.Mutex
}

// Path returns the absolute path of the entry.
func (e *Entry) Path() string {
	return e.path
}

// Exists reports whether the entry is present.
func (e *Entry) Exists() bool {
	info, err := os.Stat(e.path)
	return err == nil && !info.IsDir()
}

// FresherThan reports whether the entry may stand in for the target. An
// absent target never outranks an existing entry; when both exist the entry
// must not be older than the target.
func (e *Entry) FresherThan(target string) bool {
	entryInfo, err := os.Stat(e.path)
	if err != nil {
		return false
	}
	targetInfo, err := os.Stat(target)
	if err != nil {
		return true
	}
	return !entryInfo.ModTime().Before(targetInfo.ModTime())
}

// Read returns the entry's payload.
func (e *Entry) Read() ([]byte, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return data, nil
}

// Write stores the payload under the entry's key. Concurrent writers of the
// same key are serialized, and the payload lands via a temp file and an
// atomic rename so readers never observe a partial entry.
func (e *Entry) Write(data []byte) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.path), 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".cache-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache temp file: %w", err)
	}
	return nil
}

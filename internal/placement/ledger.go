// Package placement merges files contributed by many dependency trees into
// one output tree, resolving cross-dependency collisions deterministically
// and keeping a persisted ledger of who placed what.
package placement

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Record is the bookkeeping entry for one placed target path.
type Record struct {
	TargetPath string `json:"target_path"`
	Dependency string `json:"dependency"`
	Size       int64  `json:"size"`

	// Unplaced marks a record whose backing dependency no longer supplies
	// the file. The placed file itself is not removed.
	Unplaced bool `json:"unplaced,omitempty"`
}

// Ledger maps target paths to placement records. It is an explicit relation
// from path to owning dependency; dependency trees never hold back-references
// into the output tree. At most one active record exists per target path.
type Ledger struct {
	path string

	mu      sync.Mutex
	records map[string]*Record
	deps    map[string]bool // dependencies fully processed at least once
}

// NewLedger creates a ledger persisted at path. Use an empty path for a
// purely in-memory ledger (tests).
func NewLedger(path string) *Ledger {
	return &Ledger{
		path:    path,
		records: make(map[string]*Record),
		deps:    make(map[string]bool),
	}
}

type ledgerFile struct {
	Records      []*Record `json:"records"`
	Dependencies []string  `json:"dependencies"`
}

// Load reads the persisted ledger. A missing file yields an empty ledger.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read placement ledger: %w", err)
	}
	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("unmarshal placement ledger: %w", err)
	}
	for _, r := range file.Records {
		l.records[r.TargetPath] = r
	}
	for _, d := range file.Dependencies {
		l.deps[d] = true
	}
	return nil
}

// Save writes the ledger atomically (temp file plus rename).
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	file := ledgerFile{}
	for _, r := range l.records {
		file.Records = append(file.Records, r)
	}
	for d := range l.deps {
		file.Dependencies = append(file.Dependencies, d)
	}
	sort.Slice(file.Records, func(i, j int) bool {
		return file.Records[i].TargetPath < file.Records[j].TargetPath
	})
	sort.Strings(file.Dependencies)

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal placement ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("write temporary ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Find returns a copy of the record for the target path.
func (l *Ledger) Find(target string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[target]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Put records an active placement, replacing any previous record for the
// same target path.
func (l *Ledger) Put(target, dependency string, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[target] = &Record{
		TargetPath: target,
		Dependency: dependency,
		Size:       size,
	}
}

// MarkUnplaced flags the record for a target whose backing dependency no
// longer supplies it. The placed file is left untouched.
func (l *Ledger) MarkUnplaced(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.records[target]; ok {
		r.Unplaced = true
	}
}

// FindDependency reports whether the dependency was fully processed before.
func (l *Ledger) FindDependency(dependency string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deps[dependency]
}

// PlaceDependency marks the dependency as fully processed.
func (l *Ledger) PlaceDependency(dependency string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deps[dependency] = true
}

// Size returns the number of records.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

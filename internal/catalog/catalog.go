// Package catalog tracks every compilation unit across pipeline stages: its
// identity, discovery provenance, resolved source, pinned content hash, and
// the set of stages that already produced output for it.
package catalog

import (
	"fmt"
	"iter"
	"sort"
	"sync"
)

// Entry is the per-unit record. Values handed out by the catalog are
// snapshots; all mutation goes through catalog operations so concurrent
// stages observe consistent state.
type Entry struct {
	// Identifier is the stable logical name of the unit (dotted path).
	Identifier string

	// DiscoveredAt records where and why the unit entered the catalog.
	// Informational, used only in error messages.
	DiscoveredAt string

	// SourcePath is set once the unit's source has been pulled or located.
	SourcePath string

	// ContentHash is the short hash of the unit's pinned revision. Set
	// together with SourcePath by the pull stage; read by every later stage
	// for cache-key derivation.
	ContentHash string

	// StageMarks holds the stage identifiers already completed.
	StageMarks map[string]bool
}

// Hashed reports whether the unit has advanced past the pull stage.
func (e Entry) Hashed() bool {
	return e.SourcePath != "" && e.ContentHash != ""
}

// Stages returns the completed stage names in sorted order.
func (e Entry) Stages() []string {
	out := make([]string, 0, len(e.StageMarks))
	for s := range e.StageMarks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e Entry) snapshot() Entry {
	marks := make(map[string]bool, len(e.StageMarks))
	for k, v := range e.StageMarks {
		marks[k] = v
	}
	e.StageMarks = marks
	return e
}

// Catalog is the in-memory unit registry. Insertion order is preserved so
// logging and build output stay deterministic across runs.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Register adds a unit to the catalog. Registering an existing identifier is
// a no-op: the first discovery provenance wins.
func (c *Catalog) Register(identifier, provenance string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[identifier]; ok {
		return
	}
	c.entries[identifier] = &Entry{
		Identifier:   identifier,
		DiscoveredAt: provenance,
		StageMarks:   make(map[string]bool),
	}
	c.order = append(c.order, identifier)
}

// Find returns a snapshot of the unit's entry.
func (c *Catalog) Find(identifier string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[identifier]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// WithSource records the unit's resolved source path.
func (c *Catalog) WithSource(identifier, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identifier]
	if !ok {
		return fmt.Errorf("unknown unit %q", identifier)
	}
	e.SourcePath = path
	return nil
}

// WithHash records the unit's pinned content hash.
func (c *Catalog) WithHash(identifier, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identifier]
	if !ok {
		return fmt.Errorf("unknown unit %q", identifier)
	}
	e.ContentHash = hash
	return nil
}

// WithSourceAndHash records the unit's resolved source path and pinned
// content hash in one step. The pull stage uses this so no reader ever
// observes one of the pair without the other.
func (c *Catalog) WithSourceAndHash(identifier, path, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identifier]
	if !ok {
		return fmt.Errorf("unknown unit %q", identifier)
	}
	e.SourcePath = path
	e.ContentHash = hash
	return nil
}

// MarkStage records that a pipeline stage completed for the unit.
func (c *Catalog) MarkStage(identifier, stage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identifier]
	if !ok {
		return fmt.Errorf("unknown unit %q", identifier)
	}
	e.StageMarks[stage] = true
	return nil
}

// ClearStages drops all stage marks for the unit, forcing a full rebuild of
// it on the next run. Source path and hash are kept.
func (c *Catalog) ClearStages(identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identifier]
	if !ok {
		return fmt.Errorf("unknown unit %q", identifier)
	}
	e.StageMarks = make(map[string]bool)
	return nil
}

// MissingStage yields snapshots of every unit lacking the given stage's
// mark, in registration order. The sequence is lazy and restartable.
func (c *Catalog) MissingStage(stage string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		c.mu.RLock()
		ids := make([]string, len(c.order))
		copy(ids, c.order)
		c.mu.RUnlock()
		for _, id := range ids {
			c.mu.RLock()
			e, ok := c.entries[id]
			var snap Entry
			var missing bool
			if ok {
				missing = !e.StageMarks[stage]
				if missing {
					snap = e.snapshot()
				}
			}
			c.mu.RUnlock()
			if ok && missing {
				if !yield(snap) {
					return
				}
			}
		}
	}
}

// All yields snapshots of every unit in registration order.
func (c *Catalog) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		c.mu.RLock()
		ids := make([]string, len(c.order))
		copy(ids, c.order)
		c.mu.RUnlock()
		for _, id := range ids {
			c.mu.RLock()
			e, ok := c.entries[id]
			var snap Entry
			if ok {
				snap = e.snapshot()
			}
			c.mu.RUnlock()
			if ok {
				if !yield(snap) {
					return
				}
			}
		}
	}
}

// Size returns the number of registered units.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

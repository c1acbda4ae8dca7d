// Package footprint implements the decision engine that guarantees a target
// artifact exists, chosen from generate/reuse/skip strategies. Strategies all
// satisfy the same single-method contract so they nest arbitrarily; the
// composed policies used by the pipeline stages live in policy.go.
package footprint

import (
	"fmt"
	"os"
	"path/filepath"

	kerr "github.com/kiln-build/kiln/internal/errors"
)

// Footprint ensures the target exists and returns the path of the resulting
// artifact. Implementations never invoke the generator speculatively; it runs
// only when a concrete strategy decides regeneration is required.
type Footprint interface {
	Apply(source, target string) (string, error)
}

// Generator produces artifact bytes from a source descriptor. It must be
// idempotent for a given source; the engine invokes it at most once per
// Apply call.
type Generator func(source string) ([]byte, error)

// CacheEntry is the read/write endpoint for the cache key derived by the
// caller. The footprint engine never derives keys itself.
type CacheEntry interface {
	Path() string
	Exists() bool
	FresherThan(target string) bool
	Read() ([]byte, error)
	Write(data []byte) error
}

// Generated always invokes the generator and writes the result to target.
type Generated struct {
	Gen Generator
}

func (g Generated) Apply(source, target string) (string, error) {
	payload, err := g.Gen(source)
	if err != nil {
		return "", kerr.GenerationFailed(err, fmt.Sprintf("generate %s", target)).
			WithContext("source", source).
			WithContext("target", target)
	}
	if err := writeFile(target, payload); err != nil {
		return "", err
	}
	return target, nil
}

// Ignore trusts an existing target as-is: no-op, target returned unchanged,
// modification time untouched.
type Ignore struct{}

func (Ignore) Apply(_, target string) (string, error) {
	return target, nil
}

// UpdateBoth runs the inner strategy, then mirrors the resulting target
// content into the cache entry. A cache-write failure is fatal for the
// operation: a partial entry under a claimed key would corrupt future reuse
// decisions.
type UpdateBoth struct {
	Inner Footprint
	Entry CacheEntry
}

func (u UpdateBoth) Apply(source, target string) (string, error) {
	result, err := u.Inner.Apply(source, target)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(result)
	if err != nil {
		return "", kerr.IOFailure(err, fmt.Sprintf("read %s for cache write-through", result))
	}
	if err := u.Entry.Write(data); err != nil {
		return "", kerr.IOFailure(err, fmt.Sprintf("write cache entry %s", u.Entry.Path()))
	}
	return result, nil
}

// UpdateFromCache copies the cache entry onto the target. Reaching this
// strategy with an absent entry violates the composed decision order and is
// reported as a cache miss rather than regenerated silently.
type UpdateFromCache struct {
	Entry CacheEntry
}

func (u UpdateFromCache) Apply(_, target string) (string, error) {
	if !u.Entry.Exists() {
		return "", kerr.CacheMiss(fmt.Sprintf("cache entry %s absent during restore", u.Entry.Path())).
			WithContext("target", target)
	}
	data, err := u.Entry.Read()
	if err != nil {
		return "", kerr.IOFailure(err, fmt.Sprintf("read cache entry %s", u.Entry.Path()))
	}
	if err := writeFile(target, data); err != nil {
		return "", err
	}
	return target, nil
}

// IfTargetExists branches on the existence of the target path.
type IfTargetExists struct {
	Then Footprint // target exists
	Else Footprint
}

func (f IfTargetExists) Apply(source, target string) (string, error) {
	if _, err := os.Stat(target); err == nil {
		return f.Then.Apply(source, target)
	}
	return f.Else.Apply(source, target)
}

// Condition decides a Fork branch from the source and target paths.
type Condition func(source, target string) (bool, error)

// Fork evaluates a condition to choose between two strategies.
type Fork struct {
	Cond Condition
	Then Footprint
	Else Footprint
}

// ForkBool builds a Fork over a fixed boolean, for flag-driven branches.
func ForkBool(flag bool, then, els Footprint) Fork {
	return Fork{
		Cond: func(string, string) (bool, error) { return flag, nil },
		Then: then,
		Else: els,
	}
}

func (f Fork) Apply(source, target string) (string, error) {
	ok, err := f.Cond(source, target)
	if err != nil {
		return "", err
	}
	if ok {
		return f.Then.Apply(source, target)
	}
	return f.Else.Apply(source, target)
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return kerr.IOFailure(err, fmt.Sprintf("create directory for %s", path))
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return kerr.IOFailure(err, fmt.Sprintf("write %s", path))
	}
	return nil
}

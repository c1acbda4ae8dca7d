package footprint

import (
	"github.com/kiln-build/kiln/internal/version"
)

// Outcome classifies which path a composed policy took for an artifact.
type Outcome string

const (
	OutcomeRegenerated Outcome = "regenerated"
	OutcomeReused      Outcome = "reused"
	OutcomeSkipped     Outcome = "skipped"
)

// Observer receives the outcome of a composed policy run. Used by the
// pipeline driver for the end-of-run summary; nil observers are allowed.
type Observer func(Outcome)

// noting wraps a strategy and reports an outcome after it succeeds.
type noting struct {
	inner   Footprint
	obs     Observer
	outcome Outcome
}

func (n noting) Apply(source, target string) (string, error) {
	result, err := n.inner.Apply(source, target)
	if err == nil && n.obs != nil {
		n.obs(n.outcome)
	}
	return result, err
}

// IfReleased wraps a cache-reading policy so that only released tool
// versions with a pinned content hash ever read from the cache. Unreleased
// versions run the fallback, which may still write through.
type IfReleased struct {
	Version  string
	Hash     string
	Released Footprint
	Fallback Footprint
}

func (f IfReleased) Apply(source, target string) (string, error) {
	if version.Released(f.Version) && f.Hash != "" {
		return f.Released.Apply(source, target)
	}
	return f.Fallback.Apply(source, target)
}

// CachedGenerate composes the decision tree used by the pull and verify
// stages:
//
//  1. forced refresh        -> generate, write-through to cache
//  2. target already exists -> ignore (mtime untouched)
//  3. fresh cache entry     -> restore from cache
//  4. otherwise             -> generate, write-through to cache
//
// For unreleased tool versions step 3 is skipped unconditionally, but the
// write-through in step 4 still happens so a later released build benefits.
func CachedGenerate(gen Generator, entry CacheEntry, toolVersion, hash string, force bool, obs Observer) Footprint {
	generated := Generated{Gen: gen}
	both := noting{
		inner:   UpdateBoth{Inner: generated, Entry: entry},
		obs:     obs,
		outcome: OutcomeRegenerated,
	}
	ignore := noting{inner: Ignore{}, obs: obs, outcome: OutcomeSkipped}
	restore := noting{
		inner:   UpdateFromCache{Entry: entry},
		obs:     obs,
		outcome: OutcomeReused,
	}
	cacheUsable := func(_, target string) (bool, error) {
		return entry.Exists() && entry.FresherThan(target), nil
	}
	return IfReleased{
		Version: toolVersion,
		Hash:    hash,
		Released: ForkBool(force,
			both,
			IfTargetExists{
				Then: ignore,
				Else: Fork{Cond: cacheUsable, Then: restore, Else: both},
			},
		),
		Fallback: ForkBool(force,
			both,
			IfTargetExists{Then: ignore, Else: both},
		),
	}
}

// Package remote resolves registry tags to commit hashes and fetches unit
// sources from the registry. The pipeline core treats both as black boxes;
// timeout and retry policy belong to the caller.
package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"
)

// HashResolver yields the commit hash the build is pinned to.
type HashResolver interface {
	Hash(ctx context.Context) (string, error)
}

// RemoteHash resolves a tag or branch name against a remote registry
// repository by listing its references, without cloning.
type RemoteHash struct {
	URL string
	Tag string
}

// Hash lists remote references and returns the commit hash of the
// configured tag (or branch of the same name).
func (r RemoteHash) Hash(ctx context.Context) (string, error) {
	remoteConfig := &config.RemoteConfig{
		Name: "origin",
		URLs: []string{r.URL},
	}
	remote := git.NewRemote(memory.NewStorage(), remoteConfig)

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list references of %s: %w", r.URL, err)
	}

	wanted := []string{"refs/tags/" + r.Tag, "refs/heads/" + r.Tag}
	for _, ref := range refs {
		name := ref.Name().String()
		for _, w := range wanted {
			if name == w {
				return ref.Hash().String(), nil
			}
		}
	}
	return "", fmt.Errorf("tag %q not found in %s", r.Tag, r.URL)
}

// FixedHash is a resolver pinned to a literal hash, for offline builds and
// tests.
type FixedHash string

func (f FixedHash) Hash(context.Context) (string, error) {
	return string(f), nil
}

// CachedHash resolves the inner resolver once and serves the result for the
// rest of the run.
type CachedHash struct {
	Inner HashResolver

	mu   sync.Mutex
	hash string
}

// NewCachedHash wraps a resolver with once-per-run memoization.
func NewCachedHash(inner HashResolver) *CachedHash {
	return &CachedHash{Inner: inner}
}

func (c *CachedHash) Hash(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hash != "" {
		return c.hash, nil
	}
	h, err := c.Inner.Hash(ctx)
	if err != nil {
		return "", err
	}
	c.hash = h
	return h, nil
}

// Narrow shortens a full commit hash to the 7-character form used in
// catalog entries and cache keys.
func Narrow(hash string) string {
	if len(hash) <= 7 {
		return strings.TrimSpace(hash)
	}
	return hash[:7]
}

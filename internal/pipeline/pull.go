package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/internal/catalog"
	"github.com/kiln-build/kiln/internal/footprint"
	"github.com/kiln-build/kiln/internal/logfields"
	"github.com/kiln-build/kiln/internal/remote"
)

// Pull materializes the source of every unit that has not been pulled yet.
// On success each unit carries both its resolved source path and its pinned
// content hash; neither is ever set without the other.
func (p *Pipeline) Pull(ctx context.Context) error {
	log := p.logger()
	if p.Offline {
		log.Info("No units were pulled because the build is offline")
		return nil
	}

	start := time.Now()
	stageDir, err := p.Workspace.StageDir(pullOrdinal, StagePull)
	if err != nil {
		return err
	}

	full, err := p.Hash.Hash(ctx)
	if err != nil {
		return fmt.Errorf("resolve registry hash: %w", err)
	}
	hash := remote.Narrow(full)

	pulled := p.forEach(ctx, StagePull, p.Catalog.MissingStage(StagePull), func(ctx context.Context, e catalog.Entry) error {
		path, err := p.pullUnit(ctx, e, stageDir, hash)
		if err != nil {
			return fmt.Errorf("failed to pull %q earlier discovered at %s: %w",
				e.Identifier, e.DiscoveredAt, err)
		}
		if err := p.Catalog.WithSourceAndHash(e.Identifier, path, hash); err != nil {
			return err
		}
		return p.Catalog.MarkStage(e.Identifier, StagePull)
	})

	p.recorder().ObserveStageDuration(StagePull, time.Since(start))
	if len(pulled) == 0 {
		log.Info("No units were pulled",
			logfields.Stage(StagePull),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	} else {
		log.Info("Units pulled",
			logfields.Stage(StagePull),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())),
			"count", len(pulled),
			"units", pulled)
	}
	return nil
}

// pullUnit ensures one unit's source exists, generating via the remote
// fetcher only on a cache miss or forced refresh.
func (p *Pipeline) pullUnit(ctx context.Context, e catalog.Entry, stageDir, hash string) (string, error) {
	rel := relPath(e.Identifier, SourceExt)
	target := filepath.Join(stageDir, filepath.FromSlash(rel))
	entry := p.Cache.Entry(CachePulled, p.ToolVersion, hash, rel)

	gen := func(string) ([]byte, error) {
		p.logger().Debug("Pulling unit from registry",
			logfields.Unit(e.Identifier),
			logfields.Hash(hash))
		return p.Fetcher.Fetch(ctx, e.Identifier)
	}
	fp := footprint.CachedGenerate(gen, entry, p.ToolVersion, hash, p.Force, p.observer(StagePull))
	return fp.Apply(e.Identifier, target)
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/internal/catalog"
	kerr "github.com/kiln-build/kiln/internal/errors"
	"github.com/kiln-build/kiln/internal/footprint"
	"github.com/kiln-build/kiln/internal/logfields"
)

// Verify runs every pulled unit through the transformer and gates the
// result on its diagnostics. The gate runs before the artifact is written,
// so a rejected artifact never reaches the target or the cache; anything
// restored from cache passed the gate when it was first produced.
func (p *Pipeline) Verify(ctx context.Context) error {
	log := p.logger()
	start := time.Now()
	stageDir, err := p.Workspace.StageDir(verifyOrdinal, StageVerify)
	if err != nil {
		return err
	}

	verified := p.forEach(ctx, StageVerify, p.Catalog.MissingStage(StageVerify), func(ctx context.Context, e catalog.Entry) error {
		if err := p.verifyUnit(ctx, e, stageDir); err != nil {
			return fmt.Errorf("failed to verify %q earlier discovered at %s: %w",
				e.Identifier, e.DiscoveredAt, err)
		}
		return p.Catalog.MarkStage(e.Identifier, StageVerify)
	})

	p.recorder().ObserveStageDuration(StageVerify, time.Since(start))
	if len(verified) == 0 {
		log.Info("No units were verified",
			logfields.Stage(StageVerify),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	} else {
		log.Info("Units verified",
			logfields.Stage(StageVerify),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())),
			"count", len(verified),
			"units", verified)
	}
	return nil
}

func (p *Pipeline) verifyUnit(ctx context.Context, e catalog.Entry, stageDir string) error {
	if !e.Hashed() {
		return kerr.StageGateFailed(
			fmt.Sprintf("unit %s has not been pulled", e.Identifier),
		).WithContext("unit", e.Identifier)
	}

	rel := relPath(e.Identifier, VerifiedExt)
	target := filepath.Join(stageDir, filepath.FromSlash(rel))
	entry := p.Cache.Entry(CacheVerify, p.ToolVersion, e.ContentHash, rel)

	// The gate runs inside the generator: a rejected payload aborts the
	// ensure call before anything lands in the target or the cache.
	gen := func(string) ([]byte, error) {
		source, err := os.ReadFile(e.SourcePath)
		if err != nil {
			return nil, kerr.IOFailure(err, fmt.Sprintf("read source of %s", e.Identifier))
		}
		out, diags, err := p.Transformer.Transform(ctx, source)
		if err != nil {
			return nil, kerr.GenerationFailed(err, fmt.Sprintf("transform %s", e.Identifier))
		}
		if err := p.Gate.Check(e.Identifier, diags); err != nil {
			return nil, err
		}
		return out, nil
	}

	fp := footprint.CachedGenerate(gen, entry, p.ToolVersion, e.ContentHash, p.Force, p.observer(StageVerify))
	_, err := fp.Apply(e.SourcePath, target)
	return err
}

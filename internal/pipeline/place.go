package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/internal/deps"
	"github.com/kiln-build/kiln/internal/logfields"
	"github.com/kiln-build/kiln/internal/placement"
)

// PlaceOptions configures one placement pass over the resolved dependency
// trees.
type PlaceOptions struct {
	// ManifestPath is the dependency manifest left by the external resolver.
	ManifestPath string

	// ResolveDir anchors the relative extracted-tree paths of the manifest.
	ResolveDir string

	OutputDir  string
	LedgerPath string

	Rewrite  bool
	Includes []string
	Excludes []string

	// Self is the coordinate of the artifact being built; its own transitive
	// occurrence is filtered out before placement.
	Self deps.Descriptor
}

// Place copies binary files from every resolved dependency tree into the
// output directory, first-writer-wins. A placement I/O failure aborts the
// pass; conflicts never do.
func (p *Pipeline) Place(ctx context.Context, opts PlaceOptions) error {
	log := p.logger()
	start := time.Now()

	list, err := deps.LoadManifest(opts.ManifestPath)
	if err != nil {
		return err
	}
	filtered := deps.Filter(list, opts.Self)
	if dropped := len(list) - len(filtered); dropped > 0 {
		log.Debug("Dependencies filtered out before placement",
			"dropped", dropped,
			"kept", len(filtered))
	}

	ledger := placement.NewLedger(opts.LedgerPath)
	if err := ledger.Load(); err != nil {
		return err
	}

	resolver := &placement.Resolver{
		OutputDir: opts.OutputDir,
		Ledger:    ledger,
		Rewrite:   opts.Rewrite,
		Includes:  opts.Includes,
		Excludes:  opts.Excludes,
		Observer: func(r placement.Result) {
			p.recorder().IncPlacement(string(r))
		},
		Logger: log,
	}

	var total placement.Counts
	for _, d := range filtered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Dir == "" {
			log.Debug("Dependency has no extracted tree, skipping",
				logfields.Dependency(d.Name()))
			continue
		}
		counts, err := resolver.PlaceTree(d.Name(), filepath.Join(opts.ResolveDir, filepath.FromSlash(d.Dir)))
		if err != nil {
			return fmt.Errorf("failed to place binaries of %s: %w", d.Name(), err)
		}
		total.Placed += counts.Placed
		total.Skipped += counts.Skipped
		total.Overwritten += counts.Overwritten
	}

	if err := ledger.Save(); err != nil {
		return err
	}

	log.Info("Binary placement finished",
		logfields.DurationMS(float64(time.Since(start).Milliseconds())),
		"dependencies", len(filtered),
		"placed", total.Placed,
		"overwritten", total.Overwritten,
		"skipped", total.Skipped)
	return nil
}

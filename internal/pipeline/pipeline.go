// Package pipeline drives catalog units through the build stages, asking the
// footprint engine to materialize each stage's artifact and recording
// results back into the catalog.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kiln-build/kiln/internal/cache"
	"github.com/kiln-build/kiln/internal/catalog"
	"github.com/kiln-build/kiln/internal/footprint"
	"github.com/kiln-build/kiln/internal/gate"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/remote"
	"github.com/kiln-build/kiln/internal/workspace"
)

// Stage names double as catalog stage marks.
const (
	StagePull   = "pull"
	StageVerify = "verify"
)

// Cache tokens per stage; distinct so artifacts never collide across stages.
const (
	CachePulled = "pulled"
	CacheVerify = "verify"
)

// Stage directory ordinals under the target directory.
const (
	pullOrdinal   = 1
	verifyOrdinal = 2
)

// Artifact extensions.
const (
	SourceExt   = ".src"
	VerifiedExt = ".ir"
)

// Transformer is the black-box verify/transform collaborator. It returns
// the transformed artifact together with severity-classified diagnostic
// counts; the pipeline gates stage success on those counts.
type Transformer interface {
	Transform(ctx context.Context, source []byte) ([]byte, gate.Diagnostics, error)
}

// Pipeline wires the stores and collaborators of one run. Constructed once
// per run and discarded at run end; persistence happens at run boundaries.
type Pipeline struct {
	Catalog     *catalog.Catalog
	Cache       *cache.Cache
	Workspace   *workspace.Manager
	Fetcher     remote.Fetcher
	Hash        remote.HashResolver
	Transformer Transformer
	Gate        gate.Gate
	Recorder    metrics.Recorder

	ToolVersion string
	Force       bool
	Offline     bool
	Workers     int

	Logger *slog.Logger

	runID string

	mu      sync.Mutex
	summary Summary
}

// UnitFailure records one unit's stage failure. Failures never abort sibling
// units; they are collected and reported together at run end.
type UnitFailure struct {
	Identifier string
	Stage      string
	Err        error
}

// Summary is the end-of-run accounting of artifact outcomes and failures.
type Summary struct {
	RunID       string
	Regenerated int
	Reused      int
	Skipped     int
	Failures    []UnitFailure
}

// Err returns the aggregated run error naming every failing unit, or nil.
func (s Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	names := make([]string, len(s.Failures))
	for i, f := range s.Failures {
		names[i] = fmt.Sprintf("%s (%s)", f.Identifier, f.Stage)
	}
	return fmt.Errorf("%d unit(s) failed: %s", len(s.Failures), strings.Join(names, ", "))
}

// RunID returns the identifier of the current run, assigning one lazily.
func (p *Pipeline) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID == "" {
		p.runID = uuid.NewString()
		p.summary.RunID = p.runID
	}
	return p.runID
}

// Summary returns a snapshot of the run accounting so far.
func (p *Pipeline) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.summary
	s.Failures = append([]UnitFailure(nil), p.summary.Failures...)
	return s
}

// observer feeds footprint outcomes into the summary and the recorder.
func (p *Pipeline) observer(stage string) footprint.Observer {
	return func(o footprint.Outcome) {
		p.mu.Lock()
		switch o {
		case footprint.OutcomeRegenerated:
			p.summary.Regenerated++
		case footprint.OutcomeReused:
			p.summary.Reused++
		case footprint.OutcomeSkipped:
			p.summary.Skipped++
		}
		p.mu.Unlock()
		p.recorder().IncArtifact(stage, metrics.ArtifactOutcome(o))
	}
}

func (p *Pipeline) fail(stage string, identifier string, err error) {
	p.mu.Lock()
	p.summary.Failures = append(p.summary.Failures, UnitFailure{
		Identifier: identifier,
		Stage:      stage,
		Err:        err,
	})
	p.mu.Unlock()
	p.recorder().IncUnitFailure(stage)
}

// forEach fans units out across the worker pool. Each unit is independent;
// a unit's failure is recorded without aborting its siblings. The returned
// slice names every unit that was attempted, in completion order.
func (p *Pipeline) forEach(ctx context.Context, stage string, units iter.Seq[catalog.Entry], fn func(context.Context, catalog.Entry) error) []string {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	p.recorder().SetWorkerCount(workers)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var processed []string

	for entry := range units {
		wg.Add(1)
		sem <- struct{}{}
		go func(e catalog.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, e); err != nil {
				p.fail(stage, e.Identifier, err)
				return
			}
			mu.Lock()
			processed = append(processed, e.Identifier)
			mu.Unlock()
		}(entry)
	}
	wg.Wait()
	return processed
}

// relPath maps a dotted unit identifier to its artifact path.
func relPath(identifier, ext string) string {
	return strings.ReplaceAll(identifier, ".", "/") + ext
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) recorder() metrics.Recorder {
	if p.Recorder != nil {
		return p.Recorder
	}
	return metrics.NoopRecorder{}
}

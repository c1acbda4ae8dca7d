package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiln-build/kiln/internal/cache"
	"github.com/kiln-build/kiln/internal/catalog"
	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/deps"
	"github.com/kiln-build/kiln/internal/gate"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/pipeline"
	"github.com/kiln-build/kiln/internal/remote"
	"github.com/kiln-build/kiln/internal/version"
	"github.com/kiln-build/kiln/internal/workspace"
)

var CLI struct {
	Config        string `short:"c" help:"Configuration file path" default:"kiln.yaml"`
	Verbose       bool   `short:"v" help:"Enable verbose logging"`
	MetricsListen string `help:"Address to serve Prometheus metrics on (e.g. :9090)"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Pull struct{} `cmd:"" help:"Pull unit sources from the registry"`

	Verify struct{} `cmd:"" help:"Verify pulled units and gate on diagnostics"`

	Place struct{} `cmd:"" help:"Place dependency binaries into the output directory"`

	Assemble struct{} `cmd:"" help:"Run all pipeline stages"`

	Status struct {
		Runs int `help:"Number of recent runs to show" default:"5"`
	} `cmd:"" help:"Show catalog state and recent runs"`

	Watch struct {
		Path     string        `short:"p" help:"Source directory to watch" default:"."`
		Debounce time.Duration `help:"Quiet period before rebuilding" default:"500ms"`
	} `cmd:"" help:"Watch sources and re-run the pipeline on changes"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch kctx.Command() {
	case "init":
		err = runInit(CLI.Config, CLI.Init.Force)
	case "pull":
		err = runStages(ctx, stagePull)
	case "verify":
		err = runStages(ctx, stagePull, stageVerify)
	case "place":
		err = runStages(ctx, stagePlace)
	case "assemble":
		err = runStages(ctx, stagePull, stageVerify, stagePlace)
	case "status":
		err = runStatus(ctx, CLI.Status.Runs)
	case "watch":
		err = runWatch(ctx, CLI.Watch.Path, CLI.Watch.Debounce)
	case "version":
		fmt.Printf("kiln %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	return config.Init(configPath, force)
}

// stageFn is one pipeline stage bound to its CLI name.
type stageFn struct {
	name string
	run  func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error
}

var (
	stagePull = stageFn{"pull", func(ctx context.Context, _ *config.Config, p *pipeline.Pipeline) error {
		return p.Pull(ctx)
	}}
	stageVerify = stageFn{"verify", func(ctx context.Context, _ *config.Config, p *pipeline.Pipeline) error {
		return p.Verify(ctx)
	}}
	stagePlace = stageFn{"place", func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
		return p.Place(ctx, pipeline.PlaceOptions{
			ManifestPath: cfg.Placement.Manifest,
			ResolveDir:   cfg.Placement.ResolveDir,
			OutputDir:    cfg.Build.OutputDir,
			LedgerPath:   filepath.Join(cfg.Build.TargetDir, "placed.json"),
			Rewrite:      cfg.Placement.Rewrite,
			Includes:     cfg.Placement.Includes,
			Excludes:     cfg.Placement.Excludes,
			Self: deps.Descriptor{
				Group:    cfg.Artifact.Group,
				Artifact: cfg.Artifact.Artifact,
			},
		})
	}}
)

// runStages executes one pipeline run: load the persisted catalog, run the
// requested stages in order, then persist the catalog and the run report.
func runStages(ctx context.Context, stages ...stageFn) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	store, err := catalog.NewSQLiteStore(catalogPath(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close catalog store", "error", err)
		}
	}()

	cat, err := store.Load(ctx)
	if err != nil {
		return err
	}
	for _, u := range cfg.Units {
		cat.Register(u.Identifier, u.DiscoveredAt)
	}

	p, err := buildPipeline(ctx, cfg, cat)
	if err != nil {
		return err
	}

	started := time.Now()
	slog.Info("Starting pipeline run",
		"run_id", p.RunID(),
		"units", cat.Size(),
		"workers", cfg.Build.Workers)

	var stageErr error
	for _, s := range stages {
		if stageErr = s.run(ctx, cfg, p); stageErr != nil {
			stageErr = fmt.Errorf("stage %s: %w", s.name, stageErr)
			break
		}
	}

	if err := store.Save(ctx, cat); err != nil {
		return err
	}
	summary := p.Summary()
	if err := store.SaveRun(ctx, runReport(summary, started)); err != nil {
		slog.Warn("Failed to persist run report", "error", err)
	}

	slog.Info("Pipeline run finished",
		"run_id", summary.RunID,
		"regenerated", summary.Regenerated,
		"reused", summary.Reused,
		"skipped", summary.Skipped,
		"failed", len(summary.Failures))

	if stageErr != nil {
		return stageErr
	}
	return summary.Err()
}

func runReport(s pipeline.Summary, started time.Time) catalog.RunReport {
	failures := make([]string, len(s.Failures))
	for i, f := range s.Failures {
		failures[i] = fmt.Sprintf("%s (%s): %v", f.Identifier, f.Stage, f.Err)
	}
	return catalog.RunReport{
		ID:          s.RunID,
		Started:     started,
		Finished:    time.Now(),
		Regenerated: s.Regenerated,
		Reused:      s.Reused,
		Skipped:     s.Skipped,
		Failed:      len(s.Failures),
		Failures:    failures,
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) (*pipeline.Pipeline, error) {
	ws := workspace.NewPersistentManager(cfg.Build.TargetDir)
	if err := ws.Create(); err != nil {
		return nil, err
	}

	resolver := hashResolver(cfg)
	var fetcher remote.Fetcher
	if cfg.Build.Offline {
		fetcher = remote.MapFetcher{}
	} else {
		full, err := resolver.Hash(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve registry hash: %w", err)
		}
		fetcher = remote.HTTPFetcher{
			Base: cfg.Registry.FetchBase,
			Hash: remote.Narrow(full),
			Ext:  pipeline.SourceExt,
		}
	}

	return &pipeline.Pipeline{
		Catalog:     cat,
		Cache:       cache.New(cfg.Cache.Root),
		Workspace:   ws,
		Fetcher:     fetcher,
		Hash:        resolver,
		Transformer: pipeline.PassThrough{},
		Gate: gate.Gate{
			FailOnWarning: cfg.Build.FailOnWarning,
		},
		Recorder:    newRecorder(),
		ToolVersion: cfg.ResolvedToolVersion(),
		Force:       cfg.Build.Force,
		Offline:     cfg.Build.Offline,
		Workers:     cfg.Build.Workers,
	}, nil
}

func hashResolver(cfg *config.Config) remote.HashResolver {
	if cfg.Registry.Hash != "" {
		return remote.FixedHash(cfg.Registry.Hash)
	}
	return remote.NewCachedHash(remote.RemoteHash{
		URL: cfg.Registry.URL,
		Tag: cfg.Registry.Tag,
	})
}

// newRecorder serves Prometheus metrics when a listen address is configured.
func newRecorder() metrics.Recorder {
	if CLI.MetricsListen == "" {
		return metrics.NoopRecorder{}
	}
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(CLI.MetricsListen, mux); err != nil {
			slog.Error("Metrics server stopped", "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", CLI.MetricsListen)
	return recorder
}

func runStatus(ctx context.Context, runLimit int) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	store, err := catalog.NewSQLiteStore(catalogPath(cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := store.Load(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Catalog: %d unit(s)\n", cat.Size())
	for e := range cat.All() {
		stages := strings.Join(e.Stages(), ", ")
		if stages == "" {
			stages = "none"
		}
		fmt.Printf("  %-40s hash=%-8s stages=%s\n", e.Identifier, orDash(e.ContentHash), stages)
	}

	reports, err := store.RecentRuns(ctx, runLimit)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		fmt.Printf("\nRecent runs:\n")
		for _, r := range reports {
			fmt.Printf("  %s  %s  regenerated=%d reused=%d skipped=%d failed=%d\n",
				r.Started.Format(time.RFC3339), r.ID,
				r.Regenerated, r.Reused, r.Skipped, r.Failed)
			for _, f := range r.Failures {
				fmt.Printf("    failure: %s\n", f)
			}
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// runWatch rebuilds on filesystem changes. A touched file whose path maps to
// a known unit identifier gets its stage marks cleared so the next run
// rebuilds it; unrelated files trigger a plain incremental run.
func runWatch(ctx context.Context, path string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, path); err != nil {
		return err
	}
	slog.Info("Watching for changes", "path", path, "debounce", debounce)

	var timer *time.Timer
	pending := make(map[string]bool)
	rebuild := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = true
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case rebuild <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		case <-rebuild:
			timer = nil
			touched := make([]string, 0, len(pending))
			for f := range pending {
				touched = append(touched, f)
			}
			pending = make(map[string]bool)
			if err := rebuildTouched(ctx, path, touched); err != nil {
				slog.Error("Rebuild failed", "error", err)
			}
		}
	}
}

func rebuildTouched(ctx context.Context, root string, touched []string) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	store, err := catalog.NewSQLiteStore(catalogPath(cfg))
	if err != nil {
		return err
	}
	cat, err := store.Load(ctx)
	if err != nil {
		store.Close()
		return err
	}
	cleared := 0
	for _, f := range touched {
		id, ok := unitForPath(root, f)
		if !ok {
			continue
		}
		if _, found := cat.Find(id); found {
			if err := cat.ClearStages(id); err == nil {
				cleared++
				slog.Info("Source changed, unit will be rebuilt", "unit", id, "file", f)
			}
		}
	}
	if cleared > 0 {
		if err := store.Save(ctx, cat); err != nil {
			store.Close()
			return err
		}
	}
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close catalog store", "error", err)
	}
	return runStages(ctx, stagePull, stageVerify, stagePlace)
}

// unitForPath maps a touched file back to its dotted unit identifier.
func unitForPath(root, file string) (string, bool) {
	rel, err := filepath.Rel(root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	ext := filepath.Ext(rel)
	if ext == "" {
		return "", false
	}
	rel = strings.TrimSuffix(rel, ext)
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "."), true
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

func catalogPath(cfg *config.Config) string {
	if err := os.MkdirAll(cfg.Build.TargetDir, 0o750); err != nil {
		slog.Warn("Failed to create target directory", "error", err)
	}
	return filepath.Join(cfg.Build.TargetDir, "catalog.db")
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-build/kiln/internal/cache"
	"github.com/kiln-build/kiln/internal/catalog"
	kerr "github.com/kiln-build/kiln/internal/errors"
	"github.com/kiln-build/kiln/internal/gate"
	"github.com/kiln-build/kiln/internal/remote"
	"github.com/kiln-build/kiln/internal/workspace"
)

const testHash = "abcdef1234567890abcdef1234567890abcdef12"

// countingTransformer upcases the source and counts invocations.
type countingTransformer struct {
	calls atomic.Int32
	diags gate.Diagnostics
	err   error
}

func (c *countingTransformer) Transform(_ context.Context, source []byte) ([]byte, gate.Diagnostics, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, gate.Diagnostics{}, c.err
	}
	out := append([]byte("verified:"), source...)
	return out, c.diags, nil
}

type testEnv struct {
	pipeline  *Pipeline
	catalog   *catalog.Catalog
	cacheRoot string
	targetDir string
	transform *countingTransformer
}

func newTestEnv(t *testing.T, units ...string) *testEnv {
	t.Helper()
	cat := catalog.New()
	sources := remote.MapFetcher{}
	for _, u := range units {
		cat.Register(u, "test fixture")
		sources[u] = []byte("source of " + u)
	}

	targetDir := t.TempDir()
	ws := workspace.NewPersistentManager(targetDir)
	require.NoError(t, ws.Create())

	cacheRoot := t.TempDir()
	transform := &countingTransformer{}

	return &testEnv{
		pipeline: &Pipeline{
			Catalog:     cat,
			Cache:       cache.New(cacheRoot),
			Workspace:   ws,
			Fetcher:     sources,
			Hash:        remote.FixedHash(testHash),
			Transformer: transform,
			Gate:        gate.Gate{},
			ToolVersion: "1.2.3",
			Workers:     2,
		},
		catalog:   cat,
		cacheRoot: cacheRoot,
		targetDir: targetDir,
		transform: transform,
	}
}

func TestPullSetsSourceAndHashTogether(t *testing.T) {
	env := newTestEnv(t, "foo.x.main", "foo.y.lib")
	require.NoError(t, env.pipeline.Pull(context.Background()))

	for _, id := range []string{"foo.x.main", "foo.y.lib"} {
		e, ok := env.catalog.Find(id)
		require.True(t, ok)
		assert.True(t, e.Hashed(), "source and hash must be set together")
		assert.Equal(t, "abcdef1", e.ContentHash, "hash must be narrowed to 7 characters")
		assert.True(t, e.StageMarks[StagePull])

		data, err := os.ReadFile(e.SourcePath)
		require.NoError(t, err)
		assert.Equal(t, "source of "+id, string(data))
	}

	summary := env.pipeline.Summary()
	assert.Equal(t, 2, summary.Regenerated)
	assert.Empty(t, summary.Failures)
}

func TestPullStageDirectoryLayout(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	require.NoError(t, env.pipeline.Pull(context.Background()))

	e, _ := env.catalog.Find("foo.x.main")
	want := filepath.Join(env.targetDir, "1-pull", "foo", "x", "main.src")
	assert.Equal(t, want, e.SourcePath)
}

func TestPullWritesThroughToCache(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	require.NoError(t, env.pipeline.Pull(context.Background()))

	cached := filepath.Join(env.cacheRoot, "pulled", "1.2.3", "abcdef1", "foo", "x", "main.src")
	data, err := os.ReadFile(cached)
	require.NoError(t, err)
	assert.Equal(t, "source of foo.x.main", string(data))
}

func TestPullOfflineSkipsEverything(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.pipeline.Offline = true
	require.NoError(t, env.pipeline.Pull(context.Background()))

	e, _ := env.catalog.Find("foo.x.main")
	assert.False(t, e.Hashed())
	assert.False(t, e.StageMarks[StagePull])
}

func TestPullFailureIsolation(t *testing.T) {
	env := newTestEnv(t, "good.unit", "bad.unit")
	delete(env.pipeline.Fetcher.(remote.MapFetcher), "bad.unit")

	require.NoError(t, env.pipeline.Pull(context.Background()))

	good, _ := env.catalog.Find("good.unit")
	assert.True(t, good.StageMarks[StagePull], "sibling must not be aborted")

	bad, _ := env.catalog.Find("bad.unit")
	assert.False(t, bad.StageMarks[StagePull])

	summary := env.pipeline.Summary()
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "bad.unit", summary.Failures[0].Identifier)
	assert.Equal(t, StagePull, summary.Failures[0].Stage)
	assert.ErrorContains(t, summary.Failures[0].Err, "test fixture",
		"failure must name the discovery provenance")

	err := summary.Err()
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 unit(s) failed")
	assert.ErrorContains(t, err, "bad.unit (pull)")
}

func TestPullSecondRunIsIncremental(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	require.NoError(t, env.pipeline.Pull(context.Background()))
	require.NoError(t, env.pipeline.Pull(context.Background()))

	summary := env.pipeline.Summary()
	assert.Equal(t, 1, summary.Regenerated, "marked units must not be pulled again")
}

func TestVerifyTransformsAndMarks(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	e, _ := env.catalog.Find("foo.x.main")
	assert.True(t, e.StageMarks[StageVerify])
	assert.Equal(t, int32(1), env.transform.calls.Load())

	artifact := filepath.Join(env.targetDir, "2-verify", "foo", "x", "main.ir")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "verified:source of foo.x.main", string(data))
}

func TestVerifyRequiresPulledUnit(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	require.NoError(t, env.pipeline.Verify(context.Background()))

	summary := env.pipeline.Summary()
	require.Len(t, summary.Failures, 1)
	assert.True(t, kerr.IsStageGateFailed(summary.Failures[0].Err))
}

func TestVerifySkipsExistingArtifactWithUnchangedMtime(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	artifact := filepath.Join(env.targetDir, "2-verify", "foo", "x", "main.ir")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(artifact, old, old))
	before, err := os.Stat(artifact)
	require.NoError(t, err)

	// Clearing the stage mark forces the decision engine to look at the
	// artifact again; the existing target must be trusted as-is.
	require.NoError(t, env.catalog.ClearStages("foo.x.main"))
	require.NoError(t, env.pipeline.Verify(ctx))

	after, err := os.Stat(artifact)
	require.NoError(t, err)
	assert.True(t, after.ModTime().Equal(before.ModTime()), "skip must not touch the artifact")
	assert.Equal(t, int32(1), env.transform.calls.Load(), "transformer must not run again")
	assert.Equal(t, 1, env.pipeline.Summary().Skipped)
}

func TestVerifyRestoresFromCacheByteIdentical(t *testing.T) {
	first := newTestEnv(t, "foo.x.main")
	ctx := context.Background()
	require.NoError(t, first.pipeline.Pull(ctx))
	require.NoError(t, first.pipeline.Verify(ctx))
	original, err := os.ReadFile(filepath.Join(first.targetDir, "2-verify", "foo", "x", "main.ir"))
	require.NoError(t, err)

	// Second build shares the cache but starts from an empty target tree.
	second := newTestEnv(t, "foo.x.main")
	second.pipeline.Cache = cache.New(first.cacheRoot)
	require.NoError(t, second.pipeline.Pull(ctx))
	require.NoError(t, second.pipeline.Verify(ctx))

	assert.Equal(t, int32(0), second.transform.calls.Load(), "fresh cache must be restored, not regenerated")
	restored, err := os.ReadFile(filepath.Join(second.targetDir, "2-verify", "foo", "x", "main.ir"))
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	summary := second.pipeline.Summary()
	assert.Equal(t, 2, summary.Reused, "pull restored and verify restored")
}

func TestVerifyUnreleasedVersionIgnoresCache(t *testing.T) {
	first := newTestEnv(t, "foo.x.main")
	ctx := context.Background()
	require.NoError(t, first.pipeline.Pull(ctx))
	require.NoError(t, first.pipeline.Verify(ctx))

	second := newTestEnv(t, "foo.x.main")
	second.pipeline.Cache = cache.New(first.cacheRoot)
	second.pipeline.ToolVersion = "0.0.0"
	require.NoError(t, second.pipeline.Pull(ctx))
	require.NoError(t, second.pipeline.Verify(ctx))

	assert.Equal(t, int32(1), second.transform.calls.Load(),
		"unreleased tool versions must never read from the cache")
}

func TestVerifyGateFailsUnit(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.diags = gate.Diagnostics{Errors: 2}
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	e, _ := env.catalog.Find("foo.x.main")
	assert.False(t, e.StageMarks[StageVerify])

	summary := env.pipeline.Summary()
	require.Len(t, summary.Failures, 1)
	assert.True(t, kerr.IsStageGateFailed(summary.Failures[0].Err))
	assert.Equal(t, 1, summary.Regenerated, "only the pull artifact counts as regenerated")
}

func TestVerifyGateFailedArtifactIsNeverPersisted(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.diags = gate.Diagnostics{Critical: 1}
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	artifact := filepath.Join(env.targetDir, "2-verify", "foo", "x", "main.ir")
	_, err := os.Stat(artifact)
	assert.True(t, os.IsNotExist(err), "rejected artifact must not reach the target")

	cached := filepath.Join(env.cacheRoot, "verify", "1.2.3", "abcdef1", "foo", "x", "main.ir")
	_, err = os.Stat(cached)
	assert.True(t, os.IsNotExist(err), "rejected artifact must not reach the cache")
}

func TestVerifyGateFailureKeepsFailingOnRerun(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.diags = gate.Diagnostics{Errors: 1}
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	e, _ := env.catalog.Find("foo.x.main")
	assert.False(t, e.StageMarks[StageVerify], "gate-failed unit must not be marked verified on re-run")
	assert.Equal(t, int32(2), env.transform.calls.Load(), "every run must re-check the unit")

	summary := env.pipeline.Summary()
	require.Len(t, summary.Failures, 2)
	for _, f := range summary.Failures {
		assert.True(t, kerr.IsStageGateFailed(f.Err))
	}
}

func TestVerifyWarningsPassWithoutFailOnWarning(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.diags = gate.Diagnostics{Warnings: 3}
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	e, _ := env.catalog.Find("foo.x.main")
	assert.True(t, e.StageMarks[StageVerify])
	assert.Empty(t, env.pipeline.Summary().Failures)
}

func TestVerifyWarningsFailWithFailOnWarning(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.diags = gate.Diagnostics{Warnings: 1}
	env.pipeline.Gate = gate.Gate{FailOnWarning: true}
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	require.Len(t, env.pipeline.Summary().Failures, 1)
}

func TestVerifyTransformerErrorIsGenerationFailure(t *testing.T) {
	env := newTestEnv(t, "foo.x.main")
	env.transform.err = fmt.Errorf("parse error")
	ctx := context.Background()
	require.NoError(t, env.pipeline.Pull(ctx))
	require.NoError(t, env.pipeline.Verify(ctx))

	summary := env.pipeline.Summary()
	require.Len(t, summary.Failures, 1)
	assert.True(t, kerr.IsGenerationFailed(summary.Failures[0].Err))
}

func TestPlaceEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	resolveDir := t.TempDir()
	libDir := filepath.Join(resolveDir, "org.a", "lib-a")
	require.NoError(t, os.MkdirAll(libDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "a.bin"), []byte("binary"), 0o640))

	manifest := filepath.Join(resolveDir, "deps.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`dependencies:
  - group: org.a
    artifact: lib-a
    dir: org.a/lib-a
  - group: build.kiln
    artifact: kiln-runtime
    dir: build.kiln/kiln-runtime
  - group: org.t
    artifact: test-lib
    scope: test
    dir: org.t/test-lib
`), 0o640))

	outputDir := filepath.Join(env.targetDir, "output")
	ledgerPath := filepath.Join(env.targetDir, "placed.json")
	opts := PlaceOptions{
		ManifestPath: manifest,
		ResolveDir:   resolveDir,
		OutputDir:    outputDir,
		LedgerPath:   ledgerPath,
	}
	require.NoError(t, env.pipeline.Place(context.Background(), opts))

	data, err := os.ReadFile(filepath.Join(outputDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	_, err = os.Stat(ledgerPath)
	assert.NoError(t, err, "ledger must be persisted")

	// Filtered trees were never resolved on disk; reaching them would fail.
	require.NoError(t, env.pipeline.Place(context.Background(), opts))
}

func TestPlaceMissingManifestFails(t *testing.T) {
	env := newTestEnv(t)
	err := env.pipeline.Place(context.Background(), PlaceOptions{
		ManifestPath: filepath.Join(t.TempDir(), "absent.yaml"),
		OutputDir:    t.TempDir(),
	})
	assert.Error(t, err)
}

func TestSummaryRunIDIsStable(t *testing.T) {
	env := newTestEnv(t)
	id := env.pipeline.RunID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, env.pipeline.RunID())
	assert.Equal(t, id, env.pipeline.Summary().RunID)
}

func TestRelPath(t *testing.T) {
	assert.Equal(t, "foo/x/main.src", relPath("foo.x.main", SourceExt))
	assert.Equal(t, "single.ir", relPath("single", VerifiedExt))
}

// Package metrics defines observability hooks for pipeline runs.
package metrics

import "time"

// ArtifactOutcome enumerates how an artifact was materialized.
type ArtifactOutcome string

const (
	ArtifactRegenerated ArtifactOutcome = "regenerated"
	ArtifactReused      ArtifactOutcome = "reused"
	ArtifactSkipped     ArtifactOutcome = "skipped"
)

// Recorder defines observability hooks for stage and placement metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncArtifact(stage string, outcome ArtifactOutcome)
	IncUnitFailure(stage string)
	IncPlacement(result string) // result: placed|skipped|overwritten
	SetWorkerCount(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncArtifact(string, ArtifactOutcome)        {}
func (NoopRecorder) IncUnitFailure(string)                      {}
func (NoopRecorder) IncPlacement(string)                        {}
func (NoopRecorder) SetWorkerCount(int)                         {}

package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyUnit       = "unit"
	KeyStage      = "stage"
	KeyHash       = "hash"
	KeyTarget     = "target"
	KeySource     = "source"
	KeyDependency = "dependency"
	KeyDurationMS = "duration_ms"
	KeyRunID      = "run_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Unit(id string) slog.Attr        { return slog.String(KeyUnit, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Hash(h string) slog.Attr         { return slog.String(KeyHash, h) }
func Target(path string) slog.Attr    { return slog.String(KeyTarget, path) }
func Source(path string) slog.Attr    { return slog.String(KeySource, path) }
func Dependency(d string) slog.Attr   { return slog.String(KeyDependency, d) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// Package version carries the tool version and the released-version
// predicate used for cache-reuse decisions.
package version

import "strings"

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X github.com/kiln-build/kiln/internal/version.Version=v1.2.3".
var Version = "0.0.0"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Released reports whether v is an immutable, publicly tagged tool version.
// Development builds ("0.0.0", empty, or any pre-release suffix) are never
// trusted to read from the artifact cache: their logic is in flux and a
// cached artifact may not correspond to it. They still write through so a
// later released build can benefit.
func Released(v string) bool {
	if v == "" || v == "0.0.0" {
		return false
	}
	for _, suffix := range []string{"-SNAPSHOT", "-dev", "-rc", "-alpha", "-beta"} {
		if strings.Contains(v, suffix) {
			return false
		}
	}
	return true
}

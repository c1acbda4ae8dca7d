// Package deps filters the flat list of transitive dependencies before
// placement or compilation sees it.
package deps

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// The runtime dependency the engine always supplies itself; transitive
// copies of it are dropped.
const (
	RuntimeGroup    = "build.kiln"
	RuntimeArtifact = "kiln-runtime"
)

// Descriptor identifies one dependency and the scope it was resolved in.
// Ephemeral: consumed by the filter and the placement pass, never persisted.
type Descriptor struct {
	Group    string `yaml:"group"`
	Artifact string `yaml:"artifact"`
	Scope    string `yaml:"scope,omitempty"`

	// Dir is the extracted tree of the dependency, relative to the resolve
	// directory, as written by the external resolver.
	Dir string `yaml:"dir,omitempty"`
}

// Name returns the dependency's display coordinate.
func (d Descriptor) Name() string {
	return d.Group + ":" + d.Artifact
}

func (d Descriptor) sameCoordinate(other Descriptor) bool {
	return d.Group == other.Group && d.Artifact == other.Artifact
}

// Filter removes descriptors that must not reach placement or compilation:
// the runtime dependency the engine supplies itself, the current artifact's
// own identity, and test-scoped entries. Order-preserving and pure.
func Filter(list []Descriptor, self Descriptor) []Descriptor {
	runtime := Descriptor{Group: RuntimeGroup, Artifact: RuntimeArtifact}
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		if d.sameCoordinate(runtime) {
			continue
		}
		if d.sameCoordinate(self) {
			continue
		}
		if strings.Contains(d.Scope, "test") {
			continue
		}
		out = append(out, d)
	}
	return out
}

type manifest struct {
	Dependencies []Descriptor `yaml:"dependencies"`
}

// LoadManifest reads the dependency manifest the external resolver leaves
// next to the extracted trees.
func LoadManifest(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dependency manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal dependency manifest: %w", err)
	}
	return m.Dependencies, nil
}

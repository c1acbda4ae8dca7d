package config

import (
	"fmt"
	"os"
)

const starterConfig = `# kiln configuration
registry:
  url: https://github.com/kiln-build/registry
  tag: master
  fetch_base: https://registry.kiln.build/objects

cache:
  root: ${HOME}/.kiln/cache

build:
  target: ./target
  output: ./target/output
  fail_on_warning: false

placement:
  rewrite: false

artifact:
  group: org.example
  artifact: app

units:
  - identifier: foo.x.main
`

// Init writes a starter configuration file. Existing files are kept unless
// force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists (use force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o640); err != nil {
		return fmt.Errorf("write configuration file: %w", err)
	}
	return nil
}

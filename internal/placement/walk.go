package placement

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// Walk lists the files under root as slash-separated relative paths,
// filtered by include/exclude glob patterns. Patterns are matched with
// filepath.Match against the full relative path and against the base name,
// so "*.bin" matches nested files. Empty includes means include everything.
func Walk(root string, includes, excludes []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchAny(includes, rel, true) && !matchAny(excludes, rel, false) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// matchAny reports whether rel matches any pattern. emptyResult is returned
// for an empty pattern list.
func matchAny(patterns []string, rel string, emptyResult bool) bool {
	if len(patterns) == 0 {
		return emptyResult
	}
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, err := filepath.Match(p, rel); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

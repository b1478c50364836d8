package ingestion

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker lists corpus documents under a root directory, filtered by
// doublestar include and exclude patterns matched against slash-separated
// paths relative to the root.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker returns a Walker. With no includes every file matches.
func NewWalker(includes, excludes []string) (*Walker, error) {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("ingestion: invalid glob pattern %q", p)
		}
	}
	return &Walker{includes: includes, excludes: excludes}, nil
}

// Walk returns the absolute paths of matching regular files, sorted.
// Excluded directories are not descended into.
func (w *Walker) Walk(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ingestion: resolve %s: %w", root, err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.matchAny(w.excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if w.matchAny(w.includes, rel) && !w.matchAny(w.excludes, rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (w *Walker) matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

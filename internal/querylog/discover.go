package querylog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// Discover returns the regular files in backupDir matching pattern, sorted.
// Patterns use doublestar syntax relative to backupDir, e.g.
// "querylog-*{.json,.json.zst}". backupDir itself is never treated as a
// pattern.
func Discover(backupDir, pattern string) ([]string, error) {
	if _, err := doublestar.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("glob %q in %s: %w", pattern, backupDir, err)
	}
	// Flat patterns only look at the top level.
	nested := strings.ContainsRune(pattern, '/')

	var paths []string
	err := filepath.WalkDir(backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == backupDir {
			return nil
		}
		if d.IsDir() {
			if !nested {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(backupDir, path)
		if err != nil {
			return err
		}
		ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
		if err != nil || !ok {
			return err
		}

		// Follow symlinks the way a glob would.
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards in %s: %w", backupDir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

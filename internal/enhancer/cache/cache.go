// Package cache measures and prunes the tpai cache directory.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns match the scratch files tpai leaves behind.
var DefaultPatterns = []string{"**/*.tmp", "**/*.temp", "**/*.cache", "**/*.log"}

// Stats describes one clean. Sizes are in bytes.
type Stats struct {
	Dir         string   `json:"dir"`
	FilesBefore int      `json:"files_before"`
	SizeBefore  int64    `json:"size_before"`
	Cleaned     int      `json:"cleaned"`
	SizeAfter   int64    `json:"size_after"`
	Failed      []string `json:"failed,omitempty"`
}

// DefaultDir returns the platform cache location of Topaz Photo AI. The
// location is best effort; callers may override it in configuration.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(base, "Topaz Labs LLC", "Topaz Photo AI", "cache"), nil
	case "darwin":
		return filepath.Join(base, "com.topazlabs.TopazPhotoAI"), nil
	default:
		return filepath.Join(base, "Topaz Photo AI"), nil
	}
}

// ValidatePatterns rejects malformed glob patterns.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid cache pattern %q", p)
		}
	}
	return nil
}

// Measure counts regular files under dir and their total size. A missing
// directory measures as empty.
func Measure(dir string) (int, int64, error) {
	files := 0
	var size int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}

// Clean deletes regular files under dir matching any pattern. Files that
// cannot be removed are listed in Stats.Failed rather than aborting.
func Clean(dir string, patterns []string) (Stats, error) {
	st := Stats{Dir: dir}
	if err := ValidatePatterns(patterns); err != nil {
		return st, err
	}
	var err error
	st.FilesBefore, st.SizeBefore, err = Measure(dir)
	if err != nil {
		return st, err
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		return st, nil
	}

	fsys := os.DirFS(dir)
	seen := map[string]bool{}
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return st, err
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			if err := os.Remove(filepath.Join(dir, filepath.FromSlash(m))); err != nil {
				st.Failed = append(st.Failed, m)
				continue
			}
			st.Cleaned++
		}
	}

	_, st.SizeAfter, err = Measure(dir)
	return st, err
}

// Package outputs locates the file tpai produced for an input. The tool does
// not reliably name its outputs, so resolution falls back through
// progressively looser strategies.
package outputs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

type Method string

const (
	MethodExact          Method = "exact"
	MethodPattern        Method = "pattern"
	MethodNewestOfFormat Method = "newest-of-format"
	MethodNewestOfAny    Method = "newest-of-any"
)

// ImageExtensions are the extensions treated as image outputs.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".webp", ".bmp", ".dng", ".heic", ".gif"}

// Resolved names the located output. Ownership passes to the caller.
type Resolved struct {
	Path   string
	Method Method
}

// FormatExtensions returns the extensions tpai may use for format, preferred
// first.
func FormatExtensions(format string) []string {
	switch f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")); f {
	case "jpg", "jpeg":
		return []string{".jpg", ".jpeg"}
	case "tif", "tiff":
		return []string{".tif", ".tiff"}
	case "":
		return []string{".png"}
	default:
		return []string{"." + f}
	}
}

type entry struct {
	name    string
	modTime time.Time
}

// Resolve finds the output for inputPath inside outputDir. The first strategy
// to match wins; ties on modification time go to the first entry in
// directory order. The input file itself is never a candidate.
func Resolve(inputPath, outputDir, format string) (Resolved, error) {
	notFound := &tpai.OutputNotFoundError{InputPath: inputPath, OutputDir: outputDir, Format: format}
	files, err := listFiles(outputDir)
	if err != nil {
		return Resolved{}, notFound
	}
	if SameDir(filepath.Dir(inputPath), outputDir) {
		files = without(files, filepath.Base(inputPath))
	}

	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	exts := FormatExtensions(format)

	for _, ext := range exts {
		for _, f := range files {
			if f.name == stem+ext {
				return resolved(outputDir, f, MethodExact), nil
			}
		}
	}

	if f, ok := newest(files, func(name string) bool {
		return strings.HasPrefix(name, stem) && hasAnySuffix(name, exts)
	}); ok {
		return resolved(outputDir, f, MethodPattern), nil
	}

	if f, ok := newest(files, func(name string) bool {
		return hasAnySuffix(name, ImageExtensions)
	}); ok {
		return resolved(outputDir, f, MethodNewestOfFormat), nil
	}

	if f, ok := newest(files, func(string) bool { return true }); ok {
		return resolved(outputDir, f, MethodNewestOfAny), nil
	}
	return Resolved{}, notFound
}

// SameDir reports whether a and b name the same directory.
func SameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if absA == absB {
		return true
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

func without(files []entry, name string) []entry {
	out := files[:0:0]
	for _, f := range files {
		if f.name != name {
			out = append(out, f)
		}
	}
	return out
}

func resolved(dir string, f entry, m Method) Resolved {
	return Resolved{Path: filepath.Join(dir, f.name), Method: m}
}

// listFiles returns the regular files in dir in lexical order.
func listFiles(dir string) ([]entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{name: de.Name(), modTime: info.ModTime()})
	}
	return out, nil
}

func newest(files []entry, match func(string) bool) (entry, bool) {
	var best entry
	found := false
	for _, f := range files {
		if !match(f.name) {
			continue
		}
		if !found || f.modTime.After(best.modTime) {
			best = f
			found = true
		}
	}
	return best, found
}

func hasAnySuffix(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"strings"

	"github.com/danshapiro/topazbridge/internal/enhancer/cache"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// Diagnostics is the result of TestAndClean. Cache sizes are in bytes.
type Diagnostics struct {
	Success              bool     `json:"success"`
	Error                string   `json:"error_message,omitempty"`
	ExitCode             int      `json:"exit_code"`
	SupportsShowSettings bool     `json:"supports_show_settings"`
	CacheDir             string   `json:"cache_dir,omitempty"`
	CleanedFiles         int      `json:"cleaned_files"`
	CacheSizeBefore      int64    `json:"cache_size_before"`
	CacheSizeAfter       int64    `json:"cache_size_after"`
	Warnings             []string `json:"warnings,omitempty"`
}

// TestAndClean probes the executable with --help and, when cleanCache is
// set, removes cache files matching the configured patterns. Problems are
// reported on the result; only cancellation returns an error.
func (e *Enhancer) TestAndClean(ctx context.Context, cleanCache bool) (*Diagnostics, error) {
	d := &Diagnostics{ExitCode: -1}
	e.probe(ctx, d)
	if err := ctx.Err(); err != nil {
		return d, err
	}

	dir := strings.TrimSpace(e.Options.CacheDir)
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			d.Warnings = append(d.Warnings, "cache dir unavailable: "+err.Error())
			return d, nil
		}
	}
	d.CacheDir = dir

	if !cleanCache {
		_, size, err := cache.Measure(dir)
		if err != nil {
			d.Warnings = append(d.Warnings, "measure cache: "+err.Error())
		}
		d.CacheSizeBefore, d.CacheSizeAfter = size, size
		return d, nil
	}

	patterns := e.Options.CachePatterns
	if len(patterns) == 0 {
		patterns = cache.DefaultPatterns
	}
	st, err := cache.Clean(dir, patterns)
	d.CleanedFiles = st.Cleaned
	d.CacheSizeBefore = st.SizeBefore
	d.CacheSizeAfter = st.SizeAfter
	if err != nil {
		d.Warnings = append(d.Warnings, "clean cache: "+err.Error())
	}
	for _, f := range st.Failed {
		d.Warnings = append(d.Warnings, "could not remove "+f)
	}
	e.emit(LevelInfo, -1, PhaseCache, "cache cleaned", map[string]any{
		"dir":         dir,
		"cleaned":     st.Cleaned,
		"size_before": st.SizeBefore,
		"size_after":  st.SizeAfter,
	})
	return d, nil
}

func (e *Enhancer) probe(ctx context.Context, d *Diagnostics) {
	res, err := e.Runner.Run(ctx, e.Options.Executable, []string{tpai.FlagHelp}, e.Options.ProbeTimeout)
	d.ExitCode = res.ReturnCode
	help := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	d.SupportsShowSettings = strings.Contains(help, strings.ToLower(tpai.FlagShowSettings))
	if err != nil {
		d.Error = err.Error()
		e.emit(LevelWarn, -1, PhaseProbe, err.Error(), map[string]any{"exit_code": res.ReturnCode})
		return
	}
	d.Success = true
	e.emit(LevelInfo, -1, PhaseProbe, "tpai responded", map[string]any{
		"exit_code":              res.ReturnCode,
		"supports_show_settings": d.SupportsShowSettings,
	})
}

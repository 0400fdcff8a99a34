// Package engine runs batches of images through tpai: it writes each image
// to a temp file, invokes the tool, recovers the output and the settings
// report, and cleans up after itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/topazbridge/internal/enhancer/command"
	"github.com/danshapiro/topazbridge/internal/enhancer/imagebridge"
	"github.com/danshapiro/topazbridge/internal/enhancer/outputs"
	"github.com/danshapiro/topazbridge/internal/enhancer/procrun"
	"github.com/danshapiro/topazbridge/internal/enhancer/report"
	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// Options configure an Enhancer. Zero values take the defaults from
// DefaultOptions.
type Options struct {
	Executable    string
	OutputDir     string
	WorkDir       string
	Format        string
	Compression   int
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	Retry         procrun.RetryPolicy
	KeepFiles     bool
	LogsRoot      string
	CacheDir      string
	CachePatterns []string
	Labels        settings.Labels
}

const defaultOutputSubdir = "upscaled"

func DefaultOptions() Options {
	work := filepath.Join(os.TempDir(), "topazbridge")
	return Options{
		OutputDir:    filepath.Join(work, defaultOutputSubdir),
		WorkDir:      work,
		Format:       "png",
		Compression:  2,
		Timeout:      procrun.DefaultTimeout,
		ProbeTimeout: procrun.DefaultProbeTimeout,
		Retry:        procrun.DefaultRetryPolicy(),
		Labels:       settings.DefaultLabels(),
	}
}

// Enhancer orchestrates tpai invocations. Batches run sequentially; an
// Enhancer must not run two batches at once.
type Enhancer struct {
	Options  Options
	Observer Observer
	Runner   *procrun.Runner
	RunID    string

	namer    *imagebridge.Namer
	warnings []string
}

// NewRunID returns a new time-ordered run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// New returns an Enhancer for opts. A nil observer discards events.
func New(opts Options, obs Observer) *Enhancer {
	if obs == nil {
		obs = Discard
	}
	def := DefaultOptions()
	if strings.TrimSpace(opts.WorkDir) == "" {
		opts.WorkDir = def.WorkDir
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		opts.OutputDir = filepath.Join(opts.WorkDir, defaultOutputSubdir)
	}
	if strings.TrimSpace(opts.Format) == "" {
		opts.Format = def.Format
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.Labels == nil {
		opts.Labels = def.Labels
	}
	runID := NewRunID()
	return &Enhancer{
		Options:  opts,
		Observer: obs,
		Runner:   &procrun.Runner{},
		RunID:    runID,
		namer:    &imagebridge.Namer{RunID: runID},
	}
}

// ItemResult describes one processed image.
type ItemResult struct {
	Index    int
	Input    string
	Output   outputs.Resolved
	Result   procrun.Result
	Attempts int
	Report   report.Report
	Image    image.Image
}

// BatchResult holds outputs in input order.
type BatchResult struct {
	RunID             string
	Images            []image.Image
	UserSettings      []string
	AutopilotSettings []string
	Items             []ItemResult
	Warnings          []string
}

// Process enhances images in order. The first failure aborts the batch and
// is returned as *ImageError; configuration and executable problems are
// reported before any process is spawned.
func (e *Enhancer) Process(ctx context.Context, images []image.Image, set settings.Set) (*BatchResult, error) {
	e.warnings = nil
	if err := e.preflight(set); err != nil {
		e.emit(LevelWarn, -1, PhasePreflight, err.Error(), nil)
		return nil, err
	}
	e.emit(LevelInfo, -1, PhasePreflight, "batch start", map[string]any{
		"images":     len(images),
		"executable": e.Options.Executable,
		"output_dir": e.Options.OutputDir,
	})

	out := &BatchResult{RunID: e.RunID}
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, &ImageError{Index: i, Phase: PhasePrepare, Err: err}
		}
		item, err := e.processOne(ctx, i, img, set)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, *item)
		out.Images = append(out.Images, item.Image)
		out.UserSettings = append(out.UserSettings, item.Report.UserText())
		out.AutopilotSettings = append(out.AutopilotSettings, item.Report.AutopilotText())
	}
	out.Warnings = append(out.Warnings, e.warnings...)
	e.emit(LevelInfo, -1, PhaseDone, "batch complete", map[string]any{"images": len(out.Images)})
	return out, nil
}

// Args builds the invocation for inputPath without running it.
func (e *Enhancer) Args(set settings.Set, inputPath string) (command.Invocation, error) {
	return command.Build(e.commandOptions(), set, inputPath)
}

func (e *Enhancer) preflight(set settings.Set) error {
	opts := e.commandOptions()
	if opts.Compression < tpai.MinCompression || opts.Compression > tpai.MaxCompression {
		return tpai.Configf("compression", "%d out of range [%d,%d]", opts.Compression, tpai.MinCompression, tpai.MaxCompression)
	}
	if outputs.SameDir(e.Options.WorkDir, e.Options.OutputDir) {
		return tpai.Configf("output_dir", "%s is also the work dir; temp inputs would be mistaken for outputs", e.Options.OutputDir)
	}
	if err := set.Validate(); err != nil {
		return err
	}
	return procrun.CheckExecutable(e.Options.Executable)
}

func (e *Enhancer) commandOptions() command.Options {
	return command.Options{
		Executable:  e.Options.Executable,
		OutputDir:   e.Options.OutputDir,
		Format:      e.Options.Format,
		Compression: e.Options.Compression,
	}
}

func (e *Enhancer) processOne(ctx context.Context, index int, img image.Image, set settings.Set) (*ItemResult, error) {
	var cleanup cleanupList
	defer func() {
		for _, msg := range cleanup.run() {
			e.warn(index, PhaseCleanup, msg)
		}
	}()

	if err := os.MkdirAll(e.Options.OutputDir, 0o755); err != nil {
		return nil, &ImageError{Index: index, Phase: PhasePrepare, Err: err}
	}
	inputPath := filepath.Join(e.Options.WorkDir, e.namer.Next(".png"))
	if err := imagebridge.WritePNG(inputPath, img); err != nil {
		return nil, &ImageError{Index: index, Phase: PhasePrepare, Err: err}
	}
	if !e.Options.KeepFiles {
		cleanup.add(inputPath)
	}

	inv, err := e.Args(set, inputPath)
	if err != nil {
		return nil, &ImageError{Index: index, Phase: PhasePrepare, Err: err}
	}

	rec := InvocationRecord{
		RunID:     e.RunID,
		Image:     index,
		StartedAt: time.Now().UTC(),
		Argv:      inv.Argv(),
		Command:   inv.String(),
	}
	if e.Options.LogsRoot != "" {
		rec.InputBLAKE3, _ = fileDigest(inputPath)
	}

	item := &ItemResult{Index: index, Input: inputPath}
	phase := PhaseRun
	runErr := procrun.Retry(ctx, e.Options.Retry, e.RunID+":"+strconv.Itoa(index), func(attempt int) error {
		item.Attempts = attempt
		phase = PhaseRun
		e.emit(LevelInfo, index, PhaseRun, "invoking tpai", map[string]any{
			"attempt": attempt,
			"command": inv.String(),
		})
		res, err := e.Runner.Run(ctx, inv.Executable, inv.Args, e.Options.Timeout)
		item.Result = res
		if err != nil {
			return err
		}
		phase = PhaseResolve
		resolved, err := outputs.Resolve(inputPath, e.Options.OutputDir, e.Options.Format)
		if err != nil {
			return err
		}
		item.Output = resolved
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		e.emit(LevelWarn, index, PhaseRetry, err.Error(), map[string]any{
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		})
	})

	rec.Attempts = item.Attempts
	rec.ExitCode = item.Result.ReturnCode
	rec.TimedOut = item.Result.TimedOut
	rec.DurationMS = item.Result.Duration.Milliseconds()

	if item.Output.Path != "" && !e.Options.KeepFiles && item.Output.Path != inputPath {
		cleanup.add(item.Output.Path)
	}

	if runErr != nil {
		annotateModelLoadFailure(runErr, set)
		rec.Error = runErr.Error()
		rec.FailureClass = failureClass(runErr)
		e.writeRecord(index, rec, item.Result)
		e.emit(LevelWarn, index, phase, runErr.Error(), map[string]any{
			"attempts":      item.Attempts,
			"failure_class": rec.FailureClass,
		})
		return nil, &ImageError{
			Index:    index,
			Phase:    phase,
			Attempts: item.Attempts,
			Stdout:   item.Result.Stdout,
			Stderr:   item.Result.Stderr,
			Err:      runErr,
		}
	}
	e.emit(LevelInfo, index, PhaseResolve, "output located", map[string]any{
		"path":   item.Output.Path,
		"method": string(item.Output.Method),
	})

	item.Report = report.Extract(item.Result.Stdout)
	if w := item.Report.Warning; w != nil {
		rec.ReportNote = w.Error()
		e.warn(index, PhaseReport, w.Error())
	}

	rec.Output = item.Output.Path
	rec.Method = string(item.Output.Method)
	if e.Options.LogsRoot != "" {
		rec.OutputBLAKE3, _ = fileDigest(item.Output.Path)
	}

	loaded, _, err := imagebridge.Read(item.Output.Path)
	if err != nil {
		rec.Error = err.Error()
		e.writeRecord(index, rec, item.Result)
		return nil, &ImageError{
			Index:    index,
			Phase:    PhaseLoad,
			Attempts: item.Attempts,
			Stdout:   item.Result.Stdout,
			Stderr:   item.Result.Stderr,
			Err:      err,
		}
	}
	item.Image = loaded
	e.writeRecord(index, rec, item.Result)
	e.emit(LevelInfo, index, PhaseDone, "image complete", map[string]any{
		"attempts": item.Attempts,
		"method":   string(item.Output.Method),
	})
	return item, nil
}

func (e *Enhancer) writeRecord(index int, rec InvocationRecord, res procrun.Result) {
	if e.Options.LogsRoot == "" {
		return
	}
	dir := recordDir(e.Options.LogsRoot, e.RunID, index)
	if err := writeRecord(dir, rec, res.Stdout, res.Stderr); err != nil {
		e.warn(index, PhaseDone, fmt.Sprintf("write invocation record: %v", err))
	}
}

func (e *Enhancer) emit(level string, index int, phase, msg string, fields map[string]any) {
	e.Observer.Observe(Event{
		Time:    time.Now().UTC(),
		RunID:   e.RunID,
		Level:   level,
		Image:   index,
		Phase:   phase,
		Message: msg,
		Fields:  fields,
	})
}

// warn records a non-fatal problem on the batch and reports it.
func (e *Enhancer) warn(index int, phase, msg string) {
	if index >= 0 {
		e.warnings = append(e.warnings, fmt.Sprintf("image %d: %s", index, msg))
	} else {
		e.warnings = append(e.warnings, msg)
	}
	e.emit(LevelWarn, index, phase, msg, nil)
}

func failureClass(err error) string {
	var pe *tpai.ProcessExecutionError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if tpai.IsRetryable(err) {
		return tpai.FailureClassTransientInfra
	}
	return tpai.FailureClassDeterministic
}

// annotateModelLoadFailure adds spelling suggestions when tpai could not
// load the requested upscale or sharpen model.
func annotateModelLoadFailure(err error, set settings.Set) {
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) || !tpai.ModelLoadFailed(pe.Stderr) {
		return
	}
	var hints []string
	if set.Upscale.IsEnabled() {
		hints = append(hints, "upscale model names to try: "+strings.Join(settings.UpscaleModelVariants(set.Upscale.Model), ", "))
	}
	if set.Sharpen.IsEnabled() {
		m := set.Sharpen.Model
		hints = append(hints, "sharpen model names to try: "+strings.Join([]string{command.SharpenModel(m), m, "Sharpen Standard V2"}, ", "))
	}
	if len(hints) == 0 {
		hints = append(hints, "check that the model is installed in Topaz Photo AI")
	}
	pe.Hint = strings.Join(hints, "; ")
}

// cleanupList removes files registered during one image, in reverse order.
type cleanupList struct {
	paths []string
}

func (c *cleanupList) add(path string) { c.paths = append(c.paths, path) }

// run removes every path and returns a message per failure.
func (c *cleanupList) run() []string {
	var failures []string
	for i := len(c.paths) - 1; i >= 0; i-- {
		if err := os.Remove(c.paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			failures = append(failures, fmt.Sprintf("remove %s: %v", c.paths[i], err))
		}
	}
	c.paths = nil
	return failures
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danshapiro/topazbridge/internal/enhancer/procrun"
	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// shimPreamble parses --output and the trailing input path and counts
// invocations in $COUNT_FILE.
const shimPreamble = `#!/usr/bin/env bash
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
in="${@: -1}"
echo "$in" >> "$COUNT_FILE"
n=$(wc -l < "$COUNT_FILE")
base="$(basename "${in%.*}")"
`

const shimSuccess = `cp "$in" "$out/$base.png"
echo "Processing $in"
echo "Final Settings for $in"
echo '{"upscale":{"model":"Standard v2"},"autoPilotSettings":{"faces":0}}'
echo "done"
`

type fixture struct {
	dir   string
	exe   string
	count string
}

func newFixture(t *testing.T, body string) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell shims require a POSIX shell")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "tpai")
	if err := os.WriteFile(exe, []byte(shimPreamble+body), 0o755); err != nil {
		t.Fatal(err)
	}
	count := filepath.Join(dir, "count")
	t.Setenv("COUNT_FILE", count)
	return fixture{dir: dir, exe: exe, count: count}
}

func (f fixture) options() Options {
	opts := DefaultOptions()
	opts.Executable = f.exe
	opts.WorkDir = filepath.Join(f.dir, "work")
	opts.OutputDir = filepath.Join(f.dir, "work", "upscaled")
	opts.Timeout = 10 * time.Second
	opts.Retry = procrun.RetryPolicy{MaxRetries: 2, Backoff: procrun.BackoffConfig{InitialDelayMS: 5, BackoffFactor: 1, MaxDelayMS: 5}}
	return opts
}

func (f fixture) invocations(t *testing.T) int {
	t.Helper()
	b, err := os.ReadFile(f.count)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(strings.Fields(string(b)))
}

func solid(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func upscaleOnly() settings.Set {
	up := settings.DefaultUpscale()
	sh := settings.DefaultSharpen()
	sh.Enabled = false
	return settings.Set{Upscale: &up, Sharpen: &sh}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

func TestProcess_BatchInOrderWithSettingsAndCleanup(t *testing.T) {
	f := newFixture(t, shimSuccess)
	rec := &recorder{}
	e := New(f.options(), rec)

	imgs := []image.Image{
		solid(3, 2, color.NRGBA{R: 255, A: 255}),
		solid(5, 4, color.NRGBA{G: 255, A: 255}),
	}
	res, err := e.Process(context.Background(), imgs, upscaleOnly())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Images) != 2 || len(res.UserSettings) != 2 || len(res.AutopilotSettings) != 2 {
		t.Fatalf("unexpected lengths: %d %d %d", len(res.Images), len(res.UserSettings), len(res.AutopilotSettings))
	}
	for i, img := range res.Images {
		if img.Bounds() != imgs[i].Bounds() {
			t.Fatalf("image %d bounds=%v want %v", i, img.Bounds(), imgs[i].Bounds())
		}
	}
	wantUser := "{\n  'upscale': {\n    'model': 'Standard v2'\n  }\n}"
	if res.UserSettings[0] != wantUser {
		t.Fatalf("user settings:\n%s\nwant:\n%s", res.UserSettings[0], wantUser)
	}
	if res.AutopilotSettings[1] != "{\n  'faces': 0\n}" {
		t.Fatalf("autopilot settings: %q", res.AutopilotSettings[1])
	}
	if res.Items[0].Output.Method != "exact" {
		t.Fatalf("method=%q want exact", res.Items[0].Output.Method)
	}
	if res.Items[0].Input == res.Items[1].Input {
		t.Fatalf("temp input names must be unique: %s", res.Items[0].Input)
	}
	if left := listFiles(t, filepath.Join(f.dir, "work")); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
	if f.invocations(t) != 2 {
		t.Fatalf("invocations=%d want 2", f.invocations(t))
	}

	sawIndexed := false
	for _, ev := range rec.events {
		if ev.Image == 1 && ev.Phase == PhaseRun {
			sawIndexed = true
			cmd, _ := ev.Fields["command"].(string)
			if !strings.Contains(cmd, "--override") || !strings.Contains(cmd, `"model=Standard v2"`) {
				t.Fatalf("command field=%q", cmd)
			}
			if strings.Contains(cmd, "--sharpen") {
				t.Fatalf("disabled sharpen emitted: %q", cmd)
			}
		}
	}
	if !sawIndexed {
		t.Fatalf("no run event for image 1")
	}
}

func TestProcess_FailFastWithIndexAndOutput(t *testing.T) {
	f := newFixture(t, `if [ "$n" -ge 2 ]; then echo "bad arg" >&2; echo "partial stdout"; exit 253; fi
`+shimSuccess)
	e := New(f.options(), nil)
	imgs := []image.Image{solid(2, 2, color.NRGBA{A: 255}), solid(2, 2, color.NRGBA{A: 255}), solid(2, 2, color.NRGBA{A: 255})}
	_, err := e.Process(context.Background(), imgs, upscaleOnly())

	var ie *ImageError
	if !errors.As(err, &ie) {
		t.Fatalf("expected ImageError, got %v", err)
	}
	if ie.Index != 1 || ie.Phase != PhaseRun {
		t.Fatalf("index=%d phase=%s", ie.Index, ie.Phase)
	}
	if strings.TrimSpace(ie.Stderr) != "bad arg" || strings.TrimSpace(ie.Stdout) != "partial stdout" {
		t.Fatalf("stdout=%q stderr=%q", ie.Stdout, ie.Stderr)
	}
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) || pe.ExitCode != tpai.ExitInvalidArgument {
		t.Fatalf("expected exit 253, got %v", err)
	}
	if f.invocations(t) != 2 {
		t.Fatalf("invocations=%d want 2 (no retry of 253, no third image)", f.invocations(t))
	}
	if left := listFiles(t, filepath.Join(f.dir, "work")); len(left) != 0 {
		t.Fatalf("temp files left behind after failure: %v", left)
	}
}

func TestProcess_OutputNotFoundRetriedOnce(t *testing.T) {
	f := newFixture(t, `echo "no file written"
`)
	e := New(f.options(), nil)
	_, err := e.Process(context.Background(), []image.Image{solid(2, 2, color.NRGBA{A: 255})}, upscaleOnly())
	var nf *tpai.OutputNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected OutputNotFoundError, got %v", err)
	}
	var ie *ImageError
	if !errors.As(err, &ie) || ie.Phase != PhaseResolve || ie.Attempts != 2 {
		t.Fatalf("unexpected image error: %+v", ie)
	}
	if f.invocations(t) != 2 {
		t.Fatalf("invocations=%d want 2", f.invocations(t))
	}
}

func TestProcess_ConfigErrorsBeforeSpawn(t *testing.T) {
	f := newFixture(t, shimSuccess)
	opts := f.options()
	opts.Compression = 11
	_, err := New(opts, nil).Process(context.Background(), []image.Image{solid(1, 1, color.NRGBA{A: 255})}, upscaleOnly())
	var ce *tpai.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	bad := upscaleOnly()
	bad.Upscale.Param1 = 3
	_, err = New(f.options(), nil).Process(context.Background(), []image.Image{solid(1, 1, color.NRGBA{A: 255})}, bad)
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError for settings, got %v", err)
	}

	opts = f.options()
	opts.Executable = filepath.Join(f.dir, "missing-tpai")
	_, err = New(opts, nil).Process(context.Background(), []image.Image{solid(1, 1, color.NRGBA{A: 255})}, upscaleOnly())
	var nf *tpai.ExecutableNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ExecutableNotFoundError, got %v", err)
	}
	if f.invocations(t) != 0 {
		t.Fatalf("tool was spawned %d times", f.invocations(t))
	}
}

func TestProcess_RejectsOutputDirEqualToWorkDir(t *testing.T) {
	f := newFixture(t, `echo "wrote nothing"
`)
	opts := f.options()
	opts.OutputDir = opts.WorkDir + string(filepath.Separator)
	_, err := New(opts, nil).Process(context.Background(), []image.Image{solid(2, 2, color.NRGBA{A: 255})}, upscaleOnly())
	var ce *tpai.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "output_dir" {
		t.Fatalf("expected output_dir ConfigurationError, got %v", err)
	}
	if f.invocations(t) != 0 {
		t.Fatalf("tool was spawned %d times", f.invocations(t))
	}
}

func TestProcess_ReportWarningIsNonFatal(t *testing.T) {
	f := newFixture(t, `cp "$in" "$out/$base.png"
echo "no settings printed"
`)
	res, err := New(f.options(), nil).Process(context.Background(), []image.Image{solid(2, 2, color.NRGBA{A: 255})}, upscaleOnly())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.UserSettings[0] != "{}" || res.AutopilotSettings[0] != "{}" {
		t.Fatalf("expected empty settings, got %q / %q", res.UserSettings[0], res.AutopilotSettings[0])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "marker not found") {
		t.Fatalf("warnings=%v", res.Warnings)
	}
}

func TestProcess_PatternFallbackWhenToolRenames(t *testing.T) {
	f := newFixture(t, `cp "$in" "$out/${base}_upscaled.png"
echo "Final Settings for $in"
echo '{"autoPilotSettings":{}}'
`)
	res, err := New(f.options(), nil).Process(context.Background(), []image.Image{solid(2, 2, color.NRGBA{A: 255})}, upscaleOnly())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Items[0].Output.Method != "pattern" {
		t.Fatalf("method=%q want pattern", res.Items[0].Output.Method)
	}
}

func TestProcess_WritesInvocationRecord(t *testing.T) {
	f := newFixture(t, shimSuccess)
	opts := f.options()
	opts.LogsRoot = filepath.Join(f.dir, "logs")
	e := New(opts, nil)
	if _, err := e.Process(context.Background(), []image.Image{solid(2, 2, color.NRGBA{A: 255})}, upscaleOnly()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	dir := recordDir(opts.LogsRoot, e.RunID, 0)
	b, err := os.ReadFile(filepath.Join(dir, "invocation.json"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var rec InvocationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Attempts != 1 || rec.ExitCode != 0 || rec.Method != "exact" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.InputBLAKE3) != 64 || rec.InputBLAKE3 != rec.OutputBLAKE3 {
		t.Fatalf("digests: in=%q out=%q (shim copies input)", rec.InputBLAKE3, rec.OutputBLAKE3)
	}
	if rec.Argv[0] != f.exe || rec.Argv[len(rec.Argv)-1] == "" {
		t.Fatalf("argv=%v", rec.Argv)
	}
	stdout, _ := os.ReadFile(filepath.Join(dir, "stdout.log"))
	if !strings.Contains(string(stdout), "Final Settings for") {
		t.Fatalf("stdout.log=%q", stdout)
	}
}

func TestProcess_ModelLoadFailureHint(t *testing.T) {
	f := newFixture(t, `echo "Error | AI Engine Load Exception: Could not load model" >&2
`)
	_, err := New(f.options(), nil).Process(context.Background(), []image.Image{solid(1, 1, color.NRGBA{A: 255})}, upscaleOnly())
	var pe *tpai.ProcessExecutionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessExecutionError, got %v", err)
	}
	if !strings.Contains(pe.Hint, "High fidelity v2") {
		t.Fatalf("hint=%q", pe.Hint)
	}
	if f.invocations(t) != 1 {
		t.Fatalf("model load failure retried: %d", f.invocations(t))
	}
}

func TestArgs_DryRun(t *testing.T) {
	e := New(Options{Executable: "/opt/tpai", OutputDir: "/out", Compression: 5}, nil)
	inv, err := e.Args(upscaleOnly(), "/in/a b.png")
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	if inv.Args[len(inv.Args)-1] != "/in/a b.png" || inv.Index("--compression") < 0 || inv.Args[inv.Index("--compression")+1] != strconv.Itoa(5) {
		t.Fatalf("args=%q", inv.Args)
	}
}

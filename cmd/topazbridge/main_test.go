package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
)

func TestRunExtract_PrintsBothSections(t *testing.T) {
	in := strings.NewReader("loading\nFinal Settings for /tmp/a.png\n{\"enhance\": {\"model\": \"Standard v2\"}, \"autoPilotSettings\": {\"faces\": 2}}\nbye\n")
	var out, errOut bytes.Buffer
	if code := runExtract(in, &out, &errOut); code != 0 {
		t.Fatalf("exit=%d stderr=%q", code, errOut.String())
	}
	want := "User settings:\n{\n  'enhance': {\n    'model': 'Standard v2'\n  }\n}\n\nAutopilot settings:\n{\n  'faces': 2\n}\n"
	if out.String() != want {
		t.Fatalf("stdout:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestRunExtract_WarnsWithoutReport(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := runExtract(strings.NewReader("nothing here"), &out, &errOut); code != 1 {
		t.Fatalf("exit=%d", code)
	}
	if !strings.Contains(out.String(), "User settings:\n{}") {
		t.Fatalf("stdout=%q", out.String())
	}
	if !strings.Contains(errOut.String(), "marker not found") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestOutputNames_SuffixesDuplicates(t *testing.T) {
	got := outputNames([]string{"/a/cat.jpg", "/b/cat.png", "dog.tif"})
	want := []string{"cat_tpai", "cat_tpai_2", "dog_tpai"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names=%v want %v", got, want)
		}
	}
}

func TestCommonFlags_Parse(t *testing.T) {
	args := []string{"--config", "run.yaml", "x.png", "--env-file", ".env"}
	var c commonFlags
	var rest []string
	for i := 0; i < len(args); i++ {
		if j, ok := c.parse(args, i); ok {
			i = j
			continue
		}
		rest = append(rest, args[i])
	}
	if c.configPath != "run.yaml" || c.envFile != ".env" || len(rest) != 1 || rest[0] != "x.png" {
		t.Fatalf("flags=%+v rest=%v", c, rest)
	}
}

func TestLoadConfig_WithoutFileUsesEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TPAI_FORMAT=tif\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(engine.EnvFormat, "")
	os.Unsetenv(engine.EnvFormat)
	cfg, err := loadConfig(commonFlags{envFile: envFile})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.TPAI.Format != "tif" {
		t.Fatalf("format=%q", cfg.TPAI.Format)
	}
}

func TestOpenEvents_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "events.ndjson")
	obs, closer, err := openEvents(p)
	if err != nil {
		t.Fatal(err)
	}
	obs.Observe(engine.Event{Phase: engine.PhaseProbe, Image: -1})
	_ = closer.Close()
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), `"phase":"probe"`) {
		t.Fatalf("events file=%q", b)
	}
}

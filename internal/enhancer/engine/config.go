package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/topazbridge/internal/enhancer/cache"
	"github.com/danshapiro/topazbridge/internal/enhancer/outputs"
	"github.com/danshapiro/topazbridge/internal/enhancer/procrun"
	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

type TPAIConfig struct {
	Executable     string                 `yaml:"executable,omitempty"`
	OutputDir      string                 `yaml:"output_dir,omitempty"`
	WorkDir        string                 `yaml:"work_dir,omitempty"`
	Format         string                 `yaml:"format,omitempty"`
	Compression    *int                   `yaml:"compression,omitempty"`
	TimeoutMS      int                    `yaml:"timeout_ms,omitempty"`
	ProbeTimeoutMS int                    `yaml:"probe_timeout_ms,omitempty"`
	MaxRetries     *int                   `yaml:"max_retries,omitempty"`
	KeepFiles      bool                   `yaml:"keep_files,omitempty"`
	Backoff        *procrun.BackoffConfig `yaml:"backoff,omitempty"`
}

type CacheConfig struct {
	Dir      string   `yaml:"dir,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`
}

// RunConfigFile is the on-disk configuration. JSON files are accepted since
// JSON is valid YAML.
type RunConfigFile struct {
	Version      int                        `yaml:"version"`
	TPAI         TPAIConfig                 `yaml:"tpai"`
	LogsRoot     string                     `yaml:"logs_root,omitempty"`
	Cache        CacheConfig                `yaml:"cache,omitempty"`
	ParamLabels  map[settings.Kind][]string `yaml:"param_labels,omitempty"`
	Capabilities yaml.Node                  `yaml:"capabilities,omitempty"`
}

// LoadRunConfigFile reads, defaults and validates a config file.
func LoadRunConfigFile(path string) (*RunConfigFile, error) {
	return LoadRunConfig(path, nil)
}

// LoadRunConfig reads path (if non-empty), applies env overrides, then
// defaults and validation.
func LoadRunConfig(path string, env map[string]string) (*RunConfigFile, error) {
	var cfg RunConfigFile
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg, env); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyConfigDefaults(cfg *RunConfigFile) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	t := &cfg.TPAI
	t.Executable = strings.TrimSpace(t.Executable)
	t.WorkDir = strings.TrimSpace(t.WorkDir)
	if t.WorkDir == "" {
		t.WorkDir = DefaultOptions().WorkDir
	}
	t.OutputDir = strings.TrimSpace(t.OutputDir)
	if t.OutputDir == "" {
		t.OutputDir = filepath.Join(t.WorkDir, defaultOutputSubdir)
	}
	t.Format = strings.ToLower(strings.TrimSpace(t.Format))
	if t.Format == "" {
		t.Format = "png"
	}
	if t.Compression == nil {
		v := 2
		t.Compression = &v
	}
	if t.TimeoutMS == 0 {
		t.TimeoutMS = int(procrun.DefaultTimeout / time.Millisecond)
	}
	if t.ProbeTimeoutMS == 0 {
		t.ProbeTimeoutMS = int(procrun.DefaultProbeTimeout / time.Millisecond)
	}
	if t.MaxRetries == nil {
		v := procrun.DefaultMaxRetries
		t.MaxRetries = &v
	}
	if t.Backoff == nil {
		b := procrun.DefaultBackoffConfig()
		t.Backoff = &b
	}
	cfg.LogsRoot = strings.TrimSpace(cfg.LogsRoot)
	cfg.Cache.Dir = strings.TrimSpace(cfg.Cache.Dir)
	cfg.Cache.Patterns = trimNonEmpty(cfg.Cache.Patterns)
	if len(cfg.Cache.Patterns) == 0 {
		cfg.Cache.Patterns = append([]string(nil), cache.DefaultPatterns...)
	}
}

func validateConfig(cfg *RunConfigFile) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	t := cfg.TPAI
	if c := *t.Compression; c < tpai.MinCompression || c > tpai.MaxCompression {
		return tpai.Configf("tpai.compression", "%d out of range [%d,%d]", c, tpai.MinCompression, tpai.MaxCompression)
	}
	if outputs.SameDir(t.WorkDir, t.OutputDir) {
		return tpai.Configf("tpai.output_dir", "must differ from tpai.work_dir (%s)", t.WorkDir)
	}
	if t.TimeoutMS < 0 {
		return tpai.Configf("tpai.timeout_ms", "must be >= 0")
	}
	if t.ProbeTimeoutMS < 0 {
		return tpai.Configf("tpai.probe_timeout_ms", "must be >= 0")
	}
	if *t.MaxRetries < 0 {
		return tpai.Configf("tpai.max_retries", "must be >= 0")
	}
	if t.Backoff.InitialDelayMS < 0 || t.Backoff.MaxDelayMS < 0 {
		return tpai.Configf("tpai.backoff", "delays must be >= 0")
	}
	if err := cache.ValidatePatterns(cfg.Cache.Patterns); err != nil {
		return tpai.Configf("cache.patterns", "%v", err)
	}
	for k := range cfg.ParamLabels {
		switch k {
		case settings.KindUpscale, settings.KindSharpen, settings.KindFace, settings.KindDenoise:
		default:
			return tpai.Configf("param_labels", "%q has no positional params", k)
		}
	}
	return nil
}

// Labels returns the default param labels merged with the configured ones.
func (cfg *RunConfigFile) Labels() settings.Labels {
	return settings.DefaultLabels().Merge(settings.Labels(cfg.ParamLabels))
}

// Options converts the config to Enhancer options.
func (cfg *RunConfigFile) Options() Options {
	t := cfg.TPAI
	return Options{
		Executable:   t.Executable,
		OutputDir:    t.OutputDir,
		WorkDir:      t.WorkDir,
		Format:       t.Format,
		Compression:  *t.Compression,
		Timeout:      time.Duration(t.TimeoutMS) * time.Millisecond,
		ProbeTimeout: time.Duration(t.ProbeTimeoutMS) * time.Millisecond,
		Retry: procrun.RetryPolicy{
			MaxRetries: *t.MaxRetries,
			Backoff:    t.Backoff.Sanitized(),
		},
		KeepFiles:     t.KeepFiles,
		LogsRoot:      cfg.LogsRoot,
		CacheDir:      cfg.Cache.Dir,
		CachePatterns: cfg.Cache.Patterns,
		Labels:        cfg.Labels(),
	}
}

// Settings decodes the capabilities section.
func (cfg *RunConfigFile) Settings() (settings.Set, error) {
	return DecodeCapabilities(&cfg.Capabilities, cfg.Labels())
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

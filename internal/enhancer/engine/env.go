package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-envparse"
)

// Environment variables that override the config file.
const (
	EnvExecutable  = "TPAI_EXE"
	EnvOutputDir   = "TPAI_OUTPUT_DIR"
	EnvWorkDir     = "TPAI_WORK_DIR"
	EnvFormat      = "TPAI_FORMAT"
	EnvCompression = "TPAI_COMPRESSION"
	EnvTimeoutMS   = "TPAI_TIMEOUT_MS"
	EnvMaxRetries  = "TPAI_MAX_RETRIES"
	EnvCacheDir    = "TPAI_CACHE_DIR"
	EnvLogsRoot    = "TPAI_LOGS_ROOT"
)

// LoadEnv merges an optional dotenv file with the process environment. The
// process environment wins.
func LoadEnv(dotenvPath string) (map[string]string, error) {
	env := map[string]string{}
	if strings.TrimSpace(dotenvPath) != "" {
		f, err := os.Open(dotenvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		parsed, err := envparse.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dotenvPath, err)
		}
		for k, v := range parsed {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnvOverrides copies recognised TPAI_* values onto cfg. Empty values
// are ignored.
func ApplyEnvOverrides(cfg *RunConfigFile, env map[string]string) error {
	get := func(k string) (string, bool) {
		v, ok := env[k]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	atoi := func(k string) (int, bool, error) {
		v, ok := get(k)
		if !ok {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", k, err)
		}
		return n, true, nil
	}

	if v, ok := get(EnvExecutable); ok {
		cfg.TPAI.Executable = v
	}
	if v, ok := get(EnvOutputDir); ok {
		cfg.TPAI.OutputDir = v
	}
	if v, ok := get(EnvWorkDir); ok {
		cfg.TPAI.WorkDir = v
	}
	if v, ok := get(EnvFormat); ok {
		cfg.TPAI.Format = v
	}
	if v, ok := get(EnvCacheDir); ok {
		cfg.Cache.Dir = v
	}
	if v, ok := get(EnvLogsRoot); ok {
		cfg.LogsRoot = v
	}
	if n, ok, err := atoi(EnvCompression); err != nil {
		return err
	} else if ok {
		cfg.TPAI.Compression = &n
	}
	if n, ok, err := atoi(EnvTimeoutMS); err != nil {
		return err
	} else if ok {
		cfg.TPAI.TimeoutMS = n
	}
	if n, ok, err := atoi(EnvMaxRetries); err != nil {
		return err
	} else if ok {
		cfg.TPAI.MaxRetries = &n
	}
	return nil
}

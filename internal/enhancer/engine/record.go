package engine

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// InvocationRecord is written per image under <logs_root>/<run_id>/<index>/
// when a logs root is configured.
type InvocationRecord struct {
	RunID        string    `json:"run_id"`
	Image        int       `json:"image"`
	StartedAt    time.Time `json:"started_at"`
	Argv         []string  `json:"argv"`
	Command      string    `json:"command"`
	Attempts     int       `json:"attempts"`
	ExitCode     int       `json:"exit_code"`
	TimedOut     bool      `json:"timed_out"`
	DurationMS   int64     `json:"duration_ms"`
	FailureClass string    `json:"failure_class,omitempty"`
	Error        string    `json:"error,omitempty"`
	Output       string    `json:"output,omitempty"`
	Method       string    `json:"discovery_method,omitempty"`
	InputBLAKE3  string    `json:"input_blake3,omitempty"`
	OutputBLAKE3 string    `json:"output_blake3,omitempty"`
	ReportNote   string    `json:"report_warning,omitempty"`
}

// fileDigest returns the hex BLAKE3-256 digest of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func recordDir(logsRoot, runID string, index int) string {
	return filepath.Join(logsRoot, runID, strconv.Itoa(index))
}

// writeRecord persists rec plus the raw stdout/stderr of the last attempt.
func writeRecord(dir string, rec InvocationRecord, stdout, stderr string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "invocation.json"), b, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "stdout.log"), []byte(stdout), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "stderr.log"), []byte(stderr), 0o644)
}

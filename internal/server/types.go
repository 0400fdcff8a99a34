package server

import (
	"encoding/json"
	"time"
)

// ProcessRequest is the body of POST /v1/process and POST /v1/runs.
type ProcessRequest struct {
	// Images are base64 encoded PNG, JPEG, TIFF, BMP, GIF or WebP data.
	// Data URL prefixes are accepted.
	Images []string `json:"images"`

	// Capabilities uses the same shape as the config file's capabilities
	// section. Omit it to let autopilot decide everything.
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// ProcessResponse mirrors engine.BatchResult with PNG-encoded images.
type ProcessResponse struct {
	RunID             string   `json:"run_id"`
	Images            []string `json:"images"`
	UserSettings      []string `json:"user_settings"`
	AutopilotSettings []string `json:"autopilot_settings"`
	Warnings          []string `json:"warnings,omitempty"`
}

// RunStatus is returned by GET /v1/runs/{id}.
type RunStatus struct {
	RunID         string           `json:"run_id"`
	State         string           `json:"state"`
	Images        int              `json:"images"`
	CurrentImage  *int             `json:"current_image,omitempty"`
	LastPhase     string           `json:"last_phase,omitempty"`
	LastEventAt   *time.Time       `json:"last_event_at,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Result        *ProcessResponse `json:"result,omitempty"`
}

const (
	StateRunning  = "running"
	StateSuccess  = "success"
	StateFail     = "fail"
	StateCanceled = "canceled"
)

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Image   *int   `json:"image,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
	"github.com/danshapiro/topazbridge/internal/enhancer/imagebridge"
	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// maxRequestBytes bounds request bodies; images arrive base64 encoded.
const maxRequestBytes = 512 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"runs":       len(s.registry.List()),
		"executable": s.config.Engine.Executable,
	})
}

// handleProcess runs a batch synchronously and returns the results.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	images, set, ok := s.decodeProcessRequest(w, r)
	if !ok {
		return
	}
	e := s.newEnhancer(nil)

	s.tpai.Lock()
	res, err := e.Process(r.Context(), images, set)
	s.tpai.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp, err := encodeResult(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmitRun starts a batch in the background and returns its run id.
// Progress is available from /v1/runs/{id}/events.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	images, set, ok := s.decodeProcessRequest(w, r)
	if !ok {
		return
	}
	b := NewBroadcaster()
	e := s.newEnhancer(b)
	ctx, cancel := context.WithCancelCause(s.baseCtx)

	rs := &RunState{
		RunID:       e.RunID,
		Images:      len(images),
		Broadcaster: b,
		Cancel:      cancel,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(e.RunID, rs); err != nil {
		cancel(nil)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go func() {
		defer b.Close()
		defer cancel(nil)

		s.tpai.Lock()
		res, err := e.Process(ctx, images, set)
		s.tpai.Unlock()
		if err != nil {
			s.logger.Printf("run %s failed: %v", e.RunID, err)
			rs.SetResult(nil, err)
			return
		}
		resp, err := encodeResult(res)
		rs.SetResult(resp, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": e.RunID,
		"status": "accepted",
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rs.Status())
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	WriteSSE(w, r, rs)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	rs.Cancel(fmt.Errorf("canceled via HTTP API"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleTestAndClean(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CleanCache bool `json:"clean_cache"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}
	s.tpai.Lock()
	d, err := s.newEnhancer(nil).TestAndClean(r.Context(), req.CleanCache)
	s.tpai.Unlock()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*RunState, bool) {
	runID := mux.Vars(r)["id"]
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return nil, false
	}
	rs, ok := s.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return nil, false
	}
	return rs, true
}

func (s *Server) newEnhancer(obs engine.Observer) *engine.Enhancer {
	return engine.New(s.config.Engine, engine.Tee(s.config.Observer, obs))
}

func (s *Server) decodeProcessRequest(w http.ResponseWriter, r *http.Request) ([]image.Image, settings.Set, bool) {
	var req ProcessRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return nil, settings.Set{}, false
	}
	if len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "images is required")
		return nil, settings.Set{}, false
	}
	images := make([]image.Image, 0, len(req.Images))
	for i, raw := range req.Images {
		img, err := imagebridge.DecodeBase64(raw)
		if err != nil {
			idx := i
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid image", Details: err.Error(), Image: &idx})
			return nil, settings.Set{}, false
		}
		images = append(images, img)
	}

	var node yaml.Node
	if len(req.Capabilities) > 0 {
		// JSON is a subset of YAML, so the config decoder handles both.
		if err := yaml.Unmarshal(req.Capabilities, &node); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid capabilities: %v", err))
			return nil, settings.Set{}, false
		}
	}
	labels := s.config.Engine.Labels
	if labels == nil {
		labels = settings.DefaultLabels()
	}
	set, err := engine.DecodeCapabilities(&node, labels)
	if err != nil {
		writeEngineError(w, err)
		return nil, settings.Set{}, false
	}
	return images, set, true
}

func encodeResult(res *engine.BatchResult) (*ProcessResponse, error) {
	resp := &ProcessResponse{
		RunID:             res.RunID,
		Images:            make([]string, 0, len(res.Images)),
		UserSettings:      res.UserSettings,
		AutopilotSettings: res.AutopilotSettings,
		Warnings:          res.Warnings,
	}
	for i, img := range res.Images {
		enc, err := imagebridge.EncodeBase64PNG(img)
		if err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		resp.Images = append(resp.Images, enc)
	}
	return resp, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ce *tpai.ConfigurationError
		ne *tpai.ExecutableNotFoundError
		te *tpai.TimeoutError
	)
	switch {
	case errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.As(err, &ne):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var ie *engine.ImageError
	if errors.As(err, &ie) {
		idx := ie.Index
		resp.Image = &idx
		resp.Stdout = ie.Stdout
		resp.Stderr = ie.Stderr
	}
	var pe *tpai.ProcessExecutionError
	if errors.As(err, &pe) && pe.Hint != "" {
		resp.Details = pe.Hint
	}
	writeJSON(w, statusFor(err), resp)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Package server exposes the enhancer over HTTP for local callers.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/danshapiro/topazbridge/internal/enhancer/engine"
)

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. "127.0.0.1:8787"

	// Engine is the base configuration for every batch. Requests may only
	// supply images and capabilities.
	Engine engine.Options

	// Observer, when set, also receives every engine event.
	Observer engine.Observer
}

// Server is the HTTP facade over the enhancer.
type Server struct {
	config   Config
	registry *RunRegistry
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	logger   *log.Logger

	// tpai holds one GPU-bound batch at a time.
	tpai sync.Mutex
}

// New creates a new Server with the given config.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		registry: NewRunRegistry(),
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   log.New(os.Stderr, "[topazbridge-server] ", log.LstdFlags),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	v1.HandleFunc("/test-and-clean", s.handleTestAndClean).Methods(http.MethodPost)
	v1.HandleFunc("/runs", s.handleSubmitRun).Methods(http.MethodPost)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/events", s.handleRunEvents).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/cancel", s.handleCancelRun).Methods(http.MethodPost)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(r, cfg.Addr),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 0, // SSE and long batches
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	return s
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// csrfProtect rejects cross-origin POST requests. Browsers set Origin on
// cross-origin requests; CLI callers omit it.
func csrfProtect(next http.Handler, _ string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown cancels running batches and stops the HTTP server.
func (s *Server) Shutdown() {
	s.registry.CancelAll("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}

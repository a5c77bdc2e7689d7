// Copyright 2024-2026 Aiku AI

// Package adminapi serves the read-only admin HTTP API: health, metrics,
// the loaded rule table and correspondence lookups.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/anysync/pkg/correspondence"
	"github.com/aiku/anysync/pkg/platform"
	"github.com/aiku/anysync/pkg/rules"
)

const shutdownTimeout = 5 * time.Second

// Params configures a Server. Gatherer may be nil, which disables /metrics.
type Params struct {
	Store    correspondence.Store
	Rules    *rules.Table
	Handlers *platform.Registry
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

// Server is the admin API.
type Server struct {
	store    correspondence.Store
	rules    *rules.Table
	handlers *platform.Registry
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// New creates a Server.
func New(p Params) *Server {
	return &Server{
		store:    p.Store,
		rules:    p.Rules,
		handlers: p.Handlers,
		gatherer: p.Gatherer,
		log:      p.Log.With().Str("component", "adminapi").Logger(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.HandleFunc("/api/rules", s.HandleRules)
	mux.HandleFunc("/api/platforms", s.HandlePlatforms)
	mux.HandleFunc("/api/correspondence", s.HandleCorrespondence)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Starting admin API")
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HandleHealth is the handler for GET /healthz.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleRules is the handler for GET /api/rules. It returns the loaded
// table in its configuration shape.
func (s *Server) HandleRules(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	cfg := rules.Config{}
	if s.rules != nil {
		cfg = s.rules.Config()
	}
	s.writeJSON(w, cfg)
}

// PlatformInfo describes one registered handler.
type PlatformInfo struct {
	Name string `json:"name"`
	platform.Caps
}

// HandlePlatforms is the handler for GET /api/platforms.
func (s *Server) HandlePlatforms(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	out := []PlatformInfo{}
	if s.handlers != nil {
		for _, name := range s.handlers.Names() {
			h, _ := s.handlers.Get(name)
			out = append(out, PlatformInfo{Name: name, Caps: platform.Capabilities(h)})
		}
	}
	s.writeJSON(w, out)
}

// HandleCorrespondence is the handler for
// GET /api/correspondence?platform=...&message_id=...
// It returns every edge leaving the message.
func (s *Server) HandleCorrespondence(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	platformName := r.URL.Query().Get("platform")
	messageID := r.URL.Query().Get("message_id")
	if platformName == "" || messageID == "" {
		http.Error(w, "platform and message_id are required", http.StatusBadRequest)
		return
	}
	edges, err := s.store.LookupAll(r.Context(), platformName, messageID)
	if err != nil {
		s.log.Err(err).
			Str("platform", platformName).
			Str("message_id", messageID).
			Msg("Failed to look up correspondence")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if edges == nil {
		edges = []correspondence.Edge{}
	}
	s.writeJSON(w, edges)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

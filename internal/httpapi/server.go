// Package httpapi exposes the read-only status surface and the manual
// scrape trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wgwatch/internal/model"
	"wgwatch/internal/runner"
	"wgwatch/internal/storage"
)

const serviceVersion = "1.0.0"

// Server serves the status endpoints over the runner's state and the
// account store.
type Server struct {
	store  storage.Storage
	runner *runner.Runner
	log    *slog.Logger
}

// New creates a Server.
func New(store storage.Storage, r *runner.Runner, log *slog.Logger) *Server {
	return &Server{store: store, runner: r, log: log}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("GET /accounts/ready", s.handleAccountsReady)
	mux.HandleFunc("POST /scrape/trigger", s.handleTrigger)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"service": "wgwatch",
		"version": serviceVersion,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats": s.runner.Stats().Snapshot(),
		"config": map[string]any{
			"scrape_interval": s.runner.PollInterval().String(),
			"max_concurrent":  s.runner.MaxConcurrent(),
		},
	})
}

type accountView struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Website       string             `json:"website"`
	LastUpdatedAt *time.Time         `json:"last_updated_at"`
	Config        model.SearchConfig `json:"configuration"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context(), model.Website)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			ID:            a.ID,
			Email:         a.Email,
			Website:       a.Website,
			LastUpdatedAt: a.LastUpdatedAt,
			Config:        a.Config,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(views),
		"accounts": views,
	})
}

type readyView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	LastUpdatedAt *time.Time `json:"last_updated_at"`
}

func (s *Server) handleAccountsReady(w http.ResponseWriter, r *http.Request) {
	ready, err := s.runner.ReadyAccounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]readyView, 0, len(ready))
	for _, a := range ready {
		views = append(views, readyView{ID: a.ID, Email: a.Email, LastUpdatedAt: a.LastUpdatedAt})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(views),
		"accounts": views,
	})
}

// handleTrigger dispatches a batch for the currently ready accounts and
// returns the immediate count without waiting for completion.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ready, err := s.runner.ReadyAccounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	if len(ready) == 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "No accounts ready to scrape",
			"count":   0,
		})
		return
	}

	// Detach from the request context so the batch survives the response.
	ctx := context.WithoutCancel(r.Context())
	go s.runner.RunBatch(ctx, ready)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Triggered scraping for %d accounts", len(ready)),
		"count":   len(ready),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

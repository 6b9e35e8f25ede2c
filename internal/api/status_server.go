package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"jobsync/internal/domain"

	"github.com/rs/zerolog"
)

// Status is the agent state reported on /v1/status.
type Status struct {
	Online   bool   `json:"online"`
	Syncing  bool   `json:"syncing"`
	Pending  int    `json:"pending"`
	JobID    string `json:"jobId,omitempty"`
	NextStep string `json:"nextStep"`
}

// StatusServerDeps are the callbacks the status server reads from.
type StatusServerDeps struct {
	Status func(ctx context.Context) (Status, error)
	// Sync runs a manual pass and returns synced and failed counts.
	Sync func(ctx context.Context) (synced, failed int, err error)
	// Ready checks the storage backend.
	Ready func(ctx context.Context) error
}

// StatusServer exposes health and readiness probes plus a small control surface for
// the host shell.
type StatusServer struct {
	deps   StatusServerDeps
	server *http.Server
	logger *zerolog.Logger
}

func NewStatusServer(port int, deps StatusServerDeps, logger *zerolog.Logger) *StatusServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "status_server").Logger()
	s := &StatusServer{deps: deps, logger: &l}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/sync", s.handleSync)
	return mux
}

func (s *StatusServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("status server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("status server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("storage not ready")
			http.Error(w, "storage not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Status == nil {
		writeError(w, http.StatusNotImplemented, "status unavailable")
		return
	}
	st, err := s.deps.Status(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read status")
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *StatusServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Sync == nil {
		writeError(w, http.StatusNotImplemented, "sync unavailable")
		return
	}
	synced, failed, err := s.deps.Sync(r.Context())
	switch {
	case errors.Is(err, domain.ErrNoConnection):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("manual sync failed")
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"success": synced, "failed": failed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

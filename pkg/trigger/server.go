package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/systemstart/pushgate/pkg/api"
)

const (
	maxPayloadBytes   = 1 << 20
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// RunFinder looks up finished runs that are no longer held in memory.
type RunFinder interface {
	List() ([]api.Record, error)
	Find(id string) (api.Record, bool, error)
}

// Server exposes the listener over HTTP.
type Server struct {
	listener *Listener
	history  RunFinder
}

// NewServer creates a Server. history may be nil.
func NewServer(l *Listener, history RunFinder) *Server {
	return &Server{listener: l, history: history}
}

// pushPayload is the subset of a push webhook body that is reported on the run.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/hooks/push", s.handlePush)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Post("/runs/{id}/cancel", s.handleCancelRun)
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("listening for push events", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// POST /hooks/push
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var payload pushPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			http.Error(w, "invalid push payload", http.StatusBadRequest)
			return
		}
	}

	run, err := s.listener.OnEvent(r.Context(), api.NewPushEvent(payload.Ref, payload.After))
	switch {
	case errors.Is(err, ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case err != nil && run == nil:
		slog.Error("push rejected", "error", err)
		http.Error(w, "cannot start run: "+err.Error(), http.StatusInternalServerError)
		return
	case err != nil:
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, run.Snapshot())
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	records := s.listener.Runs()
	if s.history != nil {
		stored, err := s.history.List()
		if err != nil {
			slog.Warn("reading run history failed", "error", err)
		}
		records = mergeRecords(stored, records)
	}
	writeJSON(w, http.StatusOK, records)
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if run, ok := s.listener.Get(id); ok {
		writeJSON(w, http.StatusOK, run.Snapshot())
		return
	}

	if s.history != nil {
		rec, ok, err := s.history.Find(id)
		if err != nil {
			http.Error(w, "reading run history failed", http.StatusInternalServerError)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	http.Error(w, "run not found", http.StatusNotFound)
}

// POST /runs/{id}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.listener.Cancel(id); err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	run, _ := s.listener.Get(id)
	writeJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mergeRecords returns stored records not superseded by a live one, followed by live.
func mergeRecords(stored, live []api.Record) []api.Record {
	seen := make(map[string]bool, len(live))
	for _, rec := range live {
		seen[rec.ID] = true
	}
	out := make([]api.Record, 0, len(stored)+len(live))
	for _, rec := range stored {
		if !seen[rec.ID] {
			out = append(out, rec)
		}
	}
	return append(out, live...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

// Package server exposes the realtime service over HTTP: the websocket
// accept endpoint, the read-only state query, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stopbars/realtime/internal/config"
	"github.com/stopbars/realtime/internal/hub"
)

// Server is the HTTP front of the realtime service.
type Server struct {
	reg  *hub.Registry
	ping func(context.Context) error

	httpSrv *http.Server
}

// New wires the router. ping checks the backing store for /healthz and
// may be nil when no store health signal exists.
func New(cfg config.ServerConfig, reg *hub.Registry, ping func(context.Context) error) *Server {
	s := &Server{reg: reg, ping: ping}

	r := mux.NewRouter()
	r.HandleFunc("/connect", reg.HandleConnect).Methods(http.MethodGet)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. Open websockets are torn down by
// their own close paths when the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleState answers the read-only state query: one airport, or
// airport=all for every advertised hub.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	airport := r.URL.Query().Get("airport")
	if airport == "" {
		http.Error(w, "airport query parameter is required", http.StatusBadRequest)
		return
	}

	if airport == "all" {
		results, err := s.reg.SnapshotAll(r.Context())
		if err != nil {
			slog.Warn("snapshot-all failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		if results == nil {
			results = []hub.SnapshotResult{}
		}
		writeJSON(w, map[string]interface{}{"airports": results})
		return
	}

	offline := r.URL.Query().Get("offline") == "true"
	res, err := s.reg.Snapshot(r.Context(), airport, offline)
	if errors.Is(err, hub.ErrInvalidAirport) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Warn("snapshot failed", "airport", airport, "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

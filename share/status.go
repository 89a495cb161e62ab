package dbgpshare

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jpillora/requestlog"
	"github.com/tomasen/realip"
)

// StatusServer exposes a small read-only operational surface (SPEC_FULL.md
// §3.1): a liveness probe and a snapshot of registry/connection counters.
// It never returns the registered host/port, only the idekeys themselves.
type StatusServer struct {
	*HTTPServer
	registry    *Registry
	ideStats    *ConnStats
	engineStats *ConnStats
}

// NewStatusServer creates a StatusServer backed by registry and the given
// connection counters.
func NewStatusServer(logger Logger, registry *Registry, ideStats, engineStats *ConnStats) *StatusServer {
	return &StatusServer{
		HTTPServer:  NewHTTPServer(logger.Fork("status")),
		registry:    registry,
		ideStats:    ideStats,
		engineStats: engineStats,
	}
}

type varzDoc struct {
	RegisteredIdekeys     []string `json:"registered_idekeys"`
	RegistrationConnStats string   `json:"registration_connections"`
	EngineConnStats       string   `json:"engine_connections"`
	Version               string   `json:"version"`
}

func (s *StatusServer) handleVarz(w http.ResponseWriter, r *http.Request) {
	s.DLogf("varz request from %s", realip.FromRequest(r))
	doc := varzDoc{
		RegisteredIdekeys:     s.registry.Keys(),
		RegistrationConnStats: s.ideStats.String(),
		EngineConnStats:       s.engineStats.String(),
		Version:               BuildVersion,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe binds addr and serves /healthz and /varz until shut down.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/varz", s.handleVarz)

	var h http.Handler = mux
	if s.GetLogLevel() >= LogLevelDebug {
		h = requestlog.Wrap(h)
	}

	s.ILogf("status endpoint listening on %s...", addr)
	return s.HTTPServer.ListenAndServe(ctx, addr, h)
}

// Package httpapi wires the node's HTTP surface (spec.md §6):
// the agent-card directory, the JSON-RPC A2A endpoint, health, and
// Prometheus metrics. Grounded on the teacher's a2a/server.go Start
// method (mux.HandleFunc routing, CORS/logging middleware chain),
// generalized from path-prefix REST routes to the fixed route set
// spec.md §6 names.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aserver"
	"github.com/flockmesh/flock/pkg/metrics"
)

// HealthFunc reports the node's current health snapshot.
type HealthFunc func() HealthStatus

// HealthStatus is the payload returned by GET /health (spec.md §6).
type HealthStatus struct {
	Status             string   `json:"status"`
	NodeID             string   `json:"nodeId"`
	Agents             []string `json:"agents"`
	DiscoveryComplete  *bool    `json:"discoveryComplete,omitempty"`
}

// Config wires the HTTP API to a node's A2A server.
type Config struct {
	BasePath string // default "/flock"
	NodeID   string
	Server   *a2aserver.Server
	Health   HealthFunc
	Metrics  *metrics.Metrics // nil uses the default Prometheus registry
	Logger   *slog.Logger
}

// Mux builds the node's http.Handler (spec.md §6's four routes, all
// under a configurable base path).
func Mux(cfg Config) http.Handler {
	if cfg.BasePath == "" {
		cfg.BasePath = "/flock"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.BasePath+"/.well-known/agent-card.json", handleAgentCardDirectory(cfg.Server))
	mux.HandleFunc(cfg.BasePath+"/a2a/", handleA2A(cfg.BasePath, cfg.Server))
	mux.HandleFunc(cfg.BasePath+"/health", handleHealth(cfg.Health))
	if cfg.Metrics != nil {
		mux.Handle(cfg.BasePath+"/metrics", cfg.Metrics.Handler())
	} else {
		mux.Handle(cfg.BasePath+"/metrics", promhttp.Handler())
	}

	return loggingMiddleware(cfg.Logger, mux)
}

func handleAgentCardDirectory(srv *a2aserver.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cards := srv.ListAgentCards()
		writeJSON(w, http.StatusOK, map[string]any{"agents": cards})
	}
}

func handleA2A(basePath string, srv *a2aserver.Server) http.HandlerFunc {
	prefix := basePath + "/a2a/"
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentID := strings.TrimPrefix(r.URL.Path, prefix)
		if agentID == "" {
			writeJSON(w, http.StatusOK, a2a.NewErrorResponse(nil, a2a.CodeInvalidRequest, "agentId required in path"))
			return
		}

		var req a2a.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusOK, a2a.NewErrorResponse(nil, a2a.CodeInvalidRequest, "malformed JSON-RPC envelope"))
			return
		}

		resp := srv.HandleRequest(r.Context(), agentID, req)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleHealth(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, HealthStatus{Status: "ok"})
			return
		}
		writeJSON(w, http.StatusOK, health())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

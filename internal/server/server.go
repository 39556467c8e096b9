// Package server exposes the authorizer over HTTP: health probes, the
// Prometheus endpoint, and a small evaluation and introspection API.
package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pbac-engine/go-core/internal/metrics"
	"github.com/pbac-engine/go-core/internal/service"
	"github.com/pbac-engine/go-core/pkg/types"
)

// Server is the HTTP front of the authorization core
type Server struct {
	authz   *service.Authorizer
	metrics *metrics.Metrics
	logger  *zap.Logger
	ready   atomic.Bool
}

// New creates the HTTP server wrapper
func New(authz *service.Authorizer, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{authz: authz, metrics: m, logger: logger}
	s.ready.Store(true)
	return s
}

// SetReady flips the readiness probe; shutdown marks the server not
// ready before draining
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	api.HandleFunc("/check-batch", s.handleCheckBatch).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/roles", s.handleUserRoles).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/permissions", s.handleUserPermissions).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// checkRequest is the wire form of one evaluation request
type checkRequest struct {
	Subject *types.Subject           `json:"subject"`
	Request *types.PermissionRequest `json:"request"`
	Context *types.RequestContext    `json:"context,omitempty"`
}

// checkBatchRequest carries several requests for one subject
type checkBatchRequest struct {
	Subject  *types.Subject             `json:"subject"`
	Requests []*types.PermissionRequest `json:"requests"`
	Context  *types.RequestContext      `json:"context,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	start := time.Now()
	result, err := s.authz.CheckPermission(r.Context(), req.Subject, req.Request, req.Context)
	if err != nil {
		// The result is still the fail-closed decision; surface it
		// rather than a 5xx so callers get a definite answer.
		s.logger.Warn("evaluation fault",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req checkBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	results := s.authz.CheckMultiplePermissions(r.Context(), req.Subject, req.Requests, req.Context)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	roles, err := s.authz.GetUserRoles(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "role resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	policies, err := s.authz.GetUserPermissions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.authz.CacheStats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

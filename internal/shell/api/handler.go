// Package api exposes resolution over HTTP, so CI jobs and other services
// can resolve topologies without shelling out to the CLI.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/stacker/internal/core/interp"
	"github.com/artpar/stacker/internal/core/overlay"
	"github.com/artpar/stacker/internal/core/resolver"
	"github.com/artpar/stacker/internal/core/topology"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the resolver API.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{logger: l}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoint
	r.Get("/health", h.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/resolve", h.handleResolve)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error", "")
		return
	}

	if req.Base == "" {
		h.writeError(w, http.StatusBadRequest, "base is required", "validation_error", "")
		return
	}

	overlays := make([][]byte, 0, len(req.Overlays))
	for _, o := range req.Overlays {
		overlays = append(overlays, []byte(o))
	}

	result, err := resolver.Resolve(resolver.Input{
		Base:             []byte(req.Base),
		Overlays:         overlays,
		Variables:        req.Variables,
		AllowNewServices: req.AllowNewServices,
	})
	if err != nil {
		h.logger.Info("resolution failed", "error", err)
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), errorCode(err), errorPath(err))
		return
	}

	rendered, err := resolver.RenderYAML(result.Document)
	if err != nil {
		h.logger.Error("failed to render resolved document", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to render document", "internal_error", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ResolveResponse{
		Topology:      result.Topology,
		EffectiveYAML: string(rendered),
	})
}

// =============================================================================
// Error Mapping
// =============================================================================

// errorCode maps resolution errors to stable machine-readable codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, interp.ErrUnresolvedVariable):
		return "unresolved_variable"
	case errors.Is(err, overlay.ErrUnknownServiceOverride):
		return "unknown_service_override"
	case errors.Is(err, topology.ErrTopologyConflict):
		return "topology_conflict"
	case errors.Is(err, topology.ErrCircularDependency):
		return "circular_dependency"
	case errors.Is(err, topology.ErrUnsupportedFeature):
		return "unsupported_feature"
	case errors.Is(err, topology.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, overlay.ErrInvalidFragment), errors.Is(err, topology.ErrInvalidDocument):
		return "invalid_document"
	default:
		return "invalid_topology"
	}
}

// errorPath extracts the offending field path, if the error carries one.
func errorPath(err error) string {
	var substErr *interp.SubstitutionError
	if errors.As(err, &substErr) {
		return substErr.Path
	}
	var mergeErr *overlay.MergeError
	if errors.As(err, &mergeErr) {
		return mergeErr.Path
	}
	var fieldErr *topology.FieldError
	if errors.As(err, &fieldErr) {
		return fieldErr.Path
	}
	return ""
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code, path string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
		Path:  path,
	})
}

package api

import "github.com/artpar/stacker/internal/core/topology"

// =============================================================================
// Request Types
// =============================================================================

// ResolveRequest is the request body for resolving a topology.
type ResolveRequest struct {
	Base             string            `json:"base"`
	Overlays         []string          `json:"overlays,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
	AllowNewServices bool              `json:"allow_new_services,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// ResolveResponse is the response for a successful resolution.
type ResolveResponse struct {
	Topology      *topology.Topology `json:"topology"`
	EffectiveYAML string             `json:"effective_yaml"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Path  string `json:"path,omitempty"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// Package resolver composes the resolution pipeline: parse the base and
// overlay documents, merge, substitute variables, load, validate. Each
// resolution is an independent, idempotent computation - no I/O, no shared
// state across invocations.
package resolver

import (
	"fmt"

	"github.com/artpar/stacker/internal/core/interp"
	"github.com/artpar/stacker/internal/core/overlay"
	"github.com/artpar/stacker/internal/core/topology"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Input / Result
// =============================================================================

// Input holds everything a resolution needs. File reading and environment
// lookup happen in the shell; the resolver never touches the process
// environment.
type Input struct {
	// Base is the raw YAML of the base topology.
	Base []byte

	// Overlays are raw YAML overlay fragments, applied in order.
	Overlays [][]byte

	// Variables is the mapping ${VAR} references resolve against.
	Variables map[string]string

	// AllowNewServices permits overlays to introduce services absent from
	// the base.
	AllowNewServices bool
}

// Result is the outcome of a successful resolution.
type Result struct {
	// Topology is the merged, substituted, validated topology.
	Topology *topology.Topology

	// Document is the effective Compose-shaped document the Topology was
	// loaded from, suitable for rendering to an external orchestrator.
	Document map[string]any
}

// =============================================================================
// Resolution
// =============================================================================

// Resolve runs the full pipeline and returns the effective topology.
// Errors carry the offending field path and are detected before anything
// is handed to an orchestrator.
func Resolve(in Input) (*Result, error) {
	base, err := parseDocument(in.Base, "base")
	if err != nil {
		return nil, err
	}

	overlays := make([]map[string]any, 0, len(in.Overlays))
	for i, content := range in.Overlays {
		doc, err := parseDocument(content, fmt.Sprintf("overlay %d", i+1))
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, doc)
	}

	merged, err := overlay.Merge(base, overlays, overlay.Options{
		AllowNewServices: in.AllowNewServices,
	})
	if err != nil {
		return nil, err
	}

	if err := interp.SubstituteDocument(merged, in.Variables); err != nil {
		return nil, err
	}

	topo, err := topology.Load(merged)
	if err != nil {
		return nil, err
	}

	if err := topology.Validate(topo); err != nil {
		return nil, err
	}

	return &Result{Topology: topo, Document: merged}, nil
}

// parseDocument unmarshals one YAML document into a tree. Duplicate mapping
// keys are YAML errors and fail the resolution.
func parseDocument(content []byte, which string) (map[string]any, error) {
	if len(content) == 0 {
		if which == "base" {
			return nil, topology.ErrEmptyInput
		}
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, topology.NewFieldError(which, err.Error(), topology.ErrInvalidDocument)
	}
	if doc == nil {
		if which == "base" {
			return nil, topology.ErrEmptyInput
		}
		doc = map[string]any{}
	}
	return doc, nil
}

// =============================================================================
// Rendering
// =============================================================================

// RenderYAML encodes an effective document for consumption by an external
// orchestrator CLI.
func RenderYAML(doc map[string]any) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, topology.NewFieldError("", "cannot encode effective topology", topology.ErrInvalidDocument)
	}
	return out, nil
}

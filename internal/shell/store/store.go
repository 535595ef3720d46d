package store

import (
	"context"
	"time"
)

// =============================================================================
// Release
// =============================================================================

// Release records a single resolution: the input files and variables that
// went in, and the effective spec that came out. Keeping the rendered spec
// means an old release can be re-applied byte for byte, regardless of what
// the source files look like today.
type Release struct {
	ID            string            // UUID
	Project       string            // Project name the release belongs to
	Environment   string            // e.g., "test", "staging"
	Sources       []string          // Base and overlay file paths, in merge order
	Variables     map[string]string // Variable mapping used for substitution
	EffectiveSpec string            // Rendered YAML of the resolved topology
	CreatedAt     time.Time
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for releases.
type Store interface {
	CreateRelease(ctx context.Context, release *Release) error
	GetRelease(ctx context.Context, id string) (*Release, error)
	GetLatestRelease(ctx context.Context, project, environment string) (*Release, error)
	ListReleases(ctx context.Context, project string, opts ListOptions) ([]Release, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

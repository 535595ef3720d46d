// Package overlay contains pure functions for merging environment overlay
// fragments over a base Compose-shaped document. Merging happens on document
// trees, before variable substitution, so placeholder-bearing fields survive
// until the merged document is resolved as a whole.
package overlay

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnknownServiceOverride is returned when an overlay names a service
	// that is absent from the base document.
	ErrUnknownServiceOverride = errors.New("overlay references unknown service")

	// ErrInvalidFragment is returned when a document section does not have
	// the expected shape (e.g., services is not a mapping).
	ErrInvalidFragment = errors.New("invalid overlay fragment")
)

// MergeError wraps merge failures with the offending field path.
type MergeError struct {
	Path    string // e.g., "services.worker"
	Message string
	Err     error
}

func (e *MergeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Options
// =============================================================================

// Options controls merge behavior.
type Options struct {
	// AllowNewServices permits overlays to introduce services that are not
	// declared in the base document. Off by default: a typo in an overlay
	// service name should fail loudly rather than deploy a stray service.
	AllowNewServices bool
}

// =============================================================================
// Merge
// =============================================================================

// Merge merges overlay documents over a base document, in order, and returns
// the merged result. The inputs are never mutated.
//
// Per-service policy: scalar fields are replaced by the overlay value;
// environment and labels are unioned with overlay precedence per key; ports
// are unioned with exact duplicates dropped; depends_on is unioned per
// service name, normalizing to the long map form when either side uses it;
// volume mounts are unioned keyed by container target path.
func Merge(base map[string]any, overlays []map[string]any, opts Options) (map[string]any, error) {
	merged := deepCopyMap(base)

	for _, o := range overlays {
		if err := mergeDocument(merged, o, opts); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

func mergeDocument(base, over map[string]any, opts Options) error {
	for key, overVal := range over {
		switch key {
		case "services":
			if err := mergeServices(base, overVal, opts); err != nil {
				return err
			}
		case "volumes", "networks":
			if err := mergeNamedSet(base, key, overVal); err != nil {
				return err
			}
		default:
			// Top-level scalars (name, version) are replaced outright.
			base[key] = deepCopyValue(overVal)
		}
	}
	return nil
}

// mergeServices merges the overlay's services section into the base document.
func mergeServices(base map[string]any, overVal any, opts Options) error {
	overServices, ok := overVal.(map[string]any)
	if !ok {
		return &MergeError{Path: "services", Message: "services must be a mapping", Err: ErrInvalidFragment}
	}

	baseServices, ok := base["services"].(map[string]any)
	if !ok {
		if base["services"] != nil {
			return &MergeError{Path: "services", Message: "services must be a mapping", Err: ErrInvalidFragment}
		}
		baseServices = map[string]any{}
		base["services"] = baseServices
	}

	for name, overSvcVal := range overServices {
		path := "services." + name

		overSvc, ok := overSvcVal.(map[string]any)
		if !ok {
			return &MergeError{Path: path, Message: "service must be a mapping", Err: ErrInvalidFragment}
		}

		baseSvcVal, exists := baseServices[name]
		if !exists {
			if !opts.AllowNewServices {
				return &MergeError{
					Path:    path,
					Message: fmt.Sprintf("service %q is not declared in the base topology", name),
					Err:     ErrUnknownServiceOverride,
				}
			}
			baseServices[name] = deepCopyValue(overSvcVal)
			continue
		}

		baseSvc, ok := baseSvcVal.(map[string]any)
		if !ok {
			return &MergeError{Path: path, Message: "service must be a mapping", Err: ErrInvalidFragment}
		}
		if err := mergeService(baseSvc, overSvc, path); err != nil {
			return err
		}
	}

	return nil
}

// mergeService applies the per-field merge policy for a single service.
func mergeService(base, over map[string]any, path string) error {
	for field, overVal := range over {
		switch field {
		case "environment", "labels":
			merged, err := mergeMapping(base[field], overVal, path+"."+field)
			if err != nil {
				return err
			}
			base[field] = merged
		case "ports":
			base[field] = unionSequence(base[field], overVal)
		case "depends_on":
			merged, err := mergeDependsOn(base[field], overVal, path+"."+field)
			if err != nil {
				return err
			}
			base[field] = merged
		case "volumes":
			base[field] = unionVolumes(base[field], overVal)
		default:
			// Scalar and structured fields (image, command, entrypoint,
			// user, restart, deploy, build, ...) are replaced.
			base[field] = deepCopyValue(overVal)
		}
	}
	return nil
}

// mergeMapping unions two mapping fields with overlay precedence per key.
// Both the map form and the "KEY=VAL" list form are accepted and normalized
// to the map form.
func mergeMapping(baseVal, overVal any, path string) (map[string]any, error) {
	baseMap, err := normalizeMapping(baseVal, path)
	if err != nil {
		return nil, err
	}
	overMap, err := normalizeMapping(overVal, path)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(baseMap)+len(overMap))
	for k, v := range baseMap {
		merged[k] = deepCopyValue(v)
	}
	for k, v := range overMap {
		merged[k] = deepCopyValue(v)
	}
	return merged, nil
}

// normalizeMapping converts a mapping field to map form. List entries without
// a value ("KEY") map to nil, meaning the value is taken from the resolution
// environment later.
func normalizeMapping(v any, path string) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return val, nil
	case []any:
		m := make(map[string]any, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, &MergeError{
					Path:    fmt.Sprintf("%s[%d]", path, i),
					Message: "list entries must be strings",
					Err:     ErrInvalidFragment,
				}
			}
			if k, v, found := strings.Cut(s, "="); found {
				m[k] = v
			} else {
				m[s] = nil
			}
		}
		return m, nil
	default:
		return nil, &MergeError{Path: path, Message: "must be a mapping or a list", Err: ErrInvalidFragment}
	}
}

// mergeDependsOn unions depends_on entries. The short list form stays a list;
// when either side uses the long map form (service name -> condition), both
// sides are normalized to the map form and unioned with overlay precedence
// per service name, so a mixed-form merge never yields a corrupt list.
func mergeDependsOn(baseVal, overVal any, path string) (any, error) {
	_, baseIsMap := baseVal.(map[string]any)
	_, overIsMap := overVal.(map[string]any)

	if !baseIsMap && !overIsMap {
		if _, err := normalizeDependsOn(baseVal, path); err != nil {
			return nil, err
		}
		if _, err := normalizeDependsOn(overVal, path); err != nil {
			return nil, err
		}
		return unionSequence(baseVal, overVal), nil
	}

	baseMap, err := normalizeDependsOn(baseVal, path)
	if err != nil {
		return nil, err
	}
	overMap, err := normalizeDependsOn(overVal, path)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(baseMap)+len(overMap))
	for name, cond := range baseMap {
		merged[name] = deepCopyValue(cond)
	}
	for name, cond := range overMap {
		merged[name] = deepCopyValue(cond)
	}
	return merged, nil
}

// normalizeDependsOn converts a depends_on field to map form. List entries
// map to a nil condition, meaning the default (service started).
func normalizeDependsOn(v any, path string) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return val, nil
	case []any:
		m := make(map[string]any, len(val))
		for i, item := range val {
			name, ok := item.(string)
			if !ok {
				return nil, &MergeError{
					Path:    fmt.Sprintf("%s[%d]", path, i),
					Message: "list entries must be service names",
					Err:     ErrInvalidFragment,
				}
			}
			m[name] = nil
		}
		return m, nil
	default:
		return nil, &MergeError{Path: path, Message: "must be a list of service names or a mapping", Err: ErrInvalidFragment}
	}
}

// unionSequence unions two sequence fields, dropping exact duplicates while
// preserving base order first, overlay order second.
func unionSequence(baseVal, overVal any) []any {
	var out []any
	seen := make(map[string]bool)

	appendItems := func(v any) {
		items, ok := v.([]any)
		if !ok {
			if v != nil {
				out = append(out, deepCopyValue(v))
			}
			return
		}
		for _, item := range items {
			key := fmt.Sprintf("%v", item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, deepCopyValue(item))
		}
	}

	appendItems(baseVal)
	appendItems(overVal)
	return out
}

// unionVolumes unions volume mount sequences keyed by container target path,
// overlay winning per target. Mounts use the short "source:target[:mode]"
// string form or the long map form.
func unionVolumes(baseVal, overVal any) []any {
	var out []any
	index := make(map[string]int) // target path -> position in out

	appendMounts := func(v any) {
		items, ok := v.([]any)
		if !ok {
			return
		}
		for _, item := range items {
			target := mountTarget(item)
			if target == "" {
				out = append(out, deepCopyValue(item))
				continue
			}
			if pos, ok := index[target]; ok {
				out[pos] = deepCopyValue(item)
				continue
			}
			index[target] = len(out)
			out = append(out, deepCopyValue(item))
		}
	}

	appendMounts(baseVal)
	appendMounts(overVal)
	return out
}

// mountTarget extracts the container path a volume mount binds to.
func mountTarget(mount any) string {
	switch m := mount.(type) {
	case string:
		// source:target[:mode] - the target is the second segment.
		parts := strings.Split(m, ":")
		if len(parts) >= 2 {
			return parts[1]
		}
		return parts[0]
	case map[string]any:
		if t, ok := m["target"].(string); ok {
			return t
		}
	}
	return ""
}

// mergeNamedSet unions a top-level named set (volumes, networks) per key,
// with the overlay definition replacing the base definition wholesale.
func mergeNamedSet(base map[string]any, key string, overVal any) error {
	if overVal == nil {
		if _, ok := base[key]; !ok {
			base[key] = nil
		}
		return nil
	}

	overSet, ok := overVal.(map[string]any)
	if !ok {
		return &MergeError{Path: key, Message: key + " must be a mapping", Err: ErrInvalidFragment}
	}

	baseSet, ok := base[key].(map[string]any)
	if !ok {
		baseSet = map[string]any{}
		base[key] = baseSet
	}

	for name, def := range overSet {
		baseSet[name] = deepCopyValue(def)
	}
	return nil
}

// =============================================================================
// Deep Copy
// =============================================================================

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// Package interp contains pure functions for resolving ${VAR} placeholders
// against an explicit variable mapping. This is part of the Functional Core -
// all functions are pure, the process environment is never consulted directly.
package interp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnresolvedVariable is returned when a referenced variable is absent
	// from the mapping and no inline default is declared.
	ErrUnresolvedVariable = errors.New("unresolved variable")
)

// SubstitutionError wraps ErrUnresolvedVariable with the variable name and
// the field path of the offending value.
type SubstitutionError struct {
	Path     string // e.g., "services.db.environment.POSTGRES_DB"
	Variable string // variable name without the ${} wrapper
	Err      error
}

func (e *SubstitutionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: variable %q is not set", e.Path, e.Variable)
	}
	return fmt.Sprintf("variable %q is not set", e.Variable)
}

func (e *SubstitutionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Substitution
// =============================================================================

// placeholderRegex matches ${VAR_NAME} or ${VAR_NAME:-default}.
// Group 1 is the variable name, group 2 the inline default (may be empty).
// Bare $VAR without braces is not treated as a placeholder.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// Substitute replaces each ${NAME} token in s with its mapping value.
// The inline default form ${NAME:-default} resolves to the default when NAME
// is absent. A reference to an absent name with no default fails with
// ErrUnresolvedVariable.
//
// Substituting an already-resolved string is a no-op as long as the mapping
// values themselves contain no placeholder tokens.
func Substitute(s string, vars map[string]string) (string, error) {
	return substitute(s, vars, "")
}

func substitute(s string, vars map[string]string, path string) (string, error) {
	var substErr error
	out := placeholderRegex.ReplaceAllStringFunc(s, func(token string) string {
		groups := placeholderRegex.FindStringSubmatch(token)
		name := groups[1]
		if val, ok := vars[name]; ok {
			return val
		}
		if groups[2] != "" {
			// Strip the ":-" marker; everything after it is the default.
			return groups[2][2:]
		}
		if substErr == nil {
			substErr = &SubstitutionError{Path: path, Variable: name, Err: ErrUnresolvedVariable}
		}
		return token
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// =============================================================================
// Document Substitution
// =============================================================================

// SubstituteDocument walks a parsed YAML document tree and substitutes every
// string scalar in place. Map keys are visited in sorted order so the first
// error reported is deterministic.
func SubstituteDocument(doc map[string]any, vars map[string]string) error {
	_, err := substituteValue(doc, vars, "")
	return err
}

func substituteValue(v any, vars map[string]string, path string) (any, error) {
	switch val := v.(type) {
	case string:
		return substitute(val, vars, path)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			resolved, err := substituteValue(val[k], vars, childPath)
			if err != nil {
				return nil, err
			}
			val[k] = resolved
		}
		return val, nil
	case []any:
		for i, item := range val {
			resolved, err := substituteValue(item, vars, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			val[i] = resolved
		}
		return val, nil
	default:
		// Numbers, booleans, nils pass through untouched.
		return v, nil
	}
}

// =============================================================================
// Variable Extraction
// =============================================================================

// ExtractVariables returns the unique variable names referenced anywhere in s,
// without the ${} wrapper, in order of first appearance.
func ExtractVariables(s string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, match := range placeholderRegex.FindAllStringSubmatch(s, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}

	return vars
}

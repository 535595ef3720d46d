package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/artpar/stacker/internal/core/resolver"
	"github.com/artpar/stacker/internal/shell/envfile"
)

// =============================================================================
// Shared Flag Types
// =============================================================================

// fileList is a repeatable string flag.
type fileList []string

func (f *fileList) String() string {
	return strings.Join(*f, ",")
}

func (f *fileList) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// =============================================================================
// Resolution Helper
// =============================================================================

// resolveFiles runs the full pipeline over the given topology files. The first
// file is the base, the rest are overlays applied in order. Variables come from
// the env files and the process environment.
func resolveFiles(files, envFiles []string, allowNewServices bool) (*resolver.Result, error) {
	vars, err := envfile.Load(envFiles, os.Environ())
	if err != nil {
		return nil, err
	}

	base, err := os.ReadFile(files[0])
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", files[0], err)
	}

	overlays := make([][]byte, 0, len(files)-1)
	for _, file := range files[1:] {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", file, err)
		}
		overlays = append(overlays, content)
	}

	return resolver.Resolve(resolver.Input{
		Base:             base,
		Overlays:         overlays,
		Variables:        vars,
		AllowNewServices: allowNewServices,
	})
}

// Package envfile assembles the variable mapping a resolution runs against.
// This is part of the Imperative Shell: it reads .env files and the process
// environment, and hands the resolver an explicit map.
package envfile

import (
	"fmt"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"
)

// Load builds the variable mapping from .env-style files and the process
// environment (as returned by os.Environ). Later files override earlier
// files; the process environment overrides everything, so an operator can
// always win from the shell.
func Load(files []string, environ []string) (map[string]string, error) {
	vars := make(map[string]string)

	for _, file := range files {
		fileVars, err := dotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", file, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	for _, entry := range environ {
		if k, v, ok := strings.Cut(entry, "="); ok {
			vars[k] = v
		}
	}

	return vars, nil
}

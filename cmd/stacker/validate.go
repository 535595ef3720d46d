package main

import (
	"flag"
	"fmt"
	"os"
)

// validateCmd handles the "validate" command. It resolves the topology and
// reports the first problem with its field path; on success it prints nothing.
func validateCmd(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var files, envFiles fileList
	fs.Var(&files, "f", "topology file (repeatable; first is the base, rest are overlays)")
	fs.Var(&envFiles, "env-file", "variables file (repeatable)")
	allowNew := fs.Bool("allow-new-services", false, "allow overlays to introduce new services")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "validate: at least one -f file is required")
		return ExitUsageError
	}

	if _, err := resolveFiles(files, envFiles, *allowNew); err != nil {
		fmt.Fprintf(os.Stderr, "stacker: %v\n", err)
		return ExitResolveError
	}

	return ExitSuccess
}

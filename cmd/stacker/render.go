package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/artpar/stacker/internal/core/resolver"
)

// renderCmd handles the "render" command.
func renderCmd(args []string) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var files, envFiles fileList
	fs.Var(&files, "f", "topology file (repeatable; first is the base, rest are overlays)")
	fs.Var(&envFiles, "env-file", "variables file (repeatable)")
	output := fs.String("o", "", "write effective YAML to file instead of stdout")
	allowNew := fs.Bool("allow-new-services", false, "allow overlays to introduce new services")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "render: at least one -f file is required")
		return ExitUsageError
	}

	result, err := resolveFiles(files, envFiles, *allowNew)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: %v\n", err)
		return ExitResolveError
	}

	rendered, err := resolver.RenderYAML(result.Document)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: %v\n", err)
		return ExitResolveError
	}

	if *output != "" {
		if err := os.WriteFile(*output, rendered, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "stacker: cannot write %s: %v\n", *output, err)
			return ExitRuntimeError
		}
		return ExitSuccess
	}

	os.Stdout.Write(rendered)
	return ExitSuccess
}

// Package main provides the stacker binary.
//
// Stacker resolves a base service topology plus environment overlays into an
// effective topology: overlays are merged onto the base, variables are
// substituted, and the result is validated before anything touches a daemon.
//
// Usage:
//
//	stacker <command> [flags]
//
// Commands:
//
//	render    - Resolve and print the effective YAML
//	validate  - Resolve and report problems, print nothing on success
//	apply     - Resolve, then create and start the topology on Docker
//	down      - Stop and remove an applied project
//	history   - List recorded releases for a project
//	serve     - Run the HTTP resolver service
//	version   - Show version
package main

import (
	"fmt"
	"os"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess      = 0
	ExitResolveError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitRuntimeError = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches the subcommand and returns the process exit code.
func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return ExitUsageError
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "render":
		return renderCmd(rest)
	case "validate":
		return validateCmd(rest)
	case "apply":
		return applyCmd(rest)
	case "down":
		return downCmd(rest)
	case "history":
		return historyCmd(rest)
	case "serve":
		return serveCmd(rest)
	case "version":
		fmt.Printf("stacker %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "stacker: unknown command %q\n", cmd)
		printUsage()
		return ExitUsageError
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: stacker <command> [flags]

Commands:
  render    Resolve and print the effective YAML
  validate  Resolve and report problems, print nothing on success
  apply     Resolve, then create and start the topology on Docker
  down      Stop and remove an applied project
  history   List recorded releases for a project
  serve     Run the HTTP resolver service
  version   Show version

Run "stacker <command> -h" for command flags.
`)
}

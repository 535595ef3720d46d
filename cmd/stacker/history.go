package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/artpar/stacker/internal/shell/store"
)

// historyCmd handles the "history" command.
func historyCmd(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	project := fs.String("project", "", "project name (required)")
	limit := fs.Int("limit", 20, "maximum number of releases to show")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	if *project == "" {
		fmt.Fprintln(os.Stderr, "history: --project is required")
		return ExitUsageError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: configuration error: %v\n", err)
		return ExitConfigError
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: cannot open release store: %v\n", err)
		return ExitRuntimeError
	}
	defer s.Close()

	releases, err := s.ListReleases(context.Background(), *project, store.ListOptions{Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: %v\n", err)
		return ExitRuntimeError
	}

	if len(releases) == 0 {
		fmt.Printf("no releases recorded for project %s\n", *project)
		return ExitSuccess
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENVIRONMENT\tCREATED\tSOURCES")
	for _, release := range releases {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			shortID(release.ID),
			release.Environment,
			release.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			strings.Join(release.Sources, ","),
		)
	}
	w.Flush()

	return ExitSuccess
}

// shortID abbreviates a release ID for table display. IDs shorter than the
// abbreviation are shown as-is.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

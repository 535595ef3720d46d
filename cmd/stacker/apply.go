package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stacker/internal/core/resolver"
	"github.com/artpar/stacker/internal/shell/docker"
	"github.com/artpar/stacker/internal/shell/store"
)

// applyCmd handles the "apply" command: resolve, materialize against Docker,
// and record a release. Resolution failures abort before any container is
// created.
func applyCmd(args []string) int {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	var files, envFiles fileList
	fs.Var(&files, "f", "topology file (repeatable; first is the base, rest are overlays)")
	fs.Var(&envFiles, "env-file", "variables file (repeatable)")
	project := fs.String("project", "", "project name (required)")
	environment := fs.String("environment", "default", "environment name recorded with the release")
	allowNew := fs.Bool("allow-new-services", false, "allow overlays to introduce new services")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "apply: at least one -f file is required")
		return ExitUsageError
	}
	if *project == "" {
		fmt.Fprintln(os.Stderr, "apply: --project is required")
		return ExitUsageError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	result, err := resolveFiles(files, envFiles, *allowNew)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: %v\n", err)
		return ExitResolveError
	}

	client, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		logger.Error("cannot connect to docker", "error", err)
		return ExitRuntimeError
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		logger.Error("docker daemon is not reachable", "error", err)
		return ExitRuntimeError
	}

	applier := docker.NewApplier(client, logger)
	if err := applier.Apply(*project, result.Topology); err != nil {
		logger.Error("apply failed", "project", *project, "error", err)
		return ExitRuntimeError
	}

	if err := recordRelease(cfg, *project, *environment, files, result); err != nil {
		logger.Error("failed to record release", "project", *project, "error", err)
		return ExitRuntimeError
	}

	logger.Info("applied topology",
		"project", *project,
		"environment", *environment,
		"services", len(result.Topology.Services),
	)
	return ExitSuccess
}

// recordRelease stores the effective spec so the apply can be inspected and
// re-applied later.
func recordRelease(cfg *Config, project, environment string, sources []string, result *resolver.Result) error {
	rendered, err := resolver.RenderYAML(result.Document)
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.CreateRelease(context.Background(), &store.Release{
		ID:            uuid.New().String(),
		Project:       project,
		Environment:   environment,
		Sources:       sources,
		EffectiveSpec: string(rendered),
		CreatedAt:     time.Now(),
	})
}

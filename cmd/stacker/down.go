package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/artpar/stacker/internal/core/resolver"
	"github.com/artpar/stacker/internal/core/topology"
	"github.com/artpar/stacker/internal/shell/docker"
	"github.com/artpar/stacker/internal/shell/store"
)

// downCmd handles the "down" command. Containers are found by project label;
// networks and volumes are named from the topology, which comes either from
// -f files or from the project's latest recorded release.
func downCmd(args []string) int {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	var files, envFiles fileList
	fs.Var(&files, "f", "topology file (repeatable; optional, latest release is used otherwise)")
	fs.Var(&envFiles, "env-file", "variables file (repeatable)")
	project := fs.String("project", "", "project name (required)")
	environment := fs.String("environment", "default", "environment of the release to use")
	removeVolumes := fs.Bool("volumes", false, "also remove named volumes")
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	if *project == "" {
		fmt.Fprintln(os.Stderr, "down: --project is required")
		return ExitUsageError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stacker: configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := SetupLogger(cfg)

	topo, err := downTopology(cfg, files, envFiles, *project, *environment)
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

	applier := docker.NewApplier(client, logger)
	if err := applier.Down(*project, topo, *removeVolumes); err != nil {
		logger.Error("down failed", "project", *project, "error", err)
		return ExitRuntimeError
	}

	logger.Info("removed project", "project", *project)
	return ExitSuccess
}

// downTopology resolves the topology to tear down. With -f files it runs the
// normal pipeline; without, it re-loads the effective spec of the latest
// release, which is fully substituted and needs no variables.
func downTopology(cfg *Config, files, envFiles fileList, project, environment string) (*topology.Topology, error) {
	if len(files) > 0 {
		result, err := resolveFiles(files, envFiles, false)
		if err != nil {
			return nil, err
		}
		return result.Topology, nil
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	release, err := s.GetLatestRelease(context.Background(), project, environment)
	if err != nil {
		return nil, fmt.Errorf("no release found for project %s, pass -f files instead: %w", project, err)
	}

	result, err := resolver.Resolve(resolver.Input{Base: []byte(release.EffectiveSpec)})
	if err != nil {
		return nil, err
	}
	return result.Topology, nil
}

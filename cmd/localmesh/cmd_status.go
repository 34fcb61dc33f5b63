package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/localmesh/core/internal/config"
	"github.com/localmesh/core/internal/identity"
	"github.com/localmesh/core/internal/termcolor"
)

func runStatus(args []string) {
	if err := doStatus(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doStatus(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "localmesh %s (%s) built %s\n", version, commit, buildDate)
	fmt.Fprintln(stdout)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fmt.Fprintf(stdout, "Config:   not found (%v)\n", err)
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Run 'localmesh init' to create a configuration.")
		return fmt.Errorf("config not found: %w", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	nodeID, err := identity.LoadOrCreateNodeID(cfg.Identity.KeyFile)
	if err != nil {
		termcolor.Red("NodeId:   error (%v)", err)
	} else {
		termcolor.Green("NodeId:   %s", nodeID)
	}
	fmt.Fprintf(stdout, "Config:   %s\n", cfgFile)
	fmt.Fprintf(stdout, "Key file: %s\n", cfg.Identity.KeyFile)
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "Topology:")
	fmt.Fprintf(stdout, "  target_connections: %d\n", cfg.Topology.TargetConnections)
	fmt.Fprintf(stdout, "  max_connections:    %d\n", cfg.Topology.MaxConnections)
	fmt.Fprintf(stdout, "  gossip_interval:    %s\n", cfg.Topology.GossipInterval)
	fmt.Fprintf(stdout, "  rewiring_interval:  %s\n", cfg.Topology.RewiringInterval)
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "File transfer:")
	fmt.Fprintf(stdout, "  chunk_size:        %s\n", cfg.FileTransfer.ChunkSizeBytes)
	fmt.Fprintf(stdout, "  cache_root:        %s\n", cfg.FileTransfer.CacheRoot)
	fmt.Fprintln(stdout)

	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(stdout, "Metrics:  enabled on %s\n", cfg.Telemetry.Metrics.ListenAddress)
	} else {
		fmt.Fprintln(stdout, "Metrics:  disabled")
	}

	if _, err := cfg.ToMeshConfig(); err != nil {
		termcolor.Red("Validation failed: %v", err)
		return err
	}
	termcolor.Faint("Configuration is valid.\n")
	return nil
}

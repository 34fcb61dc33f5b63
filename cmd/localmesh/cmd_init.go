package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/localmesh/core/internal/config"
	"github.com/localmesh/core/internal/identity"
)

func runInit(args []string) {
	if err := doInit(args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dirFlag := fs.String("dir", "", "config directory (default: ~/.config/localmesh)")
	cacheFlag := fs.String("cache", "", "cache root for reassembled files (default: <dir>/cache)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Welcome to LocalMesh!")
	fmt.Fprintln(stdout)

	configDir := *dirFlag
	if configDir == "" {
		d, err := config.DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("cannot determine config directory: %w", err)
		}
		configDir = d
	}

	configFile := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config already exists: %s\nDelete it first if you want to reinitialize", configFile)
	}

	fmt.Fprintf(stdout, "Creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	fmt.Fprintln(stdout)

	cacheRoot := *cacheFlag
	if cacheRoot == "" {
		cacheRoot = filepath.Join(configDir, "cache")
	}
	if err := os.MkdirAll(cacheRoot, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	keyFile := filepath.Join(configDir, "identity.key")
	fmt.Fprintln(stdout, "Generating identity...")
	nodeID, err := identity.LoadOrCreateNodeID(keyFile)
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}
	fmt.Fprintf(stdout, "Your NodeId: %s\n", nodeID)
	fmt.Fprintln(stdout)

	nc := config.DefaultNodeConfig()
	nc.Identity.KeyFile = "identity.key"
	nc.FileTransfer.CacheRoot = cacheRoot

	data, err := yaml.Marshal(nc)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(stdout, "Config written to:   %s\n", configFile)
	fmt.Fprintf(stdout, "Identity saved to:   %s\n", keyFile)
	fmt.Fprintf(stdout, "Cache directory:     %s\n", cacheRoot)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintln(stdout, "  1. Inspect your node:  localmesh status")
	fmt.Fprintln(stdout, "  2. Run the demo mesh:  localmesh demo --nodes 5")
	return nil
}

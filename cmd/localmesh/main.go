package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD) -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)" -o localmesh ./cmd/localmesh
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(os.Args) < 2 {
		printUsage()
		osExit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "whoami":
		runWhoami(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	case "version", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		osExit(1)
	}
}

func printVersion() {
	fmt.Printf("localmesh %s (%s) built %s\n", version, commit, buildDate)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println("Usage: localmesh <command> [options]")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  init   [--dir path]             Set up a localmesh node configuration")
	fmt.Println("  whoami [--config path]          Show this node's NodeId")
	fmt.Println("  status [--config path]          Show resolved config and node id")
	fmt.Println()
	fmt.Println("Demo:")
	fmt.Println("  demo [--nodes N]                 Run an in-memory multi-node mesh demo")
	fmt.Println()
	fmt.Println("  version                          Show version information")
	fmt.Println()
	fmt.Println("localmesh has no built-in radio/transport layer: the ConnectionManager")
	fmt.Println("used by 'demo' is the in-memory Simulator from pkg/mesh, useful for")
	fmt.Println("exercising topology and file-transfer behavior without real hardware.")
	fmt.Println()
	fmt.Println("whoami and status accept --config <path> to specify a config file.")
	fmt.Println("Without --config, localmesh searches: ./localmesh.yaml, ~/.config/localmesh/config.yaml, /etc/localmesh/config.yaml")
	fmt.Println()
	fmt.Println("Get started:  localmesh init")
}

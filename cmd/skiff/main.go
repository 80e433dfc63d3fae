// Package main provides the skiff binary: a build-and-release pipeline that
// compiles one service binary inside a disposable build container, assembles
// a minimal runtime image, publishes it to a registry, and deploys it as a
// single named container.
//
// Usage:
//
//	skiff [flags] <command>
//
// Commands:
//
//	deps      resolve and cache dependencies, write the lock receipt
//	build     resolve dependencies, then compile the binary offline
//	image     assemble the runtime image from the compiled binary
//	publish   tag the assembled image per policy and push it
//	pull      retrieve the published reference from the registry
//	run       deploy the published reference as the named instance
//	release   the full pipeline: deps, build, image, publish, run
//	stop      stop the running instance
//	rm        remove the stopped instance
//	status    show instance state and recent runs from the ledger
//	version   print version information
//
// All policy lives in skiff.yaml (or SKIFF_* environment overrides); the
// commands take no positional arguments.
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitStageFailure = 1
	ExitUsage        = 2
	ExitConfigError  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default: ./skiff.yaml when present)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		printVersion()
		return ExitSuccess
	}

	if flag.NArg() < 1 {
		usage()
		return ExitUsage
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		printVersion()
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	return dispatch(cmd, cfg, logger)
}

func printVersion() {
	fmt.Printf("skiff %s (built %s)\n", Version, BuildTime)
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: skiff [flags] <command>

Commands:
  deps      resolve and cache dependencies, write the lock receipt
  build     resolve dependencies, then compile the binary offline
  image     assemble the runtime image from the compiled binary
  publish   tag the assembled image per policy and push it
  pull      retrieve the published reference from the registry
  run       deploy the published reference as the named instance
  release   the full pipeline: deps, build, image, publish, run
  stop      stop the running instance
  rm        remove the stopped instance
  status    show instance state and recent runs from the ledger
  version   print version information

Flags:
  -config path   config file (default: ./skiff.yaml when present)
`)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avsav1n/stackd/pkg/entrypoint"
	"github.com/avsav1n/stackd/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile  string `long:"config" description:"path to the entrypoint configuration file" default:"/etc/stackd/appentry.yaml"`
	LogLevel    string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
	Development bool   `long:"dev" description:"human-readable console logging"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:       opts.LogLevel,
		Development: opts.Development,
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v", err)
		os.Exit(1)
	}

	logger := logging.NewPrefixLogger("module: appentry , ", zapLogger)

	logger.Infof("opts: %+v", opts)

	config, err := entrypoint.LoadConfigFromFile(opts.ConfigFile)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := entrypoint.NewOrchestrator(*config, logger)

	// The orchestrator's exit code is the container's exit code: the
	// platform restart policy reacts to it and reruns the whole
	// migrate-then-serve sequence.
	code, err := orchestrator.Run(ctx)
	if err != nil {
		logger.Errorf("Orchestrator failed: %v", err)
	}
	os.Exit(code)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avsav1n/stackd/pkg/gateway"
	"github.com/avsav1n/stackd/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigDir   string `long:"config-dir" description:"directory containing routes.yaml" default:"/etc/stackd/gateway"`
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

	logger := logging.NewPrefixLogger("module: gateway , ", zapLogger)

	logger.Infof("opts: %+v", opts)

	config, err := gateway.LoadConfigFromDir(opts.ConfigDir)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if err := gateway.ValidateConfig(config); err != nil {
		logger.Errorf("Configuration validation failed: %v", err)
		os.Exit(1)
	}

	server, err := gateway.NewServer(*config, logger)
	if err != nil {
		logger.Errorf("Failed to create gateway server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Errorf("Gateway server failed: %v", err)
		os.Exit(1)
	}
}

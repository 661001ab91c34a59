package main

import (
	"fmt"
	"os"

	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/stack"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile  string `long:"config" description:"path to the stack configuration file" default:"/etc/stackd/stackd.yaml"`
	RunDuration int    `long:"run-duration" description:"run duration in seconds (0 means run until signalled)"`
	Validate    bool   `long:"validate" description:"validate the configuration file and exit"`
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

	if opts.Validate {
		if err := stack.ValidateConfigFile(opts.ConfigFile); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		return
	}

	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:       opts.LogLevel,
		Development: opts.Development,
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v", err)
		os.Exit(1)
	}

	logger := logging.NewPrefixLogger("module: stackd , ", zapLogger)

	logger.Infof("opts: %+v", opts)

	if err := stack.Run(opts.RunDuration, opts.ConfigFile, logger); err != nil {
		logger.Errorf("Stack runner failed: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/migrate"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Dir         string `long:"dir" description:"directory containing revision scripts" default:"/app/migrations"`
	Ledger      bool   `long:"ledger" description:"print applied revisions and exit"`
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

	logger := logging.NewPrefixLogger("module: migrate , ", zapLogger)

	logger.Infof("opts: %+v", opts)

	// Database coordinates come from the environment, the same contract
	// the application containers use.
	db, err := migrate.Open(migrate.FromEnv())
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Ledger {
		entries, err := migrate.Ledger(ctx, db)
		if err != nil {
			logger.Errorf("Failed to read ledger: %v", err)
			os.Exit(1)
		}
		for _, entry := range entries {
			fmt.Printf("%s  %s  %s\n", entry.Revision, entry.Name, entry.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		return
	}

	migrator := migrate.NewMigrator(db, opts.Dir, logger)
	applied, err := migrator.Apply(ctx)
	if err != nil {
		logger.Errorf("Migration failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("Migration complete, applied: %d", applied)
}

package entrypoint

import (
	"context"
	"fmt"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/process"
	"github.com/avsav1n/stackd/pkg/transport"
)

// Orchestrator sequences the application container start: the migration
// step runs to completion before the socket is bound and the server
// worker pool launches. Its exit code is the container's exit code.
type Orchestrator struct {
	config Config
	logger logging.Logger
}

func NewOrchestrator(config Config, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		config: config,
		logger: logger,
	}
}

// Run executes both phases and blocks until the pool stops. Returns the
// process exit code: the first failing step's exit code, or 0 when the
// run shuts down cleanly. At most one migration run happens per call;
// if it fails, no socket is ever created.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	if err := ValidateConfig(&o.config); err != nil {
		return 1, err
	}

	o.logger.Infof("Entrypoint starting, socket: %s, workers: %d", o.config.SocketPath, o.config.Workers)

	// Phase 1: migration, strictly before the socket exists
	code, err := o.runMigration(ctx)
	if err != nil || code != 0 {
		return code, err
	}

	// Phase 2: bind the shared socket and serve
	return o.serve(ctx)
}

func (o *Orchestrator) runMigration(ctx context.Context) (int, error) {
	o.logger.Infof("Phase 1: running migration step, command: %s", o.config.Migrate.Command)

	code, err := process.Run(ctx, o.config.Migrate, "migrate", o.logger)
	if err != nil {
		return 1, errors.NewMigrationError("failed to run migration step", err)
	}
	if code != 0 {
		o.logger.Errorf("Migration step failed, exit_code: %d, aborting startup", code)
		return code, errors.NewMigrationError(fmt.Sprintf("migration step exited with code %d", code), nil)
	}

	o.logger.Infof("Phase 1 complete: schema is current")
	return 0, nil
}

func (o *Orchestrator) serve(ctx context.Context) (int, error) {
	listener, err := transport.Bind(o.config.SocketPath)
	if err != nil {
		return 1, err
	}

	file, err := transport.ListenerFile(listener)
	if err != nil {
		listener.Close()
		transport.Remove(o.config.SocketPath)
		return 1, err
	}

	// Workers hold their own inherited copies; the orchestrator's
	// descriptors are no longer needed once the pool is up.
	defer func() {
		file.Close()
		listener.Close()
		if removeErr := transport.Remove(o.config.SocketPath); removeErr != nil {
			o.logger.Errorf("Failed to remove socket file: %v", removeErr)
		} else {
			o.logger.Infof("Socket file removed: %s", o.config.SocketPath)
		}
	}()

	o.logger.Infof("Phase 2: socket bound, launching %d workers", o.config.Workers)

	pool := newWorkerPool(o.config, file, o.logger)
	return pool.run(ctx)
}

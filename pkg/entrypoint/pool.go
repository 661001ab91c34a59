package entrypoint

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/process"
)

// workerPool runs N server processes sharing one inherited listener.
// The OS distributes incoming connections among the workers; the pool
// itself never touches a connection.
type workerPool struct {
	config   Config
	listener *os.File
	logger   logging.Logger
}

type workerExit struct {
	index int
	code  int
	err   error
}

func newWorkerPool(config Config, listener *os.File, logger logging.Logger) *workerPool {
	return &workerPool{
		config:   config,
		listener: listener,
		logger:   logger,
	}
}

// run launches the pool and blocks until a worker exits or the context
// is cancelled. Any worker exit tears the whole pool down and becomes
// the pool's exit code; cancellation is a graceful stop with code 0.
func (p *workerPool) run(ctx context.Context) (int, error) {
	workers := make([]*exec.Cmd, 0, p.config.Workers)
	exits := make(chan workerExit, p.config.Workers)

	for i := 0; i < p.config.Workers; i++ {
		id := fmt.Sprintf("worker-%d", i)

		execution := p.config.Server
		execution.ExtraFiles = []*os.File{p.listener}
		execution.Environment = append(append([]string{}, execution.Environment...),
			fmt.Sprintf("STACKD_WORKER_INDEX=%d", i))
		if p.config.TrustForwardedHeaders {
			execution.Environment = append(execution.Environment, "STACKD_TRUST_FORWARDED=1")
		}

		cmd, stdout, err := process.Start(ctx, execution, id, p.logger)
		if err != nil {
			p.logger.Errorf("Failed to start worker, id: %s, error: %v", id, err)
			p.terminate(workers)
			p.drain(exits, len(workers))
			return 1, err
		}

		workers = append(workers, cmd)

		go process.ForwardOutput(stdout, id, p.logger)
		go func(index int, cmd *exec.Cmd) {
			waitErr := cmd.Wait()
			exits <- workerExit{index: index, code: process.ExitCode(waitErr), err: waitErr}
		}(i, cmd)
	}

	p.logger.Infof("Worker pool running, workers: %d", len(workers))

	select {
	case exit := <-exits:
		p.logger.Errorf("Worker exited, index: %d, exit_code: %d, stopping pool", exit.index, exit.code)
		p.terminate(workers)
		p.drain(exits, len(workers)-1)
		return exit.code, nil

	case <-ctx.Done():
		p.logger.Infof("Shutdown requested, stopping worker pool")
		p.terminate(workers)
		p.drain(exits, len(workers))
		return 0, nil
	}
}

func (p *workerPool) terminate(workers []*exec.Cmd) {
	for i, cmd := range workers {
		if cmd.Process == nil {
			continue
		}
		id := fmt.Sprintf("worker-%d", i)
		if err := process.Terminate(cmd.Process.Pid, p.config.GracefulTimeout, id, p.logger); err != nil {
			p.logger.Errorf("Failed to terminate worker, id: %s, error: %v", id, err)
		}
	}
}

func (p *workerPool) drain(exits chan workerExit, count int) {
	for i := 0; i < count; i++ {
		<-exits
	}
}

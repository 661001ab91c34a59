package stack

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// Run loads the stack configuration, starts every service behind its
// dependency gate and blocks until a shutdown signal or the optional
// run duration elapses.
func Run(runDuration int, configFile string, logger logging.Logger) error {
	logger.Infof("Stack runner starting...")

	ctx := context.Background()
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	logger.Infof("Configuration loaded successfully from %s", configFile)
	logger.Infof("Services: %d", len(config.Services))

	supervisor := NewSupervisor(config.Stack, logger)

	for _, service := range config.Services {
		if err := supervisor.AddService(service); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("failed to add service: %s", service.Name),
				err,
			).WithContext("service", service.Name)
		}
		logger.Infof("Added service: %s", service.Name)
	}

	supervisor.Start(ctx)

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	logger.Infof("Supervisor is ready, starting services...")

	if err := supervisor.StartAll(ctx); err != nil {
		supervisor.Stop(context.Background())
		return errors.NewProcessError("failed to start services", err)
	}

	select {
	case receivedSignal := <-sig:
		logger.Infof("Stack runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Stack runner timed out")
	}

	logger.Infof("Ready to stop supervisor...")

	// Reset context to background to enable graceful shutdown
	supervisor.Stop(context.Background())

	logger.Infof("Stack runner stopped")

	return nil
}

// ValidateConfigFile validates a configuration file without running the
// stack. Useful for configuration testing and CI validation.
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}

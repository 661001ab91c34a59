package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// Server is the gateway's external endpoint: a fiber server whose
// routes forward into per-upstream reverse proxies.
type Server struct {
	app    *fiber.App
	config Config
	logger logging.Logger
}

func NewServer(config Config, logger logging.Logger) (*Server, error) {
	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           config.Listen.ReadTimeout,
	})

	for _, route := range config.Routes {
		proxy := NewUpstreamProxy(route.UpstreamSocket, logger)
		handler := adaptor.HTTPHandler(proxy)

		pattern := routePattern(route.Prefix)
		app.All(pattern, handler)
		if pattern != route.Prefix {
			app.All(route.Prefix, handler)
		}

		logger.Infof("Route registered, prefix: %s, upstream: %s", route.Prefix, route.UpstreamSocket)
	}

	return &Server{
		app:    app,
		config: config,
		logger: logger,
	}, nil
}

// App exposes the underlying fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves the external endpoint until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	address := fmt.Sprintf(":%d", s.config.Listen.Port)
	s.logger.Infof("Gateway listening, address: %s, routes: %d", address, len(s.config.Routes))

	go func() {
		<-ctx.Done()
		s.logger.Infof("Gateway shutting down...")
		if err := s.app.Shutdown(); err != nil {
			s.logger.Errorf("Gateway shutdown failed: %v", err)
		}
	}()

	if err := s.app.Listen(address); err != nil {
		return errors.NewNetworkError("gateway server failed", err).WithContext("address", address)
	}

	s.logger.Infof("Gateway stopped")
	return nil
}

func routePattern(prefix string) string {
	trimmed := strings.TrimSuffix(prefix, "/")
	return trimmed + "/*"
}

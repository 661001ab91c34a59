package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/transport"

	flags "github.com/jessevdk/go-flags"
)

// appsrv is a minimal server worker: it serves HTTP on the listener
// inherited from the orchestrator and identifies itself per request.
// Real applications replace this binary and keep the same contract.

type flagOptions struct {
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

	workerIndex := os.Getenv("STACKD_WORKER_INDEX")
	if workerIndex == "" {
		workerIndex = "0"
	}

	logger := logging.NewPrefixLogger("module: appsrv , worker: "+workerIndex+" , ", zapLogger)

	// The orchestrator binds the socket and passes it on fd 3. All
	// workers accept from the same listener; the OS balances them.
	listener, err := transport.InheritedListener()
	if err != nil {
		logger.Errorf("Failed to reconstruct inherited listener: %v", err)
		os.Exit(1)
	}

	trustForwarded := os.Getenv("STACKD_TRUST_FORWARDED") != ""

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Client-facing request metadata arrives in X-Forwarded-*
		// headers, honored only behind the gateway.
		scheme := "http"
		host := r.Host
		if trustForwarded {
			if forwardedProto := r.Header.Get("X-Forwarded-Proto"); forwardedProto != "" {
				scheme = forwardedProto
			}
			if forwardedHost := r.Header.Get("X-Forwarded-Host"); forwardedHost != "" {
				host = forwardedHost
			}
		}

		logger.Infof("Request, method: %s, path: %s, scheme: %s, host: %s", r.Method, r.URL.Path, scheme, host)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"worker":%q,"method":%q,"path":%q,"scheme":%q,"host":%q}`+"\n",
			workerIndex, r.Method, r.URL.Path, scheme, host)
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Infof("Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving on inherited listener, addr: %s", listener.Addr())

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		logger.Errorf("Server failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("Server stopped")
}

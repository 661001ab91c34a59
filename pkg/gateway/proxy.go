package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// upstreamHost is the synthetic host the proxy addresses the socket
// upstream by. The transport ignores it and dials the socket path.
const upstreamHost = "app"

// NewUpstreamProxy builds a reverse proxy forwarding to the unix socket
// at socketPath. The socket is dialed per request: while the
// application has not yet bound it, each request fails individually
// with 502 and the next request retries the connection. No permanent
// failure is ever cached, so the gateway needs no restart once the
// socket appears.
func NewUpstreamProxy(socketPath string, logger logging.Logger) *httputil.ReverseProxy {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 5 * time.Second}
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:        16,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "http"
			req.URL.Host = upstreamHost
			// The application sees the original Host plus forwarded
			// metadata; X-Forwarded-For is appended by ReverseProxy.
			req.Header.Set("X-Forwarded-Proto", "http")
			if req.Header.Get("X-Forwarded-Host") == "" {
				req.Header.Set("X-Forwarded-Host", req.Host)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			upstreamErr := errors.NewUpstreamError("upstream socket unavailable", err).
				WithContext("socket", socketPath).
				WithContext("path", r.URL.Path)
			logger.Warnf("Upstream request failed (retriable): %v", upstreamErr)

			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream unavailable\n"))
		},
	}

	return proxy
}

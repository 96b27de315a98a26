package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler

	// tls is fixed at construction; http.Server fills in TLSConfig itself
	// while serving, so that field cannot tell the modes apart.
	tls bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTLSConfig serves TLS with c. The config must provide a certificate,
// for example through GetCertificate.
func WithTLSConfig(c *tls.Config) ServerOption {
	return func(s *Server) {
		s.httpServer.TLSConfig = c
		s.tls = c != nil
	}
}

// New creates a new HTTP server.
func New(addr string, handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: handler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TLS reports whether the server serves TLS.
func (s *Server) TLS() bool {
	return s.tls
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
// It returns nil after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if s.TLS() {
		// Certificates come from TLSConfig.
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// ServicePath and ServiceHandler mount a Connect service,
	// as returned by backupservice.Service.Handler.
	ServicePath    string
	ServiceHandler http.Handler

	// MetricsHandler serves /metrics. Nil disables the endpoint.
	MetricsHandler http.Handler

	// Ready reports whether the service can answer requests.
	// Nil means always ready.
	Ready func() bool

	// Logger for request logging.
	Logger *slog.Logger

	// AllowList is the IP/CIDR allowlist for the service (empty = no restriction).
	AllowList []string

	// GlobalRateLimit is the global rate limit per IP (requests/second).
	// Zero disables rate limiting.
	GlobalRateLimit int

	// EnableAccessLog logs every request.
	EnableAccessLog bool
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Health endpoints bypass the ACL and the rate limiter.
	mux.Handle("GET /health", Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	}), RequestID(), Recover(cfg.Logger)))
	mux.Handle("GET /ready", Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	}), RequestID(), Recover(cfg.Logger)))

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", Chain(cfg.MetricsHandler, RequestID(), Recover(cfg.Logger)))
	}

	if cfg.ServiceHandler != nil {
		// Order: Recover -> RequestID -> NetworkACL -> RateLimit -> AccessLog -> Handler
		middlewares := []Middleware{
			Recover(cfg.Logger),
			RequestID(),
		}
		if len(cfg.AllowList) > 0 {
			middlewares = append(middlewares, NetworkACL(&NetworkACLConfig{
				AllowList: cfg.AllowList,
				Logger:    cfg.Logger,
			}))
		}
		if cfg.GlobalRateLimit > 0 {
			middlewares = append(middlewares, RateLimit(cfg.GlobalRateLimit))
		}
		if cfg.EnableAccessLog {
			middlewares = append(middlewares, AccessLog(cfg.Logger))
		}

		path := cfg.ServicePath
		if !strings.HasSuffix(path, "/") {
			path += "/"
		}
		mux.Handle(path, Chain(cfg.ServiceHandler, middlewares...))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 1000, // 1000 requests/second per IP
		EnableAccessLog: true,
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

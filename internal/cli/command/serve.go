package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/ledgerbackup/internal/config"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/infra/confloader"
	"github.com/yndnr/ledgerbackup/internal/infra/shutdown"
	"github.com/yndnr/ledgerbackup/internal/infra/tlsroots"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/server/backupservice"
	"github.com/yndnr/ledgerbackup/internal/server/httpserver"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
)

var serveKeys = flagKeys{
	"addr":       "service.addr",
	"ledger-dir": "ledger.dir",
	"tls-cert":   "service.tls_cert_file",
	"tls-key":    "service.tls_key_file",
	"metrics":    "metrics.enabled",
}

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the state snapshots of a ledger directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
			},
			&cli.StringFlag{
				Name:  "ledger-dir",
				Usage: "Ledger directory to serve",
			},
			&cli.StringFlag{
				Name:  "tls-cert",
				Usage: "TLS certificate file, reloaded on change",
			},
			&cli.StringFlag{
				Name:  "tls-key",
				Usage: "TLS key file",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Expose /metrics",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	e, err := setup(c, serveKeys)
	if err != nil {
		return err
	}
	log := e.log.Slog()

	svc, err := startService(e.cfg, log, metric.NewRegistry())
	if err != nil {
		return err
	}

	handler := shutdown.NewHandler(e.cfg.Service.ShutdownTimeout)
	handler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down backup service")
		return svc.Close(ctx)
	})

	if path := e.loader.FilePath(); path != "" {
		w, err := watchLogLevel(e.loader, path, log)
		if err != nil {
			log.Warn("config file watch disabled", "error", err)
		} else {
			handler.OnShutdown(func(context.Context) error { return w.Stop() })
		}
	}

	go func() {
		if err := <-svc.served; err != nil {
			log.Error("backup service stopped", "error", err)
			handler.Trigger()
		}
	}()

	log.Info("backup service listening",
		"addr", svc.Addr(),
		"tls", svc.server.TLS(),
		"ledger_dir", e.cfg.Ledger.Dir)
	if err := handler.Wait(c.Context); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("backup service stopped")
	return nil
}

// watchLogLevel applies log level changes of the config file at path.
// Other settings need a restart.
func watchLogLevel(l *confloader.Loader, path string, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := config.Reload(l)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level reloaded", "level", logger.GetLevel())
	})
	w.StartAsync()
	return w, nil
}

// service is a running backup service.
type service struct {
	db     *ledger.DB
	server *httpserver.Server
	certs  *tlsroots.Watcher
	addr   string
	served chan error
	closed atomic.Bool
}

// startService opens the ledger and serves it until Close.
func startService(cfg *config.Config, log *slog.Logger, reg *metric.Registry) (*service, error) {
	db, err := ledger.Open(cfg.Ledger, log)
	if err != nil {
		return nil, err
	}
	s := &service{db: db, served: make(chan error, 1)}

	if err := s.start(cfg, log, reg); err != nil {
		if s.certs != nil {
			s.certs.Stop()
		}
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *service) start(cfg *config.Config, log *slog.Logger, reg *metric.Registry) error {
	svc, err := backupservice.New(s.db, cfg.Service.RPC,
		backupservice.WithLogger(log),
		backupservice.WithMetrics(reg))
	if err != nil {
		return err
	}
	path, h := svc.Handler()

	routes := &httpserver.RouterConfig{
		ServicePath:     path,
		ServiceHandler:  h,
		Ready:           func() bool { return !s.closed.Load() },
		Logger:          log,
		AllowList:       cfg.Service.AllowList,
		GlobalRateLimit: cfg.Service.RateLimit,
		EnableAccessLog: cfg.Service.AccessLog,
	}
	if cfg.Metrics.Enabled {
		reg.MustRegister(metric.NewLedgerCollector(ledgerStats(s.db)))
		routes.MetricsHandler = reg.Handler()
	}

	var opts []httpserver.ServerOption
	if cfg.Service.TLSCertFile != "" {
		s.certs, err = tlsroots.NewWatcher(cfg.Service.TLSCertFile, cfg.Service.TLSKeyFile, tlsroots.WithLogger(log))
		if err != nil {
			return err
		}
		s.certs.StartAsync()
		opts = append(opts, httpserver.WithTLSConfig(s.certs.ServerTLSConfig()))
	}

	ln, err := net.Listen("tcp", cfg.Service.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Service.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.server = httpserver.New(s.addr, httpserver.NewRouter(routes), opts...)
	go func() {
		s.served <- s.server.Serve(ln)
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *service) Addr() string {
	return s.addr
}

// URL returns the base URL clients use.
func (s *service) URL() string {
	if s.server.TLS() {
		return "https://" + s.addr
	}
	return "http://" + s.addr
}

// Close drains in-flight requests, then closes the ledger.
func (s *service) Close(ctx context.Context) error {
	s.closed.Store(true)
	err := s.server.Shutdown(ctx)
	if s.certs != nil {
		s.certs.Stop()
	}
	return errors.Join(err, s.db.Close())
}

func ledgerStats(db *ledger.DB) metric.LedgerStats {
	return func(ctx context.Context) (uint64, uint64, bool) {
		ts, err := db.GetLatestTreeState(ctx)
		if err != nil || ts.Version == domain.PreGenesisVersion {
			return 0, 0, false
		}
		return ts.Version, ts.NumItems, true
	}
}

// Package servicetest starts a backup service for tests.
package servicetest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/ledger/ledgertest"
	"github.com/yndnr/ledgerbackup/internal/server/backupservice"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
)

// Start serves db on a local listener and returns the base URL and the
// registry the service records into. The server is closed at test cleanup.
func Start(t testing.TB, db ledger.DbReader) (string, *metric.Registry) {
	t.Helper()
	return StartWrapped(t, db, nil)
}

// StartWrapped is Start with wrap applied around the service handler,
// for injecting transport faults.
func StartWrapped(t testing.TB, db ledger.DbReader, wrap func(http.Handler) http.Handler) (string, *metric.Registry) {
	t.Helper()

	reg := metric.NewRegistry()
	svc, err := backupservice.New(db, backupservice.DefaultConfig(),
		backupservice.WithLogger(ledgertest.DiscardLogger()),
		backupservice.WithMetrics(reg))
	if err != nil {
		t.Fatalf("create backup service: %v", err)
	}

	path, handler := svc.Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL, reg
}

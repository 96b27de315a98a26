package backup_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"

	backupv1 "github.com/yndnr/ledgerbackup/api/backup/v1"
	"github.com/yndnr/ledgerbackup/internal/backup"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger/ledgertest"
	"github.com/yndnr/ledgerbackup/internal/server/backupservice/servicetest"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

func collect(t *testing.T, s *backup.SnapshotStream) ([]domain.StateEntry, error) {
	t.Helper()
	defer s.Close()
	var out []domain.StateEntry
	for {
		entry, leaf, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if leaf != accumulator.LeafHash(entry.Key, entry.Value) {
			t.Fatalf("leaf hash of entry %d does not match", len(out))
		}
		out = append(out, entry)
	}
}

func TestClient_Operations(t *testing.T) {
	ctx := context.Background()
	db := ledgertest.OpenInMemory(t)
	version, root := ledgertest.CommitRandomBatches(t, db, 11, 6, 20)
	entries := ledgertest.Entries(t, db, version)
	n := uint64(len(entries))

	url, _ := servicetest.Start(t, db)
	c := backup.NewClient(url, backup.WithClientLogger(ledgertest.DiscardLogger()))

	gotVersion, gotRoot, err := c.GetLatestStateRoot(ctx)
	if err != nil {
		t.Fatalf("GetLatestStateRoot: %v", err)
	}
	if gotVersion != version || gotRoot != root {
		t.Errorf("latest = (%d, %s), want (%d, %s)", gotVersion, gotRoot, version, root)
	}

	count, err := c.GetStateItemCount(ctx, version)
	if err != nil {
		t.Fatalf("GetStateItemCount: %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}

	stream, err := c.GetStateSnapshot(ctx, version, 1, n)
	if err != nil {
		t.Fatalf("GetStateSnapshot: %v", err)
	}
	got, err := collect(t, stream)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if uint64(len(got)) != n-1 {
		t.Fatalf("streamed %d entries, want %d", len(got), n-1)
	}
	for i, e := range got {
		if !bytes.Equal(e.Key, entries[i+1].Key) || !bytes.Equal(e.Value, entries[i+1].Value) {
			t.Fatalf("entry %d differs", i)
		}
	}

	proof, err := c.GetStateRangeProof(ctx, version, n)
	if err != nil {
		t.Fatalf("GetStateRangeProof: %v", err)
	}
	if proof.RootHash() != root {
		t.Errorf("proof root = %s, want %s", proof.RootHash(), root)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	db := ledgertest.OpenInMemory(t)
	version, _ := ledgertest.CommitRandomBatches(t, db, 12, 3, 5)
	n := uint64(len(ledgertest.Entries(t, db, version)))

	url, _ := servicetest.Start(t, db)
	c := backup.NewClient(url)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"count of unknown version", func() error {
			_, err := c.GetStateItemCount(ctx, version+1)
			return err
		}, domain.ErrNotFound},
		{"proof of unknown version", func() error {
			_, err := c.GetStateRangeProof(ctx, version+1, 0)
			return err
		}, domain.ErrNotFound},
		{"proof past end", func() error {
			_, err := c.GetStateRangeProof(ctx, version, n+1)
			return err
		}, domain.ErrInvalidArgument},
		{"stream of unknown version", func() error {
			s, err := c.GetStateSnapshot(ctx, version+1, 0, 1)
			if err != nil {
				return err
			}
			_, err = collect(t, s)
			return err
		}, domain.ErrNotFound},
		{"inverted range", func() error {
			_, err := c.GetStateSnapshot(ctx, version, 2, 1)
			return err
		}, domain.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	c := backup.NewClient(url)
	_, _, err := c.GetLatestStateRoot(context.Background())
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("connection errors should be retryable")
	}
}

func TestClient_ServiceUnavailable(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	version, _ := ledgertest.CommitRandomBatches(t, db, 13, 2, 5)

	wrap, calls := failFirst(backupv1.BackupServiceGetStateItemCountProcedure, 1)
	url, _ := servicetest.StartWrapped(t, db, wrap)
	c := backup.NewClient(url)

	if _, err := c.GetStateItemCount(context.Background(), version); !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("first call: err = %v, want ErrConnection", err)
	}
	if _, err := c.GetStateItemCount(context.Background(), version); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_StreamDropped(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	version, _ := ledgertest.CommitRandomBatches(t, db, 14, 10, 40)
	n := uint64(len(ledgertest.Entries(t, db, version)))

	url, _ := servicetest.StartWrapped(t, db,
		dropAfter(backupv1.BackupServiceGetStateSnapshotRangeProcedure, 512))
	c := backup.NewClient(url)

	stream, err := c.GetStateSnapshot(context.Background(), version, 0, n)
	if err != nil {
		if !errors.Is(err, domain.ErrConnection) {
			t.Fatalf("open: err = %v, want ErrConnection", err)
		}
		return
	}
	got, err := collect(t, stream)
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("err = %v after %d entries, want ErrConnection", err, len(got))
	}
	if uint64(len(got)) >= n {
		t.Errorf("received the whole range through a dropped stream")
	}

	// A failed stream keeps failing.
	if _, _, err := stream.Next(); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("Next after failure: err = %v", err)
	}
}

func TestClient_RateLimit(t *testing.T) {
	db := ledgertest.OpenInMemory(t)
	version, _ := ledgertest.CommitRandomBatches(t, db, 15, 2, 5)
	url, _ := servicetest.Start(t, db)

	c := backup.NewClient(url, backup.WithRateLimit(rate.Every(time.Hour), 1))
	if _, err := c.GetStateItemCount(context.Background(), version); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GetStateItemCount(ctx, version); err == nil {
		t.Fatal("second call should be held back by the limiter")
	}
}

func TestClientConfig_Options(t *testing.T) {
	cfg := backup.DefaultClientConfig()
	opts, err := cfg.Options()
	if err != nil || len(opts) != 1 {
		t.Errorf("default options = %d, %v; want 1 (http client)", len(opts), err)
	}
	cfg.RateLimit = 10
	opts, err = cfg.Options()
	if err != nil || len(opts) != 2 {
		t.Errorf("options with rate limit = %d, %v; want 2", len(opts), err)
	}

	cfg.TLSCAFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := cfg.Options(); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("missing CA file error = %v, want InvalidArgument", err)
	}
}

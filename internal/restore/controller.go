package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/storage"
	"github.com/yndnr/ledgerbackup/internal/storage/snapshot"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
)

// StateSnapshotOpt selects what to restore and where.
type StateSnapshotOpt struct {
	ManifestHandle string

	// Version is the version the restored state is committed as.
	// PreGenesisVersion loads the raw state without a version record.
	Version domain.Version
}

// GlobalOpt holds settings shared by restore runs.
type GlobalOpt struct {
	// Prefetch is how many decoded chunks may wait ahead of application.
	// Default: 4
	Prefetch int `koanf:"prefetch"`
}

// DefaultGlobalOpt returns the default restore settings.
func DefaultGlobalOpt() GlobalOpt {
	return GlobalOpt{Prefetch: 4}
}

// Validate checks the settings.
func (o GlobalOpt) Validate() error {
	if o.Prefetch < 0 {
		return domain.ErrInvalidArgument.WithDetailsf("prefetch must not be negative, got %d", o.Prefetch)
	}
	return nil
}

// StateSnapshotController restores one state snapshot backup.
type StateSnapshotController struct {
	opt    StateSnapshotOpt
	global GlobalOpt
	store  storage.BackupStorage
	db     ledger.DbWriter

	logger   *slog.Logger
	metrics  *metric.Registry
	progress func(done, total int)
}

// Option configures a StateSnapshotController.
type Option func(*StateSnapshotController)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *StateSnapshotController) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the registry restore metrics are recorded in.
func WithMetrics(r *metric.Registry) Option {
	return func(c *StateSnapshotController) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithProgress calls fn after each applied chunk with the number of
// chunks done and the total.
func WithProgress(fn func(done, total int)) Option {
	return func(c *StateSnapshotController) {
		c.progress = fn
	}
}

// NewStateSnapshotController creates a controller. Nothing is read until Run.
func NewStateSnapshotController(opt StateSnapshotOpt, global GlobalOpt, store storage.BackupStorage, db ledger.DbWriter, opts ...Option) *StateSnapshotController {
	c := &StateSnapshotController{
		opt:     opt,
		global:  global,
		store:   store,
		db:      db,
		logger:  slog.Default(),
		metrics: metric.Global(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.WithContextIDs(c.logger)
	return c
}

// RunRestore restores the backup sealed in manifestHandle into db as
// version with default settings.
func RunRestore(ctx context.Context, store storage.BackupStorage, db ledger.DbWriter, manifestHandle string, version domain.Version, opts ...Option) error {
	opt := StateSnapshotOpt{ManifestHandle: manifestHandle, Version: version}
	return NewStateSnapshotController(opt, DefaultGlobalOpt(), store, db, opts...).Run(ctx)
}

// Run replays every chunk of the manifest into the target and checks the
// resulting root hash.
//
// Errors: domain.ErrStorage on read failures, domain.ErrCorruption when an
// artifact is damaged or inconsistent with the manifest,
// domain.ErrVerification when the final root does not match.
func (c *StateSnapshotController) Run(ctx context.Context) error {
	start := time.Now()
	err := c.run(ctx)
	c.metrics.RecordRestoreRun(err, time.Since(start))
	return err
}

// fetched is one downloaded chunk, or the error that stopped downloading.
type fetched struct {
	chunk *snapshot.Chunk
	size  int64
	err   error
}

func (c *StateSnapshotController) run(ctx context.Context) (err error) {
	if err := c.global.Validate(); err != nil {
		return err
	}
	target := c.opt.Version
	if target > domain.MaxVersion && target != domain.PreGenesisVersion {
		return domain.ErrInvalidArgument.WithDetailsf("cannot restore to version %d", target)
	}
	if err := storage.ValidateIdentifier(c.opt.ManifestHandle); err != nil {
		return err
	}

	log := c.logger.With(
		"manifest", c.opt.ManifestHandle,
		"target_version", domain.FormatVersion(target))

	m, err := ReadManifest(ctx, c.store, c.opt.ManifestHandle)
	if err != nil {
		return fmt.Errorf("restore: read manifest: %w", err)
	}
	log.InfoContext(ctx, "state snapshot restore started",
		"source_version", m.Version,
		"items", m.ItemCount,
		"chunks", len(m.Chunks),
		"root_hash", m.RootHash.String())

	receiver, err := c.db.GetStateRestoreReceiver(ctx, target)
	if err != nil {
		return fmt.Errorf("restore: open receiver: %w", err)
	}
	finished := false
	defer func() {
		if !finished {
			receiver.Abort()
		}
		if err != nil {
			log.ErrorContext(ctx, "state snapshot restore failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks := c.prefetch(ctx, m)

	v := snapshot.NewVerifier(m.RootHash)
	for i, ref := range m.Chunks {
		f, ok := <-chunks
		if !ok {
			return fmt.Errorf("restore: chunk %d: %w", i, ctx.Err())
		}
		if f.err != nil {
			return fmt.Errorf("restore: chunk %d: %w", i, f.err)
		}
		if err := checkChunk(m, ref, f.chunk); err != nil {
			return fmt.Errorf("restore: chunk %d: %w", i, err)
		}
		if err := v.AddChunk(f.chunk); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if err := receiver.AddChunk(ctx, f.chunk.Entries); err != nil {
			return fmt.Errorf("restore: apply chunk %d: %w", i, err)
		}
		c.metrics.RecordRestoreChunk(len(f.chunk.Entries), int(f.size))
		if c.progress != nil {
			c.progress(i+1, len(m.Chunks))
		}
		log.DebugContext(ctx, "chunk applied",
			"chunk", i,
			"entries", len(f.chunk.Entries),
			"applied", v.NumLeaves())
	}

	if err := v.Finish(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	finished = true
	if err := receiver.Finish(ctx); err != nil {
		return fmt.Errorf("restore: finish: %w", err)
	}

	got, err := c.db.GetStateRootHash(ctx, target)
	if err != nil {
		return fmt.Errorf("restore: read restored root: %w", err)
	}
	if got != m.RootHash {
		return fmt.Errorf("restore: %w", domain.ErrVerification.WithDetailsf(
			"restored root %s, manifest root %s", got, m.RootHash))
	}

	log.InfoContext(ctx, "state snapshot restore finished",
		"items", m.ItemCount,
		"root_hash", got.String())
	return nil
}

// prefetch downloads chunks in manifest order into a channel holding at
// most Prefetch chunks. It stops after the first error or when ctx ends.
func (c *StateSnapshotController) prefetch(ctx context.Context, m *snapshot.Manifest) <-chan fetched {
	out := make(chan fetched, c.global.Prefetch)
	go func() {
		defer close(out)
		for _, ref := range m.Chunks {
			var f fetched
			f.chunk, f.size, f.err = c.readChunk(ctx, ref.Handle)
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if f.err != nil {
				return
			}
		}
	}()
	return out
}

func (c *StateSnapshotController) readChunk(ctx context.Context, handle string) (*snapshot.Chunk, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	rc, err := c.store.OpenForRead(ctx, handle)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	chunk, err := snapshot.ReadChunk(cr)
	if err != nil {
		return nil, 0, err
	}
	return chunk, cr.n, nil
}

// checkChunk matches a decoded chunk against its manifest entry.
func checkChunk(m *snapshot.Manifest, ref snapshot.ChunkRef, c *snapshot.Chunk) error {
	switch {
	case c.Version != m.Version:
		return domain.ErrCorruption.WithDetailsf("chunk of version %d in a backup of version %d", c.Version, m.Version)
	case c.FirstIndex != ref.FirstIndex:
		return domain.ErrCorruption.WithDetailsf("chunk starts at %d, manifest says %d", c.FirstIndex, ref.FirstIndex)
	case uint64(len(c.Entries)) != ref.EntryCount:
		return domain.ErrCorruption.WithDetailsf("chunk has %d entries, manifest says %d", len(c.Entries), ref.EntryCount)
	case !bytes.Equal(c.FirstKey(), ref.FirstKey) || !bytes.Equal(c.LastKey(), ref.LastKey):
		return domain.ErrCorruption.WithDetails("chunk key bounds differ from manifest")
	case c.Right.Digest() != ref.ProofDigest:
		return domain.ErrCorruption.WithDetails("chunk proof digest differs from manifest")
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

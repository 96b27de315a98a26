package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/storage"
	"github.com/yndnr/ledgerbackup/internal/storage/snapshot"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// Source is the read side of the backup service used by the controller.
// *Client implements it.
type Source interface {
	GetStateItemCount(ctx context.Context, version domain.Version) (uint64, error)
	GetStateSnapshot(ctx context.Context, version domain.Version, start, end uint64) (*SnapshotStream, error)
	GetStateRangeProof(ctx context.Context, version domain.Version, index uint64) (accumulator.Frontier, error)
}

// StateSnapshotOpt selects the snapshot to back up.
type StateSnapshotOpt struct {
	Version domain.Version
}

// GlobalOpt holds the options shared by all backups.
type GlobalOpt struct {
	// MaxChunkSize is the maximum number of entries per chunk.
	MaxChunkSize uint64 `koanf:"max_chunk_size"`

	// Concurrency bounds the chunks fetched and written at once.
	Concurrency int `koanf:"concurrency"`

	// RetryAttempts is how often a range is tried on connection errors.
	RetryAttempts uint `koanf:"retry_attempts"`

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// DefaultGlobalOpt returns the default backup options.
func DefaultGlobalOpt() GlobalOpt {
	return GlobalOpt{
		MaxChunkSize:  100_000,
		Concurrency:   4,
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
	}
}

// Validate checks the options.
func (o GlobalOpt) Validate() error {
	if o.MaxChunkSize == 0 {
		return domain.ErrInvalidArgument.WithDetails("max_chunk_size must be at least 1")
	}
	if o.Concurrency < 1 {
		return domain.ErrInvalidArgument.WithDetails("concurrency must be at least 1")
	}
	return nil
}

// StateSnapshotController backs up the state snapshot at one version.
type StateSnapshotController struct {
	opt    StateSnapshotOpt
	global GlobalOpt
	client Source
	store  storage.BackupStorage

	logger   *slog.Logger
	metrics  *metric.Registry
	runID    string
	progress ProgressFunc
}

// ProgressFunc is called after each stored chunk with the number of chunks
// done and the total. Calls are serialized.
type ProgressFunc func(done, total int)

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

// WithMetrics sets the metric registry. Defaults to metric.Global().
func WithMetrics(r *metric.Registry) Option {
	return func(c *StateSnapshotController) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithRunID fixes the run ID instead of generating a ULID.
func WithRunID(id string) Option {
	return func(c *StateSnapshotController) {
		c.runID = id
	}
}

// WithProgress reports stored chunks to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(c *StateSnapshotController) {
		c.progress = fn
	}
}

// NewStateSnapshotController creates a controller. Nothing is fetched
// until Run.
func NewStateSnapshotController(opt StateSnapshotOpt, global GlobalOpt, client Source, store storage.BackupStorage, opts ...Option) *StateSnapshotController {
	c := &StateSnapshotController{
		opt:     opt,
		global:  global,
		client:  client,
		store:   store,
		logger:  slog.Default(),
		metrics: metric.Global(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.WithContextIDs(c.logger)
	return c
}

// RunBackup backs up the snapshot at version with default concurrency and
// returns the manifest handle.
func RunBackup(ctx context.Context, client Source, store storage.BackupStorage, version domain.Version, maxChunkSize uint64, opts ...Option) (string, error) {
	global := DefaultGlobalOpt()
	global.MaxChunkSize = maxChunkSize
	return NewStateSnapshotController(StateSnapshotOpt{Version: version}, global, client, store, opts...).Run(ctx)
}

// Run fetches, verifies and stores every chunk, then seals the manifest
// and returns its handle.
//
// On failure no manifest is written. Chunks already stored are left in
// place; a later run uses a fresh run ID.
func (c *StateSnapshotController) Run(ctx context.Context) (string, error) {
	start := time.Now()
	handle, err := c.run(ctx)
	c.metrics.RecordBackupRun(err, time.Since(start))
	return handle, err
}

type chunkRange struct {
	index      int
	start, end uint64
}

// chunkRanges splits [0, count) into consecutive ranges of at most
// maxSize entries. The split depends only on count and maxSize.
func chunkRanges(count, maxSize uint64) []chunkRange {
	if count == 0 {
		return nil
	}
	ranges := make([]chunkRange, 0, (count-1)/maxSize+1)
	for start := uint64(0); ; start += maxSize {
		end := count
		if count-start > maxSize {
			end = start + maxSize
		}
		ranges = append(ranges, chunkRange{index: len(ranges), start: start, end: end})
		if end == count {
			return ranges
		}
	}
}

type chunkResult struct {
	ref   snapshot.ChunkRef
	left  accumulator.Frontier
	right accumulator.Frontier
}

func (c *StateSnapshotController) run(ctx context.Context) (string, error) {
	if err := c.global.Validate(); err != nil {
		return "", err
	}
	if c.opt.Version > domain.MaxVersion {
		return "", domain.ErrInvalidArgument.WithDetailsf("cannot back up version %s", domain.FormatVersion(c.opt.Version))
	}

	runID := c.runID
	if runID == "" {
		runID = ulid.Make().String()
	}
	version := c.opt.Version
	ctx = logger.WithRunID(ctx, runID)
	log := c.logger.With("version", version)

	count, err := c.client.GetStateItemCount(ctx, version)
	if err != nil {
		return "", fmt.Errorf("backup: item count: %w", err)
	}
	full, err := c.client.GetStateRangeProof(ctx, version, count)
	if err != nil {
		return "", fmt.Errorf("backup: root proof: %w", err)
	}
	root := full.RootHash()

	ranges := chunkRanges(count, c.global.MaxChunkSize)
	log.InfoContext(ctx, "state snapshot backup started",
		"items", count,
		"chunks", len(ranges),
		"max_chunk_size", c.global.MaxChunkSize,
		"root_hash", root.String())

	// Results are stored by chunk index so the manifest follows key order
	// whatever order the units finish in.
	results := make([]chunkResult, len(ranges))
	var (
		progressMu sync.Mutex
		done       int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.global.Concurrency)
	for _, r := range ranges {
		g.Go(func() error {
			res, err := c.backupChunk(gctx, log, runID, r)
			if err != nil {
				return fmt.Errorf("backup: chunk %d [%d, %d): %w", r.index, r.start, r.end, err)
			}
			results[r.index] = res
			if c.progress != nil {
				progressMu.Lock()
				done++
				c.progress(done, len(ranges))
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.ErrorContext(ctx, "state snapshot backup failed", "error", err)
		return "", err
	}

	// Seal: the chained proofs must end at the root hash.
	v := snapshot.NewVerifier(root)
	for _, res := range results {
		if err := v.AddProof(res.left, res.right, res.ref.FirstKey, res.ref.LastKey); err != nil {
			return "", fmt.Errorf("backup: seal: %w", err)
		}
	}
	if v.NumLeaves() != count {
		return "", fmt.Errorf("backup: seal: %w", domain.ErrCorruption.WithDetailsf(
			"chunks cover %d of %d items", v.NumLeaves(), count))
	}
	if err := v.Finish(); err != nil {
		return "", fmt.Errorf("backup: seal: %w", err)
	}

	m := &snapshot.Manifest{
		Version:      version,
		RootHash:     root,
		MaxChunkSize: c.global.MaxChunkSize,
		ItemCount:    count,
		Chunks:       make([]snapshot.ChunkRef, len(results)),
	}
	for i, res := range results {
		m.Chunks[i] = res.ref
	}

	handle, err := c.writeManifest(ctx, storage.ManifestIdentifier(version, runID), m)
	if err != nil {
		return "", fmt.Errorf("backup: write manifest: %w", err)
	}

	log.InfoContext(ctx, "state snapshot backup sealed",
		"manifest", handle,
		"items", count,
		"chunks", len(m.Chunks))
	return handle, nil
}

// backupChunk fetches one range, verifies it against its proofs and
// stores it. Fetching is retried on connection errors; storing is not.
func (c *StateSnapshotController) backupChunk(ctx context.Context, log *slog.Logger, runID string, r chunkRange) (chunkResult, error) {
	var chunk *snapshot.Chunk
	err := retry.Do(
		func() error {
			var err error
			chunk, err = c.fetchChunk(ctx, r)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(max(c.global.RetryAttempts, 1)),
		retry.Delay(c.global.RetryDelay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrConnection)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.metrics.BackupRetries.Inc()
			log.WarnContext(ctx, "retrying snapshot range",
				"chunk", r.index,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		return chunkResult{}, err
	}

	if err := snapshot.VerifyChunk(chunk.Left, chunk.Entries, chunk.Right); err != nil {
		return chunkResult{}, err
	}

	handle, size, err := c.writeChunk(ctx, storage.ChunkIdentifier(runID, r.index), chunk)
	if err != nil {
		return chunkResult{}, err
	}
	c.metrics.RecordBackupChunk(len(chunk.Entries), int(size))
	log.DebugContext(ctx, "chunk written",
		"chunk", r.index,
		"handle", handle,
		"entries", len(chunk.Entries),
		"bytes", size)

	return chunkResult{
		ref: snapshot.ChunkRef{
			Handle:      handle,
			FirstKey:    chunk.FirstKey(),
			LastKey:     chunk.LastKey(),
			FirstIndex:  r.start,
			EntryCount:  uint64(len(chunk.Entries)),
			ProofDigest: chunk.Right.Digest(),
		},
		left:  chunk.Left,
		right: chunk.Right,
	}, nil
}

// fetchChunk streams one range and its bounding frontiers.
func (c *StateSnapshotController) fetchChunk(ctx context.Context, r chunkRange) (*snapshot.Chunk, error) {
	version := c.opt.Version

	left, err := c.client.GetStateRangeProof(ctx, version, r.start)
	if err != nil {
		return nil, err
	}
	right, err := c.client.GetStateRangeProof(ctx, version, r.end)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.GetStateSnapshot(ctx, version, r.start, r.end)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	entries := make([]domain.StateEntry, 0, r.end-r.start)
	for {
		entry, leaf, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if accumulator.LeafHash(entry.Key, entry.Value) != leaf {
			return nil, domain.ErrCorruption.WithDetailsf("leaf hash mismatch at index %d", r.start+uint64(len(entries)))
		}
		entries = append(entries, entry)
	}

	return &snapshot.Chunk{
		Version:    version,
		FirstIndex: r.start,
		Left:       left,
		Right:      right,
		Entries:    entries,
	}, nil
}

func (c *StateSnapshotController) writeChunk(ctx context.Context, id string, chunk *snapshot.Chunk) (string, int64, error) {
	w, err := c.store.CreateForWrite(ctx, id)
	if err != nil {
		return "", 0, err
	}
	cw := &countingWriter{w: w}
	if err := snapshot.WriteChunk(cw, chunk); err != nil {
		w.Abort()
		return "", 0, err
	}
	handle, err := w.Close()
	if err != nil {
		w.Abort()
		return "", 0, err
	}
	return handle, cw.n, nil
}

func (c *StateSnapshotController) writeManifest(ctx context.Context, id string, m *snapshot.Manifest) (string, error) {
	w, err := c.store.CreateForWrite(ctx, id)
	if err != nil {
		return "", err
	}
	if err := snapshot.WriteManifest(w, m); err != nil {
		w.Abort()
		return "", err
	}
	handle, err := w.Close()
	if err != nil {
		w.Abort()
		return "", err
	}
	return handle, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

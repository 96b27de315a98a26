package backupservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	lru "github.com/hashicorp/golang-lru/v2"

	backupv1 "github.com/yndnr/ledgerbackup/api/backup/v1"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/ledger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
	"github.com/yndnr/ledgerbackup/internal/telemetry/metric"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// Config configures the backup service.
type Config struct {
	// ProofCacheSize is the number of range proofs kept in memory.
	// Default: 1024
	ProofCacheSize int `koanf:"proof_cache_size"`

	// MaxRangeLength caps the number of entries one
	// GetStateSnapshotRange call may request. Zero means unlimited.
	MaxRangeLength uint64 `koanf:"max_range_length"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		ProofCacheSize: 1024,
	}
}

type proofKey struct {
	version domain.Version
	index   uint64
}

// Service implements the backup service procedures.
type Service struct {
	db       ledger.DbReader
	proofs   *lru.Cache[proofKey, accumulator.Frontier]
	maxRange uint64

	metrics *metric.Registry
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metric registry. Defaults to metric.Global().
func WithMetrics(r *metric.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// New creates a service reading from db.
func New(db ledger.DbReader, cfg Config, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("backup service requires a ledger reader")
	}
	size := cfg.ProofCacheSize
	if size <= 0 {
		size = DefaultConfig().ProofCacheSize
	}
	proofs, err := lru.New[proofKey, accumulator.Frontier](size)
	if err != nil {
		return nil, fmt.Errorf("backupservice: create proof cache: %w", err)
	}

	s := &Service{
		db:       db,
		proofs:   proofs,
		maxRange: cfg.MaxRangeLength,
		metrics:  metric.Global(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.WithContextIDs(s.logger)
	return s, nil
}

// Handler returns the path prefix and the HTTP handler serving all
// procedures. The JSON codec and the default interceptors are always
// installed; opts are applied after them.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(backupv1.Codec{}),
		connect.WithInterceptors(DefaultInterceptors(s.logger, s.metrics)...),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(backupv1.BackupServiceGetLatestStateRootProcedure, connect.NewUnaryHandler(
		backupv1.BackupServiceGetLatestStateRootProcedure,
		s.GetLatestStateRoot,
		opts...,
	))
	mux.Handle(backupv1.BackupServiceGetStateItemCountProcedure, connect.NewUnaryHandler(
		backupv1.BackupServiceGetStateItemCountProcedure,
		s.GetStateItemCount,
		opts...,
	))
	mux.Handle(backupv1.BackupServiceGetStateSnapshotRangeProcedure, connect.NewServerStreamHandler(
		backupv1.BackupServiceGetStateSnapshotRangeProcedure,
		s.GetStateSnapshotRange,
		opts...,
	))
	mux.Handle(backupv1.BackupServiceGetStateRangeProofProcedure, connect.NewUnaryHandler(
		backupv1.BackupServiceGetStateRangeProofProcedure,
		s.GetStateRangeProof,
		opts...,
	))
	return "/" + backupv1.BackupServiceName + "/", mux
}

// GetLatestStateRoot returns the latest committed version and its root hash.
func (s *Service) GetLatestStateRoot(
	ctx context.Context,
	req *connect.Request[backupv1.GetLatestStateRootRequest],
) (*connect.Response[backupv1.GetLatestStateRootResponse], error) {
	version, root, err := s.db.GetLatestStateRoot(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&backupv1.GetLatestStateRootResponse{
		Version:  version,
		RootHash: root.String(),
	}), nil
}

// GetStateItemCount returns the number of entries at the requested version.
func (s *Service) GetStateItemCount(
	ctx context.Context,
	req *connect.Request[backupv1.GetStateItemCountRequest],
) (*connect.Response[backupv1.GetStateItemCountResponse], error) {
	count, err := s.db.GetStateItemCount(ctx, req.Msg.Version)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&backupv1.GetStateItemCountResponse{Count: count}), nil
}

// GetStateSnapshotRange streams entries [Start, End) of the snapshot in key
// order, each with its accumulator leaf hash.
func (s *Service) GetStateSnapshotRange(
	ctx context.Context,
	req *connect.Request[backupv1.GetStateSnapshotRangeRequest],
	stream *connect.ServerStream[backupv1.StateSnapshotItem],
) error {
	msg := req.Msg
	count, err := s.db.GetStateItemCount(ctx, msg.Version)
	if err != nil {
		return toConnectError(err)
	}
	if msg.Start > msg.End || msg.End > count {
		return toConnectError(domain.ErrInvalidArgument.WithDetailsf(
			"range [%d, %d) outside snapshot of %d items", msg.Start, msg.End, count))
	}
	if s.maxRange > 0 && msg.End-msg.Start > s.maxRange {
		return toConnectError(domain.ErrInvalidArgument.WithDetailsf(
			"range of %d items exceeds limit %d", msg.End-msg.Start, s.maxRange))
	}

	var sent uint64
	err = s.db.IterateStateSnapshot(ctx, msg.Version, msg.Start, msg.End,
		func(index uint64, entry domain.StateEntry) error {
			err := stream.Send(&backupv1.StateSnapshotItem{
				Index:    index,
				Key:      entry.Key,
				Value:    entry.Value,
				LeafHash: accumulator.LeafHash(entry.Key, entry.Value).String(),
			})
			if err != nil {
				return err
			}
			sent++
			return nil
		})
	s.metrics.StreamedEntries.Add(float64(sent))
	if err != nil {
		return toConnectError(err)
	}
	if want := msg.End - msg.Start; sent != want {
		// The snapshot at a committed version is immutable.
		return connect.NewError(connect.CodeInternal,
			fmt.Errorf("streamed %d of %d entries at version %d", sent, want, msg.Version))
	}

	s.logger.DebugContext(ctx, "snapshot range streamed",
		"version", msg.Version,
		"start", msg.Start,
		"end", msg.End)
	return nil
}

// GetStateRangeProof returns the frontier after the first Index entries.
func (s *Service) GetStateRangeProof(
	ctx context.Context,
	req *connect.Request[backupv1.GetStateRangeProofRequest],
) (*connect.Response[backupv1.GetStateRangeProofResponse], error) {
	key := proofKey{version: req.Msg.Version, index: req.Msg.Index}

	frontier, ok := s.proofs.Get(key)
	s.metrics.RecordProofCache(ok)
	if !ok {
		var err error
		frontier, err = s.db.GetStateRangeProof(ctx, key.version, key.index)
		if err != nil {
			return nil, toConnectError(err)
		}
		s.proofs.Add(key, frontier.Clone())
	}

	return connect.NewResponse(&backupv1.GetStateRangeProofResponse{
		Frontier: backupv1.FrontierFromAccumulator(frontier),
	}), nil
}

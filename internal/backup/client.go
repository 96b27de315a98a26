package backup

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	backupv1 "github.com/yndnr/ledgerbackup/api/backup/v1"
	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/infra/tlsroots"
	"github.com/yndnr/ledgerbackup/pkg/accumulator"
)

// ClientConfig configures a backup service client.
type ClientConfig struct {
	// Address is host:port or a base URL of the backup service.
	Address string `koanf:"address"`

	// RateLimit caps outgoing calls per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the limiter burst. Defaults to 1 when RateLimit is set.
	RateBurst int `koanf:"rate_burst"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `koanf:"dial_timeout"`

	// TLSCAFile adds trusted CAs for https addresses.
	TLSCAFile string `koanf:"tls_ca_file"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:     "127.0.0.1:6186",
		DialTimeout: 5 * time.Second,
	}
}

// Options returns the client options described by cfg.
func (cfg ClientConfig) Options() ([]ClientOption, error) {
	var opts []ClientOption
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	if cfg.DialTimeout > 0 || cfg.TLSCAFile != "" {
		var tlsConfig *tls.Config
		if cfg.TLSCAFile != "" {
			c, err := tlsroots.LoadClientTLSConfig(cfg.TLSCAFile)
			if err != nil {
				return nil, domain.ErrInvalidArgument.WithDetails("client.tls_ca_file").WithCause(err)
			}
			tlsConfig = c
		}
		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = DefaultClientConfig().DialTimeout
		}
		opts = append(opts, WithHTTPClient(newHTTPClient(dialTimeout, tlsConfig)))
	}
	return opts, nil
}

type clientOptions struct {
	httpClient connect.HTTPClient
	limiter    *rate.Limiter
	logger     *slog.Logger
	connect    []connect.ClientOption
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(c connect.HTTPClient) ClientOption {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRateLimit limits outgoing calls to limit per second.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(o *clientOptions) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConnectOptions appends raw Connect client options.
func WithConnectOptions(opts ...connect.ClientOption) ClientOption {
	return func(o *clientOptions) {
		o.connect = append(o.connect, opts...)
	}
}

// Client talks to one backup service. It only exposes the raw,
// index-addressable operations; chunking is the controller's concern.
//
// A Client is safe for concurrent use. Any number of clients may coexist.
type Client struct {
	baseURL string

	latest *connect.Client[backupv1.GetLatestStateRootRequest, backupv1.GetLatestStateRootResponse]
	count  *connect.Client[backupv1.GetStateItemCountRequest, backupv1.GetStateItemCountResponse]
	rng    *connect.Client[backupv1.GetStateSnapshotRangeRequest, backupv1.StateSnapshotItem]
	proof  *connect.Client[backupv1.GetStateRangeProofRequest, backupv1.GetStateRangeProofResponse]

	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client for the service at address.
func NewClient(address string, opts ...ClientOption) *Client {
	o := clientOptions{
		httpClient: newHTTPClient(DefaultClientConfig().DialTimeout, nil),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL := normalizeAddress(address)
	copts := append([]connect.ClientOption{connect.WithCodec(backupv1.Codec{})}, o.connect...)

	return &Client{
		baseURL: baseURL,
		latest: connect.NewClient[backupv1.GetLatestStateRootRequest, backupv1.GetLatestStateRootResponse](
			o.httpClient, baseURL+backupv1.BackupServiceGetLatestStateRootProcedure, copts...),
		count: connect.NewClient[backupv1.GetStateItemCountRequest, backupv1.GetStateItemCountResponse](
			o.httpClient, baseURL+backupv1.BackupServiceGetStateItemCountProcedure, copts...),
		rng: connect.NewClient[backupv1.GetStateSnapshotRangeRequest, backupv1.StateSnapshotItem](
			o.httpClient, baseURL+backupv1.BackupServiceGetStateSnapshotRangeProcedure, copts...),
		proof: connect.NewClient[backupv1.GetStateRangeProofRequest, backupv1.GetStateRangeProofResponse](
			o.httpClient, baseURL+backupv1.BackupServiceGetStateRangeProofProcedure, copts...),
		limiter: o.limiter,
		logger:  o.logger,
	}
}

// BaseURL returns the base URL of the service.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetLatestStateRoot returns the latest committed version and its root hash.
func (c *Client) GetLatestStateRoot(ctx context.Context) (domain.Version, accumulator.HashValue, error) {
	if err := c.wait(ctx); err != nil {
		return 0, accumulator.HashValue{}, err
	}
	resp, err := c.latest.CallUnary(ctx, connect.NewRequest(&backupv1.GetLatestStateRootRequest{}))
	if err != nil {
		return 0, accumulator.HashValue{}, fromConnectError("get latest state root", err)
	}
	root, err := accumulator.ParseHashValue(resp.Msg.RootHash)
	if err != nil {
		return 0, accumulator.HashValue{}, domain.ErrConnection.WithDetails("malformed root hash in response").WithCause(err)
	}
	return resp.Msg.Version, root, nil
}

// GetStateItemCount returns the number of entries in the snapshot at version.
func (c *Client) GetStateItemCount(ctx context.Context, version domain.Version) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	resp, err := c.count.CallUnary(ctx, connect.NewRequest(&backupv1.GetStateItemCountRequest{Version: version}))
	if err != nil {
		return 0, fromConnectError("get state item count", err)
	}
	return resp.Msg.Count, nil
}

// GetStateSnapshot opens a stream over entries [start, end) of the snapshot
// at version. The stream must be closed by the caller.
func (c *Client) GetStateSnapshot(ctx context.Context, version domain.Version, start, end uint64) (*SnapshotStream, error) {
	if start > end {
		return nil, domain.ErrInvalidArgument.WithDetailsf("range [%d, %d)", start, end)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	stream, err := c.rng.CallServerStream(ctx, connect.NewRequest(&backupv1.GetStateSnapshotRangeRequest{
		Version: version,
		Start:   start,
		End:     end,
	}))
	if err != nil {
		return nil, fromConnectError("get state snapshot", err)
	}
	return &SnapshotStream{stream: stream, next: start, end: end}, nil
}

// GetStateRangeProof returns the accumulator frontier after the first
// index entries of the snapshot at version.
func (c *Client) GetStateRangeProof(ctx context.Context, version domain.Version, index uint64) (accumulator.Frontier, error) {
	if err := c.wait(ctx); err != nil {
		return accumulator.Frontier{}, err
	}
	resp, err := c.proof.CallUnary(ctx, connect.NewRequest(&backupv1.GetStateRangeProofRequest{
		Version: version,
		Index:   index,
	}))
	if err != nil {
		return accumulator.Frontier{}, fromConnectError("get state range proof", err)
	}
	f, err := resp.Msg.Frontier.ToAccumulator()
	if err != nil {
		return accumulator.Frontier{}, domain.ErrConnection.WithDetails("malformed frontier in response").WithCause(err)
	}
	if f.NumLeaves != index {
		return accumulator.Frontier{}, domain.ErrConnection.WithDetailsf("frontier covers %d leaves, asked for %d", f.NumLeaves, index)
	}
	return f, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// SnapshotStream is a finite, lazy sequence over one requested range.
// A failed stream is not resumable; request the range again.
type SnapshotStream struct {
	stream *connect.ServerStreamForClient[backupv1.StateSnapshotItem]
	next   uint64
	end    uint64
	err    error
}

// Next returns the next entry and its leaf hash. It returns io.EOF once
// the whole range was received. Transport failures and short streams
// return domain.ErrConnection.
func (s *SnapshotStream) Next() (domain.StateEntry, accumulator.HashValue, error) {
	if s.err != nil {
		return domain.StateEntry{}, accumulator.HashValue{}, s.err
	}
	entry, leaf, err := s.receive()
	if err != nil {
		s.err = err
	}
	return entry, leaf, err
}

func (s *SnapshotStream) receive() (domain.StateEntry, accumulator.HashValue, error) {
	if !s.stream.Receive() {
		if err := s.stream.Err(); err != nil {
			return domain.StateEntry{}, accumulator.HashValue{}, fromConnectError("receive snapshot entry", err)
		}
		if s.next != s.end {
			return domain.StateEntry{}, accumulator.HashValue{}, domain.ErrConnection.WithDetailsf(
				"stream ended at index %d, expected %d", s.next, s.end)
		}
		return domain.StateEntry{}, accumulator.HashValue{}, io.EOF
	}

	msg := s.stream.Msg()
	if msg.Index != s.next || s.next >= s.end {
		return domain.StateEntry{}, accumulator.HashValue{}, domain.ErrConnection.WithDetailsf(
			"unexpected entry index %d, expected %d", msg.Index, s.next)
	}
	leaf, err := accumulator.ParseHashValue(msg.LeafHash)
	if err != nil {
		return domain.StateEntry{}, accumulator.HashValue{}, domain.ErrConnection.WithDetailsf(
			"malformed leaf hash at index %d", msg.Index).WithCause(err)
	}
	s.next++

	value := msg.Value
	if value == nil {
		value = []byte{}
	}
	return domain.StateEntry{Key: msg.Key, Value: value}, leaf, nil
}

// Close releases the underlying stream.
func (s *SnapshotStream) Close() error {
	return s.stream.Close()
}

// fromConnectError maps a Connect error to the domain taxonomy.
// Context cancellation is returned as is.
func fromConnectError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return domain.ErrNotFound.WithDetails(op).WithCause(err)
	case connect.CodeInvalidArgument:
		return domain.ErrInvalidArgument.WithDetails(op).WithCause(err)
	case connect.CodeDataLoss:
		return domain.ErrCorruption.WithDetails(op).WithCause(err)
	default:
		return domain.ErrConnection.WithDetails(op).WithCause(err)
	}
}

func normalizeAddress(address string) string {
	baseURL := strings.TrimRight(address, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return baseURL
}

// newHTTPClient returns a client without an overall timeout; snapshot
// streams are bounded by their context instead.
func newHTTPClient(dialTimeout time.Duration, tlsConfig *tls.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	transport.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: transport}
}

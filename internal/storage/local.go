package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
)

const (
	lockFileName   = ".lock"
	lockRetryDelay = 10 * time.Millisecond
	dirPerm        = 0750
	filePerm       = 0640
)

// LocalFS stores artifacts as files under a root directory.
//
// Handles are the identifiers themselves. Publication takes a cross-process
// file lock so that concurrent tools sharing a directory never both publish
// the same identifier; publishMu does the same between goroutines.
type LocalFS struct {
	root   string
	lock   *flock.Flock
	logger *slog.Logger

	publishMu sync.Mutex
}

var _ BackupStorage = (*LocalFS)(nil)

// NewLocalFS opens (or creates) a store rooted at dir.
func NewLocalFS(dir string, log *slog.Logger) (*LocalFS, error) {
	if dir == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("storage dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, storageErr("resolve", dir, err)
	}
	for _, sub := range []string{abs, filepath.Join(abs, ChunksDir), filepath.Join(abs, ManifestsDir)} {
		if err := os.MkdirAll(sub, dirPerm); err != nil {
			return nil, storageErr("mkdir", sub, err)
		}
	}

	return &LocalFS{
		root:   abs,
		lock:   flock.New(filepath.Join(abs, lockFileName)),
		logger: logger.WithContextIDs(log),
	}, nil
}

// Root returns the absolute root directory.
func (l *LocalFS) Root() string {
	return l.root
}

func (l *LocalFS) path(id string) string {
	return filepath.Join(l.root, filepath.FromSlash(id))
}

// CreateForWrite implements BackupStorage.
func (l *LocalFS) CreateForWrite(ctx context.Context, identifier string) (Writer, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final := l.path(identifier)
	if _, err := os.Lstat(final); err == nil {
		return nil, domain.ErrAlreadyExists.WithDetails(identifier)
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, storageErr("mkdir", identifier, err)
	}
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, storageErr("create", identifier, err)
	}

	return &localWriter{
		fs:    l,
		ctx:   ctx,
		id:    identifier,
		final: final,
		file:  f,
	}, nil
}

type localWriter struct {
	fs    *LocalFS
	ctx   context.Context
	id    string
	final string
	file  *os.File
	done  bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storageErr("write", w.id, os.ErrClosed)
	}
	n, err := w.file.Write(p)
	return n, storageErr("write", w.id, err)
}

func (w *localWriter) Close() (string, error) {
	if w.done {
		return "", storageErr("close", w.id, os.ErrClosed)
	}
	w.done = true
	tmp := w.file.Name()
	defer os.Remove(tmp)

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return "", storageErr("sync", w.id, err)
	}
	if err := w.file.Close(); err != nil {
		return "", storageErr("close", w.id, err)
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		return "", storageErr("chmod", w.id, err)
	}

	w.fs.publishMu.Lock()
	defer w.fs.publishMu.Unlock()

	locked, err := w.fs.lock.TryLockContext(w.ctx, lockRetryDelay)
	if err != nil {
		return "", storageErr("lock", w.id, err)
	}
	if !locked {
		return "", storageErr("lock", w.id, fmt.Errorf("lock not acquired"))
	}
	defer w.fs.lock.Unlock()

	// Link fails if the target exists, which makes publication no-clobber.
	if err := os.Link(tmp, w.final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", domain.ErrAlreadyExists.WithDetails(w.id)
		}
		return "", storageErr("publish", w.id, err)
	}
	if err := syncDir(filepath.Dir(w.final)); err != nil {
		w.fs.logger.WarnContext(w.ctx, "sync artifact dir failed", "identifier", w.id, "error", err)
	}

	w.fs.logger.DebugContext(w.ctx, "artifact published", "identifier", w.id)
	return w.id, nil
}

func (w *localWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	os.Remove(w.file.Name())
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// OpenForRead implements BackupStorage.
func (l *LocalFS) OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := ValidateIdentifier(handle); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(handle))
	if err != nil {
		return nil, storageErr("open", handle, err)
	}
	return f, nil
}

// Exists implements BackupStorage.
func (l *LocalFS) Exists(ctx context.Context, identifier string) (bool, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return false, err
	}
	_, err := os.Stat(l.path(identifier))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("stat", identifier, err)
	}
}

// List implements BackupStorage.
func (l *LocalFS) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) || d.Name() == lockFileName {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

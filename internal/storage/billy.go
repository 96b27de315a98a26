package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
	"github.com/yndnr/ledgerbackup/internal/telemetry/logger"
)

// BillyFS stores artifacts on a go-billy filesystem.
//
// Every filesystem call holds mu: memfs keeps its tree in unguarded maps.
// Publication checks the target and renames the temp file under the write
// lock, so write-once holds for all writers sharing one BillyFS. Handles are
// the identifiers themselves.
type BillyFS struct {
	fs     billy.Filesystem
	logger *slog.Logger

	mu sync.RWMutex
}

var _ BackupStorage = (*BillyFS)(nil)

// NewBillyFS wraps fs.
func NewBillyFS(fs billy.Filesystem, log *slog.Logger) *BillyFS {
	return &BillyFS{fs: fs, logger: logger.WithContextIDs(log)}
}

// NewMemory returns an in-memory store.
func NewMemory(log *slog.Logger) *BillyFS {
	return NewBillyFS(memfs.New(), log)
}

// CreateForWrite implements BackupStorage.
func (b *BillyFS) CreateForWrite(ctx context.Context, identifier string) (Writer, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.fs.Lstat(identifier); err == nil {
		return nil, domain.ErrAlreadyExists.WithDetails(identifier)
	}

	dir := path.Dir(identifier)
	if err := b.fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, storageErr("mkdir", identifier, err)
	}
	f, err := b.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return nil, storageErr("create", identifier, err)
	}
	return &billyWriter{fs: b, ctx: ctx, id: identifier, file: f}, nil
}

type billyWriter struct {
	fs   *BillyFS
	ctx  context.Context
	id   string
	file billy.File
	done bool
}

func (w *billyWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, storageErr("write", w.id, os.ErrClosed)
	}
	n, err := w.file.Write(p)
	return n, storageErr("write", w.id, err)
}

func (w *billyWriter) Close() (string, error) {
	if w.done {
		return "", storageErr("close", w.id, os.ErrClosed)
	}
	w.done = true
	tmp := w.file.Name()

	closeErr := w.file.Close()

	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()

	if closeErr != nil {
		w.fs.fs.Remove(tmp)
		return "", storageErr("close", w.id, closeErr)
	}

	if _, err := w.fs.fs.Lstat(w.id); err == nil {
		w.fs.fs.Remove(tmp)
		return "", domain.ErrAlreadyExists.WithDetails(w.id)
	}
	if err := w.fs.fs.Rename(tmp, w.id); err != nil {
		w.fs.fs.Remove(tmp)
		return "", storageErr("publish", w.id, err)
	}

	w.fs.logger.DebugContext(w.ctx, "artifact published", "identifier", w.id)
	return w.id, nil
}

func (w *billyWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()

	w.fs.mu.Lock()
	w.fs.fs.Remove(w.file.Name())
	w.fs.mu.Unlock()
}

// OpenForRead implements BackupStorage.
func (b *BillyFS) OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error) {
	if err := ValidateIdentifier(handle); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	f, err := b.fs.Open(handle)
	b.mu.RUnlock()
	if err != nil {
		return nil, storageErr("open", handle, err)
	}
	return f, nil
}

// Exists implements BackupStorage.
func (b *BillyFS) Exists(ctx context.Context, identifier string) (bool, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return false, err
	}
	b.mu.RLock()
	_, err := b.fs.Stat(identifier)
	b.mu.RUnlock()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storageErr("stat", identifier, err)
	}
}

// List implements BackupStorage. The walk starts at the filesystem's
// relative root; bound OS filesystems reject absolute paths.
func (b *BillyFS) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	err := util.Walk(b.fs, ".", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		id := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "/"))
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

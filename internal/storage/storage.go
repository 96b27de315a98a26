package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yndnr/ledgerbackup/internal/core/domain"
)

// Identifier areas.
const (
	ChunksDir    = "chunks"
	ManifestsDir = "manifests"
)

// Writer receives the bytes of one artifact.
//
// Nothing is visible to readers until Close publishes the artifact. Abort
// discards a write in progress; calling it after Close is a no-op.
type Writer interface {
	io.Writer

	// Close flushes and publishes the artifact and returns its handle.
	// Returns domain.ErrAlreadyExists if the identifier is taken.
	Close() (string, error)

	// Abort discards the artifact.
	Abort()
}

// BackupStorage is a write-once artifact store.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type BackupStorage interface {
	// CreateForWrite starts a new artifact under identifier.
	CreateForWrite(ctx context.Context, identifier string) (Writer, error)

	// OpenForRead opens a published artifact by handle.
	OpenForRead(ctx context.Context, handle string) (io.ReadCloser, error)

	// Exists reports whether an artifact is published under identifier.
	Exists(ctx context.Context, identifier string) (bool, error)

	// List returns the handles of published artifacts whose identifier
	// starts with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ChunkIdentifier names chunk index of a backup run.
func ChunkIdentifier(runID string, index int) string {
	return fmt.Sprintf("%s/%s/%06d.chunk", ChunksDir, runID, index)
}

// ManifestIdentifier names the manifest of a backup run.
func ManifestIdentifier(version domain.Version, runID string) string {
	return fmt.Sprintf("%s/state_ver_%d.%s.manifest", ManifestsDir, version, runID)
}

// ValidateIdentifier checks that id is a clean relative slash path.
func ValidateIdentifier(id string) error {
	switch {
	case id == "":
		return domain.ErrInvalidArgument.WithDetails("empty identifier")
	case strings.HasPrefix(id, "/"):
		return domain.ErrInvalidArgument.WithDetailsf("identifier %q is absolute", id)
	case strings.ContainsAny(id, "\\\x00"):
		return domain.ErrInvalidArgument.WithDetailsf("identifier %q contains a forbidden character", id)
	case path.Clean(id) != id:
		return domain.ErrInvalidArgument.WithDetailsf("identifier %q is not clean", id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == ".." || part == "." {
			return domain.ErrInvalidArgument.WithDetailsf("identifier %q escapes the store", id)
		}
		if strings.HasPrefix(part, tempPrefix) {
			return domain.ErrInvalidArgument.WithDetailsf("identifier %q uses a reserved name", id)
		}
	}
	return nil
}

// tempPrefix marks in-progress files. Listing skips them.
const tempPrefix = ".tmp-"

func storageErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return domain.ErrStorage.WithDetailsf("%s %s", op, id).WithCause(err)
}

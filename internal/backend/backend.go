// Package backend defines the capability set a repository needs from its
// underlying storage, independent of transport. Concrete remote backends
// (S3, Azure, GCS, SFTP, ...) are out of scope for this core; only the
// local filesystem and in-memory implementations live under this module,
// since every planner/executor test and the CLI's local mode need one.
package backend

import (
	"context"

	"github.com/arkiveio/arkive/internal/model"
)

// FileInfo is the metadata List/Stat return about one stored file.
type FileInfo struct {
	Name string
	Size int64
}

// Backend is the capability set described in spec §6: list, read, write,
// and delete files, keyed by FileType and hex-encoded id, plus the ability
// to initialize a fresh repository location.
type Backend interface {
	// Create initializes the backend's storage location. It must be
	// idempotent: calling it on an already-initialized location is a no-op.
	Create(ctx context.Context) error

	// List calls fn once for every file of type t, in no particular order.
	// Iteration stops at the first error returned by fn.
	List(ctx context.Context, t model.FileType, fn func(model.Handle, FileInfo) error) error

	// ReadFull returns the complete contents of the named file.
	ReadFull(ctx context.Context, h model.Handle) ([]byte, error)

	// ReadPartial returns length bytes starting at offset within the named
	// file. cacheable is a hint that the range is safe to serve from a
	// local cache tier even if the backend is a cold remote store.
	ReadPartial(ctx context.Context, h model.Handle, cacheable bool, offset, length int64) ([]byte, error)

	// WriteFile stores data under the given handle. It must fail if the
	// handle already exists (packs and index files are write-once).
	WriteFile(ctx context.Context, h model.Handle, data []byte) error

	// DeleteList removes every handle in hs. progress, if non-nil, is
	// invoked once per successfully removed handle.
	DeleteList(ctx context.Context, cacheable bool, hs []model.Handle, progress func(model.Handle)) error

	// Stat returns metadata for a single file, or an error satisfying
	// os.IsNotExist if it does not exist.
	Stat(ctx context.Context, h model.Handle) (FileInfo, error)
}

// Warmer is an optional capability: backends whose storage has a cold tier
// (e.g. archival cloud storage) can implement it so the prune/restore
// executors can request blocks of packs be made hot before reading them.
type Warmer interface {
	Warmup(ctx context.Context, handles []model.Handle) error
}

// Package copy replicates snapshots between repositories, reading whatever
// data and tree blobs a destination repository doesn't already have from a
// source repository and writing them through the destination's own packer.
// A snapshot already present at the destination (by content, not id) is
// left alone; blobs already present at the destination are never re-read
// from the source.
package copy

import (
	"context"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
)

// ErrDestinationNotInitialized is returned by callers that check whether a
// destination repository exists before calling Run. Run itself never
// creates a repository; copying into an uninitialized destination is the
// caller's job (see repository.Create), not this package's.
var ErrDestinationNotInitialized = errors.New("destination repository not initialized")

// Source is the read-only surface copy needs from the repository snapshots
// are copied from.
type Source interface {
	model.BlobLoader
	data.SnapshotRepository
}

// Dest is the surface copy needs from the repository snapshots are copied
// to: everything Source has, plus the ability to save blobs and flush them
// into packs and an index. A *repository.Repository paired with a
// data.BackendSnapshotRepository (as cmd/arkive's repoHandle does) satisfies
// it; *repository.Repository alone lacks the snapshot store.
type Dest interface {
	model.BlobLoader
	model.BlobSaver
	data.SnapshotRepository
	FlushAll(ctx context.Context, idx *index.Indexer) error
}

// Options tunes a copy run.
type Options struct {
	// Workers bounds how many blob copies run concurrently. Zero picks a
	// sane default.
	Workers int
}

// Stats summarizes what one copy run did.
type Stats struct {
	SnapshotsCopied  int
	SnapshotsSkipped int
	BlobsCopied      int
	BlobsSkipped     int
}

package index

import (
	"context"
	"sync"
	"time"

	"github.com/arkiveio/arkive/internal/model"
	"github.com/puzpuzpuz/xsync/v3"
)

// Flush policy thresholds: an Indexer writes out its current buffer once it
// has accumulated this many blob entries or has been open this long,
// whichever comes first.
const (
	MaxBlobsPerFile = 50000
	MaxFileAge      = 300 * time.Second
)

// Indexer accumulates newly-written packs into in-memory index files and
// flushes them to the backend as they fill up. It is the write side of the
// index subsystem; MasterIndex is the read side.
//
// When track is true the Indexer also maintains a concurrent membership set
// of every blob handle it has ever recorded, so a caller can test "have I
// already indexed this blob" without waiting for a flush. new_unindexed
// indexers (track=false) skip this set entirely and never report membership;
// the copy engine and the CLI commands use such indexers.
type Indexer struct {
	repo  Repository
	track bool

	mu      sync.Mutex
	current File
	opened  time.Time
	blobs   int

	seen *xsync.MapOf[model.BlobHandle, struct{}]

	// Saved collects the ids of every index file flushed so far.
	Saved model.IDs
}

// NewIndexer creates an Indexer that writes through repo. track enables the
// in-memory blob membership set.
func NewIndexer(repo Repository, track bool) *Indexer {
	ix := &Indexer{repo: repo, track: track, opened: time.Now()}
	if track {
		ix.seen = xsync.NewMapOf[model.BlobHandle, struct{}]()
	}
	return ix
}

// Has reports whether handle has been recorded by this Indexer (in the
// current buffer or an already-flushed file). Always false for a
// new_unindexed Indexer.
func (ix *Indexer) Has(handle model.BlobHandle) bool {
	if ix.seen == nil {
		return false
	}
	_, ok := ix.seen.Load(handle)
	return ok
}

// Add records a newly-written live pack. It may trigger a synchronous flush
// if the buffer has crossed a threshold.
func (ix *Indexer) Add(ctx context.Context, p Pack) error {
	return ix.add(ctx, p, false)
}

// AddRemove records a pack that is being marked for deletion (a tombstone),
// e.g. a superseded pack the prune executor just finished repacking.
func (ix *Indexer) AddRemove(ctx context.Context, p Pack) error {
	return ix.add(ctx, p, true)
}

func (ix *Indexer) add(ctx context.Context, p Pack, remove bool) error {
	ix.mu.Lock()
	if remove {
		ix.current.PacksToDelete = append(ix.current.PacksToDelete, p)
	} else {
		ix.current.Packs = append(ix.current.Packs, p)
	}
	ix.blobs += len(p.Blobs)
	shouldFlush := ix.blobs >= MaxBlobsPerFile || time.Since(ix.opened) >= MaxFileAge
	ix.mu.Unlock()

	if ix.seen != nil {
		for _, b := range p.Blobs {
			ix.seen.Store(b.BlobHandle, struct{}{})
		}
	}

	if shouldFlush {
		return ix.Flush(ctx)
	}
	return nil
}

// Flush writes the current buffer to the backend as a new index file if it
// is non-empty, and resets the buffer. It is a no-op when the buffer is
// empty, so callers can call it speculatively.
func (ix *Indexer) Flush(ctx context.Context) error {
	ix.mu.Lock()
	if ix.current.IsEmpty() {
		ix.mu.Unlock()
		return nil
	}
	f := ix.current
	ix.current = File{}
	ix.blobs = 0
	ix.opened = time.Now()
	ix.mu.Unlock()

	id, err := ix.repo.SaveIndex(ctx, &f)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	ix.Saved = append(ix.Saved, id)
	ix.mu.Unlock()
	return nil
}

// Finalize flushes any remaining buffered entries, returning the full set of
// index file ids this Indexer has written over its lifetime.
func (ix *Indexer) Finalize(ctx context.Context) (model.IDs, error) {
	if err := ix.Flush(ctx); err != nil {
		return nil, err
	}
	return ix.Saved, nil
}

package copy

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/walker"
)

const defaultWorkers = 8

// Run copies every relevant snapshot in snapshots (and the trees and blobs
// it reaches) from src to dst, persisting the copied blobs through idx once
// everything has been read. A snapshot is relevant if dst doesn't already
// hold one with identical content (time, hostname, label, paths, tags,
// tree), ignoring id and parent.
func Run(ctx context.Context, src Source, dst Dest, snapshots []*data.Snapshot, idx *index.Indexer, opts Options) (Stats, error) {
	var stats Stats

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	existing, err := destSnapshotKeys(ctx, dst)
	if err != nil {
		return stats, err
	}

	var relevant []*data.Snapshot
	for _, sn := range snapshots {
		if existing[snapshotKey(sn)] {
			stats.SnapshotsSkipped++
			continue
		}
		relevant = append(relevant, sn)
	}

	var mu sync.Mutex
	copied := make(map[model.BlobHandle]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	copyBlob := func(t model.BlobType, id model.ID) {
		handle := model.BlobHandle{ID: id, Type: t}

		mu.Lock()
		if copied[handle] {
			mu.Unlock()
			return
		}
		copied[handle] = true
		mu.Unlock()

		if _, found := dst.LookupBlobSize(t, id); found {
			mu.Lock()
			stats.BlobsSkipped++
			mu.Unlock()
			return
		}

		g.Go(func() error {
			raw, err := src.LoadBlob(gctx, t, id, nil)
			if err != nil {
				return err
			}
			if _, _, _, err := dst.SaveBlob(gctx, t, raw, id, false); err != nil {
				return err
			}

			mu.Lock()
			stats.BlobsCopied++
			mu.Unlock()
			return nil
		})
	}

	for _, sn := range relevant {
		copyBlob(model.TreeBlob, sn.Tree)

		err := walker.Walk(gctx, src, sn.Tree, model.NewIDSet(), func(_ model.ID, _ string, node *data.Node, loadErr error) (bool, error) {
			if node == nil {
				return false, loadErr
			}
			switch node.Type {
			case data.NodeTypeFile:
				for _, id := range node.Content {
					copyBlob(model.DataBlob, id)
				}
			case data.NodeTypeDir:
				if node.Subtree != nil {
					copyBlob(model.TreeBlob, *node.Subtree)
				}
			}
			return false, nil
		})
		if err != nil {
			_ = g.Wait()
			return stats, err
		}
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	if err := dst.FlushAll(ctx, idx); err != nil {
		return stats, err
	}
	if idx != nil {
		if _, err := idx.Finalize(ctx); err != nil {
			return stats, err
		}
	}

	for _, sn := range relevant {
		clone := sn.Clone()
		// A snapshot's parent lives in the source repository and has no
		// meaning once copied; Original is set instead so the snapshot
		// that produced this copy can still be traced.
		clone.Parent = nil
		if clone.Original == nil {
			original := sn.ID
			clone.Original = &original
		}
		if _, err := dst.SaveSnapshot(ctx, clone); err != nil {
			return stats, err
		}
		stats.SnapshotsCopied++
	}

	return stats, nil
}

// snapshotKey builds the comparable key used for relevance: everything
// that identifies a snapshot's content except its id and parent.
func snapshotKey(sn *data.Snapshot) string {
	tags := append([]string(nil), sn.Tags...)
	sort.Strings(tags)
	paths := append([]string(nil), sn.Paths...)
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString(sn.Time.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	b.WriteByte('\x00')
	b.WriteString(sn.Hostname)
	b.WriteByte('\x00')
	b.WriteString(sn.Label)
	b.WriteByte('\x00')
	b.WriteString(strings.Join(paths, "\x01"))
	b.WriteByte('\x00')
	b.WriteString(strings.Join(tags, "\x01"))
	b.WriteByte('\x00')
	b.WriteString(sn.Tree.String())
	return b.String()
}

func destSnapshotKeys(ctx context.Context, dst Dest) (map[string]bool, error) {
	keys := make(map[string]bool)
	err := dst.ListSnapshotIDs(ctx, func(id model.ID) error {
		sn, err := dst.LoadSnapshot(ctx, id)
		if err != nil {
			return err
		}
		keys[snapshotKey(sn)] = true
		return nil
	})
	return keys, err
}

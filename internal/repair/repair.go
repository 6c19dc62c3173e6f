// Package repair rebuilds broken snapshots: trees that fail to load are
// replaced by an empty subtree, and files referencing content blobs the
// index no longer has are trimmed down to the content that is still
// present, both renamed with a ".repaired" suffix so the damage is visible
// in a listing. Snapshots that change are re-saved with their original id
// recorded and a "repaired" tag added; the damaged originals are deleted
// once every snapshot has been processed, only when Forget is set and the
// run is not a dry run.
package repair

import (
	"context"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/walker"
)

const repairedSuffix = ".repaired"

// Repository is the surface repair needs: blob I/O to rewrite trees, plus
// the snapshot store to load, save, and delete whole snapshots.
type Repository interface {
	model.BlobLoader
	model.BlobSaver
	data.SnapshotRepository
}

// Options configures a repair run.
type Options struct {
	// DryRun computes and reports what would change without saving new
	// snapshots or deleting old ones.
	DryRun bool
	// Forget deletes the original, broken snapshots once their repaired
	// replacements have been saved.
	Forget bool
}

// Stats summarizes what one repair run found.
type Stats struct {
	SnapshotsUnchanged int
	SnapshotsRepaired  int
	SnapshotsDeleted   int
}

// Run repairs every snapshot in snapshots, returning the new snapshot ids
// it saved (one per repaired snapshot, in input order; unchanged snapshots
// are omitted) and overall stats.
func Run(ctx context.Context, repo Repository, snapshots []*data.Snapshot, opts Options) ([]model.ID, Stats, error) {
	var stats Stats
	var newIDs []model.ID
	var toDelete model.IDs

	rewriter := walker.NewTreeRewriter(walker.RewriteOpts{
		RewriteNode:       repairNode(repo),
		RewriteFailedTree: repairFailedSubtree(ctx, repo),
	})

	for _, sn := range snapshots {
		newTree, err := rewriter.RewriteTree(ctx, repo, "/", sn.Tree)
		if err != nil {
			return newIDs, stats, err
		}

		switch {
		case newTree.IsNull():
			stats.SnapshotsDeleted++
			toDelete = append(toDelete, sn.ID)
		case newTree != sn.Tree:
			stats.SnapshotsRepaired++
			repaired := sn.Clone()
			repaired.Tags.Insert("repaired")
			original := sn.ID
			repaired.Original = &original
			repaired.Tree = newTree
			toDelete = append(toDelete, sn.ID)
			if !opts.DryRun {
				newID, err := repo.SaveSnapshot(ctx, repaired)
				if err != nil {
					return newIDs, stats, err
				}
				newIDs = append(newIDs, newID)
			}
		default:
			stats.SnapshotsUnchanged++
		}
	}

	if len(toDelete) > 0 && opts.Forget && !opts.DryRun {
		if err := repo.DeleteSnapshots(ctx, toDelete); err != nil {
			return newIDs, stats, err
		}
	}

	return newIDs, stats, nil
}

// repairFailedSubtree handles a tree blob that failed to load or parse. At
// the root, the whole snapshot is unsalvageable and is queued for deletion
// by returning a null id; anywhere else the subtree is replaced by a fresh
// empty tree, and the directory node pointing at it is renamed by
// repairNode's subtreeFailed flag.
func repairFailedSubtree(ctx context.Context, saver model.BlobSaver) func(id model.ID, path string, err error) (model.ID, error) {
	var emptyTreeID model.ID
	haveEmpty := false

	return func(_ model.ID, path string, _ error) (model.ID, error) {
		if path == "/" {
			return model.ID{}, nil
		}
		if !haveEmpty {
			id, err := data.NewTreeWriter(saver).Finalize(ctx)
			if err != nil {
				return model.ID{}, err
			}
			emptyTreeID = id
			haveEmpty = true
		}
		return emptyTreeID, nil
	}
}

// repairNode drops a file's missing content blobs and recomputes its size,
// and renames any node whose own content changed (directly, or because its
// subtree failed to load) with repairedSuffix so the repair is visible.
func repairNode(loader model.BlobLoader) func(node *data.Node, path string, subtreeFailed bool) *data.Node {
	return func(node *data.Node, _ string, subtreeFailed bool) *data.Node {
		if subtreeFailed {
			copied := *node
			copied.Name += repairedSuffix
			return &copied
		}

		if node.Type != data.NodeTypeFile {
			return node
		}

		ok := true
		var kept model.IDs
		var size uint64
		for _, id := range node.Content {
			n, found := loader.LookupBlobSize(model.DataBlob, id)
			if !found {
				ok = false
				continue
			}
			kept = append(kept, id)
			size += uint64(n)
		}
		if ok {
			return node
		}

		copied := *node
		copied.Content = kept
		copied.Size = size
		copied.Name += repairedSuffix
		return &copied
	}
}

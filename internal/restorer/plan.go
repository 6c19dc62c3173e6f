package restorer

import (
	"context"
	"time"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/walker"
)

// ExistingProbe lets PlanRestore inspect whatever is already on disk at the
// restore target without restorer needing to know how paths map to the
// filesystem.
type ExistingProbe interface {
	// Stat reports the size and modification time of an existing file at
	// path. ok is false if nothing exists there.
	Stat(path string) (size uint64, modTime time.Time, ok bool)
	// VerifyRange reports whether the bytes already on disk at path, from
	// start for length bytes, hash to wantID.
	VerifyRange(path string, start, length int64, wantID model.ID) (bool, error)
}

// Options configures PlanRestore.
type Options struct {
	// VerifyExisting forces every content blob to be checked against the
	// destination even when size and modification time already match.
	VerifyExisting bool
}

// PlanRestore walks the tree at root and decides, for every file node,
// whether its content on disk already matches, partially matches, or must
// be (re)written. Every node encountered (files, directories, symlinks,
// specials) is recorded in the returned Plan's Files, in walk pre-order, so
// a later metadata pass can apply ownership and timestamps to all of them.
func PlanRestore(ctx context.Context, repo model.BlobLoader, root model.ID, probe ExistingProbe, opts Options) (*Plan, error) {
	plan := &Plan{Reads: make(map[PackBlobKey][]FileLocation)}

	err := walker.Walk(ctx, repo, root, model.NewIDSet(), func(_ model.ID, path string, node *data.Node, loadErr error) (bool, error) {
		if node == nil {
			return false, loadErr
		}

		pf := &PlannedFile{Path: path, Node: node}
		plan.Files = append(plan.Files, pf)
		fileIdx := len(plan.Files) - 1

		if node.Type != data.NodeTypeFile {
			return false, nil
		}

		if node.Size == 0 {
			pf.Action = ActionExisting
			return false, nil
		}

		if !opts.VerifyExisting {
			if size, modTime, ok := probe.Stat(path); ok && size == node.Size && modTime.Equal(node.ModTime) {
				pf.Action = ActionExisting
				return false, nil
			}
		}

		anyModified := false
		var start uint64
		for _, id := range node.Content {
			size, found := repo.LookupBlobSize(model.DataBlob, id)
			if !found {
				return false, errors.Errorf("%v: content blob %v not found in index", path, id)
			}
			pbs, ok := repo.LookupBlob(model.DataBlob, id)
			if !ok || len(pbs) == 0 {
				return false, errors.Errorf("%v: content blob %v has no pack location", path, id)
			}
			pb := pbs[0]

			matched, err := probe.VerifyRange(path, int64(start), int64(size), id)
			if err != nil {
				return false, err
			}
			if !matched {
				anyModified = true
			}

			key := PackBlobKey{PackID: pb.PackID, BlobLocation: BlobLocation{Offset: pb.Offset, Length: pb.Length, UncompressedLength: pb.UncompressedLength}}
			plan.Reads[key] = append(plan.Reads[key], FileLocation{
				FileIdx:   fileIdx,
				FileStart: start,
				Matches:   matched,
			})

			start += uint64(size)
		}

		if anyModified {
			pf.Action = ActionModify
		} else {
			pf.Action = ActionVerified
		}

		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}

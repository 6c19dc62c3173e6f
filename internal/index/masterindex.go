package index

import (
	"context"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/puzpuzpuz/xsync/v3"
)

// MasterIndex is the read side of the index subsystem: every index file on
// the backend merged into one blob-id -> location lookup. It is built once
// per repository open (or per prune run) and then read concurrently by
// restore, copy, and the prune planner.
type MasterIndex struct {
	blobs *xsync.MapOf[model.BlobHandle, []model.PackedBlob]

	// packsToDelete records every pack id named in some index file's
	// packs_to_delete list: already marked for deletion by an earlier,
	// interrupted prune run.
	packsToDelete model.IDSet

	// ids remembers which index file ids contributed, so a prune plan knows
	// which existing index files it can supersede in full.
	ids model.IDs

	treeOnly bool
}

// NewMasterIndex creates an empty MasterIndex. Use Load to populate it.
func NewMasterIndex() *MasterIndex {
	return &MasterIndex{
		blobs:         xsync.NewMapOf[model.BlobHandle, []model.PackedBlob](),
		packsToDelete: model.NewIDSet(),
	}
}

// Load reads every index file from repo and merges it in. When treeOnly is
// true, data blobs are discarded as they're read, so only tree blob
// locations are held in memory and data blob lookups find nothing.
func (mi *MasterIndex) Load(ctx context.Context, repo Repository, treeOnly bool) error {
	mi.treeOnly = treeOnly
	var ids model.IDs
	if err := repo.ListIndexIDs(ctx, func(id model.ID) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		f, err := repo.LoadIndex(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "load index %v", id)
		}
		mi.merge(f)
		mi.ids = append(mi.ids, id)
	}
	return nil
}

func (mi *MasterIndex) merge(f *File) {
	for _, p := range f.Packs {
		if mi.treeOnly && p.BlobType != model.TreeBlob {
			continue
		}
		for _, b := range p.Blobs {
			pb := model.PackedBlob{
				BlobHandle:         b.BlobHandle,
				PackID:             p.ID,
				Offset:             b.Offset,
				Length:             b.Length,
				UncompressedLength: b.UncompressedLength,
			}
			mi.blobs.Compute(b.BlobHandle, func(cur []model.PackedBlob, _ bool) ([]model.PackedBlob, bool) {
				return append(cur, pb), false
			})
		}
	}
	for _, p := range f.PacksToDelete {
		mi.packsToDelete.Insert(p.ID)
	}
}

// MergeOne records a single freshly-written blob location, e.g. immediately
// after a Repository packer flush, so subsequent SaveBlob duplicate checks
// see it without waiting for a full index file flush/reload.
func (mi *MasterIndex) MergeOne(pb model.PackedBlob) {
	mi.blobs.Compute(pb.BlobHandle, func(cur []model.PackedBlob, _ bool) ([]model.PackedBlob, bool) {
		return append(cur, pb), false
	})
}

// Has reports whether any copy of the given blob is indexed.
func (mi *MasterIndex) Has(h model.BlobHandle) bool {
	_, ok := mi.blobs.Load(h)
	return ok
}

// HasTree reports whether a tree blob with this id is indexed.
func (mi *MasterIndex) HasTree(id model.ID) bool {
	return mi.Has(model.BlobHandle{ID: id, Type: model.TreeBlob})
}

// HasData reports whether a data blob with this id is indexed.
func (mi *MasterIndex) HasData(id model.ID) bool {
	return mi.Has(model.BlobHandle{ID: id, Type: model.DataBlob})
}

// Lookup returns every known location of a blob. Most blobs have exactly
// one; more than one means the same content was packed more than once
// (e.g. by two independent backup runs, or a resumed prune) and the prune
// planner's duplicate-normalization step is what reconciles that down to a
// single kept copy.
func (mi *MasterIndex) Lookup(h model.BlobHandle) ([]model.PackedBlob, bool) {
	v, ok := mi.blobs.Load(h)
	if !ok {
		return nil, false
	}
	return append([]model.PackedBlob(nil), v...), true
}

// Get returns one known location of a blob, preferring (arbitrarily but
// deterministically) the first one merged in. Callers that care about
// duplicates should use Lookup.
func (mi *MasterIndex) Get(h model.BlobHandle) (model.PackedBlob, bool) {
	v, ok := mi.blobs.Load(h)
	if !ok || len(v) == 0 {
		return model.PackedBlob{}, false
	}
	return v[0], true
}

// GetTree looks up a tree blob's location.
func (mi *MasterIndex) GetTree(id model.ID) (model.PackedBlob, bool) {
	return mi.Get(model.BlobHandle{ID: id, Type: model.TreeBlob})
}

// GetData looks up a data blob's location.
func (mi *MasterIndex) GetData(id model.ID) (model.PackedBlob, bool) {
	return mi.Get(model.BlobHandle{ID: id, Type: model.DataBlob})
}

// IsMarkedForDelete reports whether packID was already recorded in some
// index file's packs_to_delete list by an earlier run.
func (mi *MasterIndex) IsMarkedForDelete(packID model.ID) bool {
	return mi.packsToDelete.Has(packID)
}

// IndexIDs returns the ids of every index file merged into mi so far.
func (mi *MasterIndex) IndexIDs() model.IDs {
	return append(model.IDs(nil), mi.ids...)
}

// TotalSize returns the sum of on-disk (possibly compressed) lengths of
// every indexed blob of the given type, counting duplicates once per
// physical copy.
func (mi *MasterIndex) TotalSize(t model.BlobType) uint64 {
	var total uint64
	mi.blobs.Range(func(h model.BlobHandle, v []model.PackedBlob) bool {
		if h.Type != t {
			return true
		}
		for _, pb := range v {
			total += uint64(pb.Length)
		}
		return true
	})
	return total
}

// Each calls fn once per distinct indexed blob handle with every known
// location. Used by the prune planner to walk the full blob universe.
func (mi *MasterIndex) Each(fn func(h model.BlobHandle, locations []model.PackedBlob)) {
	mi.blobs.Range(func(h model.BlobHandle, v []model.PackedBlob) bool {
		fn(h, v)
		return true
	})
}

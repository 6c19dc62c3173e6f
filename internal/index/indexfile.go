// Package index implements the repository's index subsystem: the on-disk
// IndexFile format, the Indexer that buffers and flushes new index files
// during a write operation, and the MasterIndex that merges every existing
// index file into one fast blob-id -> location lookup for readers.
package index

import (
	"time"

	"github.com/arkiveio/arkive/internal/model"
)

// Blob is the index-side descriptor of one blob within a pack.
type Blob struct {
	model.BlobHandle
	Offset             uint `json:"offset"`
	Length             uint `json:"length"`
	UncompressedLength uint `json:"uncompressed_length,omitempty"`
}

// Pack describes one pack file's contents as recorded in an index: the pack
// id, its (homogeneous) blob type, an optional timestamp, and its blobs.
type Pack struct {
	ID       model.ID   `json:"id"`
	BlobType model.BlobType `json:"blob_type"`
	Time     *time.Time `json:"time,omitempty"`
	Blobs    []Blob     `json:"blobs"`
}

// Size returns the sum of this pack's blob lengths, i.e. its payload size
// not counting the pack header/footer.
func (p Pack) Size() uint {
	var total uint
	for _, b := range p.Blobs {
		total += b.Length
	}
	return total
}

// File is the on-disk shape of one index file: two ordered lists of Pack,
// live packs and tombstoned ("marked for delete") packs.
type File struct {
	ID            model.ID `json:"-"`
	Packs         []Pack   `json:"packs"`
	PacksToDelete []Pack   `json:"packs_to_delete,omitempty"`
}

// IsEmpty reports whether the index file has no packs recorded at all.
func (f *File) IsEmpty() bool {
	return len(f.Packs) == 0 && len(f.PacksToDelete) == 0
}

// BlobCount returns the total number of blob entries across both lists,
// used by the prune planner's "fewer than 10000 total blobs" rebuild rule.
func (f *File) BlobCount() int {
	n := 0
	for _, p := range f.Packs {
		n += len(p.Blobs)
	}
	for _, p := range f.PacksToDelete {
		n += len(p.Blobs)
	}
	return n
}

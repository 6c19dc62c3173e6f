// Package restorer turns a snapshot tree into files on disk. Restoring a
// file happens in two passes: PlanRestore decides, per file, whether the
// content already on disk matches (and can be skipped or merely verified)
// or needs to be (re)written, and Executor carries out the writes, reading
// pack ranges with coalescing and a bounded pool of concurrent readers.
// Metadata (mode, ownership, timestamps, xattrs) is applied in a final pass
// once a directory's entries are all in place.
package restorer

import (
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/model"
)

// BlobLocation is where one blob's ciphertext lives inside a pack.
type BlobLocation struct {
	Offset             uint
	Length             uint
	UncompressedLength uint
}

// PackBlobKey identifies one blob's ciphertext range within a specific pack.
type PackBlobKey struct {
	PackID model.ID
	BlobLocation
}

// FileLocation is where one content blob's plaintext belongs within the
// destination file being restored.
type FileLocation struct {
	FileIdx   int
	FileStart uint64
	// Matches is true when this blob was already verified present at this
	// offset in the existing file and does not need to be rewritten.
	Matches bool
}

// FileAction records what PlanRestore decided about one file.
type FileAction int

const (
	// ActionExisting means the file on disk already matches by size and
	// modification time (or is zero-length) and needs no content work.
	ActionExisting FileAction = iota
	// ActionVerified means every content blob was checked against the file
	// already on disk and matched; no bytes need to be rewritten.
	ActionVerified
	// ActionModify means at least one content blob must be (re)written.
	ActionModify
)

func (a FileAction) String() string {
	switch a {
	case ActionExisting:
		return "existing"
	case ActionVerified:
		return "verified"
	case ActionModify:
		return "modify"
	default:
		return "unknown"
	}
}

// PlannedFile is one tree entry (of any type) as encountered walking the
// snapshot, annotated with the restore action decided for it.
type PlannedFile struct {
	Path   string
	Node   *data.Node
	Action FileAction
}

// Plan is the output of PlanRestore: every node in the tree in walk
// pre-order, plus the set of pack reads the executor must perform, keyed by
// the pack range that holds each blob's ciphertext.
type Plan struct {
	Files []*PlannedFile
	Reads map[PackBlobKey][]FileLocation
}

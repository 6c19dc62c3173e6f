package repository

import (
	"time"

	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
)

// PackToDo is the decided fate of one pack, assigned by PlanPrune's classify
// step and carried out by Plan.Execute.
type PackToDo int

const (
	Undecided PackToDo = iota
	Keep
	Repack
	MarkDelete
	KeepMarked
	KeepMarkedAndCorrect
	Recover
	Delete
)

func (t PackToDo) String() string {
	switch t {
	case Keep:
		return "keep"
	case Repack:
		return "repack"
	case MarkDelete:
		return "mark delete"
	case KeepMarked:
		return "keep marked"
	case KeepMarkedAndCorrect:
		return "keep marked and correct"
	case Recover:
		return "recover"
	case Delete:
		return "delete"
	default:
		return "undecided"
	}
}

// PackInfo is the per-pack scan result PlanPrune's classify step computes:
// how many of the pack's blobs are still needed and how many are not.
type PackInfo struct {
	UsedBlobs      uint
	UsedSize       uint64
	UnusedBlobs    uint
	UnusedSize     uint64
	DuplicateBlobs uint
	DuplicateSize  uint64
}

// Wasted returns the blob/byte counts that behave like unused data for
// repack-admission purposes: genuinely unreferenced blobs plus redundant
// duplicate copies of blobs kept elsewhere.
func (p PackInfo) Wasted() (blobs uint, size uint64) {
	return p.UnusedBlobs + p.DuplicateBlobs, p.UnusedSize + p.DuplicateSize
}

// PrunePack is the planner's working state for one existing pack file: its
// IndexPack contents, whether it is currently marked for deletion, its
// reference scan result, and its decided fate.
type PrunePack struct {
	ID         model.ID
	BlobType   model.BlobType
	Size       uint64
	DeleteMark bool
	Time       *time.Time
	Blobs      []index.Blob

	Info PackInfo
	ToDo PackToDo
	// Keep[i] reports whether Blobs[i] is the one surviving physical copy
	// that a Repack must carry forward; false means unused or a redundant
	// duplicate that Repack drops.
	Keep []bool

	// Reason records why a Repack candidate was proposed. PlanPrune reads it
	// when admitting candidates: "SizeMismatch" candidates are deferred per
	// blob type, and "PartlyUsed" data candidates are skipped once the
	// unused-bytes budget is met.
	Reason string
}

// MaxUnusedSizeKind selects how PruneOptions.MaxUnusedBytes interprets its
// input.
type MaxUnusedSizeKind int

const (
	MaxUnusedUnlimited MaxUnusedSizeKind = iota
	MaxUnusedSize
	MaxUnusedPercentage
)

// PruneOptions configures a prune run. MaxUnusedBytes and MaxRepackBytes are
// expressed as byte functions rather than raw percentages; callers translate
// a percentage-based CLI flag into one themselves (mirroring the teacher's
// own PruneOptions, which also takes pre-resolved byte callbacks rather than
// percentages).
type PruneOptions struct {
	// MaxUnusedBytes returns, given the total bytes used by live blobs, the
	// maximum unused bytes that may remain after the prune.
	MaxUnusedBytes func(used uint64) uint64
	// MaxRepackBytes returns, given the total bytes occupied by every
	// existing pack, the maximum bytes PlanPrune will schedule for
	// repacking in this run. A nil func defaults to 10% of the total.
	MaxRepackBytes func(total uint64) uint64

	// SmallPackBytes is the size below which a pack counts as a
	// size_mismatch; 0 uses half the package's target pack size for the
	// pack's blob type.
	SmallPackBytes uint64

	RepackCacheableOnly bool
	RepackUncompressed  bool
	// RepackAll forces every pack with at least one used blob and none
	// unused into a Repack candidate, as though it were always due for
	// compression.
	RepackAll bool
	// FastRepack moves a kept blob's ciphertext straight into its new pack
	// instead of decrypting, recompressing, and re-encrypting it.
	FastRepack bool
	// NoResize disables the size_mismatch repack trigger. size_mismatch is
	// otherwise an unconditional branch of the decision table; this is its
	// only opt-out.
	NoResize bool
	// IgnoreSnaps lists snapshot ids whose trees must not contribute to the
	// used-blob set, as though those snapshots had already been forgotten.
	IgnoreSnaps model.IDs

	KeepPackDuration   time.Duration
	KeepDeleteDuration time.Duration

	InstantDelete    bool
	EarlyDeleteIndex bool
	UnsafeRecovery   bool
	DryRun           bool
}

// BlobStats is the blob-count breakdown of a PruneStats.
type BlobStats struct {
	Used      uint64
	Duplicate uint64
	Unused    uint64
	Remove    uint64
	Repack    uint64
	Repackrm  uint64
	Unref     uint64
}

// SizeStats is the byte-size breakdown of a PruneStats, mirroring BlobStats.
type SizeStats struct {
	Used         uint64
	Duplicate    uint64
	Unused       uint64
	Remove       uint64
	Repack       uint64
	Repackrm     uint64
	Unref        uint64
	Uncompressed uint64
}

// PackStats counts packs by decided fate.
type PackStats struct {
	Keep       uint64
	Repack     uint64
	Delete     uint64
	MarkDelete uint64
	Recover    uint64
}

// PruneStats is the outcome PlanPrune computes and Plan.Execute realizes.
type PruneStats struct {
	Blobs BlobStats
	Size  SizeStats
	Packs PackStats
}

package repository

import (
	"context"
	"sort"
	"time"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/progress"
)

// ErrUsedBlobMissing is fatal: a snapshot references a blob that no existing
// pack actually contains.
var ErrUsedBlobMissing = errors.New("blob referenced by a snapshot is missing from every pack")

// ErrAppendOnlyPrune is returned by Plan.Execute when the repository is in
// append-only mode, which forbids deleting or rewriting anything.
var ErrAppendOnlyPrune = model.ErrAppendOnly

const defaultKeepDeleteDuration = 0

// Plan is the immutable result of PlanPrune: a decision for every existing
// pack, ready for Plan.Execute.
type Plan struct {
	repo *Repository
	opts PruneOptions

	packs []*PrunePack

	// sourceIndexIDs are every index file id that contributed to the plan.
	sourceIndexIDs model.IDs
	// rewriteIndexIDs are the index file ids that must be superseded
	// (deleted) once Execute's new index file(s) are durable.
	rewriteIndexIDs model.IDs

	stats PruneStats
	time  time.Time
}

// Stats returns the statistics PlanPrune computed.
func (p *Plan) Stats() PruneStats { return p.stats }

// UsedBlobsFunc seeds the set of blobs a prune run must retain. It is called
// once, with Insert used to record every reachable blob at count 0.
type UsedBlobsFunc func(ctx context.Context, repo *Repository, usedBlobs model.FindBlobSet) error

// PlanPrune loads every index file, determines which blobs are still
// referenced via usedBlobsFn, classifies every existing pack, and decides
// which packs to keep, repack, or delete.
func PlanPrune(ctx context.Context, opts PruneOptions, repo *Repository, usedBlobsFn UsedBlobsFunc, printer progress.Printer) (*Plan, error) {
	if opts.MaxUnusedBytes == nil {
		opts.MaxUnusedBytes = func(uint64) uint64 { return 0 }
	}
	if opts.MaxRepackBytes == nil {
		opts.MaxRepackBytes = func(total uint64) uint64 { return total / 10 }
	}
	if opts.RepackUncompressed {
		opts.MaxUnusedBytes = func(uint64) uint64 { return 0 }
	}
	if printer == nil {
		printer = progress.NoopPrinter{}
	}

	now := time.Now()

	// Step 1: load every index file (live + packs_to_delete) directly, since
	// the planner needs per-pack blob lists, not just the flattened
	// blob->location table a MasterIndex read gives a normal caller.
	var indexIDs model.IDs
	if err := repo.IdxRepo.ListIndexIDs(ctx, func(id model.ID) error {
		indexIDs = append(indexIDs, id)
		return nil
	}); err != nil {
		return nil, err
	}

	live := map[model.ID]*index.Pack{}
	marked := map[model.ID]*index.Pack{}
	modifiedIndexes := model.NewIDSet()

	for _, id := range indexIDs {
		f, err := repo.IdxRepo.LoadIndex(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "load index %v", id)
		}
		for i := range f.Packs {
			p := &f.Packs[i]
			if _, dup := live[p.ID]; dup {
				modifiedIndexes.Insert(id)
				continue
			}
			live[p.ID] = p
		}
		for i := range f.PacksToDelete {
			p := &f.PacksToDelete[i]
			if _, dup := marked[p.ID]; dup {
				modifiedIndexes.Insert(id)
				continue
			}
			marked[p.ID] = p
		}
	}
	// Step 4 (continued): a pack present in both lists is live, not marked.
	for id := range marked {
		if _, ok := live[id]; ok {
			delete(marked, id)
			modifiedIndexes.Insert(id) // conservatively flag for rewrite
		}
	}

	// Step 2+3: find used blobs, then count how many physical copies exist.
	used := model.CountedBlobSet{}
	if err := usedBlobsFn(ctx, repo, used); err != nil {
		return nil, errors.Wrap(err, "find used blobs")
	}

	for _, p := range live {
		for _, b := range p.Blobs {
			if used.Has(b.BlobHandle) {
				used.Increment(b.BlobHandle)
			}
		}
	}
	for _, p := range marked {
		for _, b := range p.Blobs {
			if used.Has(b.BlobHandle) {
				used.Increment(b.BlobHandle)
			}
		}
	}
	for h, c := range used {
		if c == 0 {
			return nil, errors.Wrapf(ErrUsedBlobMissing, "%v", h)
		}
	}

	// Step 5: classify in two passes, marked first.
	claimed := model.NewBlobSet()
	var packs []*PrunePack
	for id, p := range marked {
		packs = append(packs, classifyPack(id, p, true, used, claimed))
	}
	for id, p := range live {
		packs = append(packs, classifyPack(id, p, false, used, claimed))
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].ID.Str() < packs[j].ID.Str() })

	stats := PruneStats{}
	var totalSize uint64
	for _, p := range packs {
		totalSize += p.Size
		stats.Blobs.Used += uint64(p.Info.UsedBlobs)
		stats.Size.Used += p.Info.UsedSize
		stats.Blobs.Duplicate += uint64(p.Info.DuplicateBlobs)
		stats.Size.Duplicate += p.Info.DuplicateSize
		stats.Blobs.Unused += uint64(p.Info.UnusedBlobs)
		stats.Size.Unused += p.Info.UnusedSize
	}

	// Step 6: decide per-pack fate.
	maxUnused := opts.MaxUnusedBytes(stats.Size.Used)
	maxRepackBytes := opts.MaxRepackBytes(totalSize)
	for _, p := range packs {
		decide(p, opts, now)
	}

	// Step 7: rank and admit repack candidates within maxRepackBytes, and
	// skip further PartlyUsed data-blob candidates once the projected
	// remaining unused bytes would already be under budget. Resize-only
	// (SizeMismatch) candidates are deferred into a per-type bucket instead
	// of competing for budget directly.
	candidates := make([]*PrunePack, 0, len(packs))
	resizeOnly := map[model.BlobType][]*PrunePack{}
	for _, p := range packs {
		if p.ToDo != Repack {
			continue
		}
		if p.Reason == "SizeMismatch" {
			resizeOnly[p.BlobType] = append(resizeOnly[p.BlobType], p)
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].BlobType != candidates[j].BlobType {
			return candidates[i].BlobType < candidates[j].BlobType
		}
		ri := ratio(candidates[i])
		rj := ratio(candidates[j])
		return ri > rj
	})

	var repackSize uint64
	remainingUnused := stats.Size.Unused + stats.Size.Duplicate
	promoted := map[model.BlobType]bool{}
	for _, p := range candidates {
		_, wastedSize := p.Info.Wasted()
		if repackSize+p.Size > maxRepackBytes {
			p.ToDo = Keep
			continue
		}
		if p.BlobType == model.DataBlob && p.Reason == "PartlyUsed" && remainingUnused <= maxUnused {
			p.ToDo = Keep
			continue
		}
		repackSize += p.Size
		remainingUnused -= wastedSize
		promoted[p.BlobType] = true
	}

	// Resize-only candidates upgrade to Repack only if another same-type
	// candidate was actually admitted, or their own aggregate used size
	// already exceeds one target pack size.
	for t, bucket := range resizeOnly {
		upgrade := promoted[t]
		if !upgrade {
			var aggregateUsed uint64
			for _, p := range bucket {
				aggregateUsed += p.Info.UsedSize
			}
			upgrade = aggregateUsed > uint64(targetPackSize(t))
		}
		for _, p := range bucket {
			if !upgrade || repackSize+p.Size > maxRepackBytes {
				p.ToDo = Keep
				continue
			}
			_, wastedSize := p.Info.Wasted()
			repackSize += p.Size
			remainingUnused -= wastedSize
		}
	}

	// Step 8: cross-check existing packs against the backend.
	unref, err := crossCheckPacks(ctx, repo, packs)
	if err != nil {
		return nil, err
	}
	for _, p := range unref {
		packs = append(packs, p)
		if opts.InstantDelete {
			p.ToDo = Delete
		} else {
			p.ToDo = MarkDelete
		}
		stats.Blobs.Unref += 0
		stats.Size.Unref += p.Size
	}

	for _, p := range packs {
		switch p.ToDo {
		case Repack:
			stats.Packs.Repack++
			// Repack/Repackrm count every blob physically read out of a
			// repacked pack, not just the surviving ones: Repack is the
			// pack's whole blob/byte count, Repackrm is the portion of that
			// which is dropped rather than carried forward.
			stats.Size.Repack += p.Size
			stats.Blobs.Repack += uint64(len(p.Blobs))
			wb, ws := p.Info.Wasted()
			stats.Size.Repackrm += ws
			stats.Blobs.Repackrm += uint64(wb)
		case Keep:
			stats.Packs.Keep++
		case Delete:
			stats.Packs.Delete++
			stats.Size.Remove += p.Size
			stats.Blobs.Remove += uint64(len(p.Blobs))
		case MarkDelete:
			stats.Packs.MarkDelete++
			stats.Size.Remove += p.Size
			stats.Blobs.Remove += uint64(len(p.Blobs))
		case Recover, KeepMarked, KeepMarkedAndCorrect:
			stats.Packs.Recover++
		}
	}

	// Step 9: decide which index files need rewriting.
	var rewrite model.IDs
	for _, id := range indexIDs {
		f, err := repo.IdxRepo.LoadIndex(ctx, id)
		if err != nil {
			return nil, err
		}
		needsRewrite := modifiedIndexes.Has(id) || f.BlobCount() < 10000
		if !needsRewrite {
			for _, p := range f.Packs {
				if pp := findPrunePack(packs, p.ID); pp != nil && pp.ToDo != Keep {
					needsRewrite = true
					break
				}
			}
		}
		if !needsRewrite && !opts.InstantDelete {
			for _, p := range f.PacksToDelete {
				if pp := findPrunePack(packs, p.ID); pp != nil && pp.ToDo != KeepMarked {
					needsRewrite = true
					break
				}
			}
		}
		if needsRewrite {
			rewrite = append(rewrite, id)
		}
	}
	if len(rewrite) == 1 {
		f, err := repo.IdxRepo.LoadIndex(ctx, rewrite[0])
		if err == nil && !modifiedIndexes.Has(rewrite[0]) && f.BlobCount() < 10000 {
			onlySmall := true
			for _, p := range f.Packs {
				if pp := findPrunePack(packs, p.ID); pp != nil && pp.ToDo != Keep {
					onlySmall = false
					break
				}
			}
			if onlySmall {
				rewrite = nil
			}
		}
	}

	printer.Print("prune: plan ready")

	return &Plan{
		repo:            repo,
		opts:            opts,
		packs:           packs,
		sourceIndexIDs:  indexIDs,
		rewriteIndexIDs: rewrite,
		stats:           stats,
		time:            now,
	}, nil
}

func findPrunePack(packs []*PrunePack, id model.ID) *PrunePack {
	for _, p := range packs {
		if p.ID.Equal(id) {
			return p
		}
	}
	return nil
}

func ratio(p *PrunePack) float64 {
	_, wasted := p.Info.Wasted()
	if p.Info.UsedSize == 0 {
		return 1e18
	}
	return float64(wasted) / float64(p.Info.UsedSize)
}

func classifyPack(id model.ID, p *index.Pack, marked bool, used model.CountedBlobSet, claimed model.BlobSet) *PrunePack {
	pp := &PrunePack{ID: id, BlobType: p.BlobType, DeleteMark: marked, Time: p.Time, Blobs: p.Blobs, Keep: make([]bool, len(p.Blobs))}
	for i, b := range p.Blobs {
		pp.Size += uint64(b.Length)
		h := b.BlobHandle
		if !used.Has(h) {
			pp.Info.UnusedBlobs++
			pp.Info.UnusedSize += uint64(b.Length)
			continue
		}
		if !claimed.Has(h) {
			claimed.Insert(h)
			pp.Info.UsedBlobs++
			pp.Info.UsedSize += uint64(b.Length)
			pp.Keep[i] = true
			continue
		}
		pp.Info.DuplicateBlobs++
		pp.Info.DuplicateSize += uint64(b.Length)
	}
	return pp
}

func decide(p *PrunePack, opts PruneOptions, now time.Time) {
	tooYoung := p.Time != nil && p.Time.After(now.Add(-opts.KeepPackDuration))
	keepUncacheable := opts.RepackCacheableOnly && p.BlobType == model.DataBlob
	wastedBlobs, wastedSize := p.Info.Wasted()
	_ = wastedSize

	if p.DeleteMark {
		if p.Info.UsedBlobs > 0 {
			p.ToDo = Recover
			return
		}
		if p.Time != nil && now.Sub(*p.Time) >= opts.KeepDeleteDuration {
			p.ToDo = Delete
			return
		}
		if p.Time == nil {
			p.ToDo = KeepMarkedAndCorrect
			return
		}
		p.ToDo = KeepMarked
		return
	}

	if p.Info.UsedBlobs == 0 {
		if tooYoung {
			p.ToDo = Keep
			return
		}
		p.ToDo = MarkDelete
		return
	}

	sizeMismatch := sizeOutOfBand(p, opts)

	if wastedBlobs == 0 {
		switch {
		case tooYoung || keepUncacheable:
			p.ToDo = Keep
		case opts.RepackUncompressed && hasUncompressed(p) || opts.RepackAll:
			p.ToDo = Repack
			p.Reason = "ToCompress"
		case sizeMismatch:
			p.ToDo = Repack
			p.Reason = "SizeMismatch"
		default:
			p.ToDo = Keep
		}
		return
	}

	if tooYoung || keepUncacheable {
		p.ToDo = Keep
		return
	}
	p.ToDo = Repack
	p.Reason = "PartlyUsed"
}

func sizeOutOfBand(p *PrunePack, opts PruneOptions) bool {
	if opts.NoResize {
		return false
	}
	target := targetPackSize(p.BlobType)
	small := opts.SmallPackBytes
	if small == 0 {
		small = uint64(target) / 2
	}
	return p.Size < small
}

func hasUncompressed(p *PrunePack) bool {
	for _, b := range p.Blobs {
		if b.UncompressedLength == 0 {
			return true
		}
	}
	return false
}

// crossCheckPacks verifies every known pack's recorded size matches the
// backend, and returns a PrunePack for each pack that exists on the backend
// but appears in no index at all ("unreferenced").
func crossCheckPacks(ctx context.Context, repo *Repository, packs []*PrunePack) ([]*PrunePack, error) {
	var unreferenced []*PrunePack
	err := repo.Backend.List(ctx, model.PackFile, func(h model.Handle, fi backend.FileInfo) error {
		id, err := model.ParseID(h.Name)
		if err != nil {
			return errors.Wrapf(err, "parse pack id %q", h.Name)
		}
		pp := findPrunePack(packs, id)
		if pp == nil {
			unreferenced = append(unreferenced, &PrunePack{ID: id, Size: uint64(fi.Size)})
			return nil
		}
		if pp.Size != uint64(fi.Size) {
			return errors.Errorf("pack %v: index size %d does not match backend size %d", id, pp.Size, fi.Size)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unreferenced, nil
}

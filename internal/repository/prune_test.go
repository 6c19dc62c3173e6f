package repository_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/repository"
)

func blobID(n int) model.ID {
	var id model.ID
	binary.BigEndian.PutUint32(id[:4], uint32(n)+1)
	return id
}

// buildDataPack writes a single raw pack file with n blobs of blobSize bytes
// each (uncompressed, no real encryption needed since these tests never call
// LoadBlob) directly to be, and records it in one index file. It returns the
// pack id and the index.Pack describing it.
func buildDataPack(t *testing.T, ctx context.Context, be *mem.MemoryBackend, idxRepo *index.BackendRepository, n int, blobSize uint, packTime *time.Time) (model.ID, index.Pack) {
	t.Helper()
	packID := model.Hash([]byte(t.Name()))
	raw := make([]byte, int(blobSize)*n)
	if err := be.WriteFile(ctx, model.Handle{Type: model.PackFile, Name: packID.String()}, raw); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	ip := index.Pack{ID: packID, BlobType: model.DataBlob, Time: packTime}
	for i := 0; i < n; i++ {
		ip.Blobs = append(ip.Blobs, index.Blob{
			BlobHandle: model.BlobHandle{ID: blobID(i), Type: model.DataBlob},
			Offset:     uint(i) * blobSize,
			Length:     blobSize,
		})
	}

	f := &index.File{Packs: []index.Pack{ip}}
	if _, err := idxRepo.SaveIndex(ctx, f); err != nil {
		t.Fatalf("save index: %v", err)
	}
	return packID, ip
}

func newTestRepo(be *mem.MemoryBackend, idxRepo *index.BackendRepository) *repository.Repository {
	return repository.New(be, crypto.NewRandomKey(), idxRepo, 2)
}

// usedFirstN returns a UsedBlobsFunc that marks blobs 0..n-1 (by blobID) used.
func usedFirstN(n int) repository.UsedBlobsFunc {
	return func(_ context.Context, _ *repository.Repository, used model.FindBlobSet) error {
		for i := 0; i < n; i++ {
			used.Insert(model.BlobHandle{ID: blobID(i), Type: model.DataBlob})
		}
		return nil
	}
}

// Scenario 1: prune reclaims a partly-used pack. One data pack of 1000
// blobs, 400 still referenced. With unlimited repack budget, zero unused
// tolerance, and keep_pack=0, the pack must be repacked down to its 400
// used blobs; the stats must report the whole source pack as repacked, with
// the 600 unused blobs as the removed portion.
func TestPlanPruneReclaimsPartlyUsedPack(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	const blobSize = 16
	buildDataPack(t, ctx, be, idxRepo, 1000, blobSize, nil)

	opts := repository.PruneOptions{
		MaxRepackBytes:   func(uint64) uint64 { return ^uint64(0) },
		KeepPackDuration: 0,
	}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(400), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}

	stats := plan.Stats()
	if stats.Packs.Repack != 1 {
		t.Fatalf("expected exactly one pack to be repacked, got %d", stats.Packs.Repack)
	}
	if stats.Blobs.Repack != 1000 {
		t.Fatalf("expected stats.blobs[data].repack == 1000, got %d", stats.Blobs.Repack)
	}
	if stats.Blobs.Repackrm != 600 {
		t.Fatalf("expected stats.blobs[data].repackrm == 600, got %d", stats.Blobs.Repackrm)
	}
	if stats.Blobs.Used != 400 {
		t.Fatalf("expected 400 used blobs, got %d", stats.Blobs.Used)
	}
}

// Scenario 2: keep_pack defers action. Same pack as scenario 1, but it was
// created one minute ago and keep_pack is one hour: the pack must be kept
// untouched even though it is only partly used.
func TestPlanPruneKeepPackDefersAction(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	const blobSize = 16
	createdAt := time.Now().Add(-time.Minute)
	buildDataPack(t, ctx, be, idxRepo, 1000, blobSize, &createdAt)

	opts := repository.PruneOptions{
		MaxRepackBytes:   func(uint64) uint64 { return ^uint64(0) },
		KeepPackDuration: time.Hour,
	}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(400), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}

	stats := plan.Stats()
	if stats.Packs.Keep != 1 {
		t.Fatalf("expected stats.packs.keep == 1, got %d", stats.Packs.Keep)
	}
	if stats.Packs.Repack != 0 {
		t.Fatalf("expected no repack, got %d", stats.Packs.Repack)
	}
}

// A pack with every blob still used must never be touched, as long as
// size_mismatch's resize trigger is disabled: its 160 bytes are far under
// half the data pack target size, so it would otherwise be flagged as
// out-of-band.
func TestPlanPruneFullyUsedPackKept(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil)

	opts := repository.PruneOptions{
		MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) },
		NoResize:       true,
	}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(10), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.Keep != 1 || stats.Packs.Repack != 0 || stats.Packs.MarkDelete != 0 {
		t.Fatalf("expected the fully-used pack to be kept untouched, got %+v", stats.Packs)
	}
}

// Without NoResize, a fully-used pack below the small-pack threshold is
// repacked even with no other same-type candidate, once its used size
// exceeds one data target pack (16 MiB): size_mismatch is an unconditional
// branch of the decision table, not something callers must opt into.
func TestPlanPruneSizeMismatchRepacksSmallPack(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 17, 1<<20, nil)

	opts := repository.PruneOptions{
		MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) },
		SmallPackBytes: 32 << 20,
	}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(17), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.Repack != 1 || stats.Packs.Keep != 0 {
		t.Fatalf("expected the undersized pack to be repacked, got %+v", stats.Packs)
	}
}

// RepackAll forces a fully-used, correctly-sized pack into a Repack
// candidate even though nothing else about it is out of band.
func TestPlanPruneRepackAllForcesCompression(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil)

	opts := repository.PruneOptions{
		MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) },
		NoResize:       true,
		RepackAll:      true,
	}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(10), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.Repack != 1 {
		t.Fatalf("expected RepackAll to force a repack, got %+v", stats.Packs)
	}
}

// A resize-only (SizeMismatch) candidate is deferred rather than repacked
// immediately: alone, with nothing else of its type promoted and its used
// size well under one target pack, it stays Keep.
func TestPlanPruneResizeOnlyDeferredWhenAlone(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil)

	opts := repository.PruneOptions{MaxRepackBytes: func(uint64) uint64 { return 0 }}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(10), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.Keep != 1 || stats.Packs.Repack != 0 {
		t.Fatalf("expected the lone undersized pack to be deferred to Keep, got %+v", stats.Packs)
	}
}

// A resize-only candidate upgrades to Repack once another same-type
// candidate was actually admitted into the plan.
func TestPlanPruneResizeOnlyUpgradesWithSiblingRepack(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil) // fully used, undersized: SizeMismatch
	partial := model.Hash([]byte("sibling"))
	raw := make([]byte, 16*10)
	if err := be.WriteFile(ctx, model.Handle{Type: model.PackFile, Name: partial.String()}, raw); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	ip := index.Pack{ID: partial, BlobType: model.DataBlob}
	for i := 0; i < 10; i++ {
		ip.Blobs = append(ip.Blobs, index.Blob{
			BlobHandle: model.BlobHandle{ID: model.Hash([]byte{byte(i), 0xff}), Type: model.DataBlob},
			Offset:     uint(i) * 16,
			Length:     16,
		})
	}
	if _, err := idxRepo.SaveIndex(ctx, &index.File{Packs: []index.Pack{ip}}); err != nil {
		t.Fatalf("save index: %v", err)
	}

	used := func(_ context.Context, _ *repository.Repository, u model.FindBlobSet) error {
		for i := 0; i < 10; i++ {
			u.Insert(model.BlobHandle{ID: blobID(i), Type: model.DataBlob})
		}
		u.Insert(model.BlobHandle{ID: model.Hash([]byte{0, 0xff}), Type: model.DataBlob})
		return nil
	}

	opts := repository.PruneOptions{MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) }}
	plan, err := repository.PlanPrune(ctx, opts, repo, used, nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.Repack != 2 {
		t.Fatalf("expected both the partly-used pack and the resize-only sibling to repack, got %+v", stats.Packs)
	}
}

// A pack whose blobs are all unused is marked for deletion rather than
// repacked.
func TestPlanPruneFullyUnusedPackMarkedForDelete(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil)

	opts := repository.PruneOptions{MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) }}
	plan, err := repository.PlanPrune(ctx, opts, repo, usedFirstN(0), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	stats := plan.Stats()
	if stats.Packs.MarkDelete != 1 {
		t.Fatalf("expected the fully-unused pack to be marked for delete, got %+v", stats.Packs)
	}
}

// A snapshot referencing a blob absent from every pack is a fatal,
// unrecoverable planning error.
func TestPlanPruneUsedBlobMissingIsFatal(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)

	buildDataPack(t, ctx, be, idxRepo, 5, 16, nil)

	missing := func(_ context.Context, _ *repository.Repository, used model.FindBlobSet) error {
		used.Insert(model.BlobHandle{ID: blobID(999), Type: model.DataBlob})
		return nil
	}
	_, err := repository.PlanPrune(ctx, repository.PruneOptions{MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) }}, repo, missing, nil)
	if err == nil {
		t.Fatal("expected PlanPrune to fail when a used blob is missing from every pack")
	}
}

// Execute refuses to touch anything on an append-only repository, even
// when the plan calls for repacking or deletion.
func TestPlanPruneExecuteRefusesOnAppendOnly(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := newTestRepo(be, idxRepo)
	repo.AppendOnly = true

	buildDataPack(t, ctx, be, idxRepo, 10, 16, nil)

	plan, err := repository.PlanPrune(ctx, repository.PruneOptions{MaxRepackBytes: func(uint64) uint64 { return ^uint64(0) }}, repo, usedFirstN(4), nil)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if err := plan.Execute(ctx, nil); err == nil {
		t.Fatal("expected Execute to refuse a non-Keep plan on an append-only repository")
	}
}

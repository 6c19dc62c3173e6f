package restorer_test

import (
	"context"
	"testing"
	"time"

	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/repository"
	"github.com/arkiveio/arkive/internal/restorer"
)

func newPlanTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	return repository.New(be, crypto.NewRandomKey(), idxRepo, 2)
}

func saveFileNode(t *testing.T, ctx context.Context, repo *repository.Repository, name string, content []byte, modTime time.Time) *data.Node {
	t.Helper()
	id, _, _, err := repo.SaveBlob(ctx, model.DataBlob, content, model.ID{}, false)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	return &data.Node{Name: name, Type: data.NodeTypeFile, Content: model.IDs{id}, Size: uint64(len(content)), ModTime: modTime}
}

// fakeProbe models a destination directory as a simple in-memory map of
// path to whatever bytes are already "on disk" there.
type fakeProbe struct {
	onDisk  map[string][]byte
	modTime map[string]time.Time
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{onDisk: make(map[string][]byte), modTime: make(map[string]time.Time)}
}

func (p *fakeProbe) Stat(path string) (uint64, time.Time, bool) {
	content, ok := p.onDisk[path]
	if !ok {
		return 0, time.Time{}, false
	}
	return uint64(len(content)), p.modTime[path], true
}

func (p *fakeProbe) VerifyRange(path string, start, length int64, wantID model.ID) (bool, error) {
	content, ok := p.onDisk[path]
	if !ok || start+length > int64(len(content)) {
		return false, nil
	}
	return model.Hash(content[start:start+length]) == wantID, nil
}

func TestPlanRestoreClassifiesExistingBySizeAndTime(t *testing.T) {
	ctx := context.Background()
	repo := newPlanTestRepo(t)

	modTime := time.Unix(1754000000, 0).UTC()
	node := saveFileNode(t, ctx, repo, "file", []byte("hello world"), modTime)
	root := writeSingleNodeTree(t, ctx, repo, node)
	if err := repo.FlushAll(ctx, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	probe := newFakeProbe()
	probe.onDisk["/file"] = []byte("hello world")
	probe.modTime["/file"] = modTime

	plan, err := restorer.PlanRestore(ctx, repo, root, probe, restorer.Options{})
	if err != nil {
		t.Fatalf("plan restore: %v", err)
	}
	if len(plan.Files) != 1 {
		t.Fatalf("expected 1 planned file, got %d", len(plan.Files))
	}
	if plan.Files[0].Action != restorer.ActionExisting {
		t.Fatalf("expected ActionExisting, got %v", plan.Files[0].Action)
	}
	if len(plan.Reads) != 0 {
		t.Fatalf("expected no reads for an already-matching file, got %v", plan.Reads)
	}
}

func TestPlanRestoreClassifiesVerifiedWhenContentMatchesButTimeDiffers(t *testing.T) {
	ctx := context.Background()
	repo := newPlanTestRepo(t)

	node := saveFileNode(t, ctx, repo, "file", []byte("hello world"), time.Unix(1754000000, 0).UTC())
	root := writeSingleNodeTree(t, ctx, repo, node)
	if err := repo.FlushAll(ctx, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	probe := newFakeProbe()
	probe.onDisk["/file"] = []byte("hello world")
	probe.modTime["/file"] = time.Unix(1, 0).UTC()

	plan, err := restorer.PlanRestore(ctx, repo, root, probe, restorer.Options{})
	if err != nil {
		t.Fatalf("plan restore: %v", err)
	}
	if plan.Files[0].Action != restorer.ActionVerified {
		t.Fatalf("expected ActionVerified, got %v", plan.Files[0].Action)
	}
	for _, locs := range plan.Reads {
		for _, l := range locs {
			if !l.Matches {
				t.Fatalf("expected every location to be marked matched, got %+v", l)
			}
		}
	}
}

func TestPlanRestoreClassifiesModifyWhenContentDiffers(t *testing.T) {
	ctx := context.Background()
	repo := newPlanTestRepo(t)

	node := saveFileNode(t, ctx, repo, "file", []byte("hello world"), time.Unix(1754000000, 0).UTC())
	root := writeSingleNodeTree(t, ctx, repo, node)
	if err := repo.FlushAll(ctx, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}

	probe := newFakeProbe()
	probe.onDisk["/file"] = []byte("goodbye wrld")
	probe.modTime["/file"] = time.Unix(1, 0).UTC()

	plan, err := restorer.PlanRestore(ctx, repo, root, probe, restorer.Options{})
	if err != nil {
		t.Fatalf("plan restore: %v", err)
	}
	if plan.Files[0].Action != restorer.ActionModify {
		t.Fatalf("expected ActionModify, got %v", plan.Files[0].Action)
	}
	if len(plan.Reads) != 1 {
		t.Fatalf("expected exactly one pack range to read, got %v", plan.Reads)
	}
}

func writeSingleNodeTree(t *testing.T, ctx context.Context, repo *repository.Repository, node *data.Node) model.ID {
	t.Helper()
	w := data.NewTreeWriter(repo)
	if err := w.AddNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	id, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize tree: %v", err)
	}
	return id
}

package repair_test

import (
	"context"
	"testing"
	"time"

	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/repair"
	"github.com/arkiveio/arkive/internal/repository"
)

// testRepo composes a real blob store with a real snapshot store, the
// combination repair.Repository needs.
type testRepo struct {
	*repository.Repository
	*data.BackendSnapshotRepository
}

func newTestRepo(t *testing.T) (*testRepo, *mem.MemoryBackend) {
	t.Helper()
	be := mem.New()
	idxRepo := &index.BackendRepository{Backend: be}
	repo := repository.New(be, crypto.NewRandomKey(), idxRepo, 2)
	return &testRepo{
		Repository:                repo,
		BackendSnapshotRepository: &data.BackendSnapshotRepository{Backend: be},
	}, be
}

func mustFlush(t *testing.T, ctx context.Context, repo *testRepo) {
	t.Helper()
	if err := repo.FlushAll(ctx, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func saveFile(t *testing.T, ctx context.Context, repo *testRepo, name string, content []byte) *data.Node {
	t.Helper()
	id, _, _, err := repo.SaveBlob(ctx, model.DataBlob, content, model.ID{}, false)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	return &data.Node{Name: name, Type: data.NodeTypeFile, Content: model.IDs{id}, Size: uint64(len(content))}
}

func saveTree(t *testing.T, ctx context.Context, repo *testRepo, nodes ...*data.Node) model.ID {
	t.Helper()
	w := data.NewTreeWriter(repo)
	for _, n := range nodes {
		if err := w.AddNode(n); err != nil {
			t.Fatalf("add node: %v", err)
		}
	}
	id, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize tree: %v", err)
	}
	return id
}

func treeNodeNames(t *testing.T, ctx context.Context, repo *testRepo, id model.ID) []string {
	t.Helper()
	tree, err := data.LoadTree(ctx, repo, id)
	if err != nil {
		t.Fatalf("load tree: %v", err)
	}
	var names []string
	for item := range tree {
		if item.Error != nil {
			t.Fatalf("iterate tree: %v", item.Error)
		}
		names = append(names, item.Node.Name)
	}
	return names
}

func TestRunRepairsMissingSubtree(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	okSub := saveTree(t, ctx, repo)
	readme := saveFile(t, ctx, repo, "readme", []byte("hello"))

	missingSubtree := model.Hash([]byte("never saved"))
	root := saveTree(t, ctx, repo,
		&data.Node{Name: "broken", Type: data.NodeTypeDir, Subtree: &missingSubtree},
		&data.Node{Name: "ok", Type: data.NodeTypeDir, Subtree: &okSub},
		readme,
	)
	mustFlush(t, ctx, repo)

	sn := &data.Snapshot{Time: time.Unix(1754000000, 0).UTC(), Paths: []string{"/data"}, Tree: root}
	snID, err := repo.SaveSnapshot(ctx, sn)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	sn.ID = snID

	newIDs, stats, err := repair.Run(ctx, repo, []*data.Snapshot{sn}, repair.Options{Forget: true})
	if err != nil {
		t.Fatalf("repair run: %v", err)
	}
	if stats.SnapshotsRepaired != 1 || stats.SnapshotsUnchanged != 0 || stats.SnapshotsDeleted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(newIDs) != 1 {
		t.Fatalf("expected 1 new snapshot, got %d", len(newIDs))
	}

	newSn, err := repo.LoadSnapshot(ctx, newIDs[0])
	if err != nil {
		t.Fatalf("load repaired snapshot: %v", err)
	}
	if newSn.Original == nil || *newSn.Original != sn.ID {
		t.Fatalf("expected original to be %v, got %v", sn.ID, newSn.Original)
	}
	if !newSn.Tags.Has("repaired") {
		t.Fatalf("expected repaired tag, got %v", newSn.Tags)
	}

	names := treeNodeNames(t, ctx, repo, newSn.Tree)
	want := []string{"broken.repaired", "ok", "readme"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	tree, err := data.LoadTree(ctx, repo, root)
	if err != nil {
		t.Fatalf("load original tree: %v", err)
	}
	var brokenSubtree *model.ID
	for item := range tree {
		if item.Error != nil {
			t.Fatal(item.Error)
		}
		if item.Node.Name == "broken" {
			brokenSubtree = item.Node.Subtree
		}
	}
	newTree, err := data.LoadTree(ctx, repo, newSn.Tree)
	if err != nil {
		t.Fatalf("load repaired tree: %v", err)
	}
	var repairedSubtree *model.ID
	for item := range newTree {
		if item.Error != nil {
			t.Fatal(item.Error)
		}
		if item.Node.Name == "broken.repaired" {
			repairedSubtree = item.Node.Subtree
		}
	}
	if repairedSubtree == nil || *repairedSubtree == *brokenSubtree {
		t.Fatalf("expected broken.repaired to point at a fresh empty tree, got %v", repairedSubtree)
	}
	emptyNames := treeNodeNames(t, ctx, repo, *repairedSubtree)
	if len(emptyNames) != 0 {
		t.Fatalf("expected empty substitute tree, got %v", emptyNames)
	}

	if _, err := repo.LoadSnapshot(ctx, sn.ID); err == nil {
		t.Fatal("expected original snapshot to be forgotten")
	}
}

func TestRunDryRunChangesNothing(t *testing.T) {
	ctx := context.Background()
	repo, be := newTestRepo(t)

	missingSubtree := model.Hash([]byte("never saved either"))
	root := saveTree(t, ctx, repo,
		&data.Node{Name: "broken", Type: data.NodeTypeDir, Subtree: &missingSubtree},
	)
	mustFlush(t, ctx, repo)

	sn := &data.Snapshot{Time: time.Unix(1754000100, 0).UTC(), Paths: []string{"/data"}, Tree: root}
	snID, err := repo.SaveSnapshot(ctx, sn)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	sn.ID = snID
	be.ResetOps()

	newIDs, stats, err := repair.Run(ctx, repo, []*data.Snapshot{sn}, repair.Options{DryRun: true, Forget: true})
	if err != nil {
		t.Fatalf("repair run: %v", err)
	}
	if stats.SnapshotsRepaired != 1 {
		t.Fatalf("expected 1 repaired in stats, got %+v", stats)
	}
	if len(newIDs) != 0 {
		t.Fatalf("dry run must not save anything, got %v", newIDs)
	}
	if _, err := repo.LoadSnapshot(ctx, sn.ID); err != nil {
		t.Fatalf("dry run must not delete the original: %v", err)
	}
}

func TestRunLeavesHealthySnapshotsUnchanged(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	readme := saveFile(t, ctx, repo, "readme", []byte("all good"))
	root := saveTree(t, ctx, repo, readme)
	mustFlush(t, ctx, repo)

	sn := &data.Snapshot{Time: time.Unix(1754000200, 0).UTC(), Paths: []string{"/data"}, Tree: root}
	snID, err := repo.SaveSnapshot(ctx, sn)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	sn.ID = snID

	newIDs, stats, err := repair.Run(ctx, repo, []*data.Snapshot{sn}, repair.Options{Forget: true})
	if err != nil {
		t.Fatalf("repair run: %v", err)
	}
	if stats.SnapshotsUnchanged != 1 || stats.SnapshotsRepaired != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(newIDs) != 0 {
		t.Fatalf("expected no new snapshots, got %v", newIDs)
	}
	if _, err := repo.LoadSnapshot(ctx, sn.ID); err != nil {
		t.Fatalf("healthy snapshot must survive: %v", err)
	}
}

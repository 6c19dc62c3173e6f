package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/backend/local"
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/repository"
)

func testCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&bytes.Buffer{})
	return cmd
}

func mustInit(t *testing.T, repoDir, keyFile string) {
	t.Helper()
	if err := runInit(testCmd(t), repoOptions{Repo: repoDir, KeyFile: keyFile}); err != nil {
		t.Fatalf("init: %v", err)
	}
}

// seedSnapshot opens repoDir directly (bypassing the CLI, since backup
// ingest is out of this module's scope) and saves one file, its tree, and a
// snapshot referencing it.
func seedSnapshot(t *testing.T, repoDir, keyFile string, content []byte) model.ID {
	t.Helper()
	ctx := context.Background()

	key, err := loadKey(keyFile)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}

	be := local.New(repoDir)
	idxRepo := &index.BackendRepository{Backend: be}
	repo := repository.New(be, key, idxRepo, 2)

	id, _, _, err := repo.SaveBlob(ctx, model.DataBlob, content, model.ID{}, false)
	if err != nil {
		t.Fatalf("save blob: %v", err)
	}
	node := &data.Node{Name: "file", Type: data.NodeTypeFile, Content: model.IDs{id}, Size: uint64(len(content))}

	w := data.NewTreeWriter(repo)
	if err := w.AddNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	root, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize tree: %v", err)
	}
	idx := index.NewIndexer(idxRepo, false)
	if err := repo.FlushAll(ctx, idx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := idx.Finalize(ctx); err != nil {
		t.Fatalf("write index: %v", err)
	}

	snapRepo := &data.BackendSnapshotRepository{Backend: be}
	snID, err := snapRepo.SaveSnapshot(ctx, &data.Snapshot{Paths: []string{"/data"}, Tree: root})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	return snID
}

func TestRestoreWritesSeededSnapshotToTarget(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	keyFile := filepath.Join(t.TempDir(), "key")
	mustInit(t, repoDir, keyFile)

	content := []byte("hello from the repository")
	snID := seedSnapshot(t, repoDir, keyFile, content)

	target := t.TempDir()
	opts := restoreOptions{
		repoOptions: repoOptions{Repo: repoDir, KeyFile: keyFile},
		Snapshot:    snID.String(),
		Target:      target,
	}
	if err := runRestore(testCmd(t), opts); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "file"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restored content = %q, want %q", got, content)
	}
}

func TestRepairReportsUnchangedForHealthySnapshot(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	keyFile := filepath.Join(t.TempDir(), "key")
	mustInit(t, repoDir, keyFile)
	seedSnapshot(t, repoDir, keyFile, []byte("healthy"))

	out := &bytes.Buffer{}
	cmd := testCmd(t)
	cmd.SetOut(out)
	opts := repairOptions{repoOptions: repoOptions{Repo: repoDir, KeyFile: keyFile}}
	if err := runRepair(cmd, opts, nil); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !strings.Contains(out.String(), "repair: 1 unchanged, 0 repaired, 0 deleted") {
		t.Fatalf("expected one unchanged snapshot, got %q", out.String())
	}
}

func TestCopyMovesSnapshotToDestination(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	srcKey := filepath.Join(t.TempDir(), "src.key")
	mustInit(t, srcDir, srcKey)
	seedSnapshot(t, srcDir, srcKey, []byte("copy me"))

	dstDir := filepath.Join(t.TempDir(), "dst")
	dstKey := filepath.Join(t.TempDir(), "dst.key")
	mustInit(t, dstDir, dstKey)

	opts := copyOptions{
		From: repoOptions{Repo: srcDir, KeyFile: srcKey},
		To:   repoOptions{Repo: dstDir, KeyFile: dstKey},
	}
	if err := runCopy(testCmd(t), opts, nil); err != nil {
		t.Fatalf("copy: %v", err)
	}

	snapRepo := &data.BackendSnapshotRepository{Backend: local.New(dstDir)}
	var count int
	if err := snapRepo.ListSnapshotIDs(context.Background(), func(model.ID) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("list dst snapshots: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 snapshot at destination, got %d", count)
	}
}

func TestInitRefusesToOverwriteExistingKeyFile(t *testing.T) {
	repoDir := filepath.Join(t.TempDir(), "repo")
	keyFile := filepath.Join(t.TempDir(), "key")
	mustInit(t, repoDir, keyFile)

	if err := runInit(testCmd(t), repoOptions{Repo: repoDir, KeyFile: keyFile}); err == nil {
		t.Fatalf("expected second init to fail, key file already exists")
	}
}

package index_test

import (
	"context"
	"testing"

	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
)

func blob(b byte) model.BlobHandle {
	var id model.ID
	id[0] = b
	return model.BlobHandle{ID: id, Type: model.DataBlob}
}

func TestIndexerAddAndFlush(t *testing.T) {
	repo := &index.BackendRepository{Backend: mem.New()}
	ix := index.NewIndexer(repo, true)
	ctx := context.Background()

	pack := index.Pack{
		ID:       model.Hash([]byte("pack1")),
		BlobType: model.DataBlob,
		Blobs: []index.Blob{
			{BlobHandle: blob(1), Offset: 0, Length: 10},
			{BlobHandle: blob(2), Offset: 10, Length: 20},
		},
	}
	if err := ix.Add(ctx, pack); err != nil {
		t.Fatal(err)
	}

	if !ix.Has(blob(1)) || !ix.Has(blob(2)) {
		t.Fatal("expected both blobs to be tracked before flush")
	}
	if ix.Has(blob(3)) {
		t.Fatal("unexpected membership for unrecorded blob")
	}

	ids, err := ix.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one flushed index file, got %d", len(ids))
	}

	loaded, err := repo.LoadIndex(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Packs) != 1 || len(loaded.Packs[0].Blobs) != 2 {
		t.Fatalf("unexpected flushed index contents: %+v", loaded)
	}
}

func TestIndexerAutoFlushOnCount(t *testing.T) {
	repo := &index.BackendRepository{Backend: mem.New()}
	ix := index.NewIndexer(repo, false)
	ctx := context.Background()

	blobs := make([]index.Blob, index.MaxBlobsPerFile)
	for i := range blobs {
		var id model.ID
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		blobs[i] = index.Blob{BlobHandle: model.BlobHandle{ID: id, Type: model.DataBlob}, Length: 1}
	}
	pack := index.Pack{ID: model.Hash([]byte("big")), BlobType: model.DataBlob, Blobs: blobs}

	if err := ix.Add(ctx, pack); err != nil {
		t.Fatal(err)
	}
	if len(ix.Saved) != 1 {
		t.Fatalf("expected automatic flush once MaxBlobsPerFile was reached, got %d saved files", len(ix.Saved))
	}
}

func TestIndexerUntrackedHasAlwaysFalse(t *testing.T) {
	repo := &index.BackendRepository{Backend: mem.New()}
	ix := index.NewIndexer(repo, false)
	ctx := context.Background()

	pack := index.Pack{ID: model.Hash([]byte("p")), BlobType: model.DataBlob, Blobs: []index.Blob{{BlobHandle: blob(1), Length: 5}}}
	if err := ix.Add(ctx, pack); err != nil {
		t.Fatal(err)
	}
	if ix.Has(blob(1)) {
		t.Fatal("new_unindexed indexer must not track membership")
	}
}

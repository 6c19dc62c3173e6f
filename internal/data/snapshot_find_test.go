package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
)

func newTestRepo(t *testing.T) *data.BackendSnapshotRepository {
	return &data.BackendSnapshotRepository{Backend: mem.New()}
}

func mustSave(t *testing.T, repo *data.BackendSnapshotRepository, unixTime int64) *data.Snapshot {
	t.Helper()
	s := &data.Snapshot{Time: time.Unix(unixTime, 0).UTC(), Hostname: "h", Paths: []string{"/data"}}
	id, err := repo.SaveSnapshot(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	s.ID = id
	return s
}

func TestLatestN(t *testing.T) {
	repo := newTestRepo(t)
	mustSave(t, repo, 1752483600)
	mustSave(t, repo, 1752483700)
	s3 := mustSave(t, repo, 1752483800)

	ctx := context.Background()

	latest, err := data.FromStr(ctx, repo, nil, "latest")
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Time.Equal(s3.Time) {
		t.Fatalf("latest returned wrong snapshot: %v", latest.Time)
	}

	second, err := data.FromStr(ctx, repo, nil, "latest~2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Time.Unix() != 1752483600 {
		t.Fatalf("latest~2 returned wrong snapshot: %v", second.Time)
	}

	_, err = data.FromStr(ctx, repo, nil, "latest~3")
	if err == nil {
		t.Fatal("expected error for latest~3")
	}
	if !errors.Is(err, data.ErrLatestOutOfRange) {
		t.Fatalf("expected ErrLatestOutOfRange, got %v", err)
	}
}

func TestFromStrAmbiguousPrefix(t *testing.T) {
	repo := newTestRepo(t)
	mustSave(t, repo, 1)
	mustSave(t, repo, 2)

	if _, err := data.FromStr(context.Background(), repo, nil, ""); err == nil {
		t.Fatal("expected ambiguity error for empty prefix")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	orig := &data.Snapshot{
		Time:     time.Unix(100, 0).UTC(),
		Hostname: "box",
		Label:    "nightly",
		Paths:    []string{"/a", "/b"},
	}
	orig.Tags.Insert("z")
	orig.Tags.Insert("a")

	id, err := repo.SaveSnapshot(context.Background(), orig)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := repo.LoadSnapshot(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	orig.ID = id
	if diff := cmp.Diff(orig, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-orig +loaded):\n%s", diff)
	}
}

func TestModifyNoopReturnsNil(t *testing.T) {
	s := &data.Snapshot{Hostname: "h"}
	host := "h"
	result := data.Modify(s, data.ModifySet{Hostname: &host}, nil, nil)
	if result != nil {
		t.Fatalf("expected nil for no-op modify, got %+v", result)
	}
}

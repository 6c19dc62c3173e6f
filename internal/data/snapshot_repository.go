package data

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// SnapshotRepository is the narrow surface the snapshot store needs: list,
// load, save, and delete whole snapshot files on a Backend.
type SnapshotRepository interface {
	ListSnapshotIDs(ctx context.Context, fn func(model.ID) error) error
	LoadSnapshot(ctx context.Context, id model.ID) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, s *Snapshot) (model.ID, error)
	DeleteSnapshots(ctx context.Context, ids model.IDs) error
}

// BackendSnapshotRepository implements SnapshotRepository directly on a
// backend.Backend, with snapshots serialized as forbid-unknown-fields JSON
// per spec §6 ("unknown fields forbidden on input").
type BackendSnapshotRepository struct {
	Backend backend.Backend
}

func (r *BackendSnapshotRepository) ListSnapshotIDs(ctx context.Context, fn func(model.ID) error) error {
	return r.Backend.List(ctx, model.SnapshotFile, func(h model.Handle, _ backend.FileInfo) error {
		id, err := model.ParseID(h.Name)
		if err != nil {
			return errors.Wrap(err, "parse snapshot id")
		}
		return fn(id)
	})
}

func (r *BackendSnapshotRepository) LoadSnapshot(ctx context.Context, id model.ID) (*Snapshot, error) {
	raw, err := r.Backend.ReadFull(ctx, model.Handle{Type: model.SnapshotFile, Name: id.String()})
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	s.ID = id
	return &s, nil
}

func (r *BackendSnapshotRepository) SaveSnapshot(ctx context.Context, s *Snapshot) (model.ID, error) {
	buf, err := json.Marshal(s)
	if err != nil {
		return model.ID{}, errors.Wrap(err, "encode snapshot")
	}
	id := model.Hash(buf)
	h := model.Handle{Type: model.SnapshotFile, Name: id.String()}
	if err := r.Backend.WriteFile(ctx, h, buf); err != nil {
		return model.ID{}, err
	}
	return id, nil
}

func (r *BackendSnapshotRepository) DeleteSnapshots(ctx context.Context, ids model.IDs) error {
	handles := make([]model.Handle, len(ids))
	for i, id := range ids {
		handles[i] = model.Handle{Type: model.SnapshotFile, Name: id.String()}
	}
	return r.Backend.DeleteList(ctx, false, handles, nil)
}

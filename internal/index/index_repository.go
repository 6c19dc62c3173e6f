package index

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// Repository is the narrow surface the Indexer and MasterIndex need to list,
// load, save, and delete whole index files on a Backend.
type Repository interface {
	ListIndexIDs(ctx context.Context, fn func(model.ID) error) error
	LoadIndex(ctx context.Context, id model.ID) (*File, error)
	SaveIndex(ctx context.Context, f *File) (model.ID, error)
	DeleteIndexes(ctx context.Context, ids model.IDs) error
}

// BackendRepository implements Repository directly on a backend.Backend.
type BackendRepository struct {
	Backend backend.Backend
}

func (r *BackendRepository) ListIndexIDs(ctx context.Context, fn func(model.ID) error) error {
	return r.Backend.List(ctx, model.IndexFile, func(h model.Handle, _ backend.FileInfo) error {
		id, err := model.ParseID(h.Name)
		if err != nil {
			return errors.Wrap(err, "parse index id")
		}
		return fn(id)
	})
}

func (r *BackendRepository) LoadIndex(ctx context.Context, id model.ID) (*File, error) {
	raw, err := r.Backend.ReadFull(ctx, model.Handle{Type: model.IndexFile, Name: id.String()})
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decode index")
	}
	f.ID = id
	return &f, nil
}

func (r *BackendRepository) SaveIndex(ctx context.Context, f *File) (model.ID, error) {
	buf, err := json.Marshal(f)
	if err != nil {
		return model.ID{}, errors.Wrap(err, "encode index")
	}
	id := model.Hash(buf)
	h := model.Handle{Type: model.IndexFile, Name: id.String()}
	if err := r.Backend.WriteFile(ctx, h, buf); err != nil {
		return model.ID{}, err
	}
	f.ID = id
	return id, nil
}

func (r *BackendRepository) DeleteIndexes(ctx context.Context, ids model.IDs) error {
	handles := make([]model.Handle, len(ids))
	for i, id := range ids {
		handles[i] = model.Handle{Type: model.IndexFile, Name: id.String()}
	}
	return r.Backend.DeleteList(ctx, false, handles, nil)
}

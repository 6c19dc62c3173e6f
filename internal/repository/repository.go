// Package repository ties the backend, crypto, pack, and index layers
// together into the model.Repository a caller programs against, and hosts
// the prune planner and executor.
package repository

import (
	"bytes"
	"context"
	"sync"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/pack"
)

// Repository is the concrete model.Repository: an encrypted, indexed,
// pack-based blob store on top of a backend.Backend.
type Repository struct {
	Backend backend.Backend
	Key     *crypto.Key
	Index   *index.MasterIndex
	IdxRepo index.Repository

	// AppendOnly makes Plan.Execute refuse to run, so prune deletes and
	// rewrites nothing, for repositories backed by a write-once remote.
	// Repair does not consult it.
	AppendOnly bool

	connections uint

	mu      sync.Mutex
	packers map[model.BlobType]*openPacker
}

type openPacker struct {
	packer *pack.Packer
	buf    *bytes.Buffer
}

// New creates a Repository over be, encrypting/decrypting with key and
// reading/writing its index through idxRepo.
func New(be backend.Backend, key *crypto.Key, idxRepo index.Repository, connections uint) *Repository {
	if connections == 0 {
		connections = 2
	}
	return &Repository{
		Backend:     be,
		Key:         key,
		Index:       index.NewMasterIndex(),
		IdxRepo:     idxRepo,
		connections: connections,
		packers:     map[model.BlobType]*openPacker{},
	}
}

// LoadIndex reads every index file on the backend into the in-memory
// MasterIndex. treeOnly skips data blob entries to keep RAM bounded; the
// prune planner does not use it, as it reads the index files itself.
func (r *Repository) LoadIndex(ctx context.Context, treeOnly bool) error {
	return r.Index.Load(ctx, r.IdxRepo, treeOnly)
}

func (r *Repository) Connections() uint { return r.connections }

// LoadBlob reads and decrypts one blob's plaintext.
func (r *Repository) LoadBlob(ctx context.Context, t model.BlobType, id model.ID, _ []byte) ([]byte, error) {
	pb, ok := r.Index.Get(model.BlobHandle{ID: id, Type: t})
	if !ok {
		return nil, errors.Wrapf(model.ErrBlobMissing, "%v/%v", t, id)
	}
	ciphertext, err := r.Backend.ReadPartial(ctx, model.Handle{Type: model.PackFile, Name: pb.PackID.String()}, true, int64(pb.Offset), int64(pb.Length))
	if err != nil {
		return nil, err
	}
	return pack.DecryptBlob(r.Key, ciphertext, pb.UncompressedLength)
}

// ReadPackRange fetches a raw, still-encrypted byte range directly from a
// pack file, bypassing the blob index. Callers that already know the
// (packID, offset, length) of one or more blobs, such as the restorer's
// coalesced reads, use this instead of LoadBlob.
func (r *Repository) ReadPackRange(ctx context.Context, packID model.ID, offset, length int64) ([]byte, error) {
	return r.Backend.ReadPartial(ctx, model.Handle{Type: model.PackFile, Name: packID.String()}, false, offset, length)
}

// DecryptBlob decrypts and verifies one blob's ciphertext, as read by
// ReadPackRange. uncompressedLength is 0 for blobs that were stored
// uncompressed.
func (r *Repository) DecryptBlob(ciphertext []byte, uncompressedLength uint) ([]byte, error) {
	return pack.DecryptBlob(r.Key, ciphertext, uncompressedLength)
}

// LookupBlobSize returns the uncompressed size of a known blob.
func (r *Repository) LookupBlobSize(t model.BlobType, id model.ID) (uint, bool) {
	pb, ok := r.Index.Get(model.BlobHandle{ID: id, Type: t})
	if !ok {
		return 0, false
	}
	if pb.IsCompressed() {
		return pb.UncompressedLength, true
	}
	return pb.Length - uint(crypto.Extension), true
}

// LookupBlob returns every known location of a blob.
func (r *Repository) LookupBlob(t model.BlobType, id model.ID) ([]model.PackedBlob, bool) {
	return r.Index.Lookup(model.BlobHandle{ID: id, Type: t})
}

// List enumerates the ids of every file of type t on the backend, e.g. every
// snapshot. It satisfies model.Lister so Repository can stand in wherever a
// model.Repository is required.
func (r *Repository) List(ctx context.Context, t model.FileType, fn func(model.ID) error) error {
	return r.Backend.List(ctx, t, func(h model.Handle, _ backend.FileInfo) error {
		id, err := model.ParseID(h.Name)
		if err != nil {
			return errors.Wrapf(err, "parse %v id %q", t, h.Name)
		}
		return fn(id)
	})
}

// SaveBlob compresses, encrypts, and appends data to the currently open
// packer for its type, flushing to a new pack file once the packer crosses
// its target size.
func (r *Repository) SaveBlob(ctx context.Context, t model.BlobType, data []byte, id model.ID, storeDuplicate bool) (model.ID, bool, int, error) {
	if id.IsNull() {
		id = model.Hash(data)
	}
	if !storeDuplicate && r.Index.Has(model.BlobHandle{ID: id, Type: t}) {
		return id, true, len(data), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.packers[t]
	if op == nil {
		op = r.newPacker(t)
		r.packers[t] = op
	}

	_, err := op.packer.Add(t, id, data, len(data))
	if err != nil {
		return model.ID{}, false, 0, err
	}

	if op.packer.Size() >= targetPackSize(t) {
		if err := r.flushPacker(ctx, t); err != nil {
			return model.ID{}, false, 0, err
		}
	}
	return id, false, len(data), nil
}

// SaveBlobRaw appends an already-encrypted blob directly to the currently
// open packer for its type, without decrypting or re-encrypting it. Used by
// prune's fast repack path to move ciphertext between packs untouched.
func (r *Repository) SaveBlobRaw(ctx context.Context, t model.BlobType, id model.ID, ciphertext []byte, uncompressedLength uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.packers[t]
	if op == nil {
		op = r.newPacker(t)
		r.packers[t] = op
	}

	if _, err := op.packer.AddRaw(t, id, ciphertext, uncompressedLength); err != nil {
		return err
	}

	if op.packer.Size() >= targetPackSize(t) {
		if err := r.flushPacker(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) newPacker(_ model.BlobType) *openPacker {
	buf := &bytes.Buffer{}
	return &openPacker{packer: pack.NewPacker(r.Key, buf), buf: buf}
}

func targetPackSize(t model.BlobType) uint {
	if t == model.TreeBlob {
		return 4 << 20
	}
	return 16 << 20
}

// FlushAll flushes every currently open packer, writing its pack file and
// recording a live IndexPack for it via idx.
func (r *Repository) FlushAll(ctx context.Context, idx *index.Indexer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range r.packers {
		if err := r.flushPackerLocked(ctx, t, idx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) flushPacker(ctx context.Context, t model.BlobType) error {
	return r.flushPackerLocked(ctx, t, nil)
}

func (r *Repository) flushPackerLocked(ctx context.Context, t model.BlobType, idx *index.Indexer) error {
	op := r.packers[t]
	if op == nil || op.packer.Count() == 0 {
		return nil
	}
	if err := op.packer.Finalize(); err != nil {
		return err
	}
	raw := op.buf.Bytes()
	id := model.Hash(raw)
	if err := r.Backend.WriteFile(ctx, model.Handle{Type: model.PackFile, Name: id.String()}, raw); err != nil {
		return err
	}

	ip := index.Pack{ID: id, BlobType: t}
	for _, b := range op.packer.Entries() {
		ip.Blobs = append(ip.Blobs, index.Blob{
			BlobHandle:         b.BlobHandle,
			Offset:             b.Offset,
			Length:             b.Length,
			UncompressedLength: b.UncompressedLength,
		})
		pb := model.PackedBlob{BlobHandle: b.BlobHandle, PackID: id, Offset: b.Offset, Length: b.Length, UncompressedLength: b.UncompressedLength}
		r.Index.MergeOne(pb)
	}
	if idx != nil {
		if err := idx.Add(ctx, ip); err != nil {
			return err
		}
	}
	delete(r.packers, t)
	return nil
}

package restorer

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// maxConcurrentReaders bounds how many pack ranges RestoreContent fetches at
// once.
const maxConcurrentReaders = 20

// maxCoalesceBytes is the largest merged read processGroup will issue; two
// adjacent blob ranges are only merged if doing so stays under this cap.
const maxCoalesceBytes = 40 << 20

// PackReader fetches and decrypts pack ciphertext. *repository.Repository
// satisfies this.
type PackReader interface {
	ReadPackRange(ctx context.Context, packID model.ID, offset, length int64) ([]byte, error)
	DecryptBlob(ciphertext []byte, uncompressedLength uint) ([]byte, error)
}

// FileWriter creates and writes destination files. Allocate is called once
// per file before any WriteAt for it, even for zero-length files.
type FileWriter interface {
	Allocate(path string, size uint64) error
	WriteAt(path string, offset uint64, data []byte) error
}

// ExecOptions tunes an Executor's concurrency and caching.
type ExecOptions struct {
	MaxConcurrentReaders int
	MaxCoalesceBytes     int64
	PackCacheBytes       int64
}

func (o ExecOptions) withDefaults() ExecOptions {
	if o.MaxConcurrentReaders <= 0 {
		o.MaxConcurrentReaders = maxConcurrentReaders
	}
	if o.MaxCoalesceBytes <= 0 {
		o.MaxCoalesceBytes = maxCoalesceBytes
	}
	if o.PackCacheBytes <= 0 {
		o.PackCacheBytes = 64 << 20
	}
	return o
}

// Executor carries out a Plan's reads and writes.
type Executor struct {
	Plan    *Plan
	Reader  PackReader
	Writer  FileWriter
	Options ExecOptions

	cache *packCache
}

// NewExecutor builds an Executor for plan, reading through reader and
// writing through writer.
func NewExecutor(plan *Plan, reader PackReader, writer FileWriter, opts ExecOptions) *Executor {
	opts = opts.withDefaults()
	return &Executor{
		Plan:    plan,
		Reader:  reader,
		Writer:  writer,
		Options: opts,
		cache:   newPackCache(opts.PackCacheBytes),
	}
}

type packGroup struct {
	packID model.ID
	offset uint
	length uint
	keys   []PackBlobKey
}

// RestoreContent allocates every planned file that needs writing and then
// writes the content blobs PlanRestore decided needed (re)writing,
// coalescing adjacent blob ranges within a pack into single reads.
func (e *Executor) RestoreContent(ctx context.Context) error {
	for _, pf := range e.Plan.Files {
		if pf.Node.Type == data.NodeTypeFile && (pf.Action != ActionExisting || pf.Node.Size == 0) {
			if err := e.Writer.Allocate(pf.Path, pf.Node.Size); err != nil {
				return err
			}
		}
	}

	groups := e.coalesce()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Options.MaxConcurrentReaders)

	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			return e.processGroup(gctx, grp)
		})
	}

	return g.Wait()
}

// coalesce groups the pack ranges that still need reading (at least one
// FileLocation with Matches == false) into merged, contiguous reads per
// pack, each no larger than Options.MaxCoalesceBytes.
func (e *Executor) coalesce() []packGroup {
	byPack := make(map[model.ID][]PackBlobKey)
	for key, locs := range e.Plan.Reads {
		needed := false
		for _, l := range locs {
			if !l.Matches {
				needed = true
				break
			}
		}
		if !needed {
			continue
		}
		byPack[key.PackID] = append(byPack[key.PackID], key)
	}

	var groups []packGroup
	for packID, keys := range byPack {
		sort.Slice(keys, func(i, j int) bool { return keys[i].Offset < keys[j].Offset })

		var cur *packGroup
		for _, k := range keys {
			if cur != nil && k.Offset == cur.offset+cur.length &&
				int64(cur.length)+int64(k.Length) <= e.Options.MaxCoalesceBytes {
				cur.length += k.Length
				cur.keys = append(cur.keys, k)
				continue
			}
			if cur != nil {
				groups = append(groups, *cur)
			}
			cur = &packGroup{packID: packID, offset: k.Offset, length: k.Length, keys: []PackBlobKey{k}}
		}
		if cur != nil {
			groups = append(groups, *cur)
		}
	}

	return groups
}

// processGroup fetches one merged pack range and writes every content blob
// it covers into its destination file(s).
func (e *Executor) processGroup(ctx context.Context, grp packGroup) error {
	merged, err := e.readRange(ctx, grp.packID, int64(grp.offset), int64(grp.length))
	if err != nil {
		return err
	}

	for _, key := range grp.keys {
		blobStart := key.Offset - grp.offset
		ciphertext := merged[blobStart : blobStart+key.Length]

		locs := e.Plan.Reads[key]
		needsPlaintext := false
		for _, l := range locs {
			if !l.Matches {
				needsPlaintext = true
				break
			}
		}
		if !needsPlaintext {
			continue
		}

		plaintext, err := e.Reader.DecryptBlob(ciphertext, key.UncompressedLength)
		if err != nil {
			return errors.Wrapf(err, "decrypt blob in pack %v", grp.packID)
		}

		for _, loc := range locs {
			if loc.Matches {
				continue
			}
			pf := e.Plan.Files[loc.FileIdx]
			if err := e.Writer.WriteAt(pf.Path, loc.FileStart, plaintext); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Executor) readRange(ctx context.Context, packID model.ID, offset, length int64) ([]byte, error) {
	if cached, ok := e.cache.Get(packID, uint(offset), uint(length)); ok {
		return cached, nil
	}
	raw, err := e.Reader.ReadPackRange(ctx, packID, offset, length)
	if err != nil {
		return nil, err
	}
	e.cache.Put(packID, uint(offset), uint(length), raw)
	return raw, nil
}

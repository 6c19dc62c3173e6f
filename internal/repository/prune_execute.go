package repository

import (
	"context"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/progress"
	"golang.org/x/sync/errgroup"
)

// Execute carries out the plan: repacking, rewriting the index, and
// deleting superseded packs and index files, in an order that keeps the
// repository recoverable if interrupted (new index durable before old packs
// vanish; repacked bytes durable before their source pack is removed).
func (p *Plan) Execute(ctx context.Context, printer progress.Printer) error {
	if printer == nil {
		printer = progress.NoopPrinter{}
	}

	// Prerequisite: append-only repositories forbid deleting or rewriting.
	for _, pp := range p.packs {
		if pp.ToDo != Keep {
			if p.repo.AppendOnly {
				return errors.Wrap(ErrAppendOnlyPrune, "prune")
			}
			break
		}
	}

	if w, ok := p.repo.Backend.(backend.Warmer); ok {
		var handles []model.Handle
		for _, pp := range p.packs {
			if pp.ToDo == Repack {
				handles = append(handles, model.Handle{Type: model.PackFile, Name: pp.ID.String()})
			}
		}
		if len(handles) > 0 {
			if err := w.Warmup(ctx, handles); err != nil {
				printer.Warn("warmup failed: " + err.Error())
			}
		}
	}

	idx := index.NewIndexer(p.repo.IdxRepo, false)

	var toDeleteData, toDeleteTree model.IDs
	recordDelete := func(pp *PrunePack) {
		if pp.BlobType == model.TreeBlob {
			toDeleteTree = append(toDeleteTree, pp.ID)
		} else {
			toDeleteData = append(toDeleteData, pp.ID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.repo.Connections()) + 1)

	for _, pp := range p.packs {
		pp := pp
		switch pp.ToDo {
		case Undecided:
			return errors.Errorf("pack %v left undecided by the planner", pp.ID)

		case Keep:
			if err := idx.Add(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: pp.Time, Blobs: pp.Blobs}); err != nil {
				return err
			}

		case Recover:
			if err := idx.Add(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: pp.Time, Blobs: pp.Blobs}); err != nil {
				return err
			}

		case KeepMarked:
			t := pp.Time
			if t == nil {
				t = &p.time
			}
			if err := idx.AddRemove(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: t, Blobs: pp.Blobs}); err != nil {
				return err
			}

		case KeepMarkedAndCorrect:
			printer.Warn("pack " + pp.ID.Str() + " marked for deletion with no timestamp; healing")
			if err := idx.AddRemove(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: &p.time, Blobs: pp.Blobs}); err != nil {
				return err
			}

		case Delete:
			recordDelete(pp)

		case MarkDelete:
			if p.opts.InstantDelete {
				recordDelete(pp)
			} else if err := idx.AddRemove(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: &p.time, Blobs: pp.Blobs}); err != nil {
				return err
			}

		case Repack:
			g.Go(func() error {
				return p.repackPack(gctx, pp)
			})
			if p.opts.InstantDelete {
				recordDelete(pp)
			} else if err := idx.AddRemove(ctx, index.Pack{ID: pp.ID, BlobType: pp.BlobType, Time: &p.time, Blobs: pp.Blobs}); err != nil {
				return err
			}
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if p.opts.EarlyDeleteIndex {
		if err := p.repo.IdxRepo.DeleteIndexes(ctx, p.rewriteIndexIDs); err != nil {
			return err
		}
	}

	if err := p.repo.FlushAll(ctx, idx); err != nil {
		return err
	}
	if _, err := idx.Finalize(ctx); err != nil {
		return err
	}

	if !p.opts.EarlyDeleteIndex {
		if err := p.repo.IdxRepo.DeleteIndexes(ctx, p.rewriteIndexIDs); err != nil {
			return err
		}
	}

	if len(toDeleteData) > 0 {
		handles := make([]model.Handle, len(toDeleteData))
		for i, id := range toDeleteData {
			handles[i] = model.Handle{Type: model.PackFile, Name: id.String()}
		}
		if err := p.repo.Backend.DeleteList(ctx, false, handles, nil); err != nil {
			return err
		}
	}
	if len(toDeleteTree) > 0 {
		handles := make([]model.Handle, len(toDeleteTree))
		for i, id := range toDeleteTree {
			handles[i] = model.Handle{Type: model.PackFile, Name: id.String()}
		}
		if err := p.repo.Backend.DeleteList(ctx, false, handles, nil); err != nil {
			return err
		}
	}

	printer.Print("prune: done")
	return nil
}

// repackPack moves every surviving blob of pp into the repository's current
// packers for its type, skipping blobs this pack held only as unused data or
// a redundant duplicate.
func (p *Plan) repackPack(ctx context.Context, pp *PrunePack) error {
	for i, b := range pp.Blobs {
		if !pp.Keep[i] {
			continue
		}

		if p.opts.FastRepack {
			ciphertext, err := p.repo.ReadPackRange(ctx, pp.ID, int64(b.Offset), int64(b.Length))
			if err != nil {
				return errors.Wrapf(err, "repack: read blob %v", b.BlobHandle)
			}
			if err := p.repo.SaveBlobRaw(ctx, b.Type, b.ID, ciphertext, b.UncompressedLength); err != nil {
				return errors.Wrapf(err, "repack: save raw blob %v", b.BlobHandle)
			}
			continue
		}

		data, err := p.repo.LoadBlob(ctx, b.Type, b.ID, nil)
		if err != nil {
			return errors.Wrapf(err, "repack: load blob %v", b.BlobHandle)
		}
		if _, _, _, err := p.repo.SaveBlob(ctx, b.Type, data, b.ID, true); err != nil {
			return errors.Wrapf(err, "repack: save blob %v", b.BlobHandle)
		}
	}
	return nil
}

package data

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arkiveio/arkive/internal/debug"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/progress"
)

type trackedTreeItem struct {
	model.ID
	Subtrees model.IDs
	rootIdx  int
}

type trackedID struct {
	model.ID
	rootIdx int
}

// subtreesCollector wraps a TreeNodeIterator, returning a new iterator that
// also collects every Dir node's subtree id as it is consumed.
func subtreesCollector(tree TreeNodeIterator) (TreeNodeIterator, func() model.IDs) {
	var subtrees model.IDs
	complete := false

	return func(yield func(NodeOrError) bool) {
			for item := range tree {
				if !yield(item) {
					return
				}
				if item.Node != nil && item.Node.Type == NodeTypeDir && item.Node.Subtree != nil {
					subtrees = append(subtrees, *item.Node.Subtree)
				}
			}
			complete = true
		}, func() model.IDs {
			if !complete {
				panic("tree was not read completely")
			}
			return subtrees
		}
}

func loadTreeWorker(
	ctx context.Context,
	repo model.BlobLoader,
	in <-chan trackedID,
	process func(id model.ID, err error, nodes TreeNodeIterator) error,
	out chan<- trackedTreeItem,
) error {
	for treeID := range in {
		tree, err := LoadTree(ctx, repo, treeID.ID)
		if tree == nil && err == nil {
			err = errors.New("tree is nil and error is nil")
		}

		var collect func() model.IDs
		if tree != nil {
			tree, collect = subtreesCollector(tree)
		}

		if err := process(treeID.ID, err, tree); err != nil {
			return err
		}

		var subtrees model.IDs
		if collect != nil {
			subtrees = collect()
		}

		job := trackedTreeItem{ID: treeID.ID, Subtrees: subtrees, rootIdx: treeID.rootIdx}
		select {
		case <-ctx.Done():
			return nil
		case out <- job:
		}
	}
	return nil
}

func filterTrees(ctx context.Context, trees model.IDs, loaderChan chan<- trackedID,
	in <-chan trackedTreeItem, skip func(model.ID) bool, p *progress.Counter) {

	var (
		inCh                    = in
		loadCh                  chan<- trackedID
		nextTreeID              trackedID
		outstandingLoadTreeJobs = 0
	)
	rootCounter := make([]int, len(trees))
	backlog := make([]trackedID, 0, len(trees))
	for idx, id := range trees {
		backlog = append(backlog, trackedID{ID: id, rootIdx: idx})
		rootCounter[idx] = 1
	}

	for {
		if loadCh == nil && len(backlog) > 0 {
			ln := len(backlog) - 1
			nextTreeID, backlog = backlog[ln], backlog[:ln]

			if skip(nextTreeID.ID) {
				rootCounter[nextTreeID.rootIdx]--
				if rootCounter[nextTreeID.rootIdx] == 0 {
					p.Add(1)
				}
				continue
			}
			loadCh = loaderChan
		}

		if loadCh == nil && outstandingLoadTreeJobs == 0 {
			debug.Log("tree stream backlog empty, exiting")
			return
		}

		select {
		case <-ctx.Done():
			return
		case loadCh <- nextTreeID:
			outstandingLoadTreeJobs++
			loadCh = nil
		case j, ok := <-inCh:
			if !ok {
				inCh = nil
				continue
			}
			outstandingLoadTreeJobs--
			rootCounter[j.rootIdx]--

			for i := len(j.Subtrees) - 1; i >= 0; i-- {
				id := j.Subtrees[i]
				if id.IsNull() {
					debug.Log("tree %v has null subtree", j.ID)
					continue
				}
				backlog = append(backlog, trackedID{ID: id, rootIdx: j.rootIdx})
				rootCounter[j.rootIdx]++
			}
			if rootCounter[j.rootIdx] == 0 {
				p.Add(1)
			}
		}
	}
}

// StreamTrees loads trees and their subtrees in parallel, deduplicating by
// id via skip. skip is always called from the same goroutine. process is
// called from worker goroutines and must fully drain nodes (or return an
// error) before returning. If process returns an error, StreamTrees aborts
// and returns that error.
func StreamTrees(
	ctx context.Context,
	repo model.BlobLoader,
	trees model.IDs,
	p *progress.Counter,
	skip func(tree model.ID) bool,
	process func(id model.ID, err error, nodes TreeNodeIterator) error,
) error {
	loaderChan := make(chan trackedID)
	loadedTreeChan := make(chan trackedTreeItem)

	var loadTreeWg sync.WaitGroup

	wg, ctx := errgroup.WithContext(ctx)
	workerCount := int(repo.Connections()) + runtime.GOMAXPROCS(0)
	if workerCount < 1 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		loadTreeWg.Add(1)
		wg.Go(func() error {
			defer loadTreeWg.Done()
			return loadTreeWorker(ctx, repo, loaderChan, process, loadedTreeChan)
		})
	}

	wg.Go(func() error {
		loadTreeWg.Wait()
		close(loadedTreeChan)
		return nil
	})

	wg.Go(func() error {
		defer close(loaderChan)
		filterTrees(ctx, trees, loaderChan, loadedTreeChan, skip, p)
		return nil
	})

	return wg.Wait()
}

// FindUsedBlobs walks every tree reachable from treeIDs and inserts every
// tree id and every file's content blob ids into blobs. Already-visited
// trees are not walked twice.
func FindUsedBlobs(ctx context.Context, repo model.BlobLoader, treeIDs model.IDs, blobs model.FindBlobSet, p *progress.Counter) error {
	var lock sync.Mutex

	skip := func(treeID model.ID) bool {
		lock.Lock()
		h := model.BlobHandle{ID: treeID, Type: model.TreeBlob}
		already := blobs.Has(h)
		blobs.Insert(h)
		lock.Unlock()
		return already
	}

	process := func(id model.ID, err error, nodes TreeNodeIterator) error {
		if err != nil {
			return err
		}
		lock.Lock()
		defer lock.Unlock()
		for item := range nodes {
			if item.Error != nil {
				return item.Error
			}
			if item.Node.Type == NodeTypeFile {
				for _, blob := range item.Node.Content {
					blobs.Insert(model.BlobHandle{ID: blob, Type: model.DataBlob})
				}
			}
		}
		return nil
	}

	return StreamTrees(ctx, repo, treeIDs, p, skip, process)
}

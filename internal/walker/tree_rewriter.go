package walker

import (
	"context"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/model"
)

// RewriteOpts configures a TreeRewriter.
type RewriteOpts struct {
	// RewriteNode is called for every node (after any subtree it owns has
	// already been rewritten). subtreeFailed is true when node is a
	// directory whose own subtree blob failed to load and was just
	// replaced by RewriteFailedTree's substitute, letting the callback
	// flag the node itself (e.g. by renaming it) rather than just its
	// contents. Returning nil drops the node from its parent; returning
	// the same pointer leaves it unchanged; returning a new *data.Node
	// replaces it.
	RewriteNode func(node *data.Node, path string, subtreeFailed bool) *data.Node
	// RewriteFailedTree is called when the tree blob at id cannot be
	// loaded or fails to parse. path is "/" for the repository root. The
	// returned id replaces the subtree; a null id signals that the whole
	// root is unsalvageable (only meaningful when path == "/").
	RewriteFailedTree func(id model.ID, path string, err error) (model.ID, error)
}

// TreeRewriter rebuilds a tree (and its subtrees) under a set of node and
// failure-recovery rules, memoizing substitutions so a subtree shared by
// more than one parent is only rewritten once.
type TreeRewriter struct {
	opts      RewriteOpts
	replaced  map[model.ID]model.ID
	failedIDs map[model.ID]bool
}

// NewTreeRewriter returns a TreeRewriter configured by opts.
func NewTreeRewriter(opts RewriteOpts) *TreeRewriter {
	return &TreeRewriter{
		opts:      opts,
		replaced:  make(map[model.ID]model.ID),
		failedIDs: make(map[model.ID]bool),
	}
}

// RewriteTree rewrites the tree at id (reached via path) and returns the id
// of its replacement, which equals id if nothing changed.
func (r *TreeRewriter) RewriteTree(ctx context.Context, repo TreeRewriteLoader, path string, id model.ID) (model.ID, error) {
	if newID, ok := r.replaced[id]; ok {
		return newID, nil
	}

	tree, err := data.LoadTree(ctx, repo, id)
	if err != nil {
		return r.fail(id, path, err)
	}

	w := data.NewTreeWriter(repo)
	changed := false
	for item := range tree {
		if item.Error != nil {
			return r.fail(id, path, item.Error)
		}

		node := item.Node
		p := joinPath(path, node.Name)
		subtreeFailed := false

		if node.Type == data.NodeTypeDir && node.Subtree != nil {
			oldSubtree := *node.Subtree
			newSubtree, err := r.RewriteTree(ctx, repo, p, oldSubtree)
			if err != nil {
				return model.ID{}, err
			}
			if newSubtree != oldSubtree {
				copied := *node
				copied.Subtree = &newSubtree
				node = &copied
				changed = true
				subtreeFailed = r.failedIDs[oldSubtree]
			}
		}

		if r.opts.RewriteNode != nil {
			rewritten := r.opts.RewriteNode(node, p, subtreeFailed)
			if rewritten != node {
				changed = true
			}
			node = rewritten
		}

		if node == nil {
			continue
		}
		if err := w.AddNode(node); err != nil {
			return model.ID{}, err
		}
	}

	if !changed {
		r.replaced[id] = id
		return id, nil
	}

	newID, err := w.Finalize(ctx)
	if err != nil {
		return model.ID{}, err
	}
	r.replaced[id] = newID
	return newID, nil
}

func (r *TreeRewriter) fail(id model.ID, path string, loadErr error) (model.ID, error) {
	newID, err := r.opts.RewriteFailedTree(id, path, loadErr)
	if err != nil {
		return model.ID{}, err
	}
	r.replaced[id] = newID
	r.failedIDs[id] = true
	return newID, nil
}

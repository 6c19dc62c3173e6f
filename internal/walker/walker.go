// Package walker provides a generic, depth-first traversal of a snapshot's
// tree, used by the repair engine to find and fix broken subtrees and by the
// copy engine to enumerate the trees and blobs a snapshot references.
package walker

import (
	"context"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// SkipNode is returned by a WalkFunc to have Walk skip the current node: for
// a file, nothing more happens; for a directory, its subtree is not
// descended into.
var SkipNode = errors.New("skip this node")

// WalkFunc is called once for every node Walk visits, in pre-order. treeID
// is the id of the tree node lives in, except for the one call per tree made
// with node == nil: that call represents the tree itself (path is the
// directory's path, or "/" for the root), and err carries any error loading
// it (nil on success).
//
// Returning SkipNode from the error skips the node's subtree, if it has
// one; any other non-nil error aborts the walk. ignore is not interpreted
// by Walk itself; it exists so a WalkFunc built for filtering (see
// TreeFilterVisitor) can report back through the same signature.
type WalkFunc func(treeID model.ID, path string, node *data.Node, err error) (ignore bool, walkErr error)

// Walk recursively walks the tree rooted at root, calling fn for every node.
// visited accumulates the ids of every tree blob already walked in this
// call, so a tree shared by more than one parent (two snapshots with
// unchanged subtrees, or a directory referenced twice) is only ever
// descended into once; visited may be nil to disable this and always walk
// every subtree.
func Walk(ctx context.Context, repo model.BlobLoader, root model.ID, visited model.IDSet, fn WalkFunc) error {
	tree, loadErr := data.LoadTree(ctx, repo, root)
	_, ignoreErr := fn(root, "/", nil, loadErr)
	if ignoreErr == SkipNode {
		return nil
	}
	if ignoreErr != nil {
		return ignoreErr
	}
	if loadErr != nil {
		return nil
	}
	return walkNodes(ctx, repo, "/", root, tree, visited, fn)
}

func walkNodes(ctx context.Context, repo model.BlobLoader, path string, treeID model.ID, tree data.TreeNodeIterator, visited model.IDSet, fn WalkFunc) error {
	for item := range tree {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Error != nil {
			return item.Error
		}

		node := item.Node
		p := joinPath(path, node.Name)

		_, err := fn(treeID, p, node, nil)
		if err == SkipNode {
			continue
		}
		if err != nil {
			return err
		}

		if node.Type != data.NodeTypeDir {
			continue
		}
		if node.Subtree == nil {
			return errors.Errorf("node %q has type dir but no subtree", p)
		}
		if visited != nil {
			if visited.Has(*node.Subtree) {
				continue
			}
			visited.Insert(*node.Subtree)
		}

		subtree, loadErr := data.LoadTree(ctx, repo, *node.Subtree)
		if loadErr != nil {
			_, err := fn(*node.Subtree, p, nil, loadErr)
			if err == SkipNode {
				continue
			}
			if err != nil {
				return err
			}
			continue
		}

		if err := walkNodes(ctx, repo, p, *node.Subtree, subtree, visited, fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

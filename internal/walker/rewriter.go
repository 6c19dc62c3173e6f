package walker

import (
	"context"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/model"
)

// TreeRewriteLoader is the narrow BlobLoader+BlobSaver surface FilterTree
// needs to read an existing tree and write its filtered replacement.
type TreeRewriteLoader interface {
	model.BlobLoader
	model.BlobSaver
}

// TreeFilterVisitor decides which nodes a FilterTree call keeps.
type TreeFilterVisitor struct {
	// SelectByName reports whether the node at path should be kept. It is
	// called for every node FilterTree reaches; a false result for a
	// directory prevents FilterTree from descending into it, so nodes inside
	// an excluded directory are never passed to it.
	SelectByName func(path string) bool
	// PrintExclude, if set, is called once for every node SelectByName
	// rejects.
	PrintExclude func(path string)
}

func (v *TreeFilterVisitor) selects(path string) bool {
	if v == nil || v.SelectByName == nil {
		return true
	}
	return v.SelectByName(path)
}

func (v *TreeFilterVisitor) exclude(path string) {
	if v != nil && v.PrintExclude != nil {
		v.PrintExclude(path)
	}
}

// FilterTree loads the tree at root, keeps only the nodes visitor selects
// (recursing into kept directories), and saves the result as a new tree
// blob, returning its id. A tree left unchanged by filtering hashes back to
// its original id, since the rebuilt JSON is byte-identical.
func FilterTree(ctx context.Context, repo TreeRewriteLoader, path string, root model.ID, visitor *TreeFilterVisitor) (model.ID, error) {
	tree, err := data.LoadTree(ctx, repo, root)
	if err != nil {
		return model.ID{}, err
	}

	w := data.NewTreeWriter(repo)
	for item := range tree {
		if item.Error != nil {
			return model.ID{}, item.Error
		}
		node := item.Node
		p := joinPath(path, node.Name)

		if !visitor.selects(p) {
			visitor.exclude(p)
			continue
		}

		if node.Type == data.NodeTypeDir && node.Subtree != nil {
			newSubtree, err := FilterTree(ctx, repo, p, *node.Subtree, visitor)
			if err != nil {
				return model.ID{}, err
			}
			copied := *node
			copied.Subtree = &newSubtree
			node = &copied
		}

		if err := w.AddNode(node); err != nil {
			return model.ID{}, err
		}
	}

	return w.Finalize(ctx)
}

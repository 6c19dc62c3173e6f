package restorer

import (
	"strings"
	"time"

	"github.com/arkiveio/arkive/internal/data"
)

// MetadataApplier sets the filesystem-level attributes a Node carries.
// CreateSpecial makes the device/fifo/socket node itself; it is called
// before the rest of a special node's metadata is applied.
type MetadataApplier interface {
	CreateSpecial(path string, node *data.Node) error
	SetExtendedAttributes(path string, attrs []data.ExtendedAttribute) error
	SetOwner(path string, uid, gid uint32) error
	SetMode(path string, mode uint32) error
	SetTimestamps(path string, modTime time.Time) error
}

// ApplyMetadata sets ownership, permissions, timestamps, and extended
// attributes for every node in plan.Files. Directories are applied last
// among their own entries: a stack of open directory frames is popped, and
// its metadata applied, only once every node nested under it (including
// nested subdirectories) has already been processed, so a parent's mtime
// is never clobbered by writes to something inside it.
func ApplyMetadata(plan *Plan, applier MetadataApplier) error {
	var stack []*PlannedFile

	popTo := func(path string) error {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if strings.HasPrefix(path, top.Path+"/") || path == top.Path {
				break
			}
			stack = stack[:len(stack)-1]
			if err := applyOne(applier, top.Path, top.Node); err != nil {
				return err
			}
		}
		return nil
	}

	for _, pf := range plan.Files {
		if err := popTo(parentPath(pf.Path)); err != nil {
			return err
		}

		if pf.Node.Type == data.NodeTypeDir {
			stack = append(stack, pf)
			continue
		}

		if err := applyOne(applier, pf.Path, pf.Node); err != nil {
			return err
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := applyOne(applier, top.Path, top.Node); err != nil {
			return err
		}
	}

	return nil
}

func parentPath(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func applyOne(applier MetadataApplier, path string, node *data.Node) error {
	if node.Type == data.NodeTypeSpecial {
		if err := applier.CreateSpecial(path, node); err != nil {
			return err
		}
	}

	if len(node.ExtendedAttributes) > 0 {
		if err := applier.SetExtendedAttributes(path, node.ExtendedAttributes); err != nil {
			return err
		}
	}

	if err := applier.SetOwner(path, node.UID, node.GID); err != nil {
		return err
	}
	if node.Type != data.NodeTypeSymlink {
		if err := applier.SetMode(path, node.Mode); err != nil {
			return err
		}
	}
	return applier.SetTimestamps(path, node.ModTime)
}

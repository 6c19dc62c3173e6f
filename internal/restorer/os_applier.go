package restorer

import (
	"os"
	"time"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
)

// OSMetadataApplier implements MetadataApplier against the local filesystem.
type OSMetadataApplier struct {
	// Root is prepended to every path before touching the filesystem.
	Root string
}

func (a *OSMetadataApplier) full(path string) string {
	return a.Root + path
}

func (a *OSMetadataApplier) CreateSpecial(path string, node *data.Node) error {
	full := a.full(path)
	if err := unix.Mknod(full, node.Mode, int(node.Device)); err != nil {
		return errors.Wrapf(err, "mknod %v", path)
	}
	return nil
}

func (a *OSMetadataApplier) SetExtendedAttributes(path string, attrs []data.ExtendedAttribute) error {
	full := a.full(path)
	for _, attr := range attrs {
		if err := xattr.LSet(full, attr.Name, attr.Value); err != nil {
			return errors.Wrapf(err, "setxattr %v %v", path, attr.Name)
		}
	}
	return nil
}

func (a *OSMetadataApplier) SetOwner(path string, uid, gid uint32) error {
	if err := os.Lchown(a.full(path), int(uid), int(gid)); err != nil {
		return errors.Wrapf(err, "lchown %v", path)
	}
	return nil
}

func (a *OSMetadataApplier) SetMode(path string, mode uint32) error {
	if err := os.Chmod(a.full(path), os.FileMode(mode)); err != nil {
		return errors.Wrapf(err, "chmod %v", path)
	}
	return nil
}

func (a *OSMetadataApplier) SetTimestamps(path string, modTime time.Time) error {
	if err := os.Chtimes(a.full(path), modTime, modTime); err != nil {
		return errors.Wrapf(err, "chtimes %v", path)
	}
	return nil
}

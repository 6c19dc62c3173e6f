// Package local implements backend.Backend on top of the local filesystem,
// laid out as <root>/<type>/<id[:2]>/<id> for pack and index files and as
// <root>/<type>/<name> for every other file type. It is the reference
// implementation used by every repository-level test.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// Local stores files below a single root directory.
type Local struct {
	root string
}

var _ backend.Backend = (*Local)(nil)

// New returns a Local backend rooted at dir. The directory is not created
// until Create is called.
func New(dir string) *Local {
	return &Local{root: dir}
}

func dirName(t model.FileType) string {
	switch t {
	case model.PackFile:
		return "data"
	case model.IndexFile:
		return "index"
	case model.SnapshotFile:
		return "snapshots"
	case model.KeyFile:
		return "keys"
	case model.LockFile:
		return "locks"
	case model.ConfigFile:
		return "config"
	default:
		return "unknown"
	}
}

func (l *Local) filename(h model.Handle) string {
	dir := dirName(h.Type)
	if h.Type == model.PackFile || h.Type == model.IndexFile {
		if len(h.Name) >= 2 {
			return filepath.Join(l.root, dir, h.Name[:2], h.Name)
		}
	}
	return filepath.Join(l.root, dir, h.Name)
}

func (l *Local) dirs() []string {
	return []string{
		filepath.Join(l.root, "data"),
		filepath.Join(l.root, "index"),
		filepath.Join(l.root, "snapshots"),
		filepath.Join(l.root, "keys"),
		filepath.Join(l.root, "locks"),
	}
}

// Create makes the repository's directory layout. Idempotent.
func (l *Local) Create(ctx context.Context) error {
	for _, d := range l.dirs() {
		if err := os.MkdirAll(d, 0700); err != nil {
			return errors.Wrap(err, "mkdir")
		}
	}
	return nil
}

func (l *Local) List(ctx context.Context, t model.FileType, fn func(model.Handle, backend.FileInfo) error) error {
	dir := filepath.Join(l.root, dirName(t))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "readdir")
	}

	walk := func(path string, d os.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return errors.Wrap(err, "stat")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(model.Handle{Type: t, Name: d.Name()}, backend.FileInfo{Name: d.Name(), Size: info.Size()})
	}

	for _, e := range entries {
		if (t == model.PackFile || t == model.IndexFile) && e.IsDir() {
			sub, err := os.ReadDir(filepath.Join(dir, e.Name()))
			if err != nil {
				return errors.Wrap(err, "readdir")
			}
			for _, se := range sub {
				if err := walk(filepath.Join(dir, e.Name(), se.Name()), se); err != nil {
					return err
				}
			}
			continue
		}
		if err := walk(filepath.Join(dir, e.Name()), e); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) ReadFull(ctx context.Context, h model.Handle) ([]byte, error) {
	data, err := os.ReadFile(l.filename(h))
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return data, nil
}

func (l *Local) ReadPartial(ctx context.Context, h model.Handle, cacheable bool, offset, length int64) ([]byte, error) {
	f, err := os.Open(l.filename(h))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "readat")
	}
	return buf[:n], nil
}

func (l *Local) WriteFile(ctx context.Context, h model.Handle, data []byte) error {
	name := l.filename(h)
	if err := os.MkdirAll(filepath.Dir(name), 0700); err != nil {
		return errors.Wrap(err, "mkdir")
	}

	if _, err := os.Stat(name); err == nil {
		return errors.Errorf("file %v already exists", name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), "tmp-")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "fsync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	return os.Rename(tmp.Name(), name)
}

func (l *Local) DeleteList(ctx context.Context, cacheable bool, hs []model.Handle, progress func(model.Handle)) error {
	for _, h := range hs {
		if err := os.Remove(l.filename(h)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove")
		}
		if progress != nil {
			progress(h)
		}
	}
	return nil
}

func (l *Local) Stat(ctx context.Context, h model.Handle) (backend.FileInfo, error) {
	fi, err := os.Stat(l.filename(h))
	if err != nil {
		return backend.FileInfo{}, err
	}
	return backend.FileInfo{Name: h.Name, Size: fi.Size()}, nil
}

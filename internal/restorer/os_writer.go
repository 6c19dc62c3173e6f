package restorer

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// OSFileWriter implements FileWriter against the local filesystem, keeping
// one open file handle per path for the duration of a restore.
type OSFileWriter struct {
	Root string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewOSFileWriter(root string) *OSFileWriter {
	return &OSFileWriter{Root: root, files: make(map[string]*os.File)}
}

func (w *OSFileWriter) full(path string) string {
	return filepath.Join(w.Root, path)
}

func (w *OSFileWriter) open(path string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.files[path]; ok {
		return f, nil
	}

	full := w.full(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	w.files[path] = f
	return f, nil
}

// Allocate creates path (and its parent directories) and truncates it to
// size, reserving the space sparsely.
func (w *OSFileWriter) Allocate(path string, size uint64) error {
	f, err := w.open(path)
	if err != nil {
		return errors.Wrapf(err, "create %v", path)
	}
	if err := f.Truncate(int64(size)); err != nil {
		return errors.Wrapf(err, "truncate %v", path)
	}
	return nil
}

// WriteAt writes data at offset into path, which must already have been
// allocated.
func (w *OSFileWriter) WriteAt(path string, offset uint64, data []byte) error {
	f, err := w.open(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		return errors.Wrapf(err, "write %v", path)
	}
	return nil
}

// Close closes every file handle opened during the restore.
func (w *OSFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for path, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close %v", path)
		}
	}
	w.files = make(map[string]*os.File)
	return firstErr
}

// OSExistingProbe implements ExistingProbe by reading the destination
// filesystem directly.
type OSExistingProbe struct {
	Root string
}

func (p *OSExistingProbe) full(path string) string {
	return filepath.Join(p.Root, path)
}

func (p *OSExistingProbe) Stat(path string) (uint64, time.Time, bool) {
	fi, err := os.Lstat(p.full(path))
	if err != nil {
		return 0, time.Time{}, false
	}
	return uint64(fi.Size()), fi.ModTime(), true
}

func (p *OSExistingProbe) VerifyRange(path string, start, length int64, wantID model.ID) (bool, error) {
	f, err := os.Open(p.full(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, start); err != nil {
		return false, nil
	}

	return model.Hash(buf) == wantID, nil
}

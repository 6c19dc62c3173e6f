// Package mem implements backend.Backend entirely in memory. It is the
// backend every planner/executor test in this module runs against, mirroring
// how the teacher's own repository tests run against backend/mem.
package mem

import (
	"context"
	"os"
	"sync"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

type key struct {
	t    model.FileType
	name string
}

// MemoryBackend stores files in a map guarded by a mutex. Safe for
// concurrent use.
type MemoryBackend struct {
	mu    sync.Mutex
	files map[key][]byte

	// Ops records every operation performed, for tests that assert on
	// idempotency (e.g. "the second copy issues no writes").
	Ops []string
}

var _ backend.Backend = (*MemoryBackend)(nil)

// New returns an empty, ready-to-use MemoryBackend.
func New() *MemoryBackend {
	return &MemoryBackend{files: make(map[key][]byte)}
}

func (m *MemoryBackend) record(op string) {
	m.Ops = append(m.Ops, op)
}

func (m *MemoryBackend) Create(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create")
	if m.files == nil {
		m.files = make(map[key][]byte)
	}
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, t model.FileType, fn func(model.Handle, backend.FileInfo) error) error {
	m.mu.Lock()
	m.record("list:" + t.String())
	type entry struct {
		h    model.Handle
		size int
	}
	var entries []entry
	for k, v := range m.files {
		if k.t == t {
			entries = append(entries, entry{model.Handle{Type: t, Name: k.name}, len(v)})
		}
	}
	m.mu.Unlock()

	for _, e := range entries {
		if err := fn(e.h, backend.FileInfo{Name: e.h.Name, Size: int64(e.size)}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) ReadFull(ctx context.Context, h model.Handle) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read:" + h.Name)
	data, ok := m.files[key{h.Type, h.Name}]
	if !ok {
		return nil, errors.Errorf("file %v does not exist", h)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) ReadPartial(ctx context.Context, h model.Handle, cacheable bool, offset, length int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("readpartial:" + h.Name)
	data, ok := m.files[key{h.Type, h.Name}]
	if !ok {
		return nil, errors.Errorf("file %v does not exist", h)
	}
	if offset < 0 || offset+length > int64(len(data)) {
		return nil, errors.Errorf("read out of range for %v: offset %d length %d size %d", h, offset, length, len(data))
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

func (m *MemoryBackend) WriteFile(ctx context.Context, h model.Handle, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("write:" + h.Name)
	k := key{h.Type, h.Name}
	if _, ok := m.files[k]; ok {
		return errors.Errorf("file %v already exists", h)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[k] = cp
	return nil
}

func (m *MemoryBackend) DeleteList(ctx context.Context, cacheable bool, hs []model.Handle, progress func(model.Handle)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hs {
		m.record("delete:" + h.Name)
		delete(m.files, key{h.Type, h.Name})
		if progress != nil {
			progress(h)
		}
	}
	return nil
}

func (m *MemoryBackend) Stat(ctx context.Context, h model.Handle) (backend.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key{h.Type, h.Name}]
	if !ok {
		return backend.FileInfo{}, &os.PathError{Op: "stat", Path: h.Name, Err: os.ErrNotExist}
	}
	return backend.FileInfo{Name: h.Name, Size: int64(len(data))}, nil
}

// Has reports whether a file exists, for tests.
func (m *MemoryBackend) Has(h model.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[key{h.Type, h.Name}]
	return ok
}

// ResetOps clears the recorded operation log, for tests that only care about
// operations performed after some setup phase.
func (m *MemoryBackend) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ops = nil
}

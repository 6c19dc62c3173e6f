package restorer_test

import (
	"testing"
	"time"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/restorer"
)

type metadataCall struct {
	op   string
	path string
}

type recordingApplier struct {
	calls []metadataCall
}

func (r *recordingApplier) CreateSpecial(path string, _ *data.Node) error {
	r.calls = append(r.calls, metadataCall{"special", path})
	return nil
}

func (r *recordingApplier) SetExtendedAttributes(path string, _ []data.ExtendedAttribute) error {
	r.calls = append(r.calls, metadataCall{"xattr", path})
	return nil
}

func (r *recordingApplier) SetOwner(path string, _, _ uint32) error {
	r.calls = append(r.calls, metadataCall{"owner", path})
	return nil
}

func (r *recordingApplier) SetMode(path string, _ uint32) error {
	r.calls = append(r.calls, metadataCall{"mode", path})
	return nil
}

func (r *recordingApplier) SetTimestamps(path string, _ time.Time) error {
	r.calls = append(r.calls, metadataCall{"mtime", path})
	return nil
}

func dirFile(path string) *restorer.PlannedFile {
	return &restorer.PlannedFile{Path: path, Node: &data.Node{Type: data.NodeTypeDir}}
}

func plainFile(path string) *restorer.PlannedFile {
	return &restorer.PlannedFile{Path: path, Node: &data.Node{Type: data.NodeTypeFile}}
}

func TestApplyMetadataAppliesDirectoriesAfterTheirEntries(t *testing.T) {
	plan := &restorer.Plan{
		Files: []*restorer.PlannedFile{
			dirFile("/a"),
			plainFile("/a/one"),
			dirFile("/a/sub"),
			plainFile("/a/sub/two"),
			plainFile("/a/three"),
		},
	}

	applier := &recordingApplier{}
	if err := restorer.ApplyMetadata(plan, applier); err != nil {
		t.Fatalf("apply metadata: %v", err)
	}

	lastTimestampFor := func(path string) int {
		idx := -1
		for i, c := range applier.calls {
			if c.op == "mtime" && c.path == path {
				idx = i
			}
		}
		return idx
	}

	sub := lastTimestampFor("/a/sub")
	two := lastTimestampFor("/a/sub/two")
	a := lastTimestampFor("/a")
	one := lastTimestampFor("/a/one")
	three := lastTimestampFor("/a/three")

	if !(two < sub) {
		t.Fatalf("expected /a/sub/two (%d) applied before /a/sub (%d)", two, sub)
	}
	if !(sub < a) {
		t.Fatalf("expected /a/sub (%d) applied before /a (%d)", sub, a)
	}
	if !(one < a) || !(three < a) {
		t.Fatalf("expected /a/one (%d) and /a/three (%d) applied before /a (%d)", one, three, a)
	}
}

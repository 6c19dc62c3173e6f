package data

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// DeleteKind is the deletion policy carried by a Snapshot: NotSet leaves the
// decision to whatever retention tooling runs (out of this core's scope),
// Never forbids automatic removal, After(t) permits removal once t has
// passed.
type DeleteKind int

const (
	DeleteNotSet DeleteKind = iota
	DeleteNever
	DeleteAfter
)

// DeletePolicy is a Snapshot's delete field: {NotSet | Never | After(t)}.
type DeletePolicy struct {
	Kind DeleteKind
	At   time.Time // only meaningful when Kind == DeleteAfter
}

func (d DeletePolicy) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DeleteNotSet:
		return json.Marshal(nil)
	case DeleteNever:
		return json.Marshal("never")
	case DeleteAfter:
		return json.Marshal(d.At)
	default:
		return nil, errors.Errorf("invalid delete policy kind %v", d.Kind)
	}
}

func (d *DeletePolicy) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = DeletePolicy{Kind: DeleteNotSet}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != "never" {
			return errors.Errorf("invalid delete policy %q", s)
		}
		*d = DeletePolicy{Kind: DeleteNever}
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return errors.Wrap(err, "unmarshal delete policy")
	}
	*d = DeletePolicy{Kind: DeleteAfter, At: t}
	return nil
}

// TagList is a deduplicated, sorted set of tags, serialized as a plain JSON
// array even though membership/insertion is what the type enforces.
type TagList []string

// Insert adds tag if not already present, keeping the list sorted.
func (t *TagList) Insert(tag string) {
	i := sort.SearchStrings(*t, tag)
	if i < len(*t) && (*t)[i] == tag {
		return
	}
	*t = append(*t, "")
	copy((*t)[i+1:], (*t)[i:])
	(*t)[i] = tag
}

// Has reports whether tag is present.
func (t TagList) Has(tag string) bool {
	i := sort.SearchStrings(t, tag)
	return i < len(t) && t[i] == tag
}

// Equals reports whether t and other contain the same tags.
func (t TagList) Equals(other TagList) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Summary carries the backup-run statistics a snapshot may optionally
// record. It is opaque to prune/restore/copy/repair: they preserve it
// verbatim and never interpret its fields.
type Summary struct {
	BackupStart time.Time `json:"backup_start,omitempty"`
	BackupEnd   time.Time `json:"backup_end,omitempty"`

	FilesNew       uint64 `json:"files_new,omitempty"`
	FilesChanged   uint64 `json:"files_changed,omitempty"`
	FilesUnmodified uint64 `json:"files_unmodified,omitempty"`
	DirsNew        uint64 `json:"dirs_new,omitempty"`
	DirsChanged    uint64 `json:"dirs_changed,omitempty"`
	DirsUnmodified uint64 `json:"dirs_unmodified,omitempty"`

	DataBlobs         uint64 `json:"data_blobs,omitempty"`
	TreeBlobs         uint64 `json:"tree_blobs,omitempty"`
	DataAdded         uint64 `json:"data_added,omitempty"`
	DataAddedPacked   uint64 `json:"data_added_packed,omitempty"`
	TotalFilesProcessed uint64 `json:"total_files_processed,omitempty"`
	TotalBytesProcessed uint64 `json:"total_bytes_processed,omitempty"`
}

// Snapshot is the root record of one backup.
type Snapshot struct {
	ID       model.ID   `json:"-"`
	Time     time.Time  `json:"time"`
	Parent   *model.ID  `json:"parent,omitempty"`
	Tree     model.ID   `json:"tree"`
	Paths    []string   `json:"paths"`
	Hostname string     `json:"hostname,omitempty"`
	Label    string     `json:"label,omitempty"`
	Tags     TagList    `json:"tags,omitempty"`
	Delete   DeletePolicy `json:"delete,omitempty"`
	Summary  *Summary   `json:"summary,omitempty"`
	Original *model.ID  `json:"original,omitempty"`
}

// Before reports whether s sorts before other. Snapshot ordering is total on
// Time, with ties broken by ID for determinism.
func (s *Snapshot) Before(other *Snapshot) bool {
	if !s.Time.Equal(other.Time) {
		return s.Time.Before(other.Time)
	}
	return lessID(s.ID, other.ID)
}

func lessID(a, b model.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Equal reports whether s and other have the same Time. The ID is not
// compared; it serves only as a tiebreaker for total ordering.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return s.Time.Equal(other.Time)
}

// Clone returns a deep-enough copy of s suitable for mutation by Modify, or
// for clearing the ID before a cross-repository comparison/save.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Paths = append([]string(nil), s.Paths...)
	c.Tags = append(TagList(nil), s.Tags...)
	if s.Parent != nil {
		p := *s.Parent
		c.Parent = &p
	}
	if s.Original != nil {
		o := *s.Original
		c.Original = &o
	}
	return &c
}

package model

import (
	"encoding/json"

	"github.com/arkiveio/arkive/internal/errors"
)

// BlobType distinguishes tree blobs (serialized Tree objects) from data
// blobs (file content chunks). A pack is homogeneous in blob type.
type BlobType uint8

const (
	// DataBlob is a chunk of file content.
	DataBlob BlobType = iota
	// TreeBlob is a serialized Tree.
	TreeBlob
	// NumBlobTypes is the number of defined blob types, for sizing
	// per-type arrays/maps.
	NumBlobTypes
)

func (t BlobType) String() string {
	switch t {
	case DataBlob:
		return "data"
	case TreeBlob:
		return "tree"
	default:
		return "invalid"
	}
}

func (t BlobType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *BlobType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "UnmarshalJSON")
	}
	switch s {
	case "data":
		*t = DataBlob
	case "tree":
		*t = TreeBlob
	default:
		return errors.Errorf("unknown blob type %q", s)
	}
	return nil
}

// BlobHandle identifies a blob by its content id and type. Two blobs of
// different type may legitimately share an id (tree and data hash spaces are
// not required to be disjoint), so both fields participate in identity.
type BlobHandle struct {
	ID   ID       `json:"id"`
	Type BlobType `json:"type"`
}

func (h BlobHandle) String() string {
	return h.Type.String() + "/" + h.ID.Str()
}

// PackedBlob is a blob together with the pack it lives in and its location
// within that pack's plaintext stream.
type PackedBlob struct {
	BlobHandle
	PackID             ID
	Offset             uint
	Length             uint
	UncompressedLength uint // 0 means stored uncompressed
}

// IsCompressed reports whether the blob is stored zstd-compressed.
func (p PackedBlob) IsCompressed() bool {
	return p.UncompressedLength != 0
}

// BlobSet is an unordered set of BlobHandles.
type BlobSet map[BlobHandle]struct{}

// NewBlobSet returns a new BlobSet containing the given handles.
func NewBlobSet(handles ...BlobHandle) BlobSet {
	s := make(BlobSet, len(handles))
	for _, h := range handles {
		s[h] = struct{}{}
	}
	return s
}

func (s BlobSet) Has(h BlobHandle) bool { _, ok := s[h]; return ok }
func (s BlobSet) Insert(h BlobHandle)   { s[h] = struct{}{} }
func (s BlobSet) Delete(h BlobHandle)   { delete(s, h) }
func (s BlobSet) Len() int              { return len(s) }

// Equals reports whether s and other contain exactly the same handles.
func (s BlobSet) Equals(other BlobSet) bool {
	if len(s) != len(other) {
		return false
	}
	for h := range s {
		if !other.Has(h) {
			return false
		}
	}
	return true
}

// FindBlobSet is the subset of BlobSet's API that tree-walking code needs to
// accumulate "used blobs" into. It is an interface so that callers can pass
// either a plain BlobSet or a concurrency-safe wrapper.
type FindBlobSet interface {
	Has(h BlobHandle) bool
	Insert(h BlobHandle)
}

// CountedBlobSet tracks a saturating reference count per blob, used by the
// prune planner to decide how many packs still need a given blob's bytes.
type CountedBlobSet map[BlobHandle]uint8

// MaxCount is the saturation point for CountedBlobSet increments, per
// spec: "Reference counter saturates at 255 and does not wrap."
const MaxCount uint8 = 255

// Insert records h with an initial count of 0 if not already present.
func (s CountedBlobSet) Insert(h BlobHandle) {
	if _, ok := s[h]; !ok {
		s[h] = 0
	}
}

// Has reports whether h has been seen (regardless of count).
func (s CountedBlobSet) Has(h BlobHandle) bool {
	_, ok := s[h]
	return ok
}

// Increment saturating-increments the count for h. It is a no-op if h was
// never inserted.
func (s CountedBlobSet) Increment(h BlobHandle) {
	if c, ok := s[h]; ok && c < MaxCount {
		s[h] = c + 1
	}
}

// Count returns the current saturating count for h.
func (s CountedBlobSet) Count(h BlobHandle) uint8 {
	return s[h]
}

// Remove deletes h if it is present, whatever its count, and reports whether
// it was present. Like the rest of CountedBlobSet it is not synchronized.
func (s CountedBlobSet) Remove(h BlobHandle) bool {
	if _, ok := s[h]; !ok {
		return false
	}
	delete(s, h)
	return true
}

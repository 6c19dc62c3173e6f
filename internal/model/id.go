// Package model defines the identity, blob, and capability vocabulary shared
// by every other package in this module: content ids, blob handles, file
// types, and the narrow interfaces (Loader, BlobLoader, BlobSaver, Lister,
// Repository) that let planners and executors stay generic over their
// collaborators.
package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/minio/sha256-simd"

	"github.com/arkiveio/arkive/internal/errors"
)

// IDSize is the length in bytes of an ID (SHA-256 digest).
const IDSize = sha256.Size

// ID is a content hash: the identity of a blob, tree, snapshot, pack, or
// index file. It is always the hash of the object's canonical plaintext
// (blobs/trees) or of the object's serialized bytes (everything else).
type ID [IDSize]byte

// Hash returns the ID of data.
func Hash(data []byte) ID {
	return sha256.Sum256(data)
}

// ParseID parses a hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "ParseID")
	}
	if len(b) != IDSize {
		return id, errors.Errorf("invalid length for ID: %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the full hex representation of id.
func (id ID) String() string {
	if id.IsNull() {
		return "[null]"
	}
	return hex.EncodeToString(id[:])
}

// Str returns a short, human-readable prefix of id, for log messages.
func (id ID) Str() string {
	if id.IsNull() {
		return "[null]"
	}
	return hex.EncodeToString(id[:8])
}

// IsNull reports whether id is the zero ID.
func (id ID) IsNull() bool {
	return id == ID{}
}

// Equal reports whether id and other are the same.
func (id ID) Equal(other ID) bool {
	return id == other
}

// EqualString compares id against a hex string.
func (id ID) EqualString(s string) (bool, error) {
	other, err := ParseID(s)
	if err != nil {
		return false, err
	}
	return id.Equal(other), nil
}

// HasPrefix reports whether s is a (possibly partial) hex prefix of id.
func (id ID) HasPrefix(s string) bool {
	if len(s) > len(id)*2 {
		return false
	}
	full := id.String()
	return len(s) > 0 && full[:len(s)] == s
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "UnmarshalJSON")
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IDs is an ordered list of IDs.
type IDs []ID

func (ids IDs) Len() int           { return len(ids) }
func (ids IDs) Less(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 }
func (ids IDs) Swap(i, j int)      { ids[i], ids[j] = ids[j], ids[i] }

// Equal reports whether ids and other contain the same ids in the same order.
func (ids IDs) Equal(other IDs) bool {
	if len(ids) != len(other) {
		return false
	}
	for i := range ids {
		if ids[i] != other[i] {
			return false
		}
	}
	return true
}

// IDSet is an unordered set of IDs.
type IDSet map[ID]struct{}

// NewIDSet returns a new IDSet containing the given ids.
func NewIDSet(ids ...ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id ID) bool   { _, ok := s[id]; return ok }
func (s IDSet) Insert(id ID)     { s[id] = struct{}{} }
func (s IDSet) Delete(id ID)     { delete(s, id) }
func (s IDSet) Len() int         { return len(s) }

// List returns the set's members as a slice, in no particular order.
func (s IDSet) List() IDs {
	out := make(IDs, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

package model

import "context"

// FileType distinguishes the kinds of files a Backend stores. Packs and
// index files are the two types this core cares about directly; the rest
// exist so the capability set matches what a full repository needs.
type FileType uint8

const (
	PackFile FileType = iota
	IndexFile
	SnapshotFile
	KeyFile
	LockFile
	ConfigFile
)

func (t FileType) String() string {
	switch t {
	case PackFile:
		return "pack"
	case IndexFile:
		return "index"
	case SnapshotFile:
		return "snapshot"
	case KeyFile:
		return "key"
	case LockFile:
		return "lock"
	case ConfigFile:
		return "config"
	default:
		return "invalid"
	}
}

// Handle names one file on a Backend.
type Handle struct {
	Type FileType
	Name string
}

// Loader reports how many concurrent backend connections a loader allows.
type Loader interface {
	Connections() uint
}

// BlobLoader reads decrypted blob plaintext by content id.
type BlobLoader interface {
	Loader
	LoadBlob(ctx context.Context, t BlobType, id ID, buf []byte) ([]byte, error)
	LookupBlobSize(t BlobType, id ID) (size uint, found bool)
	LookupBlob(t BlobType, id ID) ([]PackedBlob, bool)
}

// BlobSaver writes new blob plaintext, returning its id (computed from data
// unless id is already known, e.g. when re-saving an existing blob during
// repack) along with whether it was already known (and so not stored again)
// and its plaintext size.
type BlobSaver interface {
	SaveBlob(ctx context.Context, t BlobType, data []byte, id ID, storeDuplicate bool) (newID ID, known bool, size int, err error)
}

// Lister enumerates the ids of files of a given type, e.g. all snapshots.
type Lister interface {
	List(ctx context.Context, t FileType, fn func(ID) error) error
}

// Repository is the narrow surface the prune/restore/copy/repair engines
// need from a full repository: blob I/O plus listing file ids by type; it
// does not load snapshots. It is intentionally far smaller than a real CLI-facing
// repository type (no locking, no key management) because those concerns
// are out of scope for this core.
type Repository interface {
	BlobLoader
	BlobSaver
	Lister
}

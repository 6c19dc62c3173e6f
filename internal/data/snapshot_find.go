package data

import (
	"container/heap"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// Filter decides whether a snapshot should be considered by IterAll/LatestN.
// A nil Filter matches everything.
type Filter func(*Snapshot) bool

// ErrAmbiguousPrefix is returned when a short id prefix matches more than
// one snapshot.
var ErrAmbiguousPrefix = errors.New("ambiguous snapshot id prefix")

// ErrLatestOutOfRange is returned when latest~N asks for more snapshots than
// exist.
var ErrLatestOutOfRange = errors.New("not enough snapshots for latest~N")

// ErrSnapshotNotFound is returned when a named snapshot does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// IterAll lazily visits every snapshot matching filter, calling fn for each.
// Iteration stops at the first error from fn or from loading a snapshot.
func IterAll(ctx context.Context, repo SnapshotRepository, filter Filter, fn func(*Snapshot) error) error {
	return repo.ListSnapshotIDs(ctx, func(id model.ID) error {
		s, err := repo.LoadSnapshot(ctx, id)
		if err != nil {
			return err
		}
		if filter != nil && !filter(s) {
			return nil
		}
		return fn(s)
	})
}

// snapshotHeap is a min-heap over snapshots ordered by Before(), used to
// track the n+1 newest snapshots seen so far in O(n) memory.
type snapshotHeap []*Snapshot

func (h snapshotHeap) Len() int            { return len(h) }
func (h snapshotHeap) Less(i, j int) bool  { return h[i].Before(h[j]) }
func (h snapshotHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *snapshotHeap) Push(x interface{}) { *h = append(*h, x.(*Snapshot)) }
func (h *snapshotHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// LatestN returns the (n+1)-th newest snapshot matching filter (n=0 means
// the newest). It runs in O(size) time and O(n) memory via a bounded
// min-heap, so it never materializes the full snapshot set.
func LatestN(ctx context.Context, repo SnapshotRepository, filter Filter, n int) (*Snapshot, error) {
	if n < 0 {
		return nil, errors.Errorf("latest~%d: negative offset", n)
	}
	k := n + 1
	h := &snapshotHeap{}
	heap.Init(h)

	err := IterAll(ctx, repo, filter, func(s *Snapshot) error {
		if h.Len() < k {
			heap.Push(h, s)
			return nil
		}
		if (*h)[0].Before(s) {
			(*h)[0] = s
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if h.Len() < k {
		return nil, errors.Wrapf(ErrLatestOutOfRange, "latest~%d", n)
	}
	return (*h)[0], nil
}

// FromStr resolves a snapshot identifier: "latest", "latest~N" (N>=0), a
// short hex id prefix, or a full hex id.
func FromStr(ctx context.Context, repo SnapshotRepository, filter Filter, s string) (*Snapshot, error) {
	if s == "latest" {
		return LatestN(ctx, repo, filter, 0)
	}
	if strings.HasPrefix(s, "latest~") {
		nStr := strings.TrimPrefix(s, "latest~")
		n, err := strconv.Atoi(nStr)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid latest~N expression %q", s)
		}
		snap, err := LatestN(ctx, repo, filter, n)
		if err != nil {
			return nil, errors.Wrapf(err, "latest~%d", n)
		}
		return snap, nil
	}

	if len(s) == model.IDSize*2 {
		id, err := model.ParseID(s)
		if err == nil {
			snap, err := repo.LoadSnapshot(ctx, id)
			if err != nil {
				return nil, errors.Wrapf(ErrSnapshotNotFound, "%v", s)
			}
			if filter != nil && !filter(snap) {
				return nil, errors.Wrapf(ErrSnapshotNotFound, "%v", s)
			}
			return snap, nil
		}
	}

	// prefix lookup
	var match *Snapshot
	err := IterAll(ctx, repo, filter, func(snap *Snapshot) error {
		if snap.ID.HasPrefix(s) {
			if match != nil {
				return errors.Wrapf(ErrAmbiguousPrefix, "%q", s)
			}
			match = snap
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, errors.Wrapf(ErrSnapshotNotFound, "%v", s)
	}
	return match, nil
}

// GroupField selects which fields GroupBy partitions on.
type GroupField struct {
	Hostname bool
	Label    bool
	Paths    bool
	Tags     bool
}

// GroupKey is the comparable key a GroupField extracts from a snapshot.
type GroupKey struct {
	Hostname string
	Label    string
	Paths    string
	Tags     string
}

func keyFor(s *Snapshot, crit GroupField) GroupKey {
	var k GroupKey
	if crit.Hostname {
		k.Hostname = s.Hostname
	}
	if crit.Label {
		k.Label = s.Label
	}
	if crit.Paths {
		k.Paths = strings.Join(s.Paths, "\x00")
	}
	if crit.Tags {
		k.Tags = strings.Join(s.Tags, "\x00")
	}
	return k
}

// Group is one bucket produced by GroupBy: the key fields shared by every
// member, and the members themselves sorted oldest-first.
type Group struct {
	Key       GroupKey
	Snapshots []*Snapshot
}

// GroupBy sorts snapshots by the fields selected in crit and chunks them
// into groups sharing those field values.
func GroupBy(snapshots []*Snapshot, crit GroupField) []Group {
	sorted := append([]*Snapshot(nil), snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := keyFor(sorted[i], crit), keyFor(sorted[j], crit)
		if ki != kj {
			return fmtKey(ki) < fmtKey(kj)
		}
		return sorted[i].Before(sorted[j])
	})

	var groups []Group
	for _, s := range sorted {
		k := keyFor(s, crit)
		if len(groups) > 0 && groups[len(groups)-1].Key == k {
			groups[len(groups)-1].Snapshots = append(groups[len(groups)-1].Snapshots, s)
			continue
		}
		groups = append(groups, Group{Key: k, Snapshots: []*Snapshot{s}})
	}
	return groups
}

func fmtKey(k GroupKey) string {
	return k.Hostname + "\x01" + k.Label + "\x01" + k.Paths + "\x01" + k.Tags
}

// ModifySet describes the fields Modify may overwrite. A nil pointer field
// leaves that field untouched.
type ModifySet struct {
	Hostname *string
	Label    *string
	Paths    []string // nil means untouched; non-nil (incl. empty) replaces
	Delete   *DeletePolicy
}

// Modify applies set, then inserts addTags and removes removeTags, and
// returns a new *Snapshot only if anything actually changed; otherwise it
// returns nil to signal "no-op".
func Modify(s *Snapshot, set ModifySet, addTags, removeTags []string) *Snapshot {
	c := s.Clone()
	changed := false

	if set.Hostname != nil && c.Hostname != *set.Hostname {
		c.Hostname = *set.Hostname
		changed = true
	}
	if set.Label != nil && c.Label != *set.Label {
		c.Label = *set.Label
		changed = true
	}
	if set.Paths != nil {
		joined := strings.Join(set.Paths, "\x00")
		if strings.Join(c.Paths, "\x00") != joined {
			c.Paths = append([]string(nil), set.Paths...)
			changed = true
		}
	}
	if set.Delete != nil && *set.Delete != c.Delete {
		c.Delete = *set.Delete
		changed = true
	}

	for _, t := range addTags {
		if !c.Tags.Has(t) {
			c.Tags.Insert(t)
			changed = true
		}
	}
	for _, t := range removeTags {
		if c.Tags.Has(t) {
			idx := sort.SearchStrings(c.Tags, t)
			c.Tags = append(c.Tags[:idx], c.Tags[idx+1:]...)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return c
}

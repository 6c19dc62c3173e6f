package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// ErrTreeNotOrdered is returned by TreeJSONBuilder when nodes are added out
// of order or duplicated.
var ErrTreeNotOrdered = errors.New("nodes are not ordered or duplicate")

// NodeOrError is one item yielded by a TreeNodeIterator: either a Node or,
// terminally, an error.
type NodeOrError struct {
	Node  *Node
	Error error
}

// TreeNodeIterator streams a Tree's nodes one at a time without holding the
// whole tree in memory. It is single-use.
type TreeNodeIterator = iter.Seq[NodeOrError]

type treeIterator struct {
	dec     json.Decoder
	started bool
}

// NewTreeNodeIterator parses the streaming JSON object `{"nodes":[...]}`
// from rd, tolerating and skipping unknown keys for forward compatibility.
func NewTreeNodeIterator(rd io.Reader) (TreeNodeIterator, error) {
	t := &treeIterator{dec: *json.NewDecoder(rd)}
	if err := t.init(); err != nil {
		return nil, err
	}

	return func(yield func(NodeOrError) bool) {
		if t.started {
			panic("tree iterator is single use only")
		}
		t.started = true
		for {
			n, err := t.next()
			if err != nil && errors.Is(err, io.EOF) {
				return
			}
			if !yield(NodeOrError{Node: n, Error: err}) {
				return
			}
			if err != nil {
				return
			}
		}
	}, nil
}

func (t *treeIterator) init() error {
	if err := t.assertToken(json.Delim('{')); err != nil {
		return err
	}
	for {
		token, err := t.dec.Token()
		if err != nil {
			return err
		}
		key, ok := token.(string)
		if !ok {
			return errors.Errorf("error decoding tree: expected string key, got %v", token)
		}
		if key == "nodes" {
			return t.assertToken(json.Delim('['))
		}
		var raw json.RawMessage
		if err := t.dec.Decode(&raw); err != nil {
			return err
		}
	}
}

func (t *treeIterator) next() (*Node, error) {
	if t.dec.More() {
		var n Node
		if err := t.dec.Decode(&n); err != nil {
			return nil, err
		}
		return &n, nil
	}

	if err := t.assertToken(json.Delim(']')); err != nil {
		return nil, err
	}
	for {
		token, err := t.dec.Token()
		if err != nil {
			return nil, err
		}
		if token == json.Delim('}') {
			return nil, io.EOF
		}
		var raw json.RawMessage
		if err := t.dec.Decode(&raw); err != nil {
			return nil, err
		}
	}
}

func (t *treeIterator) assertToken(token json.Token) error {
	to, err := t.dec.Token()
	if err != nil {
		return err
	}
	if to != token {
		return errors.Errorf("error decoding tree: expected %v, got %v", token, to)
	}
	return nil
}

// LoadTree loads and parses the tree blob identified by content.
func LoadTree(ctx context.Context, loader model.BlobLoader, content model.ID) (TreeNodeIterator, error) {
	data, err := loader.LoadBlob(ctx, model.TreeBlob, content, nil)
	if err != nil {
		return nil, err
	}
	return NewTreeNodeIterator(bytes.NewReader(data))
}

// TreeFinder looks up individual nodes by name within a TreeNodeIterator
// that must be consumed in increasing name order.
type TreeFinder struct {
	next    func() (NodeOrError, bool)
	stop    func()
	current *Node
	last    string
}

// NewTreeFinder wraps tree for ordered lookups. tree may be nil, in which
// case Find always returns (nil, nil).
func NewTreeFinder(tree TreeNodeIterator) *TreeFinder {
	if tree == nil {
		return &TreeFinder{stop: func() {}}
	}
	next, stop := iter.Pull(tree)
	return &TreeFinder{next: next, stop: stop}
}

// Find returns the node named name, or nil if no such node exists. Each call
// must use a name strictly greater than the previous call's.
func (t *TreeFinder) Find(name string) (*Node, error) {
	if t.next == nil {
		return nil, nil
	}
	if name <= t.last {
		return nil, errors.Errorf("name %q is not greater than last name %q", name, t.last)
	}
	t.last = name

	for t.current == nil || t.current.Name < name {
		item, ok := t.next()
		if item.Error != nil {
			return nil, item.Error
		}
		if !ok {
			return nil, nil
		}
		t.current = item.Node
	}

	if t.current.Name == name {
		current := t.current
		t.current = nil
		return current, nil
	}
	return nil, nil
}

// Close releases resources held by the underlying iterator.
func (t *TreeFinder) Close() {
	t.stop()
}

// TreeJSONBuilder incrementally encodes a Tree's JSON representation,
// enforcing that nodes are added in strictly increasing name order.
type TreeJSONBuilder struct {
	buf        bytes.Buffer
	lastName   string
	countNodes int
}

// NewTreeJSONBuilder returns an empty builder.
func NewTreeJSONBuilder() *TreeJSONBuilder {
	b := &TreeJSONBuilder{}
	b.buf.WriteString(`{"nodes":[`)
	return b
}

// AddNode appends node, whose Name must be strictly greater than the
// previously added node's.
func (b *TreeJSONBuilder) AddNode(node *Node) error {
	if node.Name <= b.lastName {
		return fmt.Errorf("node %q, last %q: %w", node.Name, b.lastName, ErrTreeNotOrdered)
	}
	if b.lastName != "" {
		b.buf.WriteByte(',')
	}
	b.lastName = node.Name

	val, err := json.Marshal(node)
	if err != nil {
		return err
	}
	b.buf.Write(val)
	b.countNodes++
	return nil
}

// Finalize closes the JSON object and returns the encoded bytes. The
// builder must not be reused afterwards.
func (b *TreeJSONBuilder) Finalize() []byte {
	b.buf.WriteString("]}\n")
	out := b.buf.Bytes()
	b.buf = bytes.Buffer{}
	return out
}

// Count returns the number of nodes added so far.
func (b *TreeJSONBuilder) Count() int {
	return b.countNodes
}

// TreeWriter builds and saves a new tree blob.
type TreeWriter struct {
	builder *TreeJSONBuilder
	saver   model.BlobSaver
}

// NewTreeWriter returns a TreeWriter that will save the finished tree
// through saver.
func NewTreeWriter(saver model.BlobSaver) *TreeWriter {
	return &TreeWriter{builder: NewTreeJSONBuilder(), saver: saver}
}

// AddNode appends node to the tree under construction.
func (t *TreeWriter) AddNode(node *Node) error {
	return t.builder.AddNode(node)
}

// Finalize saves the accumulated tree as a new blob and returns its id.
func (t *TreeWriter) Finalize(ctx context.Context) (model.ID, error) {
	buf := t.builder.Finalize()
	id, _, _, err := t.saver.SaveBlob(ctx, model.TreeBlob, buf, model.ID{}, false)
	return id, err
}

// Count returns the number of nodes added so far.
func (t *TreeWriter) Count() int {
	return t.builder.Count()
}

// SaveTree consumes nodes and saves them as a new tree blob.
func SaveTree(ctx context.Context, saver model.BlobSaver, nodes TreeNodeIterator) (model.ID, error) {
	w := NewTreeWriter(saver)
	for item := range nodes {
		if item.Error != nil {
			return model.ID{}, item.Error
		}
		if err := w.AddNode(item.Node); err != nil {
			return model.ID{}, err
		}
	}
	return w.Finalize(ctx)
}

type peekableNodeIterator struct {
	next  func() (NodeOrError, bool)
	stop  func()
	value *Node
}

func newPeekableNodeIterator(tree TreeNodeIterator) (*peekableNodeIterator, error) {
	next, stop := iter.Pull(tree)
	it := &peekableNodeIterator{next: next, stop: stop}
	if err := it.Next(); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func (i *peekableNodeIterator) Next() error {
	item, ok := i.next()
	if item.Error != nil || !ok {
		i.value = nil
		return item.Error
	}
	i.value = item.Node
	return nil
}

func (i *peekableNodeIterator) Peek() *Node { return i.value }
func (i *peekableNodeIterator) Close()      { i.stop() }

// DualTree is one merged step of DualTreeIterator: at least one of Tree1,
// Tree2 is non-nil, with equal Name when both are set.
type DualTree struct {
	Tree1 *Node
	Tree2 *Node
	Error error
}

// DualTreeIterator merges two (name-sorted) node streams, pairing nodes with
// matching names and yielding unmatched nodes alone. The restore planner
// does not use it; it walks the snapshot tree with walker.Walk.
func DualTreeIterator(tree1, tree2 TreeNodeIterator) iter.Seq[DualTree] {
	started := false
	return func(yield func(DualTree) bool) {
		if started {
			panic("tree iterator is single use only")
		}
		started = true

		iter1, err := newPeekableNodeIterator(tree1)
		if err != nil {
			yield(DualTree{Error: err})
			return
		}
		defer iter1.Close()

		iter2, err := newPeekableNodeIterator(tree2)
		if err != nil {
			yield(DualTree{Error: err})
			return
		}
		defer iter2.Close()

		for {
			node1 := iter1.Peek()
			node2 := iter2.Peek()
			if node1 == nil && node2 == nil {
				return
			}
			if node1 != nil && node2 != nil {
				if node1.Name < node2.Name {
					node2 = nil
				} else if node1.Name > node2.Name {
					node1 = nil
				}
			}

			if node1 != nil {
				if err = iter1.Next(); err != nil {
					break
				}
			}
			if node2 != nil {
				if err = iter2.Next(); err != nil {
					break
				}
			}

			if !yield(DualTree{Tree1: node1, Tree2: node2}) {
				return
			}
		}
		if err != nil {
			yield(DualTree{Error: err})
		}
	}
}

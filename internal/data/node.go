package data

import (
	"encoding/json"
	"time"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

// NodeType distinguishes the kinds of entries a Tree can contain.
type NodeType string

const (
	NodeTypeFile    NodeType = "file"
	NodeTypeDir     NodeType = "dir"
	NodeTypeSymlink NodeType = "symlink"
	NodeTypeSpecial NodeType = "special"
)

// ExtendedAttribute is one xattr captured on a node.
type ExtendedAttribute struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Node is one entry in a Tree: a file, a directory, a symlink, or a special
// file (device/fifo/socket). Nodes within a Tree are kept sorted by Name.
type Node struct {
	Name    string   `json:"name"`
	Type    NodeType `json:"type"`
	Mode    uint32   `json:"mode,omitempty"`
	ModTime time.Time `json:"mtime,omitempty"`
	UID     uint32   `json:"uid"`
	GID     uint32   `json:"gid"`
	User    string   `json:"user,omitempty"`
	Group   string   `json:"group,omitempty"`

	// File-only.
	Size    uint64      `json:"size,omitempty"`
	Content model.IDs   `json:"content,omitempty"`

	// Dir-only.
	Subtree *model.ID `json:"subtree,omitempty"`

	// Symlink-only.
	LinkTarget string `json:"linktarget,omitempty"`

	// Special-only (device files).
	Device uint64 `json:"device,omitempty"`

	ExtendedAttributes []ExtendedAttribute `json:"extended_attributes,omitempty"`
}

// Validate checks a node's internal consistency for the type it claims.
func (n *Node) Validate() error {
	switch n.Type {
	case NodeTypeFile:
		// Content may be empty (zero-length file).
	case NodeTypeDir:
		if n.Subtree == nil {
			return errors.Errorf("node %q: dir without subtree", n.Name)
		}
	case NodeTypeSymlink:
		if n.LinkTarget == "" {
			return errors.Errorf("node %q: symlink without target", n.Name)
		}
	case NodeTypeSpecial:
		// nothing required
	default:
		return errors.Errorf("node %q: unknown type %q", n.Name, n.Type)
	}
	return nil
}

// MarshalJSON rejects nothing special; defined explicitly only so the
// package has one obvious place to add forward-compat handling later.
func (n Node) MarshalJSON() ([]byte, error) {
	type alias Node
	return json.Marshal(alias(n))
}

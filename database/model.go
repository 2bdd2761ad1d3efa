// Package database implements the public façade over the three
// format-specific pipelines (KDB, KDBX3, KDBX4) and the in-memory node
// tree they materialize. Node is modeled as a tagged variant (Group
// xor Entry) held in a dense-id arena with parent pointers stored as
// ids rather than as a shared-mutable-reference graph with runtime
// type assertions; this keeps the acyclic-tree and UUID-uniqueness
// invariants centrally enforceable in one place (Arena.addChild /
// Arena.Move).
package database

import (
	"time"

	"github.com/google/uuid"

	"keepassdb/apperr"
	"keepassdb/internal/kdbxml"
)

// NodeID is a dense arena index. The zero value never names a real
// node; it is used as the "no parent" marker for the root group.
type NodeID uint32

// NodeKind discriminates the two variants a Node can hold.
type NodeKind uint8

const (
	KindGroup NodeKind = iota
	KindEntry
)

func (k NodeKind) String() string {
	if k == KindEntry {
		return "Entry"
	}
	return "Group"
}

// Times is the common timestamp block every node carries.
type Times struct {
	Creation         time.Time
	LastModification time.Time
	LastAccess       time.Time
	Expiry           time.Time
	ExpiryEnabled    bool
	UsageCount       int32
	LocationChanged  time.Time
}

func newTimes() Times {
	now := time.Now().UTC()
	return Times{Creation: now, LastModification: now, LastAccess: now, LocationChanged: now}
}

// StringField is one named entry field. Protected marks a value that
// is masked with the inner-stream keystream on the wire; in memory the
// value is held as an ordinary Go string either way and is not
// zeroized.
type StringField struct {
	Value     string
	Protected bool
}

// BinaryRef points into Database.Binaries by id.
type BinaryRef struct {
	Ref int
}

// Association binds an auto-type sequence to a target window title.
type Association struct {
	Window   string
	Sequence string
}

// AutoType is an entry's auto-type configuration.
type AutoType struct {
	Enabled                 bool
	DataTransferObfuscation int32
	DefaultSequence         string
	Associations            []Association
}

// GroupData is the Group variant's payload.
type GroupData struct {
	Name                    string
	Notes                   string
	IconID                  int32
	CustomIconUUID          uuid.UUID
	IsExpanded              bool
	DefaultAutoTypeSequence string
	EnableAutoType          kdbxml.TernaryBool
	EnableSearching         kdbxml.TernaryBool
	LastTopVisibleEntry     uuid.UUID
	Children                []NodeID
}

// EntryData is the Entry variant's payload. History holds prior
// snapshots of this same entry (oldest first); per the data model,
// snapshots carry the owning entry's UUID and do not themselves carry
// further history, so they are plain value copies rather than arena
// nodes.
type EntryData struct {
	IconID          int32
	CustomIconUUID  uuid.UUID
	ForegroundColor string
	BackgroundColor string
	OverrideURL     string
	Tags            string
	Strings         map[string]StringField
	Binaries        map[string]BinaryRef
	AutoType        AutoType
	History         []EntryData
}

// Title returns the entry's "Title" string field, or "" when it has
// none.
func (e *EntryData) Title() string {
	if sf, ok := e.Strings["Title"]; ok {
		return sf.Value
	}
	return ""
}

// Node is a tagged Group/Entry variant. Exactly one of Group or Entry
// is non-nil, selected by Kind.
type Node struct {
	ID         NodeID
	Parent     NodeID
	Kind       NodeKind
	UUID       uuid.UUID
	Times      Times
	CustomData map[string]string
	Group      *GroupData
	Entry      *EntryData
}

// Title dispatches to the active variant's title, replacing the
// runtime type assertion a shared-interface design would need.
func (n *Node) Title() string {
	if n.Kind == KindGroup {
		return n.Group.Name
	}
	return n.Entry.Title()
}

// Arena owns every Node in one database's tree, keyed by dense NodeID,
// with a UUID index for FindByUUID and an explicit root pointer.
type Arena struct {
	nodes  map[NodeID]*Node
	nextID NodeID
	byUUID map[uuid.UUID]NodeID
	root   NodeID
}

func newArena() *Arena {
	return &Arena{nodes: make(map[NodeID]*Node), byUUID: make(map[uuid.UUID]NodeID), nextID: 1}
}

func (a *Arena) alloc(n *Node) NodeID {
	id := a.nextID
	a.nextID++
	n.ID = id
	a.nodes[id] = n
	a.byUUID[n.UUID] = id
	return id
}

// Node returns the node stored at id.
func (a *Arena) Node(id NodeID) (*Node, bool) {
	n, ok := a.nodes[id]
	return n, ok
}

// Root returns the single root group's id.
func (a *Arena) Root() NodeID {
	return a.root
}

// FindByUUID resolves u to its NodeID, if present anywhere in the tree.
func (a *Arena) FindByUUID(u uuid.UUID) (NodeID, bool) {
	id, ok := a.byUUID[u]
	return id, ok
}

// addChild allocates n as a fresh node (n.UUID must be unset in the
// arena already) under parentID, which must name an existing Group.
// Rejects a duplicate UUID per the uniqueness invariant.
func (a *Arena) addChild(parentID NodeID, n *Node) (NodeID, error) {
	parent, ok := a.nodes[parentID]
	if !ok || parent.Kind != KindGroup {
		return 0, apperr.Invariant("database: add_child target is not a group", nil)
	}
	if _, exists := a.byUUID[n.UUID]; exists {
		return 0, apperr.Invariant("database: duplicate uuid "+n.UUID.String(), nil)
	}
	id := a.alloc(n)
	n.Parent = parentID
	parent.Group.Children = append(parent.Group.Children, id)
	return id, nil
}

// Remove detaches id (and its entire subtree, if it is a Group) from
// the arena and returns the detached node. The root cannot be removed.
// Callers needing recycle-bin/tombstone semantics (Database.Remove)
// build on this primitive rather than deleting directly.
func (a *Arena) Remove(id NodeID) (*Node, error) {
	if id == a.root {
		return nil, apperr.Invariant("database: cannot remove the root group", nil)
	}
	node, ok := a.nodes[id]
	if !ok {
		return nil, apperr.Invariant("database: node not found", nil)
	}
	parent := a.nodes[node.Parent]
	parent.Group.Children = removeID(parent.Group.Children, id)

	a.deleteSubtree(id)
	return node, nil
}

func (a *Arena) deleteSubtree(id NodeID) {
	node := a.nodes[id]
	if node.Kind == KindGroup {
		for _, child := range node.Group.Children {
			a.deleteSubtree(child)
		}
	}
	delete(a.nodes, id)
	delete(a.byUUID, node.UUID)
}

// Move reattaches id under newParent, rejecting a cycle (newParent
// inside id's own subtree) or a non-group target.
func (a *Arena) Move(id, newParent NodeID) error {
	if id == a.root {
		return apperr.Invariant("database: cannot move the root group", nil)
	}
	node, ok := a.nodes[id]
	if !ok {
		return apperr.Invariant("database: node not found", nil)
	}
	target, ok := a.nodes[newParent]
	if !ok || target.Kind != KindGroup {
		return apperr.Invariant("database: move target is not a group", nil)
	}
	if node.Kind == KindGroup && (newParent == id || a.isDescendant(id, newParent)) {
		return apperr.Invariant("database: move would create a cycle", nil)
	}

	oldParent := a.nodes[node.Parent]
	oldParent.Group.Children = removeID(oldParent.Group.Children, id)
	target.Group.Children = append(target.Group.Children, id)
	node.Parent = newParent
	return nil
}

func (a *Arena) isDescendant(ancestor, candidate NodeID) bool {
	found := false
	a.walk(ancestor, func(n *Node) {
		if n.ID == candidate {
			found = true
		}
	})
	return found
}

// Walk visits the whole tree in pre-order starting at the root.
func (a *Arena) Walk(fn func(*Node)) {
	a.walk(a.root, fn)
}

func (a *Arena) walk(id NodeID, fn func(*Node)) {
	n, ok := a.nodes[id]
	if !ok {
		return
	}
	fn(n)
	if n.Kind == KindGroup {
		for _, child := range n.Group.Children {
			a.walk(child, fn)
		}
	}
}

func removeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

package tree

import (
	"iter"
	"sort"
	"strings"

	"github.com/vobby/vobby/internal/identity"
)

// Kind tells directories and files apart.
type Kind uint8

const (
	KindDirectory Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Node is a directory or file in the shared namespace.
type Node struct {
	name     string
	kind     Kind
	id       identity.NodeID
	parent   *Node
	children map[string]*Node // directories only
}

func newNode(name string, kind Kind, id identity.NodeID, parent *Node) *Node {
	n := &Node{
		name:   name,
		kind:   kind,
		id:     id,
		parent: parent,
	}
	if kind == KindDirectory {
		n.children = make(map[string]*Node)
	}
	return n
}

func (n *Node) Name() string { return n.name }
func (n *Node) Kind() Kind   { return n.kind }
func (n *Node) IsDir() bool  { return n.kind == KindDirectory }

// RemoteID returns the server node id, if one has been assigned.
func (n *Node) RemoteID() (identity.NodeID, bool) {
	return n.id, n.id != identity.NoNode
}

// Path returns the canonical path of the node. The root's path is "".
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	parts := []string{}
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, pathSep)
}

// Child returns the direct child called name.
func (n *Node) Child(name string) (*Node, bool) {
	child, ok := n.children[name]
	return child, ok
}

// Len is the number of direct children.
func (n *Node) Len() int {
	return len(n.children)
}

// Children returns the child directories and files, each ordered by name.
func (n *Node) Children() (dirs []*Node, files []*Node) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := n.children[name]
		if child.IsDir() {
			dirs = append(dirs, child)
		} else {
			files = append(files, child)
		}
	}
	return dirs, files
}

// WalkEntry is one step of a pre-order walk.
type WalkEntry struct {
	Dir   *Node
	Dirs  []*Node
	Files []*Node
}

// Walk yields n and then every directory below it in pre-order, like os.Walk.
// The sequence may be ranged over any number of times; the tree must not be
// mutated while a range is in progress.
func (n *Node) Walk() iter.Seq[WalkEntry] {
	return func(yield func(WalkEntry) bool) {
		if !n.IsDir() {
			return
		}
		n.walk(yield)
	}
}

func (n *Node) walk(yield func(WalkEntry) bool) bool {
	dirs, files := n.Children()
	if !yield(WalkEntry{Dir: n, Dirs: dirs, Files: files}) {
		return false
	}
	for _, dir := range dirs {
		if !dir.walk(yield) {
			return false
		}
	}
	return true
}

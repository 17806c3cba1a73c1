package tree

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vobby/vobby/internal/identity"
)

const pathSep = "/"

var (
	ErrNotFound      = errors.New("tree: not found")
	ErrAlreadyExists = errors.New("tree: already exists")
	ErrNotEmpty      = errors.New("tree: directory not empty")
	ErrNotDirectory  = errors.New("tree: not a directory")
	ErrInvalidName   = errors.New("tree: invalid name")
)

// Tree is the mirrored directory namespace of the collaboration server.
// It is not safe for concurrent use.
type Tree struct {
	root *Node
}

func New() *Tree {
	return &Tree{
		root: newNode("", KindDirectory, identity.NoNode, nil),
	}
}

func (t *Tree) Root() *Node {
	return t.root
}

// Resolve returns the node at path. "" and "/" resolve to the root.
func (t *Tree) Resolve(path string) (*Node, error) {
	current := t.root
	for _, part := range splitPath(path) {
		if !current.IsDir() {
			return nil, fmt.Errorf("%q: %w", path, ErrNotFound)
		}
		child, ok := current.children[part]
		if !ok {
			return nil, fmt.Errorf("%q: %w", path, ErrNotFound)
		}
		current = child
	}
	return current, nil
}

// CreateDirectory adds a directory called name under parentPath.
func (t *Tree) CreateDirectory(parentPath, name string, id identity.NodeID) (*Node, error) {
	return t.create(parentPath, name, KindDirectory, id)
}

// CreateFile adds a file called name under parentPath.
func (t *Tree) CreateFile(parentPath, name string, id identity.NodeID) (*Node, error) {
	return t.create(parentPath, name, KindFile, id)
}

func (t *Tree) create(parentPath, name string, kind Kind, id identity.NodeID) (*Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	parent, err := t.Resolve(parentPath)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, fmt.Errorf("%q: %w", parentPath, ErrNotDirectory)
	}

	// names are unique across directories and files
	if existing, ok := parent.children[name]; ok {
		return nil, fmt.Errorf("%q (%s): %w", joinPath(parentPath, name), existing.kind, ErrAlreadyExists)
	}

	node := newNode(name, kind, id, parent)
	parent.children[name] = node
	return node, nil
}

// MakeDirs creates every missing directory along path. Existing intermediate
// directories are reused; the last segment must not exist yet.
func (t *Tree) MakeDirs(path string) (*Node, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%q: %w", path, ErrAlreadyExists)
	}

	current := t.root
	for i, part := range parts {
		if err := validateName(part); err != nil {
			return nil, err
		}

		child, ok := current.children[part]
		last := i == len(parts)-1
		switch {
		case ok && last:
			return nil, fmt.Errorf("%q: %w", path, ErrAlreadyExists)
		case ok && !child.IsDir():
			return nil, fmt.Errorf("%q: %w", child.Path(), ErrNotDirectory)
		case !ok:
			child = newNode(part, KindDirectory, identity.NoNode, current)
			current.children[part] = child
		}
		current = child
	}
	return current, nil
}

// Remove deletes a file or an empty directory.
func (t *Tree) Remove(path string) error {
	node, err := t.removable(path)
	if err != nil {
		return err
	}
	if node.IsDir() && node.Len() > 0 {
		return fmt.Errorf("%q: %w", path, ErrNotEmpty)
	}
	delete(node.parent.children, node.name)
	node.parent = nil
	return nil
}

// RemoveAll deletes path and everything below it.
func (t *Tree) RemoveAll(path string) error {
	node, err := t.removable(path)
	if err != nil {
		return err
	}
	delete(node.parent.children, node.name)
	node.parent = nil
	return nil
}

func (t *Tree) removable(path string) (*Node, error) {
	node, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	if node == t.root {
		return nil, fmt.Errorf("cannot remove root: %w", ErrInvalidName)
	}
	return node, nil
}

// Walk walks the whole tree from the root. See Node.Walk.
func (t *Tree) Walk() iter.Seq[WalkEntry] {
	return t.root.Walk()
}

// String renders the tree as an indented listing, directories first.
func (t *Tree) String() string {
	var sb strings.Builder
	sb.WriteString(".\n")
	render(&sb, t.root, "")
	return sb.String()
}

func render(sb *strings.Builder, dir *Node, indent string) {
	dirs, files := dir.Children()
	all := append(dirs, files...)
	for i, child := range all {
		branch, next := "├── ", "│   "
		if i == len(all)-1 {
			branch, next = "└── ", "    "
		}
		sb.WriteString(indent + branch + child.name)
		if child.IsDir() {
			sb.WriteString(pathSep)
		}
		sb.WriteString("\n")
		if child.IsDir() {
			render(sb, child, indent+next)
		}
	}
}

func splitPath(path string) []string {
	raw := strings.Split(path, pathSep)
	parts := raw[:0]
	for _, part := range raw {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// JoinPath joins a parent path and a child name into a canonical path.
func JoinPath(parent, name string) string {
	return joinPath(parent, name)
}

func joinPath(parent, name string) string {
	parent = strings.Join(splitPath(parent), pathSep)
	if parent == "" {
		return name
	}
	return parent + pathSep + name
}

// Clean normalises path to its canonical form ("a/b", no leading or trailing slash).
func Clean(path string) string {
	return strings.Join(splitPath(path), pathSep)
}

// Split returns the canonical parent path and the last segment of path.
func Split(path string) (parent, name string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "", ""
	}
	return strings.Join(parts[:len(parts)-1], pathSep), parts[len(parts)-1]
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, pathSep) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

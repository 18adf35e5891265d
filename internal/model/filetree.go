package model

import (
	"fmt"
	"path"
	"strings"
)

// FileNode is a file or directory entry of a FileTree.
type FileNode struct {
	Name string
	// Contents are the raw file bytes, unset for directories.
	Contents []byte
	// Children is set only for directories.
	Children *FileTree
}

// IsDir returns true if the node is a directory.
func (n *FileNode) IsDir() bool { return n.Children != nil }

// FileTree is an ordered, in-memory hierarchical file tree. Entry names are
// unique per directory and keep their insertion order.
// The zero value is an empty tree ready to use.
type FileTree struct {
	order []string
	nodes map[string]*FileNode
}

// NewFileTree returns an empty file tree.
func NewFileTree() *FileTree { return &FileTree{} }

// Len returns the number of direct entries.
func (t *FileTree) Len() int { return len(t.order) }

// Get returns the direct entry with the given name.
func (t *FileTree) Get(name string) (*FileNode, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Entries returns the direct entries in insertion order.
func (t *FileTree) Entries() []*FileNode {
	entries := make([]*FileNode, 0, len(t.order))
	for _, name := range t.order {
		entries = append(entries, t.nodes[name])
	}
	return entries
}

// Lookup returns the node at the slash separated relative path.
func (t *FileTree) Lookup(p string) (*FileNode, bool) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, false
	}

	current := t
	for i, part := range parts {
		n, ok := current.Get(part)
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return n, true
		}
		if !n.IsDir() {
			return nil, false
		}
		current = n.Children
	}

	return nil, false
}

// AddDir ensures the directory at the relative path exists, creating the
// intermediate directories when missing.
func (t *FileTree) AddDir(p string) (*FileTree, error) {
	current := t
	for _, part := range splitPath(p) {
		if part == ".." {
			return nil, fmt.Errorf("%s: parent directory references are not allowed: %w", p, ErrNotValid)
		}
		next, err := current.dir(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		current = next
	}
	return current, nil
}

// AddFile stores a file at the relative path, creating the intermediate directories.
// An existing file at the same path is replaced.
func (t *FileTree) AddFile(p string, contents []byte) error {
	parts := splitPath(p)
	if len(parts) == 0 {
		return fmt.Errorf("empty file path: %w", ErrNotValid)
	}

	parent, err := t.AddDir(strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return err
	}

	name := parts[len(parts)-1]
	if name == ".." {
		return fmt.Errorf("%s: parent directory references are not allowed: %w", p, ErrNotValid)
	}
	if existing, ok := parent.Get(name); ok {
		if existing.IsDir() {
			return fmt.Errorf("%s is a directory: %w", p, ErrAlreadyExists)
		}
		existing.Contents = contents
		return nil
	}

	parent.put(&FileNode{Name: name, Contents: contents})
	return nil
}

// Walk calls fn for every node in depth-first insertion order. Paths are
// slash separated and relative to the tree root.
func (t *FileTree) Walk(fn func(p string, n *FileNode) error) error {
	return t.walk("", fn)
}

// FileCount returns the number of files in the whole tree.
func (t *FileTree) FileCount() int {
	count := 0
	_ = t.Walk(func(_ string, n *FileNode) error {
		if !n.IsDir() {
			count++
		}
		return nil
	})
	return count
}

// Size returns the sum of all the file sizes in bytes.
func (t *FileTree) Size() int64 {
	var size int64
	_ = t.Walk(func(_ string, n *FileNode) error {
		size += int64(len(n.Contents))
		return nil
	})
	return size
}

func (t *FileTree) walk(prefix string, fn func(p string, n *FileNode) error) error {
	for _, n := range t.Entries() {
		p := path.Join(prefix, n.Name)
		if err := fn(p, n); err != nil {
			return err
		}
		if n.IsDir() {
			if err := n.Children.walk(p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *FileTree) dir(name string) (*FileTree, error) {
	if n, ok := t.Get(name); ok {
		if !n.IsDir() {
			return nil, fmt.Errorf("%s is a file: %w", name, ErrAlreadyExists)
		}
		return n.Children, nil
	}

	children := NewFileTree()
	t.put(&FileNode{Name: name, Children: children})
	return children, nil
}

func (t *FileTree) put(n *FileNode) {
	if t.nodes == nil {
		t.nodes = map[string]*FileNode{}
	}
	t.order = append(t.order, n.Name)
	t.nodes[n.Name] = n
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if part == "" || part == "." {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// Package snapshot captures a point-in-time picture of an object tree and
// serializes it with msgpack, for the tree dump command and for diffing
// scenario runs.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"kwait/internal/object"
)

// Node is one object in a captured tree. Reference counts and queue states
// are sampled, not frozen; a snapshot of a live tree is advisory.
type Node struct {
	Name     string  `msgpack:"name"`
	Kind     string  `msgpack:"kind"`
	Refs     int64   `msgpack:"refs"`
	State    string  `msgpack:"state"`
	Children []*Node `msgpack:"children,omitempty"`
}

// Capture walks the tree from the root and returns its snapshot. Children
// are pinned before the walk descends, so objects cannot be freed mid-walk;
// objects released concurrently may or may not appear.
func Capture(tr *object.Tree) *Node {
	return captureObject(tr.Root(), "/")
}

func captureObject(o *object.Object, displayName string) *Node {
	n := &Node{
		Name:  displayName,
		Kind:  o.Kind().String(),
		Refs:  o.RefCount(),
		State: o.Queue().State().String(),
	}

	var children []*object.Object
	o.VisitChildren(func(c *object.Object) {
		// A child whose count has already drained is mid-destruction; skip
		// it rather than reviving it.
		if c.TryAddRef() {
			children = append(children, c)
		}
	})
	for _, c := range children {
		name, named := c.Name()
		if !named {
			name = fmt.Sprintf("<anonymous %s>", c.Kind())
		}
		n.Children = append(n.Children, captureObject(c, name))
		c.Release()
	}
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	return n
}

// Save writes the snapshot to path, atomically via a temp file rename so a
// crash mid-write never leaves a truncated snapshot behind.
func Save(path string, root *Node) error {
	data, err := msgpack.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var root Node
	if err := msgpack.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &root, nil
}

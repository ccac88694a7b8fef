// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"sync/atomic"
)

// Tree is the copy-on-write root handle for the whole node tree. The
// caller (Machine, in machine.go) is responsible for ensuring that all
// writes run serially, exactly as the teacher's Tree documents for its
// radix tree (tree.go): "the caller is responsible for ensuring that all
// writes are run serially." Reads (View, view.go) use root.Load() and
// never block or race with a concurrent write, because a write only ever
// installs a brand-new *Node via root.Store after building it from
// copy-on-write node.go primitives.
type Tree struct {
	root atomic.Pointer[Node]
	race atomic.Uint32
}

// NewTree returns a Tree whose root is a fresh, empty node (spec.md §4.6:
// "init(config) returns an empty state with just a root node").
func NewTree() *Tree {
	t := &Tree{}
	t.root.Store(NewNode())
	return t
}

// Root returns the current root node. Safe for concurrent use with writers.
func (t *Tree) Root() *Node {
	return t.root.Load()
}

// withWriteGuard runs fn with t's single-writer guard held, panicking if
// another writer is already in flight. This defends the "apply is invoked
// serially" contract of spec.md §5 the same way the teacher's Tree guards
// concurrent structural writers with its race field (tree.go).
func (t *Tree) withWriteGuard(fn func(root *Node) *Node) {
	if !t.race.CompareAndSwap(0, 1) {
		panic("khepri: concurrent write detected; apply must be invoked serially")
	}
	defer t.race.Store(0)
	newRoot := fn(t.root.Load())
	t.root.Store(newRoot)
}

// replaceRoot installs newRoot as t's current root under the write guard.
func (t *Tree) replaceRoot(newRoot *Node) {
	t.withWriteGuard(func(*Node) *Node { return newRoot })
}

// withWriteGuardErr is withWriteGuard's fallible counterpart: if fn returns
// an error, t's root is left untouched, so a command that fails partway
// through (e.g. a resource_limit cascade) never has a partial mutation
// observed by a later Apply or a concurrent View (spec.md §4.6, §5).
func (t *Tree) withWriteGuardErr(fn func(root *Node) (*Node, error)) error {
	if !t.race.CompareAndSwap(0, 1) {
		panic("khepri: concurrent write detected; apply must be invoked serially")
	}
	defer t.race.Store(0)
	newRoot, err := fn(t.root.Load())
	if err != nil {
		return err
	}
	t.root.Store(newRoot)
	return nil
}

// WalkPreOrder visits root and every descendant in pre-order (parent before
// children, children in insertion order within a parent), the traversal
// order the snapshot codec uses for bit-for-bit determinism (spec.md §6).
func WalkPreOrder(root *Node, path Path, visit func(path Path, n *Node) error) error {
	if err := visit(path, root); err != nil {
		return err
	}
	for _, e := range root.children {
		if err := WalkPreOrder(e.child, path.Append(e.id), visit); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

// View is a read-only, point-in-time handle over a Machine's state
// (spec.md §4.6, §5). It never blocks and never observes a write that
// starts after it was taken, because root is a plain *Node captured once
// from the tree's atomic pointer: later writes install a brand-new *Node
// and never mutate the one View holds.
type View struct {
	root          *Node
	maxResultSize int
}

// Root returns the snapshot's root node, for callers (treedebug,
// cmd/khepri-replay) that need to walk the whole tree rather than query one
// path at a time.
func (v *View) Root() *Node { return v.root }

// Get returns the projection of the node at path, and whether it exists
// (spec.md §4.2). It never mutates state and never triggers a keep-while
// cascade (invariant I5: "get never mutates state").
func (v *View) Get(path Path, opts ...MatchOption) (Projection, bool) {
	node := Walk(v.root, path)
	if node == nil {
		return Projection{}, false
	}
	o := defaultMatchOptions()
	o.maxResultSize = v.maxResultSize
	for _, opt := range opts {
		opt(&o)
	}
	return projectionOf(node, o.includeChildNames), true
}

// FindMatching runs a read-only pattern match against v's snapshot,
// equivalent to Machine.Apply(GetCommand{...}) but without going through
// Apply's logging and panic-recovery wrapper (spec.md §4.3, §4.4 step 4).
func (v *View) FindMatching(pattern Pattern, opts ...MatchOption) (*ResultMap, error) {
	normalized, err := NormalizePattern(pattern)
	if err != nil {
		return nil, err
	}
	if v.maxResultSize > 0 {
		opts = append([]MatchOption{WithMaxResultSize(v.maxResultSize)}, opts...)
	}
	return FindMatching(v.root, normalized, opts...)
}

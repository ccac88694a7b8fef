// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

// Node is one tree node: an optional data payload, the three monotonic
// counters spec.md §3 requires, and its children in insertion order. Node
// values are copy-on-write: every mutating method returns a new *Node
// sharing unmodified state with the receiver, the same discipline the
// teacher applies to its routing tree (tree.go's atomic.Pointer[[]*node]
// root swap) so that a read-only View (view.go) never observes a
// half-applied mutation.
type Node struct {
	hasPayload       bool
	payload          []byte
	payloadVersion   uint64
	childListVersion uint64
	children         childList
}

// childEntry is one (id, child) pair. childList keeps entries in insertion
// order, per spec.md §9 ("the source relies on a mapping whose iteration
// order is not part of its public contract. This spec pins it to insertion
// order").
type childEntry struct {
	id    Id
	child *Node
}

// childList is an insertion-ordered association from Id to *Node. It is
// treated as immutable once built: every mutation produces a new childList,
// copying the entry slice but not the *Node values (which are themselves
// copy-on-write), keeping mutation cost proportional to the node's own
// fan-out rather than the whole subtree.
type childList []childEntry

func (cl childList) indexOf(id Id) int {
	for i, e := range cl {
		if e.id.Equal(id) {
			return i
		}
	}
	return -1
}

// NewNode returns a freshly created node: no payload, counters at 1, no
// children (spec.md §3: "Recreating a destroyed node resets its counters
// to 1").
func NewNode() *Node {
	return &Node{payloadVersion: 1, childListVersion: 1}
}

// clone returns a shallow copy of n: new Node value, same children slice
// header (entries are only replaced, never mutated in place, so sharing is
// safe until the next structural change, which allocates a new slice).
func (n *Node) clone() *Node {
	cp := *n
	return &cp
}

// HasPayload reports whether n carries a data payload.
func (n *Node) HasPayload() bool { return n != nil && n.hasPayload }

// Payload returns n's payload bytes, or nil if n has none. The returned
// slice must not be mutated.
func (n *Node) Payload() []byte {
	if n == nil || !n.hasPayload {
		return nil
	}
	return n.payload
}

// PayloadVersion returns n's payload_version counter.
func (n *Node) PayloadVersion() uint64 {
	if n == nil {
		return 0
	}
	return n.payloadVersion
}

// ChildListVersion returns n's child_list_version counter.
func (n *Node) ChildListVersion() uint64 {
	if n == nil {
		return 0
	}
	return n.childListVersion
}

// ChildListCount returns n's child_list_count counter, always equal to
// len(n.children) (spec.md §8 invariant I1).
func (n *Node) ChildListCount() uint64 {
	if n == nil {
		return 0
	}
	return uint64(len(n.children))
}

// ChildNames returns the direct children's ids in insertion order.
func (n *Node) ChildNames() []Id {
	if n == nil {
		return nil
	}
	names := make([]Id, len(n.children))
	for i, e := range n.children {
		names[i] = e.id
	}
	return names
}

// GetChild returns the child named id, or nil if absent (tree store
// primitive, spec.md §4.2).
func (n *Node) GetChild(id Id) *Node {
	if n == nil {
		return nil
	}
	if i := n.children.indexOf(id); i >= 0 {
		return n.children[i].child
	}
	return nil
}

// SetChild returns a node like n but with id mapped to child. Replacing an
// existing child's value does not change child_list_count or bump
// child_list_version (spec.md §3: that counter only tracks additions and
// removals of the child set, "not on grandchild changes"); only adding a
// previously-absent id bumps it.
func (n *Node) SetChild(id Id, child *Node) *Node {
	cp := n.clone()
	if i := n.children.indexOf(id); i >= 0 {
		entries := make(childList, len(n.children))
		copy(entries, n.children)
		entries[i].child = child
		cp.children = entries
		return cp
	}
	entries := make(childList, len(n.children)+1)
	copy(entries, n.children)
	entries[len(n.children)] = childEntry{id: id, child: child}
	cp.children = entries
	cp.childListVersion = n.childListVersion + 1
	return cp
}

// RemoveChild returns a node like n but with id absent. If id was not
// present, n is returned unchanged (no version bump: nothing changed).
func (n *Node) RemoveChild(id Id) *Node {
	i := n.children.indexOf(id)
	if i < 0 {
		return n
	}
	cp := n.clone()
	entries := make(childList, 0, len(n.children)-1)
	entries = append(entries, n.children[:i]...)
	entries = append(entries, n.children[i+1:]...)
	cp.children = entries
	cp.childListVersion = n.childListVersion + 1
	return cp
}

// SetPayload returns a node like n but carrying payload as its data, always
// bumping payload_version (spec.md §9 open question (b): "always increment
// on put", including the first write, matching the seed scenarios).
func (n *Node) SetPayload(payload []byte) *Node {
	cp := n.clone()
	cp.hasPayload = true
	cp.payload = payload
	cp.payloadVersion = n.payloadVersion + 1
	return cp
}

// ClearPayload returns a node like n but without a data payload. Per
// spec.md §3, a node without payload or children may persist as an
// intermediary; ClearPayload does not remove the node itself.
func (n *Node) ClearPayload() *Node {
	if !n.hasPayload {
		return n
	}
	cp := n.clone()
	cp.hasPayload = false
	cp.payload = nil
	cp.payloadVersion = n.payloadVersion + 1
	return cp
}

// Walk follows path from n, returning the node at that path or nil if any
// component along the way is absent (tree store primitive, spec.md §4.2).
func Walk(n *Node, path Path) *Node {
	cur := n
	for _, id := range path {
		if cur == nil {
			return nil
		}
		cur = cur.GetChild(id)
	}
	return cur
}

// Projection is the subset of node fields the matcher returns for each
// matched path (spec.md §4.3).
type Projection struct {
	PayloadVersion   uint64
	ChildListVersion uint64
	ChildListCount   uint64
	Data             []byte
	HasData          bool
	ChildNames       []Id
	HasChildNames    bool
}

// projectionOf builds the Projection for n, including child_names only
// when includeChildNames is set (spec.md §4.3: "child_names is present iff
// options.include_child_names = true").
func projectionOf(n *Node, includeChildNames bool) Projection {
	p := Projection{
		PayloadVersion:   n.PayloadVersion(),
		ChildListVersion: n.ChildListVersion(),
		ChildListCount:   n.ChildListCount(),
	}
	if n.HasPayload() {
		p.HasData = true
		p.Data = n.Payload()
	}
	if includeChildNames {
		p.HasChildNames = true
		p.ChildNames = n.ChildNames()
	}
	return p
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

// Command is one of PutCommand, DeleteCommand or GetCommand (spec.md §4.4).
type Command interface{ isCommand() }

// PutCommand creates or updates every node Pattern resolves to. A
// predicate-bearing Pattern only ever updates existing matches; a plain
// path that resolves to no existing node is created, along with any
// missing intermediaries (spec.md §4.4).
type PutCommand struct {
	Pattern   Pattern
	Payload   []byte
	KeepWhile []KeepWhileCond // nil: no keep-while installed by this put.
}

func (PutCommand) isCommand() {}

// DeleteCommand removes every node Pattern resolves to (spec.md §4.4). A
// pattern resolving to the root path [] clears the root's children without
// removing the root node object itself.
type DeleteCommand struct {
	Pattern Pattern
}

func (DeleteCommand) isCommand() {}

// GetCommand is a read-only FindMatching call (spec.md §4.4).
type GetCommand struct {
	Pattern Pattern
	Options []MatchOption
}

func (GetCommand) isCommand() {}

// Reply is the result of Apply: the matched/created/deleted paths mapped to
// their prior projection (empty for a path a put just created), or, for a
// get, their current projection (spec.md §4.4, §7).
type Reply struct {
	Results *ResultMap
}

// execState is the scratch space one Apply call mutates; nothing here is
// visible to a concurrent View until Machine.commit installs it (spec.md
// §4.6, §5).
type execState struct {
	root                 *Node
	table                *KeepWhileTable
	dirty                map[string]Path
	seq                  uint64
	cascadeUsed          int
	maxCascadeIterations int
}

func newExecState(root *Node, table *KeepWhileTable, seq uint64, maxCascadeIterations int) *execState {
	return &execState{
		root:                 root,
		table:                table,
		dirty:                make(map[string]Path),
		seq:                  seq,
		maxCascadeIterations: maxCascadeIterations,
	}
}

func (st *execState) markDirty(p Path) {
	st.dirty[pathKey(p)] = p.Clone()
}

// applyPut runs a put command to completion, including its keep-while
// cascade (spec.md §4.4 steps 1-5, §4.5).
func (st *execState) applyPut(cmd PutCommand) (*Reply, error) {
	normalized, err := NormalizePattern(cmd.Pattern)
	if err != nil {
		return nil, err
	}

	matches, err := FindMatching(st.root, normalized)
	if err != nil {
		return nil, err
	}

	reply := newResultMap()
	var targets []Path

	if matches.Len() > 0 {
		for _, path := range matches.paths {
			node := Walk(st.root, path)
			reply.addProjection(path, projectionOf(node, false))
			st.root = setAtPath(st.root, path, node.SetPayload(cmd.Payload))
			st.markDirtyPrefixes(path)
			targets = append(targets, path)
		}
	} else if !normalized.HasPredicate() {
		// A plain path with no existing node: create it, and any missing
		// intermediaries along the way (spec.md §4.4 step 2).
		path, err := NormalizePath(normalized)
		if err != nil {
			return nil, err
		}
		st.root = insertLeaf(st.root, path, cmd.Payload)
		reply.addProjection(path, Projection{})
		st.markDirtyPrefixes(path)
		targets = append(targets, path)
	}
	// A predicate-bearing pattern matching nothing is a no-op query: the
	// reply is simply empty (spec.md §4.4 step 2 note: "must not fabricate
	// nodes").

	if cmd.KeepWhile != nil {
		for _, target := range targets {
			st.table = st.table.withSet(target, cmd.KeepWhile, st.seq)
			st.markDirty(target)
		}
	}

	reply.sort()
	if err := st.cascade(); err != nil {
		return nil, err
	}
	return &Reply{Results: reply}, nil
}

// applyDelete runs a delete command to completion, including its
// keep-while cascade (spec.md §4.4 step 3, §4.5).
func (st *execState) applyDelete(cmd DeleteCommand) (*Reply, error) {
	normalized, err := NormalizePattern(cmd.Pattern)
	if err != nil {
		return nil, err
	}

	matches, err := FindMatching(st.root, normalized)
	if err != nil {
		return nil, err
	}

	reply := newResultMap()
	for _, path := range matches.paths {
		node := Walk(st.root, path)
		if node == nil {
			continue // an ancestor matched earlier in this same delete already removed it.
		}
		reply.addProjection(path, projectionOf(node, false))
		st.removeMatchedPath(path, node)
	}

	reply.sort()
	if err := st.cascade(); err != nil {
		return nil, err
	}
	return &Reply{Results: reply}, nil
}

// removeMatchedPath removes the node at path, special-casing the root
// (spec.md §4.4 step 3: "delete operations targeting exactly [] affect its
// children but never remove the root node object itself").
func (st *execState) removeMatchedPath(path Path, node *Node) {
	if len(path) == 0 {
		if len(node.children) == 0 {
			return
		}
		cp := node.clone()
		cp.children = nil
		cp.childListVersion = node.childListVersion + 1
		st.root = cp
		st.markDirty(path)
		return
	}
	st.root = removeAtPath(st.root, path)
	st.markDirty(path[:len(path)-1])
	st.markDirty(path)
	st.table = st.table.withRemoved(path)
}

// applyGet runs a read-only FindMatching call; it never touches dirty
// state or the keep-while table (spec.md §4.4 step 4, invariant I5).
func applyGet(root *Node, cmd GetCommand) (*Reply, error) {
	normalized, err := NormalizePattern(cmd.Pattern)
	if err != nil {
		return nil, err
	}
	rm, err := FindMatching(root, normalized, cmd.Options...)
	if err != nil {
		return nil, err
	}
	return &Reply{Results: rm}, nil
}

// markDirtyPrefixes marks path and every ancestor prefix (including the
// root) dirty. This over-approximates the exact set of "existence, payload
// or child counters changed" nodes spec.md §4.5 defines, but never causes
// an incorrect keep-while evaluation: a watcher whose condition still holds
// simply survives a needless re-check.
func (st *execState) markDirtyPrefixes(path Path) {
	for i := 0; i <= len(path); i++ {
		st.markDirty(path[:i])
	}
}

// cascade runs the keep-while fixpoint to quiescence (spec.md §4.5),
// bounded by maxCascadeIterations.
func (st *execState) cascade() error {
	for len(st.dirty) > 0 {
		if st.cascadeUsed >= st.maxCascadeIterations {
			return kindError(KindResourceLimit, "keep-while cascade exceeded %d iterations", st.maxCascadeIterations)
		}
		st.cascadeUsed++

		dirtyNow := st.dirty
		st.dirty = make(map[string]Path)

		for _, watcher := range st.table.watchersAffectedBy(dirtyNow) {
			rec, ok := st.table.Get(watcher)
			if !ok {
				continue // removed earlier in this same pass.
			}
			if rec.installedBySeq == st.seq {
				// Bootstrap exemption (spec.md §3, §9 open question (a)):
				// a keep-while entry is never evaluated on the very command
				// that installs or replaces it.
				continue
			}
			if evaluateKeepWhile(st.root, rec) {
				continue
			}
			node := Walk(st.root, watcher)
			if node == nil {
				st.table = st.table.withRemoved(watcher)
				continue
			}
			st.removeMatchedPath(watcher, node)
		}
	}
	return nil
}

// setAtPath returns a tree like root but with the node at path replaced by
// leaf; every node is replaced along the way, since Node is copy-on-write
// (tree store primitive, spec.md §4.2).
func setAtPath(root *Node, path Path, leaf *Node) *Node {
	if len(path) == 0 {
		return leaf
	}
	id := path[0]
	child := root.GetChild(id)
	return root.SetChild(id, setAtPath(child, path[1:], leaf))
}

// insertLeaf returns a tree like root but with path installed, creating any
// missing intermediary nodes and a fresh leaf carrying payload (spec.md
// §4.4 step 2: "counters at 1" for every newly created node). A node that
// is brand-new in this same operation has its whole remaining subtree
// wired in directly (newSubtree) rather than built one SetChild call at a
// time, so a freshly created intermediary's own child_list_version reads 1,
// not 2 (spec.md §8 seed scenario 2): it was born already having that
// child, it never transitioned from "no children" to "one child" the way
// an existing node does when it gains a new one.
func insertLeaf(root *Node, path Path, payload []byte) *Node {
	id := path[0]
	if existing := root.GetChild(id); existing != nil {
		if len(path) == 1 {
			return root.SetChild(id, existing.SetPayload(payload))
		}
		return root.SetChild(id, insertLeaf(existing, path[1:], payload))
	}
	return root.SetChild(id, newSubtree(path[1:], payload))
}

// newSubtree builds a brand-new chain of intermediary nodes ending in a
// leaf carrying payload. Each node's child set is wired in at construction
// rather than through SetChild, so none of the nodes born in this call have
// their child_list_version bumped past the 1 NewNode already gives them.
func newSubtree(path Path, payload []byte) *Node {
	if len(path) == 0 {
		return newLeafWithPayload(payload)
	}
	n := NewNode()
	n.children = childList{{id: path[0], child: newSubtree(path[1:], payload)}}
	return n
}

// newLeafWithPayload builds a brand-new node whose first and only write so
// far is installing payload, so payload_version reads 1 rather than 2: the
// "first write" spec.md §3 describes is folded into creation, not applied
// as a separate increment on top of NewNode's initial value.
func newLeafWithPayload(payload []byte) *Node {
	n := NewNode()
	n.hasPayload = true
	n.payload = payload
	return n
}

// removeAtPath returns a tree like root but with the node at path removed
// from its parent's child list. Only the direct parent's child_list_version
// bumps; every node above it along the way just has its child pointer
// replaced (spec.md §3: the counter "tracks only this node's own direct
// children").
func removeAtPath(root *Node, path Path) *Node {
	if len(path) == 1 {
		return root.RemoveChild(path[0])
	}
	id := path[0]
	child := root.GetChild(id)
	if child == nil {
		return root
	}
	return root.SetChild(id, removeAtPath(child, path[1:]))
}

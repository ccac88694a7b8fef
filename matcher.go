// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"encoding/binary"
	"iter"

	"github.com/kvtree/khepri/internal/iterutil"
	"github.com/kvtree/khepri/internal/slicesutil"
)

// MatchOptions configures FindMatching, following the teacher's functional
// option idiom (options.go).
type MatchOptions struct {
	includeChildNames  bool
	expectSpecificNode bool
	maxResultSize      int
}

// MatchOption mutates a MatchOptions value.
type MatchOption func(*MatchOptions)

// defaultMaxResultSize bounds a single matcher call's result map, the
// resource_limit cap spec.md §5 calls for.
const defaultMaxResultSize = 65536

func defaultMatchOptions() MatchOptions {
	return MatchOptions{maxResultSize: defaultMaxResultSize}
}

// IncludeChildNames requests that each projection carry its node's direct
// child ids, in insertion order (spec.md §4.3).
func IncludeChildNames() MatchOption {
	return func(o *MatchOptions) { o.includeChildNames = true }
}

// ExpectSpecificNode fails the whole match with no_matching_nodes or
// many_matching_nodes unless the pattern resolves to exactly one node
// (spec.md §4.3).
func ExpectSpecificNode() MatchOption {
	return func(o *MatchOptions) { o.expectSpecificNode = true }
}

// WithMaxResultSize overrides the default result-map size cap.
func WithMaxResultSize(n int) MatchOption {
	return func(o *MatchOptions) {
		if n > 0 {
			o.maxResultSize = n
		}
	}
}

// ResultMap is the matcher's output: an ordered mapping from absolute path
// to Projection (spec.md §4.3). Entries are sorted by Path.Compare so that
// two replicas evaluating the same pattern against the same tree produce
// byte-identical iteration order, even though spec.md notes that order is
// not itself part of the wire protocol.
type ResultMap struct {
	paths []Path
	proj  []Projection
	index map[string]int
}

func newResultMap() *ResultMap {
	return &ResultMap{index: make(map[string]int)}
}

// pathKey builds a collision-free map key for path: each id is tagged with
// its kind and length-prefixed, so two distinct id sequences never collide
// even if their String() forms would (e.g. one atom "a/b" vs atoms "a","b").
func pathKey(p Path) string {
	buf := make([]byte, 0, len(p)*8)
	var lenBuf [4]byte
	for _, id := range p {
		buf = append(buf, byte(id.Kind()))
		raw := id.Raw()
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, raw...)
	}
	return string(buf)
}

// Len reports the number of matched nodes.
func (rm *ResultMap) Len() int { return len(rm.paths) }

// Get returns the projection for path, if matched.
func (rm *ResultMap) Get(path Path) (Projection, bool) {
	i, ok := rm.index[pathKey(path)]
	if !ok {
		return Projection{}, false
	}
	return rm.proj[i], true
}

// Entries iterates matched (path, projection) pairs in deterministic,
// lexicographically sorted path order.
func (rm *ResultMap) Entries() iter.Seq2[Path, Projection] {
	return func(yield func(Path, Projection) bool) {
		for i, p := range rm.paths {
			if !yield(p, rm.proj[i]) {
				return
			}
		}
	}
}

// Paths returns just the matched paths, in the same deterministic order as
// Entries.
func (rm *ResultMap) Paths() iter.Seq[Path] {
	return iterutil.Left(rm.Entries())
}

// Projections returns just the matched projections, in the same
// deterministic order as Entries.
func (rm *ResultMap) Projections() iter.Seq[Projection] {
	return iterutil.Right(rm.Entries())
}

// Single returns the lone entry of a single-result map; callers must only
// call this after ExpectSpecificNode confirmed exactly one match.
func (rm *ResultMap) Single() (Path, Projection) {
	return rm.paths[0], rm.proj[0]
}

func (rm *ResultMap) add(path Path, n *Node, includeChildNames bool) {
	rm.addProjection(path, projectionOf(n, includeChildNames))
}

// addProjection records proj directly under path, used by the command
// interpreter (command.go) to report a prior_projection that was computed
// from a node that may no longer exist (e.g. the empty projection of a leaf
// a put just created, spec.md §4.4 step 2).
func (rm *ResultMap) addProjection(path Path, proj Projection) {
	key := pathKey(path)
	if _, ok := rm.index[key]; ok {
		return // spec.md §4.3: a node may be emitted at most once per call.
	}
	i := len(rm.paths)
	rm.index[key] = i
	rm.paths = append(rm.paths, path)
	rm.proj = append(rm.proj, proj)
}

func (rm *ResultMap) sort() {
	type entry struct {
		path Path
		proj Projection
	}
	entries := make([]entry, len(rm.paths))
	for i, p := range rm.paths {
		entries[i] = entry{path: p, proj: rm.proj[i]}
	}
	slicesutil.SortFunc(entries, func(a, b entry) int { return a.path.Compare(b.path) })
	for i, e := range entries {
		rm.paths[i] = e.path
		rm.proj[i] = e.proj
		rm.index[pathKey(e.path)] = i
	}
}

// FindMatching evaluates pattern against root and returns the matched
// nodes' projections (spec.md §4.3). It is used both for read-only get
// commands and as the pre-pass of every put/delete mutation.
func FindMatching(root *Node, pattern Pattern, opts ...MatchOption) (*ResultMap, error) {
	o := defaultMatchOptions()
	for _, opt := range opts {
		opt(&o)
	}

	normalized, err := NormalizePattern(pattern)
	if err != nil {
		return nil, err
	}

	rm := newResultMap()
	m := &matcher{result: rm, opts: o}
	if err := m.step(root, Path{}, []*Node{root}, []Component(normalized)); err != nil {
		return nil, err
	}
	rm.sort()

	if o.expectSpecificNode {
		switch rm.Len() {
		case 0:
			return nil, kindError(KindNoMatchingNodes, "pattern matched no nodes")
		case 1:
			// ok
		default:
			return nil, kindError(KindManyMatchingNodes, "pattern matched %d nodes", rm.Len())
		}
	}
	return rm, nil
}

// matcher holds the mutable state threaded through one FindMatching call:
// the result builder and the options, whose maxResultSize emit checks
// against the result's current length.
type matcher struct {
	result *ResultMap
	opts   MatchOptions
}

// step evaluates pattern against (node, path), recursing per spec.md §4.3.
// ancestors[i] is the node reached after consuming path[:i] components
// (ancestors[0] is always the tree root), used to resolve PARENT without
// re-walking from the root.
func (m *matcher) step(node *Node, path Path, ancestors []*Node, pattern []Component) error {
	if len(pattern) == 0 {
		return m.emit(path, node)
	}

	head, tail := pattern[0], pattern[1:]
	switch head.Kind() {
	case KindThis:
		return m.step(node, path, ancestors, tail)
	case KindParent:
		if len(path) == 0 {
			return nil // match fails on this branch, not the whole command.
		}
		return m.step(ancestors[len(path)-1], path[:len(path)-1], ancestors[:len(path)], tail)
	case KindRoot:
		root := ancestors[0]
		return m.step(root, Path{}, ancestors[:1], tail)
	case KindLiteral:
		child := node.GetChild(head.Id())
		if child == nil {
			return nil
		}
		return m.step(child, path.Append(head.Id()), append(ancestors, child), tail)
	case KindPredicate:
		if wc, ok := head.Predicate().(IfPathMatches); ok {
			return m.stepPathWildcard(node, path, ancestors, wc, tail, Path{})
		}
		return m.stepSinglePredicate(node, path, ancestors, head.Predicate(), tail)
	default:
		return nil
	}
}

// stepSinglePredicate handles every predicate kind that consumes exactly
// one component: enumerate the current node's children in insertion order,
// evaluate the predicate against each (id, child), and recurse into the
// matches (spec.md §4.3). Recursion is strictly depth-first and
// synchronous, so appending to ancestors here is safe even when it reuses
// spare backing-array capacity across loop iterations: by the time the next
// sibling is processed, the previous recursive call (and everything that
// read ancestors during it) has already returned.
func (m *matcher) stepSinglePredicate(node *Node, path Path, ancestors []*Node, pred Predicate, tail []Component) error {
	for _, e := range node.children {
		if !pred.Evaluate(e.id, e.child) {
			continue
		}
		if err := m.step(e.child, path.Append(e.id), append(ancestors, e.child), tail); err != nil {
			return err
		}
	}
	return nil
}

// stepPathWildcard implements if_path_matches' Kleene-star expansion
// (spec.md §4.3): zero or more components are consumed, and the joined
// stringification of the consumed segment must match the predicate's
// regex (spec.md §4.1). Two branches apply at every node visited:
//
//   - terminate: if the consumed segment matches the regex, and tail is
//     already empty, emit the current node; if tail is non-empty, hand off
//     to it — but only once at least one component has been consumed
//     (len(segment) > 0). Handing off at zero consumption would let the
//     tail's own leading predicate test the wildcard's starting node's
//     *own* children directly, collapsing the wildcard and over-matching
//     shallow siblings that were never meant to be candidates (see
//     spec.md §8 seed scenario 5 and DESIGN.md for the worked derivation
//     of this rule from the documented expected output).
//   - continue: descend into each child, extending the consumed segment,
//     keeping if_path_matches in head position.
func (m *matcher) stepPathWildcard(node *Node, path Path, ancestors []*Node, pred IfPathMatches, tail []Component, segment Path) error {
	if pred.MatchesTail(segment) {
		if len(tail) == 0 {
			if err := m.emit(path, node); err != nil {
				return err
			}
		} else if len(segment) > 0 {
			if err := m.step(node, path, ancestors, tail); err != nil {
				return err
			}
		}
	}

	for _, e := range node.children {
		next := append(ancestors, e.child)
		if err := m.stepPathWildcard(e.child, path.Append(e.id), next, pred, tail, segment.Append(e.id)); err != nil {
			return err
		}
	}
	return nil
}

func (m *matcher) emit(path Path, node *Node) error {
	if m.result.Len() >= m.opts.maxResultSize {
		return kindError(KindResourceLimit, "matcher result map exceeds %d entries", m.opts.maxResultSize)
	}
	m.result.add(path, node, m.opts.includeChildNames)
	return nil
}

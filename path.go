// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import "strings"

// ComponentKind discriminates the forms a pattern component may take
// (spec.md §4.1).
type ComponentKind uint8

const (
	// KindLiteral matches a literal node id.
	KindLiteral ComponentKind = iota
	// KindThis leaves the running current path unchanged.
	KindThis
	// KindParent drops the last element of the running current path.
	KindParent
	// KindRoot resets the running current path to the empty sequence.
	KindRoot
	// KindPredicate is evaluated against each child of the current node.
	KindPredicate
)

// Component is one element of a Pattern: a literal id, a relative anchor,
// or a predicate. A Path (spec.md §3) is a Pattern restricted to literal
// and anchor components.
type Component struct {
	kind ComponentKind
	id   Id
	pred Predicate
}

// Lit builds a literal component matching exactly the given id.
func Lit(id Id) Component { return Component{kind: KindLiteral, id: id} }

// This builds the THIS relative anchor.
func This() Component { return Component{kind: KindThis} }

// ParentAnchor builds the PARENT relative anchor.
func ParentAnchor() Component { return Component{kind: KindParent} }

// RootAnchor builds the ROOT relative anchor.
func RootAnchor() Component { return Component{kind: KindRoot} }

// Pred builds a predicate component.
func Pred(p Predicate) Component { return Component{kind: KindPredicate, pred: p} }

// Kind reports the component's kind.
func (c Component) Kind() ComponentKind { return c.kind }

// Id returns the literal id. Only meaningful when Kind() == KindLiteral.
func (c Component) Id() Id { return c.id }

// Predicate returns the predicate. Only meaningful when Kind() == KindPredicate.
func (c Component) Predicate() Predicate { return c.pred }

// Path is a normalized, absolute sequence of node identifiers: no anchors,
// no predicates. The empty Path denotes the root (spec.md §3).
type Path []Id

// Equal reports whether two paths name the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Compare orders two paths lexicographically by component string value,
// shorter-prefix-first. Used for the deterministic delete and cascade
// processing order required by spec.md §4.4 and §4.5.
func (p Path) Compare(other Path) int {
	for i := 0; i < len(p) && i < len(other); i++ {
		a, b := p[i].String(), other[i].String()
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	default:
		return 0
	}
}

// String renders the path as a "/"-joined sequence, the form if_path_matches
// applies its regex to (spec.md §4.1).
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, id := range p {
		parts[i] = id.String()
	}
	return strings.Join(parts, "/")
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	cp := make(Path, len(p))
	copy(cp, p)
	return cp
}

// Append returns a new path with id appended; it never mutates p's backing
// array, so callers may freely keep using p afterward.
func (p Path) Append(id Id) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = id
	return out
}

// Pattern is a sequence of components that may include anchors and
// predicates, as supplied in a command envelope before normalization.
type Pattern []Component

// normalizeComponents resolves THIS/PARENT/ROOT anchors left-to-right
// against a running current component list, dropping the anchors from the
// output. Literal and predicate components pass through unchanged. PARENT
// past the start of the list is an invalid_path error (spec.md §4.1).
func normalizeComponents(in []Component) ([]Component, error) {
	out := make([]Component, 0, len(in))
	for _, c := range in {
		switch c.kind {
		case KindThis:
			// no-op: leaves the running current path unchanged.
		case KindParent:
			if len(out) == 0 {
				return nil, &PathError{Kind: KindInvalidPath, Detail: "PARENT above root"}
			}
			out = out[:len(out)-1]
		case KindRoot:
			out = out[:0]
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

// NormalizePattern resolves the anchors in pat against the empty running
// path and returns the remaining literal/predicate components, as required
// by the put/delete/get command interpreter (spec.md §4.4 step 1).
func NormalizePattern(pat Pattern) (Pattern, error) {
	out, err := normalizeComponents(pat)
	if err != nil {
		return nil, err
	}
	return Pattern(out), nil
}

// NormalizePath resolves the anchors in pat and asserts the result contains
// only literal components, producing an absolute Path (spec.md §4.1). It
// returns invalid_path if a predicate component remains.
func NormalizePath(pat Pattern) (Path, error) {
	resolved, err := normalizeComponents(pat)
	if err != nil {
		return nil, err
	}
	out := make(Path, 0, len(resolved))
	for _, c := range resolved {
		if c.kind != KindLiteral {
			return nil, &PathError{Kind: KindInvalidPath, Detail: "pattern is not a plain path"}
		}
		out = append(out, c.id)
	}
	return out, nil
}

// HasPredicate reports whether pat contains any predicate component, which
// the command interpreter uses to decide whether a put may create nodes
// (spec.md §4.4 step 2: "a predicate-bearing pattern is a query and must
// not fabricate nodes").
func (pat Pattern) HasPredicate() bool {
	for _, c := range pat {
		if c.kind == KindPredicate {
			return true
		}
	}
	return false
}

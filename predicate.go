// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"bytes"
	"regexp"
)

// Predicate is a pure function of a component's (id, node) pair, the tagged
// sum spec.md §9 calls for ("no runtime type tricks needed"). IfPathMatches
// is the sole exception: the matcher special-cases it because it consumes a
// variable-length segment of the path rather than a single component
// (spec.md §4.1/§4.3).
type Predicate interface {
	Evaluate(id Id, node *Node) bool
}

// Op is a counter-comparison operator for if_child_list_count,
// if_child_list_version and if_payload_version (spec.md §4.1).
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// compare evaluates a op b. An unrecognized Op fails closed (false): the
// node simply does not match, or a keep-while condition using it fails; no
// invalid_pattern error is raised for it (spec.md §4.1, "compare the named
// counter against an operand").
func (op Op) compare(a, b uint64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}

// IdEquals is the predicate form of a literal id, used to restrict a
// sub-condition of IfAll/IfAny to one specific child (spec.md §4.1: "a
// literal id embedded as a sub-condition restricts matching to that
// specific child").
type IdEquals struct{ Id Id }

func (p IdEquals) Evaluate(id Id, _ *Node) bool { return id.Equal(p.Id) }

// IfNameMatches matches iff the component id, stringified, matches Regex.
// A nil Regex (the "any" form) is unconditional.
type IfNameMatches struct{ Regex *regexp.Regexp }

func (p IfNameMatches) Evaluate(id Id, _ *Node) bool {
	if p.Regex == nil {
		return true
	}
	return p.Regex.MatchString(id.String())
}

// DataPattern is the host's structural match language over an opaque
// payload. AnyData matches any payload (the "_" wildcard); ExactData
// matches byte-for-byte.
type DataPattern interface {
	Match(payload []byte) bool
}

// AnyData is the "_" wildcard: matches any payload, including none.
type AnyData struct{}

func (AnyData) Match([]byte) bool { return true }

// ExactData matches a payload identical to Want.
type ExactData struct{ Want []byte }

func (p ExactData) Match(payload []byte) bool { return bytes.Equal(payload, p.Want) }

// IfDataMatches matches iff the node carries a data payload and it matches
// Pattern (spec.md §4.1).
type IfDataMatches struct{ Pattern DataPattern }

func (p IfDataMatches) Evaluate(_ Id, node *Node) bool {
	if node == nil || !node.HasPayload() {
		return false
	}
	if p.Pattern == nil {
		return true
	}
	return p.Pattern.Match(node.Payload())
}

// IfChildListCount compares the node's child_list_count counter.
type IfChildListCount struct {
	Op Op
	N  uint64
}

func (p IfChildListCount) Evaluate(_ Id, node *Node) bool {
	if node == nil {
		return false
	}
	return p.Op.compare(node.ChildListCount(), p.N)
}

// IfChildListVersion compares the node's child_list_version counter.
type IfChildListVersion struct {
	Op Op
	N  uint64
}

func (p IfChildListVersion) Evaluate(_ Id, node *Node) bool {
	if node == nil {
		return false
	}
	return p.Op.compare(node.ChildListVersion(), p.N)
}

// IfPayloadVersion compares the node's payload_version counter.
type IfPayloadVersion struct {
	Op Op
	N  uint64
}

func (p IfPayloadVersion) Evaluate(_ Id, node *Node) bool {
	if node == nil {
		return false
	}
	return p.Op.compare(node.PayloadVersion(), p.N)
}

// IfNodeExists asserts presence (Exists == true) or absence (Exists ==
// false) of the current component.
type IfNodeExists struct{ Exists bool }

func (p IfNodeExists) Evaluate(_ Id, node *Node) bool {
	return (node != nil) == p.Exists
}

// IfAll is a conjunction of sub-conditions.
type IfAll struct{ Conditions []Predicate }

func (p IfAll) Evaluate(id Id, node *Node) bool {
	for _, c := range p.Conditions {
		if !c.Evaluate(id, node) {
			return false
		}
	}
	return true
}

// Unwrap exposes the sub-conditions to predicate.As.
func (p IfAll) Unwrap() []Predicate { return p.Conditions }

// IfAny is a disjunction of sub-conditions.
type IfAny struct{ Conditions []Predicate }

func (p IfAny) Evaluate(id Id, node *Node) bool {
	for _, c := range p.Conditions {
		if c.Evaluate(id, node) {
			return true
		}
	}
	return false
}

// Unwrap exposes the sub-conditions to predicate.As.
func (p IfAny) Unwrap() []Predicate { return p.Conditions }

// IfPathMatches matches a segment of zero or more components whose joined
// stringification matches Regex (spec.md §4.1). A nil Regex is the "any"
// form: any descendant tail, including the empty one. The matcher expands
// it into Kleene-star recursion (§4.3) and tests the consumed segment with
// MatchesTail (see stepPathWildcard in matcher.go). Evaluate is never called
// on it by the matcher; it is provided so IfPathMatches satisfies Predicate,
// and applies Regex to the single component id it is given.
type IfPathMatches struct{ Regex *regexp.Regexp }

func (p IfPathMatches) Evaluate(id Id, _ *Node) bool {
	if p.Regex == nil {
		return true
	}
	return p.Regex.MatchString(id.String())
}

// MatchesTail reports whether the joined string form of tail satisfies the
// regex (or unconditionally, for the "any" form).
func (p IfPathMatches) MatchesTail(tail Path) bool {
	if p.Regex == nil {
		return true
	}
	return p.Regex.MatchString(tail.String())
}

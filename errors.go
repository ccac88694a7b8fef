// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"errors"
	"fmt"
)

// ErrorKind tags the error replies a command may return (spec.md §7). These
// never leave Apply as a panic or a bare Go error unless they are one of the
// two fatal restore kinds, which are returned directly from Restore.
type ErrorKind string

const (
	// KindNoMatchingNodes is returned when ExpectSpecificNode is set and the
	// matcher found zero results.
	KindNoMatchingNodes ErrorKind = "no_matching_nodes"
	// KindManyMatchingNodes is returned when ExpectSpecificNode is set and
	// the matcher found more than one result.
	KindManyMatchingNodes ErrorKind = "many_matching_nodes"
	// KindInvalidPath is returned when anchor resolution goes above the
	// root, or a path carries a component a Path may not contain.
	KindInvalidPath ErrorKind = "invalid_path"
	// KindInvalidPattern is returned when a predicate operand has the wrong
	// type (e.g. a non-numeric counter comparison operand).
	KindInvalidPattern ErrorKind = "invalid_pattern"
	// KindResourceLimit is returned when an implementation-defined cap
	// (result-map size, cascade iterations) is exceeded.
	KindResourceLimit ErrorKind = "resource_limit"
)

// Sentinel errors used with errors.Is across the package, mirroring the
// teacher's ErrRouteNotFound / ErrRouteConflict pattern (error.go).
var (
	ErrNoMatchingNodes    = errors.New(string(KindNoMatchingNodes))
	ErrManyMatchingNodes  = errors.New(string(KindManyMatchingNodes))
	ErrInvalidPath        = errors.New(string(KindInvalidPath))
	ErrInvalidPattern     = errors.New(string(KindInvalidPattern))
	ErrResourceLimit      = errors.New(string(KindResourceLimit))
	ErrCorruptSnapshot    = errors.New("corrupt_snapshot")
	ErrUnsupportedVersion = errors.New("unsupported_version")
)

// PathError carries a detail message alongside one of the ErrorKind
// sentinels, unwrapping to the matching sentinel the way the teacher's
// RouteConflictError unwraps to ErrRouteConflict (error.go).
type PathError struct {
	Kind   ErrorKind
	Detail string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the sentinel matching e.Kind.
func (e *PathError) Unwrap() error {
	switch e.Kind {
	case KindNoMatchingNodes:
		return ErrNoMatchingNodes
	case KindManyMatchingNodes:
		return ErrManyMatchingNodes
	case KindInvalidPath:
		return ErrInvalidPath
	case KindInvalidPattern:
		return ErrInvalidPattern
	case KindResourceLimit:
		return ErrResourceLimit
	default:
		return errors.New(string(e.Kind))
	}
}

// kindError builds a *PathError for the given kind and detail; a small
// helper so command code doesn't repeat the struct literal.
func kindError(kind ErrorKind, format string, args ...any) *PathError {
	return &PathError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

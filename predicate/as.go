// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

// Package predicate provides introspection helpers for khepri.Predicate
// values, for callers (tests, diagnostic tooling) that need to find a
// specific predicate type nested inside an IfAll/IfAny compound.
package predicate

import "github.com/kvtree/khepri"

// As finds the first predicate in p's tree (following IfAll/IfAny
// sub-conditions) assignable to *target and, if found, sets *target to it
// and returns true.
func As[T khepri.Predicate](p khepri.Predicate, target *T) bool {
	if p == nil {
		return false
	}
	if target == nil {
		panic("khepri: target cannot be nil")
	}
	return as(p, target)
}

func as[T khepri.Predicate](p khepri.Predicate, target *T) bool {
	if x, ok := p.(T); ok {
		*target = x
		return true
	}
	if x, ok := p.(interface{ Unwrap() []khepri.Predicate }); ok {
		for _, sub := range x.Unwrap() {
			if sub == nil {
				continue
			}
			if as(sub, target) {
				return true
			}
		}
	}
	return false
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

// Package idtext provides byte-level helpers for rendering node identifiers
// and payloads as text, for diagnostic tooling (treedebug) that must not
// garble a terminal when a binary id or payload contains non-printable
// bytes.
package idtext

// IsPrintableASCII reports whether every byte of s is a printable,
// non-control ASCII character (0x20-0x7e). Diagnostic dumps use this to
// decide between rendering a blob as text or falling back to a hex dump.
func IsPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

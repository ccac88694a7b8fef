// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

// Package treedebug renders a khepri tree as an ANSI-colored, indented text
// dump, for tests and operator tooling that need to eyeball a snapshot
// instead of a raw byte slice.
package treedebug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kvtree/khepri"
	"github.com/kvtree/khepri/internal/ansi"
	"github.com/kvtree/khepri/internal/idtext"
)

// Dump renders root and its descendants in pre-order, one line per node,
// indented by depth. Each line shows the node's last path component (or
// "." for the root), its three counters, and its payload if any.
func Dump(root *khepri.Node) string {
	var b strings.Builder
	b.WriteString(ansi.Bold + "khepri tree dump" + ansi.Reset + "\n")
	dumpNode(&b, root, khepri.Path{}, 0)
	return b.String()
}

func dumpNode(b *strings.Builder, n *khepri.Node, path khepri.Path, depth int) {
	b.WriteString(strings.Repeat("  ", depth))

	name := "."
	if len(path) > 0 {
		name = path[len(path)-1].String()
	}
	b.WriteString(ansi.FgCyan)
	b.WriteString(name)
	b.WriteString(ansi.Reset)

	b.WriteString(ansi.Faint)
	b.WriteString(fmt.Sprintf(" [pv=%d clv=%d clc=%d]", n.PayloadVersion(), n.ChildListVersion(), n.ChildListCount()))
	b.WriteString(ansi.Reset)

	if n.HasPayload() {
		b.WriteString(" " + ansi.FgGreen + "data=" + formatPayload(n.Payload()) + ansi.Reset)
	}
	b.WriteByte('\n')

	for _, id := range n.ChildNames() {
		child := n.GetChild(id)
		dumpNode(b, child, path.Append(id), depth+1)
	}
}

func formatPayload(p []byte) string {
	s := string(p)
	if idtext.IsPrintableASCII(s) {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("0x%x", p)
}

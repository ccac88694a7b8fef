// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package treedebug

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvtree/khepri"
)

func TestDumpIncludesChildNamesAndCounters(t *testing.T) {
	root := khepri.NewNode()
	root = root.SetChild(khepri.Atom("foo"), khepri.NewNode().SetPayload([]byte("bar")))

	out := Dump(root)
	assert.Contains(t, out, "khepri tree dump")
	assert.Contains(t, out, "foo")
	assert.Contains(t, out, `data="bar"`)
	assert.Contains(t, out, "clc=1")
}

func TestDumpRendersBinaryPayloadAsHex(t *testing.T) {
	root := khepri.NewNode().SetPayload([]byte{0x00, 0xff})
	out := Dump(root)
	assert.Contains(t, out, "0x00ff")
}

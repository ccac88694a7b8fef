// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepWhileTableSetGetRemove(t *testing.T) {
	t0 := NewKeepWhileTable()
	assert.Equal(t, 0, t0.Len())

	watcher := Path{Atom("stock"), Atom("wood")}
	conds := []KeepWhileCond{{Watched: Path{Atom("stock"), Atom("wood"), Atom("oak")}, Pred: IfChildListCount{Op: OpGt, N: 0}}}

	t1 := t0.withSet(watcher, conds, 5)
	assert.Equal(t, 0, t0.Len(), "withSet must not mutate the receiver")
	require.Equal(t, 1, t1.Len())

	rec, ok := t1.Get(watcher)
	require.True(t, ok)
	assert.Equal(t, uint64(5), rec.installedBySeq)
	assert.Equal(t, conds, rec.conds)

	t2 := t1.withRemoved(watcher)
	assert.Equal(t, 1, t1.Len(), "withRemoved must not mutate the receiver")
	assert.Equal(t, 0, t2.Len())
	_, ok = t2.Get(watcher)
	assert.False(t, ok)
}

func TestKeepWhileTableWithRemovedAbsentIsNoop(t *testing.T) {
	t0 := NewKeepWhileTable()
	t1 := t0.withRemoved(Path{Atom("missing")})
	assert.Same(t, t0, t1)
}

func TestKeepWhileTableWithSetReplacesPriorEntry(t *testing.T) {
	watcher := Path{Atom("a")}
	t0 := NewKeepWhileTable()
	t1 := t0.withSet(watcher, []KeepWhileCond{{Watched: Path{Atom("x")}, Pred: IfNodeExists{Exists: true}}}, 1)
	t2 := t1.withSet(watcher, []KeepWhileCond{{Watched: Path{Atom("y")}, Pred: IfNodeExists{Exists: true}}}, 2)

	require.Equal(t, 1, t2.Len())
	rec, ok := t2.Get(watcher)
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.installedBySeq)
	assert.Equal(t, Path{Atom("y")}, rec.conds[0].Watched)
}

func TestWatchersAffectedByOrdersLexicographically(t *testing.T) {
	tbl := NewKeepWhileTable()
	tbl = tbl.withSet(Path{Atom("z")}, []KeepWhileCond{{Watched: Path{Atom("shared")}, Pred: IfNodeExists{Exists: true}}}, 0)
	tbl = tbl.withSet(Path{Atom("a")}, []KeepWhileCond{{Watched: Path{Atom("shared")}, Pred: IfNodeExists{Exists: true}}}, 0)
	tbl = tbl.withSet(Path{Atom("m")}, []KeepWhileCond{{Watched: Path{Atom("unrelated")}, Pred: IfNodeExists{Exists: true}}}, 0)

	dirty := map[string]Path{pathKey(Path{Atom("shared")}): {Atom("shared")}}
	affected := tbl.watchersAffectedBy(dirty)
	require.Len(t, affected, 2)
	assert.Equal(t, "a", affected[0].String())
	assert.Equal(t, "z", affected[1].String())
}

func TestWatchersAffectedByIgnoresUnrelatedDirty(t *testing.T) {
	tbl := NewKeepWhileTable()
	tbl = tbl.withSet(Path{Atom("a")}, []KeepWhileCond{{Watched: Path{Atom("x")}, Pred: IfNodeExists{Exists: true}}}, 0)

	dirty := map[string]Path{pathKey(Path{Atom("y")}): {Atom("y")}}
	assert.Empty(t, tbl.watchersAffectedBy(dirty))
}

func TestEvaluateKeepWhileHoldsWhenConditionSatisfied(t *testing.T) {
	root := NewNode()
	root = root.SetChild(Atom("oak"), NewNode())

	rec := &keepWhileRecord{
		watcher: Path{Atom("wood")},
		conds:   []KeepWhileCond{{Watched: Path{}, Pred: IfChildListCount{Op: OpGt, N: 0}}},
	}
	assert.True(t, evaluateKeepWhile(root, rec))
}

func TestEvaluateKeepWhileFailsWhenConditionUnsatisfied(t *testing.T) {
	root := NewNode()
	rec := &keepWhileRecord{
		watcher: Path{Atom("wood")},
		conds:   []KeepWhileCond{{Watched: Path{}, Pred: IfChildListCount{Op: OpGt, N: 0}}},
	}
	assert.False(t, evaluateKeepWhile(root, rec))
}

// TestEvaluateKeepWhileMissingWatchedFailsVacuously covers the usual case: a
// watched path that no longer exists fails any condition other than an
// explicit if_node_exists{exists:false}.
func TestEvaluateKeepWhileMissingWatchedFailsVacuously(t *testing.T) {
	root := NewNode()
	rec := &keepWhileRecord{
		watcher: Path{Atom("wood")},
		conds:   []KeepWhileCond{{Watched: Path{Atom("gone")}, Pred: IfChildListCount{Op: OpGt, N: 0}}},
	}
	assert.False(t, evaluateKeepWhile(root, rec))
}

func TestEvaluateKeepWhileMissingWatchedSatisfiesExistsFalse(t *testing.T) {
	root := NewNode()
	rec := &keepWhileRecord{
		watcher: Path{Atom("wood")},
		conds:   []KeepWhileCond{{Watched: Path{Atom("gone")}, Pred: IfNodeExists{Exists: false}}},
	}
	assert.True(t, evaluateKeepWhile(root, rec))
}

func TestEvaluateKeepWhileAllConditionsMustHold(t *testing.T) {
	root := NewNode()
	root = root.SetChild(Atom("oak"), NewNode())

	rec := &keepWhileRecord{
		watcher: Path{Atom("wood")},
		conds: []KeepWhileCond{
			{Watched: Path{}, Pred: IfChildListCount{Op: OpGt, N: 0}},
			{Watched: Path{}, Pred: IfChildListCount{Op: OpGt, N: 5}},
		},
	}
	assert.False(t, evaluateKeepWhile(root, rec))
}

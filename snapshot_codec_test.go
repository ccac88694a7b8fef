// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"regexp"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleMachine(t *testing.T) *Machine {
	t.Helper()
	m := New()
	_, err := m.Apply(PutCommand{Pattern: Pattern{Lit(Atom("stock")), Lit(Atom("wood")), Lit(Atom("oak"))}, Payload: []byte("1")})
	require.NoError(t, err)
	_, err = m.Apply(PutCommand{
		Pattern: Pattern{Lit(Atom("stock")), Lit(Atom("wood"))},
		KeepWhile: []KeepWhileCond{{
			Watched: Path{Atom("stock"), Atom("wood")},
			Pred:    IfChildListCount{Op: OpGt, N: 0},
		}},
	})
	require.NoError(t, err)
	return m
}

func TestSnapshotRestoreRoundTripsTree(t *testing.T) {
	m := buildSampleMachine(t)
	data, err := m.Snapshot()
	require.NoError(t, err)

	m2 := New()
	require.NoError(t, m2.Restore(data))

	view := m2.View()
	proj, ok := view.Get(Path{Atom("stock"), Atom("wood"), Atom("oak")})
	require.True(t, ok)
	assert.Equal(t, []byte("1"), proj.Data)
}

// TestSnapshotEncodingIsDeterministic covers invariant I3/I4: two
// independently built instances fed the same commands must produce
// bit-for-bit identical snapshots.
func TestSnapshotEncodingIsDeterministic(t *testing.T) {
	m1 := buildSampleMachine(t)
	m2 := buildSampleMachine(t)

	data1, err := m1.Snapshot()
	require.NoError(t, err)
	data2, err := m2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, data1, data2)
}

func TestEncodeDecodeNodeRoundTrip(t *testing.T) {
	root := NewNode().SetPayload([]byte("root-data"))
	root = root.SetChild(Atom("a"), NewNode().SetPayload([]byte("a-data")))
	root = root.SetChild(Atom("b"), NewNode())

	data, err := EncodeSnapshot(root, NewKeepWhileTable())
	require.NoError(t, err)

	decodedRoot, _, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, root.Payload(), decodedRoot.Payload())
	assert.Equal(t, root.PayloadVersion(), decodedRoot.PayloadVersion())
	assert.Equal(t, root.ChildListVersion(), decodedRoot.ChildListVersion())
	assert.Equal(t, root.ChildListCount(), decodedRoot.ChildListCount())

	childA := decodedRoot.GetChild(Atom("a"))
	require.NotNil(t, childA)
	assert.Equal(t, []byte("a-data"), childA.Payload())
}

func TestEncodeDecodeEveryPredicateTag(t *testing.T) {
	preds := []Predicate{
		IdEquals{Id: Atom("x")},
		IfNameMatches{Regex: regexp.MustCompile("^a")},
		IfNameMatches{Regex: nil},
		IfDataMatches{Pattern: AnyData{}},
		IfDataMatches{Pattern: ExactData{Want: []byte("v")}},
		IfChildListCount{Op: OpGt, N: 3},
		IfChildListVersion{Op: OpEq, N: 7},
		IfPayloadVersion{Op: OpLt, N: 2},
		IfNodeExists{Exists: true},
		IfNodeExists{Exists: false},
		IfAll{Conditions: []Predicate{IfNodeExists{Exists: true}, IfChildListCount{Op: OpGt, N: 0}}},
		IfAny{Conditions: []Predicate{IfNodeExists{Exists: false}}},
		IfPathMatches{Regex: regexp.MustCompile("foo")},
		IfPathMatches{Regex: nil},
	}

	for _, p := range preds {
		table := NewKeepWhileTable().withSet(Path{Atom("w")}, []KeepWhileCond{{Watched: Path{Atom("x")}, Pred: p}}, 0)
		data, err := EncodeSnapshot(NewNode(), table)
		require.NoError(t, err)
		_, decodedTable, err := DecodeSnapshot(data)
		require.NoError(t, err)
		rec, ok := decodedTable.Get(Path{Atom("w")})
		require.True(t, ok)
		require.Len(t, rec.conds, 1)
		assert.IsType(t, p, rec.conds[0].Pred)
	}
}

func TestDecodeSnapshotRejectsBadMagic(t *testing.T) {
	_, _, err := DecodeSnapshot([]byte("not-a-khepri-snapshot!!"))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestDecodeSnapshotRejectsUnsupportedVersion(t *testing.T) {
	data, err := EncodeSnapshot(NewNode(), NewKeepWhileTable())
	require.NoError(t, err)
	bad := append([]byte(nil), data...)
	bad[7] = 0xFF // bump the version field past what's supported
	_, _, err = DecodeSnapshot(bad)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeSnapshotRejectsTruncatedData(t *testing.T) {
	data, err := EncodeSnapshot(NewNode().SetPayload([]byte("x")), NewKeepWhileTable())
	require.NoError(t, err)
	_, _, err = DecodeSnapshot(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestDecodeSnapshotRejectsTrailingBytes(t *testing.T) {
	data, err := EncodeSnapshot(NewNode(), NewKeepWhileTable())
	require.NoError(t, err)
	data = append(data, 0xAB)
	_, _, err = DecodeSnapshot(data)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestMachineRestoreIsFatalOnErrorLeavesCleanError(t *testing.T) {
	m := New()
	err := m.Restore([]byte("garbage"))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

// TestEncodeDecodeNodeFuzzRoundTrip seeds random payload bytes through
// Node encode/decode, the property-based counterpart to
// TestEncodeDecodeNodeRoundTrip's fixed example (spec.md §8 invariant I3:
// a snapshot must round-trip bit-for-bit), grounded in the teacher's
// fox_test.go use of gofuzz to generate random route trees.
func TestEncodeDecodeNodeFuzzRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 12)

	for round := 0; round < 100; round++ {
		var payload []byte
		f.Fuzz(&payload)

		root := NewNode().SetPayload(payload)
		data, err := EncodeSnapshot(root, NewKeepWhileTable())
		require.NoError(t, err)

		decoded, _, err := DecodeSnapshot(data)
		require.NoError(t, err)
		assert.Equal(t, root.Payload(), decoded.Payload())
		assert.Equal(t, root.PayloadVersion(), decoded.PayloadVersion())

		reencoded, err := EncodeSnapshot(decoded, NewKeepWhileTable())
		require.NoError(t, err)
		assert.Equal(t, data, reencoded, "re-encoding a decoded snapshot must be bit-for-bit identical")
	}
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import "github.com/kvtree/khepri/internal/slicesutil"

// KeepWhileCond is one entry of a watcher's keep-while map: the watcher
// exists only while the node at Watched satisfies Pred (spec.md §3).
type KeepWhileCond struct {
	Watched Path
	Pred    Predicate
}

// keepWhileRecord is the full condition set installed for one watcher path,
// stamped with the sequence number of the command that (re)installed it so
// the bootstrap exemption (spec.md §3, §4.5, §9 open question (a)) can be
// scoped to exactly that command.
type keepWhileRecord struct {
	watcher        Path
	conds          []KeepWhileCond
	installedBySeq uint64
}

// KeepWhileTable is the bidirectional keep-while relation (spec.md §3),
// implemented copy-on-write like Node so an in-flight command can be
// abandoned (on a resource_limit error) without the committed table ever
// observing the attempt.
type KeepWhileTable struct {
	records map[string]*keepWhileRecord
}

// NewKeepWhileTable returns an empty keep-while table.
func NewKeepWhileTable() *KeepWhileTable {
	return &KeepWhileTable{records: make(map[string]*keepWhileRecord)}
}

// Len reports the number of watchers with an active keep-while record, used
// to size the per-command cascade iteration cap (spec.md §5).
func (t *KeepWhileTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Get returns the record for watcher, if any.
func (t *KeepWhileTable) Get(watcher Path) (*keepWhileRecord, bool) {
	r, ok := t.records[pathKey(watcher)]
	return r, ok
}

func (t *KeepWhileTable) cloneMap() map[string]*keepWhileRecord {
	cp := make(map[string]*keepWhileRecord, len(t.records)+1)
	for k, v := range t.records {
		cp[k] = v
	}
	return cp
}

// withSet returns a table like t but with watcher's keep-while replaced by
// conds, stamped with seq (spec.md §4.4 step 5: "replacing any previous
// entry for that path").
func (t *KeepWhileTable) withSet(watcher Path, conds []KeepWhileCond, seq uint64) *KeepWhileTable {
	cp := t.cloneMap()
	cp[pathKey(watcher)] = &keepWhileRecord{watcher: watcher.Clone(), conds: conds, installedBySeq: seq}
	return &KeepWhileTable{records: cp}
}

// withRemoved returns a table like t but without any record for watcher
// (spec.md §4.4 step 3 / §4.5 step 5: deleting a watcher drops its own
// outgoing keep-while entries).
func (t *KeepWhileTable) withRemoved(watcher Path) *KeepWhileTable {
	key := pathKey(watcher)
	if _, ok := t.records[key]; !ok {
		return t
	}
	cp := t.cloneMap()
	delete(cp, key)
	return &KeepWhileTable{records: cp}
}

// watchersAffectedBy returns, in ascending lexicographic path order (spec.md
// §4.5: "process candidate watchers in ascending lexicographic order of
// their path at each pass"), every watcher with at least one condition
// whose watched path is in dirty.
func (t *KeepWhileTable) watchersAffectedBy(dirty map[string]Path) []Path {
	var out []Path
	for _, rec := range t.records {
		for _, c := range rec.conds {
			if _, ok := dirty[pathKey(c.Watched)]; ok {
				out = append(out, rec.watcher)
				break
			}
		}
	}
	sortPaths(out)
	return out
}

func sortPaths(paths []Path) {
	slicesutil.SortFunc(paths, func(a, b Path) int { return a.Compare(b) })
}

// evaluateKeepWhile reports whether every condition of rec currently holds (spec.md
// §4.5). A watched path that no longer exists fails its condition
// vacuously, unless the condition is IfNodeExists{Exists: false}.
func evaluateKeepWhile(root *Node, rec *keepWhileRecord) bool {
	for _, c := range rec.conds {
		node := Walk(root, c.Watched)
		if node == nil {
			if ne, ok := c.Pred.(IfNodeExists); ok && !ne.Exists {
				continue
			}
			return false
		}
		id := Id{}
		if len(c.Watched) > 0 {
			id = c.Watched[len(c.Watched)-1]
		}
		if !c.Pred.Evaluate(id, node) {
			return false
		}
	}
	return true
}

// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"regexp"

	"github.com/kvtree/khepri/internal/bytesconv"
)

// snapshotMagic and snapshotVersion identify the wire format spec.md §6
// defines. After the header, counters and lengths are varint-encoded via the
// stdlib encoding/binary helpers, tags are single bytes, and the keep-while
// entry count is a big-endian u32; no third-party serialization library in the
// reference corpus offers this exact pre-order, self-describing tree
// layout, and the format must round-trip bit-for-bit (invariant I3), so
// this is one of the few places the module reaches for the standard
// library by design rather than by omission (see DESIGN.md).
var snapshotMagic = [4]byte{'K', 'P', 'H', '1'}

const snapshotVersion uint32 = 1

const (
	payloadTagNone byte = 0
	payloadTagData byte = 1
)

const (
	idTagAtom   byte = 0
	idTagBinary byte = 1
)

// Predicate tags, fixed per the predicate list in spec.md §4.1.
const (
	tagIdEquals byte = iota + 1
	tagIfNameMatches
	tagIfDataMatches
	tagIfChildListCount
	tagIfChildListVersion
	tagIfPayloadVersion
	tagIfNodeExists
	tagIfAll
	tagIfAny
	tagIfPathMatches
)

const (
	dataTagAny   byte = 0
	dataTagExact byte = 1
)

// Snapshot serializes m's entire tree and keep-while table (spec.md §6,
// §4.6). The result round-trips bit-for-bit through Restore (invariant I3).
func (m *Machine) Snapshot() ([]byte, error) {
	root := m.tree.Root()
	table := m.keepWhile.Load()
	return EncodeSnapshot(root, table)
}

// Restore replaces m's entire state with the tree and keep-while table
// decoded from data. A decode error is fatal to the instance (spec.md §7:
// "Snapshot restore errors ... are fatal to the instance").
func (m *Machine) Restore(data []byte) error {
	root, table, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	m.tree.replaceRoot(root)
	m.keepWhile.Store(table)
	return nil
}

// EncodeSnapshot builds the wire form of root and table.
func EncodeSnapshot(root *Node, table *KeepWhileTable) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], snapshotVersion)
	buf.Write(u32[:])

	encodeNode(&buf, root)
	encodeKeepWhileTable(&buf, table)
	return buf.Bytes(), nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Node, *KeepWhileTable, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, nil, kindErrorWrap(ErrCorruptSnapshot, "missing or invalid snapshot magic")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != snapshotVersion {
		return nil, nil, kindErrorWrap(ErrUnsupportedVersion, "snapshot version %d unsupported", version)
	}

	r := &byteReader{b: data[8:]}
	root, err := decodeNode(r)
	if err != nil {
		return nil, nil, err
	}
	table, err := decodeKeepWhileTable(r)
	if err != nil {
		return nil, nil, err
	}
	if r.pos != len(r.b) {
		return nil, nil, kindErrorWrap(ErrCorruptSnapshot, "trailing bytes after keep-while table")
	}
	return root, table, nil
}

// byteReader is a minimal cursor over a decode buffer, avoiding an
// io.Reader's allocation and interface-dispatch overhead for what is
// otherwise a tight, single-pass varint/byte-slice parse.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, kindErrorWrap(ErrCorruptSnapshot, "truncated varint")
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) byteTag() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, kindErrorWrap(ErrCorruptSnapshot, "truncated tag byte")
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) bytesN(n uint64) ([]byte, error) {
	end := r.pos + int(n)
	if n > uint64(len(r.b)) || end < r.pos || end > len(r.b) {
		return nil, kindErrorWrap(ErrCorruptSnapshot, "truncated byte blob")
	}
	out := r.b[r.pos:end]
	r.pos = end
	return out, nil
}

func (r *byteReader) lenPrefixedBytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	return r.bytesN(n)
}

func kindErrorWrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putLenPrefixed(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func encodeId(buf *bytes.Buffer, id Id) {
	if id.Kind() == AtomId {
		buf.WriteByte(idTagAtom)
	} else {
		buf.WriteByte(idTagBinary)
	}
	putLenPrefixed(buf, id.Raw())
}

func decodeId(r *byteReader) (Id, error) {
	tag, err := r.byteTag()
	if err != nil {
		return Id{}, err
	}
	raw, err := r.lenPrefixedBytes()
	if err != nil {
		return Id{}, err
	}
	switch tag {
	case idTagAtom:
		return Atom(bytesconv.String(raw)), nil
	case idTagBinary:
		return Binary(raw), nil
	default:
		return Id{}, kindErrorWrap(ErrCorruptSnapshot, "unknown id tag %d", tag)
	}
}

// encodeNode writes n in the pre-order layout spec.md §6 specifies: payload
// tag and blob, then the three counters as varints, then each child's
// (id, subtree) pair in insertion order.
func encodeNode(buf *bytes.Buffer, n *Node) {
	if n.HasPayload() {
		buf.WriteByte(payloadTagData)
		putLenPrefixed(buf, n.Payload())
	} else {
		buf.WriteByte(payloadTagNone)
	}
	putUvarint(buf, n.PayloadVersion())
	putUvarint(buf, n.ChildListVersion())
	putUvarint(buf, n.ChildListCount())
	for _, e := range n.children {
		encodeId(buf, e.id)
		encodeNode(buf, e.child)
	}
}

func decodeNode(r *byteReader) (*Node, error) {
	tag, err := r.byteTag()
	if err != nil {
		return nil, err
	}
	n := &Node{}
	switch tag {
	case payloadTagNone:
	case payloadTagData:
		data, err := r.lenPrefixedBytes()
		if err != nil {
			return nil, err
		}
		n.hasPayload = true
		n.payload = append([]byte{}, data...)
	default:
		return nil, kindErrorWrap(ErrCorruptSnapshot, "unknown payload tag %d", tag)
	}

	if n.payloadVersion, err = r.uvarint(); err != nil {
		return nil, err
	}
	if n.childListVersion, err = r.uvarint(); err != nil {
		return nil, err
	}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}

	if count > 0 {
		n.children = make(childList, 0, count)
		for i := uint64(0); i < count; i++ {
			id, err := decodeId(r)
			if err != nil {
				return nil, err
			}
			child, err := decodeNode(r)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, childEntry{id: id, child: child})
		}
	}
	return n, nil
}

func encodePath(buf *bytes.Buffer, p Path) {
	putUvarint(buf, uint64(len(p)))
	for _, id := range p {
		encodeId(buf, id)
	}
}

func decodePath(r *byteReader) (Path, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	path := make(Path, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := decodeId(r)
		if err != nil {
			return nil, err
		}
		path = append(path, id)
	}
	return path, nil
}

func encodeOp(buf *bytes.Buffer, op Op) { buf.WriteByte(byte(op)) }

func decodeOp(r *byteReader) (Op, error) {
	b, err := r.byteTag()
	return Op(b), err
}

func encodeRegex(buf *bytes.Buffer, re *regexp.Regexp) {
	if re == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	putLenPrefixed(buf, []byte(re.String()))
}

func decodeRegex(r *byteReader) (*regexp.Regexp, error) {
	tag, err := r.byteTag()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	pat, err := r.lenPrefixedBytes()
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(bytesconv.String(pat))
	if err != nil {
		return nil, kindErrorWrap(ErrCorruptSnapshot, "invalid regex in snapshot: %v", err)
	}
	return re, nil
}

// encodePredicate writes p using the tagged encoding spec.md §6 calls for
// ("a stable tagged encoding whose tags are fixed per the predicate list in
// §4.1"). It panics on an unknown Predicate implementation: every concrete
// type the package exports is handled here, so reaching default means a new
// predicate type was added to predicate.go without a matching codec case.
func encodePredicate(buf *bytes.Buffer, p Predicate) {
	switch v := p.(type) {
	case IdEquals:
		buf.WriteByte(tagIdEquals)
		encodeId(buf, v.Id)
	case IfNameMatches:
		buf.WriteByte(tagIfNameMatches)
		encodeRegex(buf, v.Regex)
	case IfDataMatches:
		buf.WriteByte(tagIfDataMatches)
		switch dp := v.Pattern.(type) {
		case AnyData, nil:
			buf.WriteByte(dataTagAny)
		case ExactData:
			buf.WriteByte(dataTagExact)
			putLenPrefixed(buf, dp.Want)
		default:
			panic(fmt.Sprintf("khepri: unknown DataPattern type %T", v.Pattern))
		}
	case IfChildListCount:
		buf.WriteByte(tagIfChildListCount)
		encodeOp(buf, v.Op)
		putUvarint(buf, v.N)
	case IfChildListVersion:
		buf.WriteByte(tagIfChildListVersion)
		encodeOp(buf, v.Op)
		putUvarint(buf, v.N)
	case IfPayloadVersion:
		buf.WriteByte(tagIfPayloadVersion)
		encodeOp(buf, v.Op)
		putUvarint(buf, v.N)
	case IfNodeExists:
		buf.WriteByte(tagIfNodeExists)
		if v.Exists {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case IfAll:
		buf.WriteByte(tagIfAll)
		putUvarint(buf, uint64(len(v.Conditions)))
		for _, c := range v.Conditions {
			encodePredicate(buf, c)
		}
	case IfAny:
		buf.WriteByte(tagIfAny)
		putUvarint(buf, uint64(len(v.Conditions)))
		for _, c := range v.Conditions {
			encodePredicate(buf, c)
		}
	case IfPathMatches:
		buf.WriteByte(tagIfPathMatches)
		encodeRegex(buf, v.Regex)
	default:
		panic(fmt.Sprintf("khepri: unknown Predicate type %T", p))
	}
}

func decodePredicate(r *byteReader) (Predicate, error) {
	tag, err := r.byteTag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagIdEquals:
		id, err := decodeId(r)
		if err != nil {
			return nil, err
		}
		return IdEquals{Id: id}, nil
	case tagIfNameMatches:
		re, err := decodeRegex(r)
		if err != nil {
			return nil, err
		}
		return IfNameMatches{Regex: re}, nil
	case tagIfDataMatches:
		dtag, err := r.byteTag()
		if err != nil {
			return nil, err
		}
		switch dtag {
		case dataTagAny:
			return IfDataMatches{Pattern: AnyData{}}, nil
		case dataTagExact:
			want, err := r.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			return IfDataMatches{Pattern: ExactData{Want: append([]byte(nil), want...)}}, nil
		default:
			return nil, kindErrorWrap(ErrCorruptSnapshot, "unknown data pattern tag %d", dtag)
		}
	case tagIfChildListCount:
		op, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		return IfChildListCount{Op: op, N: n}, nil
	case tagIfChildListVersion:
		op, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		return IfChildListVersion{Op: op, N: n}, nil
	case tagIfPayloadVersion:
		op, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		return IfPayloadVersion{Op: op, N: n}, nil
	case tagIfNodeExists:
		b, err := r.byteTag()
		if err != nil {
			return nil, err
		}
		return IfNodeExists{Exists: b != 0}, nil
	case tagIfAll:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		conds := make([]Predicate, 0, n)
		for i := uint64(0); i < n; i++ {
			c, err := decodePredicate(r)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return IfAll{Conditions: conds}, nil
	case tagIfAny:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		conds := make([]Predicate, 0, n)
		for i := uint64(0); i < n; i++ {
			c, err := decodePredicate(r)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return IfAny{Conditions: conds}, nil
	case tagIfPathMatches:
		re, err := decodeRegex(r)
		if err != nil {
			return nil, err
		}
		return IfPathMatches{Regex: re}, nil
	default:
		return nil, kindErrorWrap(ErrCorruptSnapshot, "unknown predicate tag %d", tag)
	}
}

// encodeKeepWhileTable writes table as a u32 count followed by each
// watcher's (path, [(watched_path, predicate)]) record (spec.md §6),
// in ascending lexicographic watcher order so the encoding is
// deterministic across replicas (invariant I4) regardless of map
// iteration order.
func encodeKeepWhileTable(buf *bytes.Buffer, table *KeepWhileTable) {
	watchers := make([]Path, 0, table.Len())
	for _, rec := range table.records {
		watchers = append(watchers, rec.watcher)
	}
	sortPaths(watchers)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(watchers)))
	buf.Write(u32[:])

	for _, w := range watchers {
		rec := table.records[pathKey(w)]
		encodePath(buf, rec.watcher)
		putUvarint(buf, uint64(len(rec.conds)))
		for _, c := range rec.conds {
			encodePath(buf, c.Watched)
			encodePredicate(buf, c.Pred)
		}
	}
}

func decodeKeepWhileTable(r *byteReader) (*KeepWhileTable, error) {
	if r.pos+4 > len(r.b) {
		return nil, kindErrorWrap(ErrCorruptSnapshot, "truncated keep-while table header")
	}
	count := binary.BigEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4

	table := NewKeepWhileTable()
	for i := uint32(0); i < count; i++ {
		watcher, err := decodePath(r)
		if err != nil {
			return nil, err
		}
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		conds := make([]KeepWhileCond, 0, n)
		for j := uint64(0); j < n; j++ {
			watched, err := decodePath(r)
			if err != nil {
				return nil, err
			}
			pred, err := decodePredicate(r)
			if err != nil {
				return nil, err
			}
			conds = append(conds, KeepWhileCond{Watched: watched, Pred: pred})
		}
		table.records[pathKey(watcher)] = &keepWhileRecord{watcher: watcher, conds: conds}
	}
	return table, nil
}

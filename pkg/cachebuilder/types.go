package cachebuilder

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"debug/dwarf"
	"fmt"
	"hash"
	"math"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/leb128"
	"github.com/adbi/idk/pkg/dwarf/op"
	"github.com/adbi/idk/pkg/dwarf/reader"
)

// Values of DW_AT_encoding.
const (
	encBoolean      = 0x02
	encFloat        = 0x04
	encSigned       = 0x05
	encSignedChar   = 0x06
	encUnsigned     = 0x07
	encUnsignedChar = 0x08
)

var baseKinds = map[int64]cachestore.Kind{
	encSigned:       cachestore.KindInt,
	encUnsigned:     cachestore.KindUint,
	encSignedChar:   cachestore.KindChar,
	encUnsignedChar: cachestore.KindUchar,
	encFloat:        cachestore.KindFloat,
	encBoolean:      cachestore.KindBool,
}

// typeTags are the tags of entries that become type nodes. Base types are
// handled separately.
var typeTags = map[dwarf.Tag]cachestore.Kind{
	dwarf.TagConstType:           cachestore.KindConst,
	dwarf.TagPackedType:          cachestore.KindPacked,
	dwarf.TagPointerType:         cachestore.KindPtr,
	dwarf.TagReferenceType:       cachestore.KindRef,
	dwarf.TagRestrictType:        cachestore.KindRestrict,
	dwarf.TagRvalueReferenceType: cachestore.KindRRef,
	dwarf.TagSharedType:          cachestore.KindShared,
	dwarf.TagVolatileType:        cachestore.KindVolatile,
	dwarf.TagTypedef:             cachestore.KindTypedef,
	dwarf.TagUnionType:           cachestore.KindUnion,
	dwarf.TagStructType:          cachestore.KindStruct,
	dwarf.TagClassType:           cachestore.KindClass,
	dwarf.TagEnumerationType:     cachestore.KindEnum,
	dwarf.TagArrayType:           cachestore.KindArray,
	dwarf.TagSubroutineType:      cachestore.KindUnsupported,
	dwarf.TagInterfaceType:       cachestore.KindUnsupported,
	dwarf.TagStringType:          cachestore.KindUnsupported,
	dwarf.TagPtrToMemberType:     cachestore.KindUnsupported,
	dwarf.TagUnspecifiedType:     cachestore.KindUnsupported,
	dwarf.TagSetType:             cachestore.KindUnsupported,
	dwarf.TagFileType:            cachestore.KindUnsupported,
	dwarf.TagThrownType:          cachestore.KindUnsupported,
}

// typeKind returns the kind of the type described by e, ok is false if e
// is not a type.
func typeKind(e *reader.Entry) (cachestore.Kind, bool) {
	if e.Tag == dwarf.TagBaseType {
		enc, _ := e.Val(dwarf.AttrEncoding).(int64)
		if kind, ok := baseKinds[enc]; ok {
			return kind, true
		}
		return cachestore.KindUnsupported, true
	}
	kind, ok := typeTags[e.Tag]
	return kind, ok
}

type typeNode struct {
	tid   int64
	entry *reader.Entry
	kind  cachestore.Kind
	name  sql.NullString
	bytes sql.NullInt64
	loc   sql.NullInt64
	inner *typeNode

	members     []*memberNode
	enumerators []enumeratorNode
	dims        []sql.NullInt64

	// canon is the representative of the nodes with the same structural
	// hash.
	canon *typeNode
}

type memberNode struct {
	name sql.NullString
	typ  *typeNode
	// offset in bits
	offset int64
	loc    sql.NullInt64
}

type enumeratorNode struct {
	name  string
	value int64
	loc   sql.NullInt64
}

// typeGraph is the set of type nodes of a binary.
type typeGraph struct {
	nodes    []*typeNode
	byOffset map[dwarf.Offset]*typeNode
	// byHash maps a structural hash to the first node with that hash, in
	// .debug_info order.
	byHash *orderedmap.OrderedMap
}

// resolve returns the canonical type referenced by attr of e.
func (g *typeGraph) resolve(e *reader.Entry, attr dwarf.Attr) *typeNode {
	off, ok := e.Val(attr).(dwarf.Offset)
	if !ok {
		return nil
	}
	n := g.byOffset[off]
	if n == nil {
		return nil
	}
	return n.canon
}

func (b *builder) buildTypes() {
	g := &typeGraph{byOffset: make(map[dwarf.Offset]*typeNode), byHash: orderedmap.NewOrderedMap()}
	b.types = g

	for _, e := range b.tree.Entries() {
		kind, ok := typeKind(e)
		if !ok {
			continue
		}
		n := &typeNode{tid: int64(len(g.nodes)), entry: e, kind: kind}
		if name := e.Name(); name != "" {
			n.name = sql.NullString{String: name, Valid: true}
		}
		if sz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
			n.bytes = sql.NullInt64{Int64: sz, Valid: true}
		}
		n.loc = b.locs.InsertEntry(e)
		g.nodes = append(g.nodes, n)
		g.byOffset[e.Offset] = n
	}

	// references are resolved after every node exists, they can point
	// forward and across compilation units
	for _, n := range g.nodes {
		if off, ok := n.entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
			n.inner = g.byOffset[off]
		}
		for _, c := range n.entry.Children {
			switch c.Tag {
			case dwarf.TagMember:
				b.addMember(n, c)
			case dwarf.TagEnumerator:
				n.enumerators = append(n.enumerators, enumeratorNode{
					name:  c.Name(),
					value: constValue(c),
					loc:   b.locs.InsertEntry(c),
				})
			case dwarf.TagSubrangeType:
				if n.kind == cachestore.KindArray {
					n.dims = append(n.dims, arrayExtent(c))
				}
			}
		}
	}

	for _, n := range g.nodes {
		h := n.structuralHash()
		if rep, ok := g.byHash.Get(h); ok {
			n.canon = rep.(*typeNode)
		} else {
			g.byHash.Set(h, n)
			n.canon = n
		}
	}

	if len(g.nodes) > 0 {
		b.log.Debugf("%d types, %d after deduplication (%2.2f%%)", len(g.nodes), g.byHash.Len(), 100*float64(g.byHash.Len())/float64(len(g.nodes)))
	}
}

func (b *builder) addMember(parent *typeNode, e *reader.Entry) {
	log := b.entryLogger(e)
	off, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
	typ := b.types.byOffset[off]
	if !ok || typ == nil {
		log.Warnf("member of %s has no type, skipped", parent.describe())
		return
	}
	bits, err := memberOffset(e)
	if err != nil {
		log.Warnf("member of %s skipped: %v", parent.describe(), err)
		return
	}
	m := &memberNode{typ: typ, offset: bits, loc: b.locs.InsertEntry(e)}
	if name := e.Name(); name != "" {
		m.name = sql.NullString{String: name, Valid: true}
	}
	parent.members = append(parent.members, m)
}

func (n *typeNode) describe() string {
	if n.name.Valid {
		return fmt.Sprintf("%s %s", n.kind, n.name.String)
	}
	return fmt.Sprintf("anonymous %s at %#x", n.kind, n.entry.Offset)
}

// memberOffset returns the offset of a member from the start of its
// parent, in bits.
func memberOffset(e *reader.Entry) (int64, error) {
	if bits, ok := e.Val(dwarf.AttrDataBitOffset).(int64); ok {
		return bits, nil
	}
	switch v := e.Val(dwarf.AttrDataMemberLoc).(type) {
	case nil:
		return 0, nil
	case int64:
		return v * 8, nil
	case []byte:
		if len(v) == 0 {
			return 0, &UnsupportedLocationFormError{Empty: true}
		}
		if op.Opcode(v[0]) != op.DW_OP_plus_uconst {
			return 0, &UnsupportedLocationFormError{Opcode: op.Opcode(v[0])}
		}
		off, _, err := leb128.DecodeUnsigned(bytes.NewReader(v[1:]))
		if err != nil {
			return 0, fmt.Errorf("data member location: %w", err)
		}
		return int64(off) * 8, nil
	default:
		return 0, fmt.Errorf("unexpected data member location %v", v)
	}
}

func constValue(e *reader.Entry) int64 {
	switch v := e.Val(dwarf.AttrConstValue).(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	}
	return 0
}

// arrayExtent returns the number of elements of an array dimension. GCC
// emits an upper bound of -1 (all ones) for some arrays, this is treated
// as an unknown extent like a missing or non-constant bound.
func arrayExtent(e *reader.Entry) sql.NullInt64 {
	if n, ok := e.Val(dwarf.AttrCount).(int64); ok {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	switch v := e.Val(dwarf.AttrUpperBound).(type) {
	case int64:
		if v == -1 {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: v + 1, Valid: true}
	case uint64:
		if v == math.MaxUint64 {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: int64(v) + 1, Valid: true}
	}
	return sql.NullInt64{}
}

type tokenWriter struct {
	h     hash.Hash
	first bool
}

func (w *tokenWriter) token(s string) {
	if !w.first {
		w.h.Write([]byte{':'})
	}
	w.first = false
	w.h.Write([]byte(s))
}

func nullString(s sql.NullString) string {
	if !s.Valid {
		return "None"
	}
	return s.String
}

func nullInt(n sql.NullInt64) string {
	if !n.Valid {
		return "None"
	}
	return strconv.FormatInt(n.Int64, 10)
}

// structuralHash returns the hash of the type graph reachable from n.
// Nodes visited a second time are replaced by a reference to the order of
// their first visit, so cyclic graphs hash in finite time and two graphs
// with the same shape hash to the same value.
func (n *typeNode) structuralHash() string {
	w := &tokenWriter{h: sha256.New(), first: true}
	n.writeTokens(w, make(map[*typeNode]int))
	return string(w.h.Sum(nil))
}

func (n *typeNode) writeTokens(w *tokenWriter, backrefs map[*typeNode]int) {
	if i, ok := backrefs[n]; ok {
		w.token("%%" + strconv.Itoa(i))
		return
	}
	backrefs[n] = len(backrefs)

	w.token(n.kind.String())
	w.token(nullString(n.name))
	w.token(nullInt(n.bytes))
	if n.inner != nil {
		w.token("->")
		n.inner.writeTokens(w, backrefs)
	}
	if len(n.dims) > 0 {
		dims := make([]string, len(n.dims))
		for i, d := range n.dims {
			dims[i] = nullInt(d)
		}
		w.token(strings.Join(dims, "x"))
	}
	if len(n.members) > 0 {
		w.token("{")
		for _, m := range n.members {
			w.token(nullString(m.name))
			w.token("~")
			m.typ.writeTokens(w, backrefs)
		}
		w.token("}")
	}
	if len(n.enumerators) > 0 {
		w.token("{")
		for _, e := range n.enumerators {
			w.token(e.name)
			w.token("~")
			w.token(strconv.FormatInt(e.value, 10))
		}
		w.token("}")
	}
}

// rows returns the rows of the canonical types. A type is always emitted
// after its inner type.
func (g *typeGraph) rows(c *cachestore.Cache) {
	done := make(map[*typeNode]bool)
	var emit func(n *typeNode)
	emit = func(n *typeNode) {
		if done[n] {
			return
		}
		done[n] = true
		row := cachestore.Type{ID: n.tid, Kind: n.kind, Name: n.name, Bytes: n.bytes, Loc: n.loc}
		if n.inner != nil {
			inner := n.inner.canon
			emit(inner)
			row.Inner = sql.NullInt64{Int64: inner.tid, Valid: true}
		}
		c.Types = append(c.Types, row)
	}

	for el := g.byHash.Front(); el != nil; el = el.Next() {
		emit(el.Value.(*typeNode))
	}

	for el := g.byHash.Front(); el != nil; el = el.Next() {
		n := el.Value.(*typeNode)
		for _, m := range n.members {
			c.Members = append(c.Members, cachestore.Member{
				Parent: n.tid,
				Type:   m.typ.canon.tid,
				Offset: m.offset,
				Name:   m.name,
				Loc:    m.loc,
			})
		}
		for _, e := range n.enumerators {
			c.Enumerators = append(c.Enumerators, cachestore.Enumerator{
				Parent: n.tid,
				Name:   e.name,
				Value:  e.value,
				Loc:    e.loc,
			})
		}
		for i, d := range n.dims {
			c.ArrayDims = append(c.ArrayDims, cachestore.ArrayDim{ID: n.tid, Num: int64(i), Size: d})
		}
	}
}

package reader

import (
	"debug/dwarf"
	"fmt"
	"sort"
)

// Values of DW_AT_inline marking abstract instance roots.
const (
	InlInlined         = 1
	InlDeclaredInlined = 3
)

// Entry represents a debug_info entry.
// When calling Val, if the entry does not have the specified attribute, the
// entry specified by DW_AT_abstract_origin will be searched recursively.
type Entry struct {
	*dwarf.Entry
	Parent   *Entry
	Children []*Entry
	Unit     *Unit

	tree *Tree
}

// Origin returns the entry referenced by DW_AT_abstract_origin, or nil.
func (e *Entry) Origin() *Entry {
	off, ok := e.Entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return nil
	}
	return e.tree.Entry(off)
}

// Val returns the value of attr, following abstract origins.
func (e *Entry) Val(attr dwarf.Attr) interface{} {
	seen := 0
	for cur := e; cur != nil && seen < 16; cur = cur.Origin() {
		if v := cur.Entry.Val(attr); v != nil {
			return v
		}
		if attr == dwarf.AttrAbstractOrigin {
			break
		}
		seen++
	}
	return nil
}

// OwnVal returns the value of attr without following abstract origins.
func (e *Entry) OwnVal(attr dwarf.Attr) interface{} {
	return e.Entry.Val(attr)
}

// AttrField returns the field for attr, following abstract origins.
func (e *Entry) AttrField(attr dwarf.Attr) *dwarf.Field {
	seen := 0
	for cur := e; cur != nil && seen < 16; cur = cur.Origin() {
		if f := cur.Entry.AttrField(attr); f != nil {
			return f
		}
		seen++
	}
	return nil
}

// Ref returns the entry referenced by attr.
func (e *Entry) Ref(attr dwarf.Attr) *Entry {
	off, ok := e.Val(attr).(dwarf.Offset)
	if !ok {
		return nil
	}
	return e.tree.Entry(off)
}

// Name returns DW_AT_name, or the empty string.
func (e *Entry) Name() string {
	s, _ := e.Val(dwarf.AttrName).(string)
	return s
}

func (e *Entry) flag(attr dwarf.Attr) bool {
	b, _ := e.Val(attr).(bool)
	return b
}

// Artificial reports whether the entry was synthesized by the compiler.
func (e *Entry) Artificial() bool { return e.flag(dwarf.AttrArtificial) }

// Declaration reports whether the entry is a declaration only.
func (e *Entry) Declaration() bool { return e.flag(dwarf.AttrDeclaration) }

// External reports whether the entry is visible outside its unit.
func (e *Entry) External() bool { return e.flag(dwarf.AttrExternal) }

// IsAbstractInline reports whether e is a subprogram that only serves as
// the template of inlined instances.
func (e *Entry) IsAbstractInline() bool {
	if e.Tag != dwarf.TagSubprogram {
		return false
	}
	inl, ok := e.OwnVal(dwarf.AttrInline).(int64)
	return ok && (inl == InlInlined || inl == InlDeclaredInlined)
}

// InAbstractInline reports whether e is nested in an abstract inline
// subprogram or in an inlined subroutine.
func (e *Entry) InAbstractInline() bool {
	for p := e.Parent; p != nil; p = p.Parent {
		if p.IsAbstractInline() || p.Tag == dwarf.TagInlinedSubroutine {
			return true
		}
	}
	return false
}

// DeclLocation returns the declaration coordinates of e. ok is false if e
// has no DW_AT_decl_file.
func (e *Entry) DeclLocation() (file string, line, col int64, ok bool) {
	idx, hasFile := e.Val(dwarf.AttrDeclFile).(int64)
	if !hasFile {
		return "", 0, 0, false
	}
	unit := e.Unit
	// the attribute may come from an origin in another unit
	if _, own := e.OwnVal(dwarf.AttrDeclFile).(int64); !own {
		for cur := e.Origin(); cur != nil; cur = cur.Origin() {
			if _, own := cur.OwnVal(dwarf.AttrDeclFile).(int64); own {
				unit = cur.Unit
				break
			}
		}
	}
	file, ok = unit.File(idx)
	if !ok {
		return "", 0, 0, false
	}
	line, _ = e.Val(dwarf.AttrDeclLine).(int64)
	col, _ = e.Val(dwarf.AttrDeclColumn).(int64)
	return file, line, col, true
}

// HighPC returns the end of the address range of e, resolving the
// constant class form relative to lowpc.
func (e *Entry) HighPC(lowpc uint64) (uint64, bool) {
	f := e.AttrField(dwarf.AttrHighpc)
	if f == nil {
		return 0, false
	}
	switch v := f.Val.(type) {
	case uint64:
		return v, true
	case int64:
		return lowpc + uint64(v), true
	}
	return 0, false
}

// Ranges returns the address ranges covered by e. Entries without their own
// ranges inherit the ranges of the closest enclosing scope below the
// compilation unit. Abstract inline subprograms and inlined subroutines have
// no ranges.
func (e *Entry) Ranges() ([][2]uint64, error) {
	if e.IsAbstractInline() || e.Tag == dwarf.TagInlinedSubroutine {
		return nil, nil
	}
	if e.OwnVal(dwarf.AttrRanges) != nil {
		rngs, err := e.tree.Data.Ranges(e.Entry)
		if err != nil {
			return nil, fmt.Errorf("ranges of entry %#x: %w", e.Offset, err)
		}
		return normalizeRanges(rngs), nil
	}
	if low, ok := e.OwnVal(dwarf.AttrLowpc).(uint64); ok {
		high, ok := e.HighPC(low)
		if !ok {
			if e.Tag == dwarf.TagCompileUnit {
				return nil, nil
			}
			high = low + 1
		}
		return [][2]uint64{{low, high}}, nil
	}
	// file scope entries are not limited to the ranges of their unit
	if e.Parent != nil && e.Parent.Tag != dwarf.TagCompileUnit {
		return e.Parent.Ranges()
	}
	return nil, nil
}

// normalizeRanges sorts rngs by starting point and fuses overlapping and
// adjacent entries.
func normalizeRanges(rngs [][2]uint64) [][2]uint64 {
	const (
		start = 0
		end   = 1
	)

	if len(rngs) == 0 {
		return rngs
	}

	sort.Slice(rngs, func(i, j int) bool {
		return rngs[i][start] < rngs[j][start]
	})

	// eliminate invalid entries
	out := rngs[:0]
	for i := range rngs {
		if rngs[i][start] < rngs[i][end] {
			out = append(out, rngs[i])
		}
	}
	rngs = out
	if len(rngs) == 0 {
		return rngs
	}

	// fuse overlapping entries
	out = rngs[:1]
	for i := 1; i < len(rngs); i++ {
		cur := rngs[i]
		if cur[start] <= out[len(out)-1][end] {
			if cur[end] > out[len(out)-1][end] {
				out[len(out)-1][end] = cur[end]
			}
		} else {
			out = append(out, cur)
		}
	}
	return out
}

// Subprogram returns the closest enclosing subprogram of e, or nil.
func (e *Entry) Subprogram() *Entry {
	for p := e.Parent; p != nil; p = p.Parent {
		if p.Tag == dwarf.TagSubprogram {
			return p
		}
	}
	return nil
}

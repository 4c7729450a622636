package cachebuilder

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/adbi/idk/pkg/bininfo"
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/dwarfbuilder"
	"github.com/adbi/idk/pkg/dwarf/op"
	"github.com/adbi/idk/pkg/dwarf/reader"
)

// .text is mapped at 0x1000 and stored at file offset 0x200.
func testBinary(t *testing.T, b *dwarfbuilder.Builder) *bininfo.BinaryInfo {
	t.Helper()
	data, loc, err := b.Data()
	if err != nil {
		t.Fatal(err)
	}
	return &bininfo.BinaryInfo{
		Path:      "test",
		Machine:   elf.EM_ARM,
		ByteOrder: binary.LittleEndian,
		PtrSize:   4,
		Sections: []bininfo.Section{
			{Index: 1, Name: ".text", Type: elf.SHT_PROGBITS, Addr: 0x1000, Offset: 0x200, Size: 0x1000, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR},
			{Index: 2, Name: ".comment", Type: elf.SHT_PROGBITS, Offset: 0x1200, Size: 0x20},
		},
		Dwarf:    data,
		DebugLoc: loc,
	}
}

func build(t *testing.T, b *dwarfbuilder.Builder) *cachestore.Cache {
	t.Helper()
	c, err := Build(testBinary(t, b))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func variable(t *testing.T, c *cachestore.Cache, name string) cachestore.Variable {
	t.Helper()
	for _, v := range c.Variables {
		if v.Name.String == name {
			return v
		}
	}
	t.Fatalf("variable %s not found", name)
	return cachestore.Variable{}
}

func typeByID(t *testing.T, c *cachestore.Cache, id int64) (int, cachestore.Type) {
	t.Helper()
	for i, typ := range c.Types {
		if typ.ID == id {
			return i, typ
		}
	}
	t.Fatalf("type %d not found", id)
	return 0, cachestore.Type{}
}

func addPoint(b *dwarfbuilder.Builder, second string) dwarf.Offset {
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	point := b.AddStructType("point", 8)
	b.AddMember("x", intOff, uint8(0))
	b.AddMember(second, intOff, dwarfbuilder.LocationBlock(op.DW_OP_plus_uconst, uint(4)))
	b.TagClose()
	return point
}

func TestTypeDeduplication(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("a.c", "/src", 0x1000, nil)
	b.AddVariable("p1", addPoint(b, "y"), nil)
	b.AddCompileUnit("b.c", "/src", 0x1000, nil)
	b.AddVariable("p2", addPoint(b, "y"), nil)
	b.AddCompileUnit("c.c", "/src", 0x1000, nil)
	b.AddVariable("p3", addPoint(b, "z"), nil)
	c := build(t, b)

	p1, p2, p3 := variable(t, c, "p1"), variable(t, c, "p2"), variable(t, c, "p3")
	if p1.Type != p2.Type {
		t.Errorf("identical types not merged: %d %d", p1.Type, p2.Type)
	}
	if p1.Type == p3.Type {
		t.Errorf("types with different member names merged")
	}
	if len(c.Types) != 3 {
		t.Errorf("expected 3 canonical types (int and two structs), got %d", len(c.Types))
	}

	var offsets []int64
	for _, m := range c.Members {
		if m.Parent == p1.Type {
			offsets = append(offsets, m.Offset)
		}
	}
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 32 {
		t.Errorf("wrong member offsets in bits: %v", offsets)
	}
}

func TestSelfReferentialType(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("list.c", "/src", 0x1000, nil)
	node := b.AddStructType("node", 4)
	next := b.AddPointerType(&node)
	b.AddMember("next", next, uint8(0))
	b.TagClose()
	b.AddVariable("head", node, nil)
	b.AddCompileUnit("other.c", "/src", 0x1000, nil)
	node2 := b.AddStructType("node", 4)
	next2 := b.AddPointerType(&node2)
	b.AddMember("next", next2, uint8(0))
	b.TagClose()
	b.AddVariable("tail", next2, nil)
	c := build(t, b)

	if len(c.Types) != 2 {
		t.Fatalf("expected struct and pointer, got %d types", len(c.Types))
	}
	head, tail := variable(t, c, "head"), variable(t, c, "tail")
	si, st := typeByID(t, c, head.Type)
	pi, pt := typeByID(t, c, tail.Type)
	if st.Kind != cachestore.KindStruct || pt.Kind != cachestore.KindPtr {
		t.Fatalf("wrong kinds %v %v", st.Kind, pt.Kind)
	}
	if !pt.Inner.Valid || pt.Inner.Int64 != st.ID {
		t.Errorf("pointer does not point to the canonical struct")
	}
	if pi < si {
		t.Errorf("pointer emitted before its inner type")
	}
	if len(c.Members) != 1 || c.Members[0].Type != pt.ID {
		t.Errorf("member does not reference the canonical pointer: %+v", c.Members)
	}
}

func TestArrayExtents(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("a.c", "/src", 0x1000, nil)
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	// an all ones upper bound is emitted by some compilers for arrays of
	// unknown size; it is read as no bound at all
	arr := b.AddArrayType(intOff, uint8(9), int64(-1), nil)
	b.AddVariable("a", arr, nil)
	c := build(t, b)

	v := variable(t, c, "a")
	if len(c.ArrayDims) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(c.ArrayDims))
	}
	for i, d := range c.ArrayDims {
		if d.ID != v.Type || d.Num != int64(i) {
			t.Errorf("wrong dimension row %+v", d)
		}
	}
	if !c.ArrayDims[0].Size.Valid || c.ArrayDims[0].Size.Int64 != 10 {
		t.Errorf("wrong extent %+v", c.ArrayDims[0].Size)
	}
	if c.ArrayDims[1].Size.Valid || c.ArrayDims[2].Size.Valid {
		t.Errorf("all ones and missing upper bounds should be unknown")
	}
}

func TestUnsupportedMemberLocation(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("a.c", "/src", 0x1000, nil)
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	s := b.AddStructType("s", 8)
	b.AddMember("good", intOff, uint8(4))
	bad := b.AddMember("bad", intOff, dwarfbuilder.LocationBlock(op.DW_OP_lit4))
	b.TagClose()
	b.AddVariable("v", s, nil)

	data, _, err := b.Data()
	if err != nil {
		t.Fatal(err)
	}
	tree, err := reader.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	_, err = memberOffset(tree.Entry(bad))
	var uerr *UnsupportedLocationFormError
	if !errors.As(err, &uerr) || uerr.Opcode != op.DW_OP_lit4 {
		t.Fatalf("expected UnsupportedLocationFormError, got %v", err)
	}

	c := build(t, b)
	if len(c.Members) != 1 || c.Members[0].Name.String != "good" || c.Members[0].Offset != 32 {
		t.Errorf("only the good member should be kept: %+v", c.Members)
	}
}

func TestFunctionsAndVariables(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src", 0x1000, &dwarfbuilder.LineProgram{
		Files: []string{"main.c"},
		Rows: []dwarfbuilder.LineRow{
			{Addr: 0x1010, File: 1, Line: 3, Col: 1},
			{Addr: 0x1014, File: 1, Line: 4, Col: 5},
			{Addr: 0x1016, File: 1, Line: 4, Col: 9, NotStmt: true},
			{Addr: 0x1020, File: 1, Line: 5, Col: 1},
		},
		End: 0x1040,
	})
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)

	b.AddVariable("counter", intOff, append(dwarfbuilder.LocationBlock(op.DW_OP_addr), 0x00, 0x11, 0x00, 0x00))

	b.AddSubprogram("f", 0x1010, 0x1040)
	b.DeclLocation(1, 2, 0)
	b.Attr(dwarf.AttrFrameBase, dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa))
	b.AddFormalParameter("a", intOff, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -8))
	b.AddFormalParameter("", intOff, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -12))
	b.AddVariable("partial", intOff, dwarfbuilder.LocList{Entries: []dwarfbuilder.LocEntry{
		{Lowpc: 0x10, Highpc: 0x20, Loc: dwarfbuilder.LocationBlock(op.DW_OP_reg0)},
		{Lowpc: 0x5000, Highpc: 0x5010, Loc: dwarfbuilder.LocationBlock(op.DW_OP_reg1)},
	}})
	b.AddVariable("gone", intOff, nil)
	b.TagClose()

	b.TagOpen(dwarf.TagSubprogram, "g")
	b.Attr(dwarf.AttrInline, uint8(reader.InlInlined))
	b.AddFormalParameter("x", intOff, nil)
	b.TagClose()

	b.AddSubprogram("unused", 0, 0)
	b.TagClose()

	b.AddSubprogram("", 0x1040, 0x1050)
	b.TagClose()

	c := build(t, b)

	if len(c.Functions) != 2 {
		t.Fatalf("expected 2 functions, got %+v", c.Functions)
	}
	f := c.Functions[0]
	if f.Name != "f" || f.Lo != 0x210 || f.Hi != 0x240 || !f.Loc.Valid {
		t.Errorf("wrong function %+v", f)
	}
	if c.Functions[1].Name != UnnamedFunction {
		t.Errorf("unnamed function has name %q", c.Functions[1].Name)
	}

	if len(c.FramePointers) != 1 || c.FramePointers[0].Lo.Valid || c.FramePointers[0].Func != f.ID {
		t.Errorf("wrong frame pointers %+v", c.FramePointers)
	}

	var params []cachestore.Param
	for _, p := range c.Params {
		if p.Func == f.ID {
			params = append(params, p)
		}
	}
	if len(params) != 2 || params[0].Idx != 0 || params[1].Idx != 1 {
		t.Fatalf("wrong params %+v", params)
	}
	if c.Variables[params[0].Var].Name.String != "a" || c.Variables[params[1].Var].Name.Valid {
		t.Errorf("wrong parameter variables")
	}

	for _, v := range c.Variables {
		if v.Name.String == "x" {
			t.Errorf("parameter of an abstract inline function extracted")
		}
	}

	counter := variable(t, c, "counter")
	for _, r := range c.VarRanges {
		if r.Var == counter.ID {
			t.Errorf("file scope variable has ranges")
		}
	}

	partial := variable(t, c, "partial")
	var exprs []cachestore.VarExpr
	for _, e := range c.VarExprs {
		if e.Var == partial.ID {
			exprs = append(exprs, e)
		}
	}
	if len(exprs) != 1 || exprs[0].Lo.Int64 != 0x210 || exprs[0].Hi.Int64 != 0x220 {
		t.Errorf("wrong expressions for partially optimized variable %+v", exprs)
	}

	gone := variable(t, c, "gone")
	for _, r := range c.VarRanges {
		if r.Var == gone.ID {
			t.Errorf("optimized out variable has ranges")
		}
	}

	if len(c.Lines) != 3 {
		t.Fatalf("expected 3 statement rows, got %+v", c.Lines)
	}
	if !c.Lines[0].Addr.Valid || c.Lines[0].Addr.Int64 != 0x210 {
		t.Errorf("wrong line address %+v", c.Lines[0])
	}
	loc := c.Locations[c.Lines[1].Loc]
	if c.Files[loc.File].Path != "/src/main.c" || loc.Line != 4 || loc.Col != 5 {
		t.Errorf("wrong line location %+v", loc)
	}
}

func TestVariableExclusions(t *testing.T) {
	loc := dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -8)
	tests := []struct {
		name string
		add  func(b *dwarfbuilder.Builder, intOff dwarf.Offset)
	}{
		{"artificial", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.AddSubprogram("f", 0x1010, 0x1040)
			b.TagOpen(dwarf.TagVariable, "this")
			b.Attr(dwarf.AttrType, intOff)
			b.Attr(dwarf.AttrArtificial, true)
			b.Attr(dwarf.AttrLocation, loc)
			b.TagClose()
			b.TagClose()
		}},
		{"parameter of a function type", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.TagOpen(dwarf.TagSubroutineType, "")
			b.AddFormalParameter("arg", intOff, nil)
			b.TagClose()
		}},
		{"parameter of a declaration", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.TagOpen(dwarf.TagSubprogram, "extern_fn")
			b.Attr(dwarf.AttrDeclaration, true)
			b.AddFormalParameter("arg", intOff, nil)
			b.TagClose()
		}},
		{"inlined subroutine", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.AddSubprogram("f", 0x1010, 0x1040)
			b.TagOpen(dwarf.TagInlinedSubroutine, "")
			b.Attr(dwarf.AttrLowpc, dwarfbuilder.Address(0x1018))
			b.AddVariable("inner", intOff, loc)
			b.TagClose()
			b.TagClose()
		}},
		{"abstract inline", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.TagOpen(dwarf.TagSubprogram, "g")
			b.Attr(dwarf.AttrInline, uint8(reader.InlDeclaredInlined))
			b.TagOpen(dwarf.TagLexDwarfBlock, "")
			b.AddVariable("inner", intOff, nil)
			b.TagClose()
			b.TagClose()
		}},
		{"no type", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.TagOpen(dwarf.TagVariable, "untyped")
			b.Attr(dwarf.AttrLocation, loc)
			b.TagClose()
		}},
		{"nameless file scope variable", func(b *dwarfbuilder.Builder, intOff dwarf.Offset) {
			b.AddVariable("", intOff, append(dwarfbuilder.LocationBlock(op.DW_OP_addr), 0x00, 0x11, 0x00, 0x00))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := dwarfbuilder.New()
			b.AddCompileUnit("main.c", "/src", 0x1000, nil)
			intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
			tc.add(b, intOff)
			c := build(t, b)
			if len(c.Variables) != 0 {
				t.Errorf("extracted %+v", c.Variables)
			}
			if len(c.Params) != 0 {
				t.Errorf("extracted parameters %+v", c.Params)
			}
		})
	}
}

func TestFrameBaseRangeDropped(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src", 0x1000, nil)
	b.AddSubprogram("f", 0x1010, 0x1040)
	b.Attr(dwarf.AttrFrameBase, dwarfbuilder.LocList{Entries: []dwarfbuilder.LocEntry{
		{Lowpc: 0x10, Highpc: 0x20, Loc: dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa)},
		{Lowpc: 0x5000, Highpc: 0x5010, Loc: dwarfbuilder.LocationBlock(op.DW_OP_breg13, 0)},
	}})
	b.TagClose()

	c := build(t, b)
	if len(c.Functions) != 1 {
		t.Fatalf("function with an untranslatable frame base range dropped: %+v", c.Functions)
	}
	fps := c.FramePointers
	if len(fps) != 1 || !fps[0].Lo.Valid || fps[0].Lo.Int64 != 0x210 || fps[0].Hi.Int64 != 0x220 {
		t.Errorf("wrong frame pointers %+v", fps)
	}
}

func TestMissingDebugInfo(t *testing.T) {
	_, err := Build(&bininfo.BinaryInfo{})
	if !errors.Is(err, bininfo.ErrMissingDebugInfo) {
		t.Errorf("expected ErrMissingDebugInfo, got %v", err)
	}
}

func TestSymbols(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("a.c", "/src", 0x1000, nil)
	bi := testBinary(t, b)
	bi.Symbols = []bininfo.Symbol{
		{Name: "$a", Value: 0x1000},
		{Name: "main", Value: 0x1000, Size: 0x20, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC},
		{Name: "$t.1", Value: 0x1020},
		{Name: "__dl_$d", Value: 0x1100},
		{Name: "$x", Value: 0x9000},
	}
	c, err := Build(bi)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Symbols) != 1 || c.Symbols[0].Name != "main" {
		t.Errorf("mapping symbols not filtered: %+v", c.Symbols)
	}
	want := []cachestore.InsnMapping{
		{Addr: 0x200, Kind: cachestore.InsnARM},
		{Addr: 0x220, Kind: cachestore.InsnThumb},
		{Addr: 0x300, Kind: cachestore.InsnData},
	}
	if len(c.InsnSet) != len(want) {
		t.Fatalf("wrong instruction set mapping %+v", c.InsnSet)
	}
	for i := range want {
		if c.InsnSet[i] != want[i] {
			t.Errorf("mapping %d: got %+v want %+v", i, c.InsnSet[i], want[i])
		}
	}
	if len(c.Sections) != 2 || c.Sections[0].Name != ".text" {
		t.Errorf("wrong sections %+v", c.Sections)
	}
}

func TestInsertFLC(t *testing.T) {
	l := NewLocations([]string{"b.c", "a.c"})
	id := l.InsertFLC("a.c", 10, 4)
	if again := l.InsertFLC("a.c", 10, 4); again != id {
		t.Errorf("same location got ids %d and %d", id, again)
	}
	other := l.InsertFLC("a.c", 10, 5)
	if other == id || other < id {
		t.Errorf("different location got id %d after %d", other, id)
	}
	if l.FileID("a.c") != 0 || l.FileID("b.c") != 1 {
		t.Errorf("files not numbered in sorted order")
	}
	files, locs := l.rows()
	if len(files) != 2 || len(locs) != 2 {
		t.Errorf("wrong rows %v %v", files, locs)
	}
}

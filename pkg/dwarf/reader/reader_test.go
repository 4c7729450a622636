package reader

import (
	"debug/dwarf"
	"testing"

	"github.com/adbi/idk/pkg/dwarf/dwarfbuilder"
)

func TestLoad(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("main.c", "/src", 0x1000, &dwarfbuilder.LineProgram{
		Files: []string{"main.c", "inc/util.h"},
		End:   0x1100,
	})
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)

	f := b.AddSubprogram("f", 0x1000, 0x1040)
	b.DeclLocation(2, 10, 3)
	block := b.TagOpen(dwarf.TagLexDwarfBlock, "")
	b.Attr(dwarf.AttrRanges, []dwarfbuilder.Range{{Lowpc: 0x20, Highpc: 0x30}, {Lowpc: 0x10, Highpc: 0x20}})
	local := b.AddVariable("local", intOff, nil)
	b.TagClose()
	b.TagClose()

	g := b.TagOpen(dwarf.TagSubprogram, "g")
	b.Attr(dwarf.AttrInline, uint8(InlDeclaredInlined))
	b.DeclLocation(1, 20, 0)
	gparam := b.AddFormalParameter("x", intOff, nil)
	b.TagClose()

	gOut := b.TagOpen(dwarf.TagSubprogram, "")
	b.Attr(dwarf.AttrAbstractOrigin, g)
	b.Attr(dwarf.AttrLowpc, dwarfbuilder.Address(0x1040))
	b.Attr(dwarf.AttrHighpc, uint32(0x20))
	b.TagClose()

	b.AddCompileUnit("other.c", "/src", 0x2000, nil)
	other := b.AddVariable("global", intOff, nil)

	data, _, err := b.Data()
	if err != nil {
		t.Fatal(err)
	}
	tree, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(tree.Units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(tree.Units))
	}
	if tree.Units[0].Base != 0x1000 {
		t.Errorf("wrong unit base %#x", tree.Units[0].Base)
	}

	fe := tree.Entry(f)
	if fe == nil || fe.Name() != "f" || fe.Parent != tree.Units[0].Root {
		t.Fatalf("wrong entry for f: %#v", fe)
	}
	file, line, col, ok := fe.DeclLocation()
	if !ok || file != "/src/inc/util.h" || line != 10 || col != 3 {
		t.Errorf("wrong decl location of f: %q %d %d %v", file, line, col, ok)
	}

	blk := tree.Entry(block)
	rngs, err := blk.Ranges()
	if err != nil {
		t.Fatal(err)
	}
	if len(rngs) != 1 || rngs[0] != [2]uint64{0x1010, 0x1030} {
		t.Errorf("wrong block ranges %#x", rngs)
	}
	lrngs, _ := tree.Entry(local).Ranges()
	if len(lrngs) != 1 || lrngs[0] != rngs[0] {
		t.Errorf("local does not inherit block ranges: %#x", lrngs)
	}
	if sp := tree.Entry(local).Subprogram(); sp != fe {
		t.Errorf("wrong subprogram of local")
	}

	ge := tree.Entry(g)
	if !ge.IsAbstractInline() {
		t.Errorf("g should be an abstract inline entry")
	}
	if !tree.Entry(gparam).InAbstractInline() {
		t.Errorf("parameter of g should be inside an abstract inline entry")
	}
	if r, _ := ge.Ranges(); r != nil {
		t.Errorf("abstract inline entry has ranges %#x", r)
	}

	goe := tree.Entry(gOut)
	if goe.Name() != "g" {
		t.Errorf("name not resolved through abstract origin: %q", goe.Name())
	}
	if goe.IsAbstractInline() {
		t.Errorf("concrete instance reported as abstract")
	}
	if _, line, _, ok := goe.DeclLocation(); !ok || line != 20 {
		t.Errorf("decl line not resolved through abstract origin: %d", line)
	}
	grngs, _ := goe.Ranges()
	if len(grngs) != 1 || grngs[0] != [2]uint64{0x1040, 0x1060} {
		t.Errorf("wrong ranges for constant high pc %#x", grngs)
	}

	oe := tree.Entry(other)
	if oe.Unit != tree.Units[1] {
		t.Errorf("global in wrong unit")
	}
	if r, _ := oe.Ranges(); r != nil {
		t.Errorf("file scope variable has ranges %#x", r)
	}

	if n := len(tree.Entries()); n != 10 {
		t.Errorf("expected 10 entries, got %d", n)
	}
}

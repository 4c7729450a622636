package cachereader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/adbi/idk/pkg/bininfo"
	"github.com/adbi/idk/pkg/cachebuilder"
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/dwarfbuilder"
)

func TestDescriptions(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id       int64
		str      string
		codename string
	}{
		{1, "int", "signed int"},
		{2, "struct node", "struct node"},
		{3, "pointer to struct node", "struct node *"},
		{4, "typedef node_t", "node_t"},
		{5, "enum color", "enum color"},
		{6, "2-dimensional array of int", "signed int [4][2]"},
		{7, "const int", "signed int /* const */"},
		{8, "char", "signed char"},
		{13, "pointer to 2-dimensional array of int", "signed int (*)[4][2]"},
		{15, "pointer to void", "void *"},
	} {
		typ := mustType(t, r, tc.id)
		if typ.String() != tc.str {
			t.Errorf("type %d: got %q, expected %q", tc.id, typ, tc.str)
		}
		codename, err := typ.Codename()
		if err != nil {
			t.Errorf("type %d: %v", tc.id, err)
			continue
		}
		if codename != tc.codename {
			t.Errorf("type %d: codename %q, expected %q", tc.id, codename, tc.codename)
		}
	}
}

func TestTypeProperties(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id          int64
		scalar      bool
		forwardable bool
		size        int64
	}{
		{1, true, false, 4},
		{2, false, true, 8},
		{3, true, false, 4},
		{4, false, false, 8},
		{5, true, true, 4},
		{6, false, false, 32},
		{7, true, false, 4},
	} {
		typ := mustType(t, r, tc.id)
		if typ.Scalar() != tc.scalar || typ.Forwardable() != tc.forwardable || typ.ByteSize() != tc.size {
			t.Errorf("%v: scalar %v forwardable %v size %d", typ, typ.Scalar(), typ.Forwardable(), typ.ByteSize())
		}
	}
	if mustType(t, r, 6).Innermost() != mustType(t, r, 1) {
		t.Errorf("wrong innermost type of array")
	}
	if mustType(t, r, 4).Innermost() != mustType(t, r, 4) {
		t.Errorf("innermost type went through a typedef")
	}
	if !mustType(t, r, 15).Inner().Void() {
		t.Errorf("pointer without target does not point to void")
	}
}

func TestDeclareVar(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id   int64
		name string
		want string
	}{
		{1, "x", "signed int x;"},
		{1, "class-name", "signed int class_name;"},
		{1, "int", "signed int int_;"},
		{3, "head", "struct node * head;"},
		{4, "l", "node_t l;"},
		{5, "c", "enum color c;"},
		{6, "grid", "signed int grid[4][2];"},
		{7, "k", "signed int /* const */ k;"},
		{13, "p", "signed int (* p)[4][2];"},
		{15, "v", "void * v;"},
	} {
		lines, err := mustType(t, r, tc.id).DeclareVar(tc.name)
		if err != nil {
			t.Errorf("%d %s: %v", tc.id, tc.name, err)
			continue
		}
		if got := strings.Join(lines, "\n"); got != tc.want {
			t.Errorf("%d %s: got %q, expected %q", tc.id, tc.name, got, tc.want)
		}
	}
}

func TestDefine(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id   int64
		want []string
	}{
		{2, []string{
			"struct __attribute__ ((__packed__)) node {",
			"    /* Field offset:    0 */",
			"    struct node * next;",
			"",
			"    /* Field offset:    4 */",
			"    signed int value;",
			"",
			"};",
		}},
		{14, []string{
			"struct __attribute__ ((__packed__)) padded {",
			"    /* Field offset:    0 */",
			"    signed char c;",
			"",
			"    char __adbi_member_padding_00000e_00__[3];",
			"    /* Field offset:    4 */",
			"    signed int i;",
			"",
			"    char __adbi_member_padding_00000e_01__[4];",
			"};",
		}},
		{5, []string{
			"enum color {",
			"    RED   = 0x0,   /* ==  0 */",
			"    GREEN = 0x1,   /* ==  1 */",
			"    BLUE  = 0xa,   /* == 10 */",
			"};",
		}},
		{4, []string{"typedef struct node node_t;"}},
		{1, []string{"// datatype int does not need to be defined"}},
		{3, nil},
		{6, nil},
	} {
		got, err := mustType(t, r, tc.id).Define()
		if err != nil {
			t.Errorf("type %d: %v", tc.id, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("type %d: got\n%s\nexpected\n%s", tc.id, strings.Join(got, "\n"), strings.Join(tc.want, "\n"))
		}
	}
}

func TestDeclare(t *testing.T) {
	r := open(t)
	if got, err := mustType(t, r, 2).Declare(); err != nil || !reflect.DeepEqual(got, []string{"struct node;"}) {
		t.Errorf("struct declaration %q %v", got, err)
	}
	if got, err := mustType(t, r, 5).Declare(); err != nil || !reflect.DeepEqual(got, []string{"enum color;"}) {
		t.Errorf("enum declaration %q %v", got, err)
	}
	for _, id := range []int64{1, 3, 4, 6} {
		_, err := mustType(t, r, id).Declare()
		if _, ok := err.(*UnsupportedTypeError); !ok {
			t.Errorf("type %d: expected unsupported type, got %v", id, err)
		}
	}
}

func TestPrintf(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id   int64
		want string
	}{
		{1, `adbi_printf("%s = %d", "x", x);`},
		{3, `adbi_printf("%s = 0x%x", "x", x);`},
		{4, `adbi_printf("%s = <dumping of struct node is not supported>", "x");`},
		{7, `adbi_printf("%s = %d", "x", x);`},
		{8, `adbi_printf("%s = %c", "x", x);`},
		{5, `adbi_printf("%s = <dumping of enum color is not supported>", "x");`},
	} {
		if got := mustType(t, r, tc.id).PrintfStatement("x"); got != tc.want {
			t.Errorf("type %d: got %s, expected %s", tc.id, got, tc.want)
		}
	}
}

func declString(order []Decl) []string {
	var s []string
	for _, d := range order {
		what := "declare"
		if d.Definition {
			what = "define"
		}
		s = append(s, fmt.Sprintf("%s %s", what, d.Type))
	}
	return s
}

// checkOrder verifies that every requirement of a defined type appears
// before its definition.
func checkOrder(t *testing.T, order []Decl) {
	t.Helper()
	declared := map[*DataType]bool{}
	defined := map[*DataType]bool{}
	for _, d := range order {
		if !d.Definition {
			declared[d.Type] = true
			continue
		}
		for _, h := range d.Type.HardRequirements() {
			if !defined[h] {
				t.Errorf("%v defined before its requirement %v", d.Type, h)
			}
		}
		for _, s := range d.Type.SoftRequirements() {
			if !defined[s] && !declared[s] {
				t.Errorf("%v defined before %v is declared", d.Type, s)
			}
		}
		defined[d.Type] = true
	}
}

func TestDeclOrder(t *testing.T) {
	r := open(t)
	for _, tc := range []struct {
		id   int64
		want []string
	}{
		{2, []string{"declare struct node", "define struct node"}},
		{11, []string{"declare struct a", "declare struct b", "define struct a", "define struct b"}},
		{10, []string{"declare struct b", "declare struct a", "define struct a"}},
		{4, []string{"declare struct node", "define typedef node_t", "define struct node"}},
		{13, []string{"define pointer to 2-dimensional array of int"}},
		{1, []string{"define int"}},
	} {
		order := mustType(t, r, tc.id).DeclOrder()
		if got := declString(order); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("type %d: got %q, expected %q", tc.id, got, tc.want)
		}
		checkOrder(t, order)
	}
}

// typedef struct list list_t; struct list { list_t *next; int value; };
func TestRecursiveTypedefDeclOrder(t *testing.T) {
	c := fixture()
	c.Types = append(c.Types,
		cachestore.Type{ID: 16, Kind: cachestore.KindStruct, Name: nullStr("list"), Bytes: nullInt(8)},
		cachestore.Type{ID: 17, Kind: cachestore.KindTypedef, Name: nullStr("list_t"), Inner: nullInt(16)},
		cachestore.Type{ID: 18, Kind: cachestore.KindPtr, Inner: nullInt(17)},
	)
	c.Members = append(c.Members,
		cachestore.Member{Parent: 16, Type: 18, Offset: 0, Name: nullStr("next")},
		cachestore.Member{Parent: 16, Type: 1, Offset: 32, Name: nullStr("value")},
	)
	r := openCache(t, c, nil)

	want := []string{"declare struct list", "define typedef list_t", "define struct list"}
	for _, id := range []int64{16, 17} {
		order := mustType(t, r, id).DeclOrder()
		if got := declString(order); !reflect.DeepEqual(got, want) {
			t.Errorf("type %d: got %q, expected %q", id, got, want)
		}
		checkOrder(t, order)
	}

	lines, err := mustType(t, r, 17).Program()
	if err != nil {
		t.Fatal(err)
	}
	src := strings.Join(lines, "\n")
	typedef := strings.Index(src, "typedef struct list list_t;")
	def := strings.Index(src, "struct __attribute__ ((__packed__)) list {")
	if typedef < 0 || def < 0 || typedef > def {
		t.Errorf("list_t is not defined before struct list uses it:\n%s", src)
	}
	if !strings.Contains(src, "    list_t * next;") {
		t.Errorf("next is not declared through the typedef:\n%s", src)
	}
}

func TestProgram(t *testing.T) {
	r := open(t)
	lines, err := mustType(t, r, 2).Program()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"struct node;",
		"",
		"struct __attribute__ ((__packed__)) node {",
		"    /* Field offset:    0 */",
		"    struct node * next;",
		"",
		"    /* Field offset:    4 */",
		"    signed int value;",
		"",
		"};",
		"",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("got\n%s", strings.Join(lines, "\n"))
	}
}

func TestUnsupportedSize(t *testing.T) {
	c := fixture()
	c.Types = append(c.Types, cachestore.Type{ID: 20, Kind: cachestore.KindInt, Name: nullStr("int24"), Bytes: nullInt(3)})
	r := openCache(t, c, nil)
	_, err := mustType(t, r, 20).DeclareVar("x")
	if _, ok := err.(*UnsupportedTypeError); !ok {
		t.Errorf("expected unsupported type, got %v", err)
	}
}

func TestUnboundedArraySize(t *testing.T) {
	c := fixture()
	c.Types = append(c.Types, cachestore.Type{ID: 20, Kind: cachestore.KindArray, Inner: nullInt(1)})
	c.ArrayDims = append(c.ArrayDims, cachestore.ArrayDim{ID: 20, Num: 0})
	r := openCache(t, c, nil)
	typ := mustType(t, r, 20)
	if !typ.Unbounded() {
		t.Fatalf("array without extent is bounded")
	}
	// an unknown extent counts as one word, a heuristic for compiler output
	if typ.ByteSize() != 4 {
		t.Errorf("unbounded array size %d", typ.ByteSize())
	}
}

// A self-referential list built from debug information goes through the
// builder and the store before being ordered.
func TestSelfReferentialDeclOrder(t *testing.T) {
	b := dwarfbuilder.New()
	b.AddCompileUnit("list.c", "/src", 0x1000, nil)
	intOff := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	node := b.AddStructType("node", 8)
	next := b.AddPointerType(&node)
	b.AddMember("next", next, uint8(0))
	b.AddMember("value", intOff, uint8(4))
	b.TagClose()
	b.AddVariable("head", node, nil)
	data, loc, err := b.Data()
	if err != nil {
		t.Fatal(err)
	}
	c, err := cachebuilder.Build(&bininfo.BinaryInfo{
		Path:      "list",
		Machine:   elf.EM_ARM,
		ByteOrder: binary.LittleEndian,
		PtrSize:   4,
		Dwarf:     data,
		DebugLoc:  loc,
	})
	if err != nil {
		t.Fatal(err)
	}
	r := openCache(t, c, nil)

	types, err := r.TypesByName("struct node")
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 1 {
		t.Fatalf("expected one struct node, got %v", types)
	}
	order := types[0].DeclOrder()
	if got := declString(order); !reflect.DeepEqual(got, []string{"declare struct node", "define struct node"}) {
		t.Errorf("wrong declaration order %q", got)
	}
	checkOrder(t, order)

	vars, err := r.Variables()
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars[0].Type != types[0] {
		t.Errorf("head does not reference the struct: %v", vars)
	}
}

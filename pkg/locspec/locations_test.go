package locspec

import (
	"debug/elf"
	"fmt"
	"testing"
)

func parseLocationSpecNoError(t *testing.T, locstr string) LocationSpec {
	t.Helper()
	spec, err := Parse(locstr)
	if err != nil {
		t.Fatalf("Error parsing %q: %v", locstr, err)
	}
	return spec
}

func TestLocationParsing(t *testing.T) {
	tests := []struct {
		locstr string
		want   LocationSpec
	}{
		{"*0x1234", &AddrLocationSpec{Addr: 0x1234}},
		{"*  4096", &AddrLocationSpec{Addr: 4096}},
		{"main.c:10", &NormalLocationSpec{Base: "main.c", Line: 10}},
		{"src/main.c:main", &NormalLocationSpec{Base: "src/main.c", FuncName: "main"}},
		{"C:\\src\\main.c:12", &NormalLocationSpec{Base: "C:\\src\\main.c", Line: 12}},
		{"main", &FuncLocationSpec{Name: "main"}},
		{"main+10", &FuncLocationSpec{Name: "main", Offset: 0x10}},
		{" handler + ff ", &FuncLocationSpec{Name: "handler", Offset: 0xff}},
	}
	for _, tc := range tests {
		spec := parseLocationSpecNoError(t, tc.locstr)
		if fmt.Sprintf("%#v", spec) != fmt.Sprintf("%#v", tc.want) {
			t.Errorf("Location %q: expected %#v got %#v", tc.locstr, tc.want, spec)
		}
	}
}

func TestLocationParsingErrors(t *testing.T) {
	for _, locstr := range []string{"", "*", "*zz", ":10", "main.c:", "main.c:-3", "main+zz", "+10"} {
		if spec, err := Parse(locstr); err == nil {
			t.Errorf("Location %q: expected error got %#v", locstr, spec)
		}
	}
}

type fakeResolver struct {
	calls []string
}

func (r *fakeResolver) Func2Addr(file, fn string) (uint64, error) {
	r.calls = append(r.calls, fmt.Sprintf("func %s %s", file, fn))
	return 0x100, nil
}

func (r *fakeResolver) Sym2Addr(name string, types ...elf.SymType) (uint64, error) {
	r.calls = append(r.calls, fmt.Sprintf("sym %s %v", name, types))
	return 0x200, nil
}

func (r *fakeResolver) Line2Addr(file string, line int) (uint64, error) {
	r.calls = append(r.calls, fmt.Sprintf("line %s %d", file, line))
	return 0x300, nil
}

func TestFind(t *testing.T) {
	tests := []struct {
		locstr     string
		useSymbols bool
		addr       uint64
		call       string
	}{
		{"*0x42", false, 0x42, ""},
		{"main.c:7", false, 0x300, "line main.c 7"},
		{"main.c:init", true, 0x100, "func main.c init"},
		{"init+4", false, 0x104, "func  init"},
		{"init+4", true, 0x204, "sym init [STT_FUNC]"},
	}
	for _, tc := range tests {
		r := &fakeResolver{}
		addr, err := parseLocationSpecNoError(t, tc.locstr).Find(r, tc.useSymbols)
		if err != nil {
			t.Fatalf("%q: %v", tc.locstr, err)
		}
		if addr != tc.addr {
			t.Errorf("%q: expected %#x got %#x", tc.locstr, tc.addr, addr)
		}
		var call string
		if len(r.calls) > 0 {
			call = r.calls[0]
		}
		if call != tc.call {
			t.Errorf("%q: expected call %q got %q", tc.locstr, tc.call, call)
		}
	}
}

func assertSubstitutePathEqual(t *testing.T, expected string, substituted string) {
	t.Helper()
	if expected != substituted {
		t.Errorf("Expected substitutedPath to be %s got %s instead", expected, substituted)
	}
}

func TestSubstitutePath(t *testing.T) {
	// Relative paths mapping
	assertSubstitutePathEqual(t, "/my/abs/folder/relative/path.c", SubstitutePath("relative/path.c", [][2]string{{"", "/my/abs/folder/"}}))
	assertSubstitutePathEqual(t, "/already/abs/path.c", SubstitutePath("/already/abs/path.c", [][2]string{{"", "/my/abs/folder/"}}))
	assertSubstitutePathEqual(t, "relative/path.c", SubstitutePath("/my/abs/folder/relative/path.c", [][2]string{{"/my/abs/folder/", ""}}))
	assertSubstitutePathEqual(t, "my/path.c", SubstitutePath("relative/path/my/path.c", [][2]string{{"relative/path", ""}}))
	assertSubstitutePathEqual(t, "/abs/my/path.c", SubstitutePath("/abs/my/path.c", [][2]string{{"abs/my", ""}}))

	// Absolute paths mapping
	assertSubstitutePathEqual(t, "/new/mapping/path.c", SubstitutePath("/original/path.c", [][2]string{{"/original", "/new/mapping"}}))
	assertSubstitutePathEqual(t, "/new/mapping/path.c", SubstitutePath("/original/path.c", [][2]string{{"/original/", "/new/mapping"}}))
	assertSubstitutePathEqual(t, "/original-2/path.c", SubstitutePath("/original-2/path.c", [][2]string{{"/original", "/new/mapping"}}))
	assertSubstitutePathEqual(t, "/new/file2.c", SubstitutePath("/tmp/file.c", [][2]string{{"/tmp/file.c", "/new/file2.c"}}))

	// First matched rule wins
	assertSubstitutePathEqual(t, "/new/path2/file.c", SubstitutePath("/tmp/path2/file.c", [][2]string{
		{"/tmp/path1", "/new/path1"},
		{"/tmp/path2", "/new/path2"},
		{"/tmp/path2", "/new/path3"},
	}))
	assertSubstitutePathEqual(t, "/TmP/path/file.c", SubstitutePath("/TmP/path/file.c", [][2]string{{"/tmp/path", "/new/path2"}}))
}

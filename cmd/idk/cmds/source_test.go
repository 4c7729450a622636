package cmds

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintSource(t *testing.T) {
	src := "a\nb\nc\n"
	marks := map[int][]uint64{2: {0x10, 0x18}}

	var out bytes.Buffer
	if err := printSource(&out, strings.NewReader(src), marks, false); err != nil {
		t.Fatal(err)
	}
	want := "     1:\ta\n=>   2:\tb\t// 0x10, 0x18\n     3:\tc\n"
	if out.String() != want {
		t.Errorf("got\n%q\nexpected\n%q", out.String(), want)
	}

	out.Reset()
	if err := printSource(&out, strings.NewReader(src), marks, true); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(out.String(), "\n")
	if !strings.HasPrefix(lines[1], "\033[93m=>\033[0m\033[34m   2:\033[0m\tb") {
		t.Errorf("marked line not colored: %q", lines[1])
	}
	if !strings.HasPrefix(lines[0], "  \033[34m   1:\033[0m\ta") {
		t.Errorf("unmarked line: %q", lines[0])
	}
}

package cmds

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	colorEscape = "\033[%2dm"
	colorReset  = "\033[0m"

	colorArrow   = 93
	colorLineno  = 34
	colorAddress = 32
)

// printSource copies src to out numbering its lines. Lines in marks are
// pointed at with an arrow and followed by their addresses.
func printSource(out io.Writer, src io.Reader, marks map[int][]uint64, color bool) error {
	paint := func(c int, s string) string {
		if !color {
			return s
		}
		return fmt.Sprintf(colorEscape, c) + s + colorReset
	}

	scan := bufio.NewScanner(src)
	w := bufio.NewWriter(out)
	for n := 1; scan.Scan(); n++ {
		addrs, marked := marks[n]
		if marked {
			w.WriteString(paint(colorArrow, "=>"))
		} else {
			w.WriteString("  ")
		}
		w.WriteString(paint(colorLineno, fmt.Sprintf("%4d:", n)))
		w.WriteString("\t")
		w.WriteString(scan.Text())
		if marked {
			s := make([]string, len(addrs))
			for i, addr := range addrs {
				s[i] = fmt.Sprintf("%#x", addr)
			}
			w.WriteString(paint(colorAddress, "\t// "+strings.Join(s, ", ")))
		}
		w.WriteString("\n")
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return w.Flush()
}

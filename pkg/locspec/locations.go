package locspec

import (
	"debug/elf"
	"fmt"
	"strconv"
	"strings"
)

// Resolver maps names and source lines to file offsets.
type Resolver interface {
	Func2Addr(file, fn string) (uint64, error)
	Sym2Addr(name string, types ...elf.SymType) (uint64, error)
	Line2Addr(file string, line int) (uint64, error)
}

// LocationSpec is an interface that represents a parsed location spec string.
type LocationSpec interface {
	// Find returns the file offset the location spec refers to. When
	// useSymbols is set function names are looked up in the symbol table
	// instead of the debug information.
	Find(r Resolver, useSymbols bool) (uint64, error)
}

// AddrLocationSpec represents an explicit file offset.
type AddrLocationSpec struct {
	Addr uint64
}

// NormalLocationSpec represents a file:line or a file:function spec.
type NormalLocationSpec struct {
	Base string
	// FuncName is set when the part after the colon is not a line number.
	FuncName string
	Line     int
}

// FuncLocationSpec represents a function entry, optionally moved forward
// by Offset bytes.
type FuncLocationSpec struct {
	Name   string
	Offset uint64
}

// Parse will turn locStr into a parsed LocationSpec.
func Parse(locStr string) (LocationSpec, error) {
	rest := strings.TrimSpace(locStr)

	malformed := func(reason string) error {
		return fmt.Errorf("malformed location %q: %s", locStr, reason)
	}

	if len(rest) == 0 {
		return nil, malformed("empty string")
	}

	if rest[0] == '*' {
		addr, err := strconv.ParseUint(strings.TrimSpace(rest[1:]), 0, 64)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrLocationSpec{Addr: addr}, nil
	}

	if i := strings.LastIndex(rest, ":"); i >= 0 {
		spec := &NormalLocationSpec{Base: rest[:i]}
		if spec.Base == "" {
			return nil, malformed("missing file name")
		}
		linefunc := strings.TrimSpace(rest[i+1:])
		if linefunc == "" {
			return nil, malformed("missing line number or function name")
		}
		line, err := strconv.Atoi(linefunc)
		if err != nil {
			spec.FuncName = linefunc
			return spec, nil
		}
		if line < 0 {
			return nil, malformed("line number negative")
		}
		spec.Line = line
		return spec, nil
	}

	spec := &FuncLocationSpec{Name: rest}
	if i := strings.LastIndex(rest, "+"); i >= 0 {
		off, err := strconv.ParseUint(strings.TrimSpace(rest[i+1:]), 16, 64)
		if err != nil {
			return nil, malformed("offset is not a hexadecimal number")
		}
		spec.Name = strings.TrimSpace(rest[:i])
		spec.Offset = off
	}
	if spec.Name == "" {
		return nil, malformed("missing function name")
	}
	return spec, nil
}

// Find returns the file offset of the location.
func (loc *AddrLocationSpec) Find(Resolver, bool) (uint64, error) {
	return loc.Addr, nil
}

// Find returns the address of the line, or the entry of the function,
// in the file matched by loc.Base.
func (loc *NormalLocationSpec) Find(r Resolver, _ bool) (uint64, error) {
	if loc.FuncName != "" {
		return r.Func2Addr(loc.Base, loc.FuncName)
	}
	return r.Line2Addr(loc.Base, loc.Line)
}

// Find returns the entry address of the function plus the offset.
func (loc *FuncLocationSpec) Find(r Resolver, useSymbols bool) (uint64, error) {
	var (
		addr uint64
		err  error
	)
	if useSymbols {
		addr, err = r.Sym2Addr(loc.Name, elf.STT_FUNC)
	} else {
		addr, err = r.Func2Addr("", loc.Name)
	}
	if err != nil {
		return 0, err
	}
	return addr + loc.Offset, nil
}

// SubstitutePath applies the specified path substitution rules to path.
// The first rule whose source directory is a prefix of path is used.
func SubstitutePath(path string, rules [][2]string) string {
	const separator = "/"
	for _, r := range rules {
		from, to := r[0], r[1]

		if path == from {
			return to
		}
		if from == "" {
			// an empty source matches relative paths only
			if strings.HasPrefix(path, separator) {
				continue
			}
		} else if !strings.HasSuffix(from, separator) {
			from += separator
		}
		if to != "" && !strings.HasSuffix(to, separator) {
			to += separator
		}
		if strings.HasPrefix(path, from) {
			return to + path[len(from):]
		}
	}
	return path
}

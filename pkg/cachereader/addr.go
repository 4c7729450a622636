package cachereader

import (
	"database/sql"
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/op"
	"github.com/adbi/idk/pkg/locspec"
)

// GetAddr returns the file offset of a location spec. When useSymbols is
// set function names are looked up in the symbol table.
func (r *Reader) GetAddr(spec string, useSymbols bool) (uint64, error) {
	loc, err := locspec.Parse(spec)
	if err != nil {
		return 0, err
	}
	addr, err := loc.Find(r, useSymbols)
	if err != nil {
		r.log.Debugf("location %s: %v", spec, err)
		return 0, err
	}
	r.log.Debugf("location %s at %#x", spec, addr)
	return addr, nil
}

// Symbol is an ELF symbol.
type Symbol struct {
	Name       string
	Value      uint64
	Size       uint64
	Bind       elf.SymBind
	Type       elf.SymType
	Visibility elf.SymVis
	Section    elf.SectionIndex
}

// Symbols returns the symbols of the binary, mapping symbols excluded.
func (r *Reader) Symbols() ([]Symbol, error) {
	rows, err := r.db.Query(`select name, value, size, bind, type, vis, shndx from symbols order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var syms []Symbol
	for rows.Next() {
		var (
			s                     Symbol
			value, size           int64
			bind, typ, vis, shndx int64
		)
		if err := rows.Scan(&s.Name, &value, &size, &bind, &typ, &vis, &shndx); err != nil {
			return nil, err
		}
		s.Value, s.Size = uint64(value), uint64(size)
		s.Bind, s.Type, s.Visibility, s.Section = elf.SymBind(bind), elf.SymType(typ), elf.SymVis(vis), elf.SectionIndex(shndx)
		syms = append(syms, s)
	}
	return syms, rows.Err()
}

// Sym2Addr returns the value of the symbol called name. If types are
// given only symbols of those types are considered.
func (r *Reader) Sym2Addr(name string, types ...elf.SymType) (uint64, error) {
	query := `select distinct value from symbols where name = ?`
	args := []interface{}{name}
	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, int64(t))
		}
		query += ` and type in (` + strings.Join(marks, ", ") + `)`
	}
	addrs, err := r.addrs(query+` order by value`, args...)
	if err != nil {
		return 0, err
	}
	return unique(name, addrs)
}

// Section is an ELF section.
type Section struct {
	Name   string
	Type   elf.SectionType
	Addr   uint64
	Offset uint64
	Size   uint64
	Flags  elf.SectionFlag
}

// Sections returns the sections of the binary in section table order.
func (r *Reader) Sections() ([]Section, error) {
	rows, err := r.db.Query(`select name, type, addr, offset, size, flags from sections order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var secs []Section
	for rows.Next() {
		var (
			s                  Section
			typ, flags         int64
			addr, offset, size int64
		)
		if err := rows.Scan(&s.Name, &typ, &addr, &offset, &size, &flags); err != nil {
			return nil, err
		}
		s.Type, s.Flags = elf.SectionType(typ), elf.SectionFlag(flags)
		s.Addr, s.Offset, s.Size = uint64(addr), uint64(offset), uint64(size)
		secs = append(secs, s)
	}
	return secs, rows.Err()
}

// InsnRange is a range of code using one instruction set.
type InsnRange struct {
	Kind   cachestore.InsnKind
	Lo, Hi uint64
}

// insnRangeSpan is the extent assumed for the last mapping.
const insnRangeSpan = 32

func (r *Reader) loadInsnSet() error {
	if r.insnset != nil {
		return nil
	}
	rows, err := r.db.Query(`select addr, kind from insnset order by addr`)
	if err != nil {
		return err
	}
	defer rows.Close()
	set := []InsnRange{}
	for rows.Next() {
		var (
			addr int64
			kind string
		)
		if err := rows.Scan(&addr, &kind); err != nil {
			return err
		}
		k, err := cachestore.ParseInsnKind(kind)
		if err != nil {
			return err
		}
		set = append(set, InsnRange{Kind: k, Lo: uint64(addr)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := 0; i+1 < len(set); i++ {
		set[i].Hi = set[i+1].Lo
	}
	r.insnset = set
	return nil
}

// InsnKind returns the instruction set of the code at addr and the range
// it extends over. Code before the first mapping is data.
func (r *Reader) InsnKind(addr uint64) (InsnRange, error) {
	if err := r.loadInsnSet(); err != nil {
		return InsnRange{}, err
	}
	set := r.insnset
	i := sort.Search(len(set), func(i int) bool { return set[i].Lo > addr })
	if i == 0 {
		hi := addr + insnRangeSpan
		if len(set) > 0 {
			hi = set[0].Lo
		}
		return InsnRange{Kind: cachestore.InsnData, Lo: 0, Hi: hi}, nil
	}
	rg := set[i-1]
	if i == len(set) {
		rg.Hi = addr + insnRangeSpan
	}
	return rg, nil
}

func (r *Reader) exprQuery(query string, args ...interface{}) ([]byte, bool, error) {
	var enc string
	switch err := r.db.QueryRow(query, args...).Scan(&enc); {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	expr, err := cachestore.DecodeExpr(enc)
	if err != nil {
		return nil, false, err
	}
	return expr, true, nil
}

// CFAExpression returns the expression computing the call frame address
// at addr.
func (r *Reader) CFAExpression(addr uint64) ([]byte, error) {
	if v, ok := r.cfa.Get(addr); ok {
		return v.([]byte), nil
	}
	r.log.Debugf("cfa lookup %#x", addr)
	expr, ok, err := r.exprQuery(`select expr from cfi where lo <= ? and ? < hi
		order by lo desc limit 1`, int64(addr), int64(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &UnknownLocationError{What: fmt.Sprintf("no call frame information for %#x", addr)}
	}
	r.cfa.Add(addr, expr)
	return expr, nil
}

// CFA translates the call frame address expression at addr to C.
func (r *Reader) CFA(addr uint64) (op.Result, error) {
	expr, err := r.CFAExpression(addr)
	if err != nil {
		return op.Result{}, err
	}
	return op.ExecuteStackProgram(expr, r.ptrSize)
}

// FramePointerExpression returns the frame base expression valid at addr:
// one whose range contains addr, else the whole-function expression of
// the function containing addr.
func (r *Reader) FramePointerExpression(addr uint64) ([]byte, error) {
	if v, ok := r.framePointers.Get(addr); ok {
		return v.([]byte), nil
	}
	r.log.Debugf("frame base lookup %#x", addr)
	expr, ok, err := r.exprQuery(`select expr from framepointers
		where lo <= ? and ? < hi limit 1`, int64(addr), int64(addr))
	if err == nil && !ok {
		expr, ok, err = r.exprQuery(`select framepointers.expr
			from framepointers join functions on framepointers.func = functions.id
			where functions.lo <= ? and ? < functions.hi and framepointers.lo is null
			order by functions.lo desc limit 1`, int64(addr), int64(addr))
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &UnknownLocationError{What: fmt.Sprintf("no frame base for %#x", addr)}
	}
	r.framePointers.Add(addr, expr)
	return expr, nil
}

// FramePointer translates the frame base expression valid at addr to C.
func (r *Reader) FramePointer(addr uint64) (op.Result, error) {
	expr, err := r.FramePointerExpression(addr)
	if err != nil {
		return op.Result{}, err
	}
	return op.ExecuteStackProgram(expr, r.ptrSize)
}

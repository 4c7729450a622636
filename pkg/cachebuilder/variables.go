package cachebuilder

import (
	"database/sql"
	"debug/dwarf"
	"fmt"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/reader"
)

// exprRange is a location expression valid in [lo, hi). An unbounded
// expression is valid everywhere.
type exprRange struct {
	lo, hi  uint64
	bounded bool
	expr    []byte
}

// expressions returns the location expressions stored in attr of e,
// either a single expression or a location list.
func (b *builder) expressions(e *reader.Entry, attr dwarf.Attr) ([]exprRange, error) {
	f := e.Entry.AttrField(attr)
	if f == nil {
		return nil, nil
	}
	switch v := f.Val.(type) {
	case []byte:
		return []exprRange{{expr: v}}, nil
	case int64:
		if b.loc.Empty() {
			return nil, fmt.Errorf("location list at %#x but no .debug_loc section", v)
		}
		base := uint64(0)
		if e.Unit != nil {
			base = e.Unit.Base
		}
		entries, err := b.loc.All(int(v), base)
		if err != nil {
			return nil, err
		}
		r := make([]exprRange, 0, len(entries))
		for _, le := range entries {
			r = append(r, exprRange{lo: le.LowPC, hi: le.HighPC, bounded: true, expr: le.Instr})
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported form of %v (class %v)", attr, f.Class)
}

func isVariableTag(tag dwarf.Tag) bool {
	switch tag {
	case dwarf.TagVariable, dwarf.TagConstant, dwarf.TagFormalParameter:
		return true
	}
	return false
}

// wantVariable reports whether e describes a variable with a concrete
// instance in the program.
func wantVariable(e *reader.Entry) bool {
	if !isVariableTag(e.Tag) {
		return false
	}
	if e.Tag == dwarf.TagFormalParameter && e.Parent != nil {
		// parameters of function types (typedef void fn(int)) and of
		// functions that are only declared
		if e.Parent.Tag == dwarf.TagSubroutineType || e.Parent.Declaration() {
			return false
		}
	}
	if e.Artificial() {
		return false
	}
	return !e.InAbstractInline()
}

func (b *builder) collectVariables() {
	for _, e := range b.tree.Entries() {
		if wantVariable(e) {
			b.addVariable(e)
		}
	}
}

func (b *builder) addVariable(e *reader.Entry) {
	log := b.entryLogger(e)

	typ := b.types.resolve(e, dwarf.AttrType)
	if typ == nil {
		log.Warnf("%s has no type, ignoring", e.Tag)
		return
	}
	name := e.Name()
	if name == "" && (e.Parent == nil || e.Parent.Tag != dwarf.TagSubprogram) {
		log.Warnf("%s has no name, ignoring", e.Tag)
		return
	}

	v := cachestore.Variable{
		ID:     int64(len(b.cache.Variables)),
		Type:   typ.tid,
		Global: e.External(),
		Loc:    b.locs.InsertEntry(e),
	}
	if name != "" {
		v.Name = sql.NullString{String: name, Valid: true}
	}

	var ranges []cachestore.VarRange
	rngs, err := e.Ranges()
	if err != nil {
		log.Warnf("could not read ranges: %v", err)
	}
	for _, rng := range rngs {
		lo, hi, err := b.bi.RangeToOffsets(rng[0], rng[1])
		if err != nil {
			continue
		}
		ranges = append(ranges, cachestore.VarRange{Var: v.ID, Lo: lo, Hi: hi})
	}

	exprs, err := b.expressions(e, dwarf.AttrLocation)
	if err != nil {
		log.Warnf("could not read location: %v", err)
	}
	var (
		resolved []cachestore.VarExpr
		dropped  bool
	)
	for _, x := range exprs {
		ve := cachestore.VarExpr{Var: v.ID, Expr: x.expr}
		if x.bounded {
			lo, hi, err := b.bi.RangeToOffsets(x.lo, x.hi)
			if err != nil {
				dropped = true
				continue
			}
			ve.Lo = sql.NullInt64{Int64: int64(lo), Valid: true}
			ve.Hi = sql.NullInt64{Int64: int64(hi), Valid: true}
		}
		resolved = append(resolved, ve)
	}

	switch {
	case len(resolved) == 0:
		log.Warnf("variable declared at %s was completely optimized out", b.locs.String(v.Loc))
		// the variable is never visible
		ranges = nil
	case dropped:
		log.Warnf("variable declared at %s was partially optimized out", b.locs.String(v.Loc))
	}

	b.cache.Variables = append(b.cache.Variables, v)
	b.cache.VarRanges = append(b.cache.VarRanges, ranges...)
	b.cache.VarExprs = append(b.cache.VarExprs, resolved...)
	b.varByOffset[uint64(e.Offset)] = v.ID
}

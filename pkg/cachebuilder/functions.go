package cachebuilder

import (
	"database/sql"
	"debug/dwarf"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/reader"
)

// UnnamedFunction is the name given to functions without DW_AT_name.
const UnnamedFunction = "<<unnamed function>>"

func (b *builder) collectFunctions() {
	for _, e := range b.tree.Entries() {
		if e.Tag != dwarf.TagSubprogram || e.IsAbstractInline() {
			continue
		}
		b.addFunction(e)
	}
}

func (b *builder) addFunction(e *reader.Entry) {
	low, _ := e.Val(dwarf.AttrLowpc).(uint64)
	if low == 0 {
		// declared but never emitted
		return
	}
	high, ok := e.HighPC(low)
	if !ok {
		return
	}
	log := b.entryLogger(e)

	name := e.Name()
	if name == "" {
		name = UnnamedFunction
	}
	lo, hi, err := b.bi.RangeToOffsets(low, high)
	if err != nil {
		log.Warnf("function %s skipped: %v", name, err)
		return
	}

	fn := cachestore.Function{
		ID:   int64(len(b.cache.Functions)),
		Name: name,
		Lo:   lo,
		Hi:   hi,
		Loc:  b.locs.InsertEntry(e),
	}

	exprs, err := b.expressions(e, dwarf.AttrFrameBase)
	if err != nil {
		log.Warnf("could not read frame base of %s: %v", name, err)
	}
	for _, x := range exprs {
		fp := cachestore.FramePointer{Func: fn.ID, Expr: x.expr}
		if x.bounded {
			lo, hi, err := b.bi.RangeToOffsets(x.lo, x.hi)
			if err != nil {
				log.Warnf("frame base range of %s dropped: %v", name, err)
				continue
			}
			fp.Lo = sql.NullInt64{Int64: int64(lo), Valid: true}
			fp.Hi = sql.NullInt64{Int64: int64(hi), Valid: true}
		}
		b.cache.FramePointers = append(b.cache.FramePointers, fp)
	}

	var idx int64
	for _, c := range e.Children {
		if c.Tag != dwarf.TagFormalParameter {
			continue
		}
		vid, ok := b.varByOffset[uint64(c.Offset)]
		if !ok {
			continue
		}
		b.cache.Params = append(b.cache.Params, cachestore.Param{Func: fn.ID, Var: vid, Idx: idx})
		idx++
	}

	b.cache.Functions = append(b.cache.Functions, fn)
}

package cachebuilder

import (
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/frame"
	"github.com/adbi/idk/pkg/dwarf/leb128"
	"github.com/adbi/idk/pkg/dwarf/op"
)

// cfaExpression converts a CFA rule to a location expression.
func cfaExpression(rule frame.DWRule) ([]byte, bool) {
	switch rule.Rule {
	case frame.RuleCFA:
		expr := []byte{byte(op.DW_OP_bregx)}
		expr = leb128.AppendUnsigned(expr, rule.Reg)
		expr = leb128.AppendSigned(expr, rule.Offset)
		return expr, true
	case frame.RuleExpression:
		return rule.Expression, true
	}
	return nil, false
}

func (b *builder) collectCFI() {
	if len(b.bi.DebugFrame) == 0 {
		b.log.Warn("binary has no call frame information")
		return
	}
	fdes, err := frame.Parse(b.bi.DebugFrame, b.bi.ByteOrder, b.bi.PtrSize)
	if err != nil {
		b.log.Warnf("could not parse .debug_frame: %v", err)
		return
	}
	for _, fde := range fdes {
		rows, err := fde.Rows()
		if err != nil {
			b.log.Warnf("%v", err)
			continue
		}
		invalid := false
		for i, row := range rows {
			end := fde.End()
			if i+1 < len(rows) {
				end = rows[i+1].Loc
			}
			lo, hi, err := b.bi.RangeToOffsets(row.Loc, end)
			if err != nil {
				invalid = true
				continue
			}
			expr, ok := cfaExpression(row.CFA)
			if !ok {
				invalid = true
				continue
			}
			b.cache.CFI = append(b.cache.CFI, cachestore.CFI{Lo: lo, Hi: hi, Expr: expr})
		}
		if invalid {
			b.log.Warnf("invalid call frame information entry in FDE at %#x", fde.Begin())
		}
	}
}

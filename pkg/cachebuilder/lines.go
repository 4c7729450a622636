package cachebuilder

import (
	"database/sql"
	"debug/dwarf"
	"io"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/logflags"
)

// collectLines maps the statement addresses of every line table to
// locations. Rows whose address cannot be translated are kept without an
// address.
func (b *builder) collectLines() {
	for _, u := range b.tree.Units {
		lr := u.LineReader()
		if lr == nil {
			continue
		}
		var le dwarf.LineEntry
		for {
			err := lr.Next(&le)
			if err == io.EOF {
				break
			}
			if err != nil {
				b.log.WithField("unit", u.Name).Warnf("line table: %v", err)
				break
			}
			if le.EndSequence || !le.IsStmt {
				continue
			}
			file := u.Name
			if le.File != nil {
				file = le.File.Name
			}
			file = u.Abs(file)
			line := cachestore.Line{Loc: b.locs.InsertFLC(file, int64(le.Line), int64(le.Column))}
			off, err := b.bi.AddrToOffset(le.Address)
			if err != nil {
				b.log.WithFields(logflags.Fields{"unit": u.Name}).Warnf("location %s is mapped to an invalid address %#x (optimized out?)",
					describeFLC(file, int64(le.Line), int64(le.Column)), le.Address)
			} else {
				line.Addr = sql.NullInt64{Int64: int64(off), Valid: true}
			}
			b.cache.Lines = append(b.cache.Lines, line)
		}
	}
}

package cachereader

import (
	"database/sql"
	"fmt"
)

// LineAddr is a row of the line table.
type LineAddr struct {
	Addr uint64
	Loc  Location
}

func (r *Reader) lineRows(query string, args ...interface{}) ([]LineAddr, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		addrs []uint64
		locs  []sql.NullInt64
	)
	for rows.Next() {
		var (
			addr int64
			loc  sql.NullInt64
		)
		if err := rows.Scan(&addr, &loc); err != nil {
			return nil, err
		}
		addrs = append(addrs, uint64(addr))
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	lines := make([]LineAddr, len(addrs))
	for i := range addrs {
		l, err := r.location(locs[i])
		if err != nil {
			return nil, err
		}
		lines[i] = LineAddr{Addr: addrs[i], Loc: l}
	}
	return lines, nil
}

func (r *Reader) linesIn(lo, hi uint64) ([]LineAddr, error) {
	return r.lineRows(`select addr, loc from lines
		where ? <= addr and addr < ? order by addr, rowid`, int64(lo), int64(hi))
}

// Addr2Line returns the source location of the code at addr: the last
// line table row at or before addr inside the function containing addr.
// Outside functions only an exact match is accepted.
func (r *Reader) Addr2Line(addr uint64) (Location, error) {
	lo := addr
	if fn, err := r.FunctionAt(addr); err == nil {
		lo = fn.Lo
	}
	lines, err := r.lineRows(`select addr, loc from lines
		where ? <= addr and addr <= ? order by addr desc, rowid desc limit 1`, int64(lo), int64(addr))
	if err != nil {
		return Location{}, err
	}
	if len(lines) == 0 {
		return Location{}, &UnknownLocationError{What: fmt.Sprintf("no line information for %#x", addr)}
	}
	return lines[0].Loc, nil
}

// Line2Addr returns the address of the code of line in file. Lines that
// map to more than one address are ambiguous.
func (r *Reader) Line2Addr(file string, line int) (uint64, error) {
	files, err := r.Files()
	if err != nil {
		return 0, err
	}
	path, err := files.Expand(file)
	if err != nil {
		return 0, err
	}
	addrs, err := r.addrs(`select distinct lines.addr from lines
		join locations on lines.loc = locations.id
		where locations.line = ?
		and locations.file = (select id from files where path = ?)
		and lines.addr is not null
		order by lines.addr`, line, path)
	if err != nil {
		return 0, err
	}
	return unique(fmt.Sprintf("%s:%d", files.Simplify(path), line), addrs)
}

// TraceableLine is a source line with code.
type TraceableLine struct {
	Line int
	Addr uint64
}

// TraceableLines returns the lines of file that have code, ordered by
// line and address.
func (r *Reader) TraceableLines(file string) ([]TraceableLine, error) {
	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	path, err := files.Expand(file)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(`select locations.line, lines.addr
		from locations join lines on locations.id = lines.loc
		where locations.file = (select id from files where path = ?)
		and lines.addr is not null
		order by locations.line, lines.addr`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tl []TraceableLine
	for rows.Next() {
		var (
			l    TraceableLine
			addr int64
		)
		if err := rows.Scan(&l.Line, &addr); err != nil {
			return nil, err
		}
		l.Addr = uint64(addr)
		tl = append(tl, l)
	}
	return tl, rows.Err()
}

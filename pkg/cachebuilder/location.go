package cachebuilder

import (
	"database/sql"
	"sort"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/reader"
)

type flc struct {
	file, line, col int64
}

// Locations assigns ids to source files and to file, line, column
// triples. Ids are assigned in increasing order starting from zero.
type Locations struct {
	files map[string]int64
	paths []string

	locs  map[flc]int64
	order []flc
}

// NewLocations returns a registry whose first file ids are assigned to
// the given paths in sorted order.
func NewLocations(paths []string) *Locations {
	l := &Locations{files: make(map[string]int64), locs: make(map[flc]int64)}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		l.FileID(p)
	}
	return l
}

func unitFiles(tree *reader.Tree) []string {
	var r []string
	for _, u := range tree.Units {
		for _, f := range u.Files() {
			if f != "" {
				r = append(r, f)
			}
		}
	}
	return r
}

// FileID returns the id of path, registering it if needed.
func (l *Locations) FileID(path string) int64 {
	if id, ok := l.files[path]; ok {
		return id
	}
	id := int64(len(l.paths))
	l.files[path] = id
	l.paths = append(l.paths, path)
	return id
}

// InsertFLC returns the id of the location file:line:col. Inserting the
// same triple twice returns the same id.
func (l *Locations) InsertFLC(file string, line, col int64) int64 {
	k := flc{l.FileID(file), line, col}
	if id, ok := l.locs[k]; ok {
		return id
	}
	id := int64(len(l.order))
	l.locs[k] = id
	l.order = append(l.order, k)
	return id
}

// InsertEntry inserts the declaration coordinates of e. The result is
// invalid if e has no DW_AT_decl_file.
func (l *Locations) InsertEntry(e *reader.Entry) sql.NullInt64 {
	file, line, col, ok := e.DeclLocation()
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: l.InsertFLC(file, line, col), Valid: true}
}

// String returns a human readable description of the location with the
// given id.
func (l *Locations) String(id sql.NullInt64) string {
	if !id.Valid || id.Int64 < 0 || id.Int64 >= int64(len(l.order)) {
		return "<unknown location>"
	}
	k := l.order[id.Int64]
	return describeFLC(l.paths[k.file], k.line, k.col)
}

func (l *Locations) rows() ([]cachestore.File, []cachestore.Location) {
	files := make([]cachestore.File, len(l.paths))
	for i, p := range l.paths {
		files[i] = cachestore.File{ID: int64(i), Path: p}
	}
	locs := make([]cachestore.Location, len(l.order))
	for i, k := range l.order {
		locs[i] = cachestore.Location{ID: int64(i), File: k.file, Line: k.line, Col: k.col}
	}
	return files, locs
}

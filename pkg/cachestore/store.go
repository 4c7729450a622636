// Package cachestore persists debug information caches in SQLite files.
//
// A cache is written once, into a temporary file that is renamed over the
// destination when complete, and is only ever opened read-only afterwards.
package cachestore

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Masterminds/semver/v3"
	_ "modernc.org/sqlite"

	"github.com/adbi/idk/pkg/logflags"
)

const driverName = "sqlite"

var errCacheStale = errors.New("cache is stale")

// Stale reports whether err was returned because a cache is older than
// its binary or was written with an incompatible layout.
func Stale(err error) bool {
	return errors.Is(err, errCacheStale)
}

// EncodeExpr encodes an expression for an expr column.
func EncodeExpr(expr []byte) string {
	return base64.StdEncoding.EncodeToString(expr)
}

// DecodeExpr decodes the content of an expr column.
func DecodeExpr(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Store writes c to path, replacing any existing file. Nothing is written
// to path if an error occurs.
func Store(path string, c *Cache) (err error) {
	log := logflags.StoreLogger()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	db, err := sql.Open(driverName, dsn(tmpPath, false))
	if err != nil {
		return err
	}
	if err = write(db, c); err != nil {
		db.Close()
		return fmt.Errorf("writing cache %s: %w", path, err)
	}
	if err = db.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	log.Infof("cache written to %s", path)
	return nil
}

// OpenMemory returns an in-memory database holding c.
func OpenMemory(c *Cache) (*sql.DB, error) {
	db, err := sql.Open(driverName, "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is a different database
	db.SetMaxOpenConns(1)
	if err := write(db, c); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Fresh reports whether the cache at cachePath can be used for the binary
// at binPath. A cache is fresh if it was modified no earlier than the
// binary.
func Fresh(cachePath, binPath string) (bool, error) {
	cfi, err := os.Stat(cachePath)
	if err != nil {
		return false, err
	}
	bfi, err := os.Stat(binPath)
	if err != nil {
		return false, err
	}
	return !cfi.ModTime().Before(bfi.ModTime()), nil
}

// Open opens the cache at cachePath read-only. If the cache is older than
// the binary at binPath, or its layout version is incompatible, an error
// satisfying Stale is returned. If the cache does not exist the error
// satisfies errors.Is(err, fs.ErrNotExist).
func Open(cachePath, binPath string) (*sql.DB, error) {
	log := logflags.StoreLogger()

	fresh, err := Fresh(cachePath, binPath)
	if err != nil {
		return nil, err
	}
	if !fresh {
		log.Infof("cache %s is older than %s", cachePath, binPath)
		return nil, fmt.Errorf("%s: %w", cachePath, errCacheStale)
	}

	db, err := sql.Open(driverName, dsn(cachePath, true))
	if err != nil {
		return nil, err
	}
	if err := checkVersion(db); err != nil {
		db.Close()
		log.Infof("cache %s: %v", cachePath, err)
		return nil, fmt.Errorf("%s: %w", cachePath, err)
	}
	return db, nil
}

func dsn(path string, readOnly bool) string {
	s := "file:" + path + "?_pragma=foreign_keys(1)"
	if readOnly {
		s += "&mode=ro"
	}
	return s
}

func checkVersion(db *sql.DB) error {
	var s string
	err := db.QueryRow(`select value from meta where key = 'version'`).Scan(&s)
	if err != nil {
		return fmt.Errorf("%v: %w", err, errCacheStale)
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return fmt.Errorf("bad cache version %q: %w", s, errCacheStale)
	}
	if v.Major() != SchemaVersion.Major() {
		return fmt.Errorf("cache version %s is incompatible with %s: %w", v, SchemaVersion, errCacheStale)
	}
	return nil
}

func write(db *sql.DB, c *Cache) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := writeTables(tx, c); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type inserter struct {
	tx  *sql.Tx
	log logflags.Logger
	err error
}

// insert runs query once for each of the n rows returned by row. After
// the first error insert does nothing.
func (ins *inserter) insert(table, query string, n int, row func(i int) []interface{}) {
	if ins.err != nil {
		return
	}
	stmt, err := ins.tx.Prepare(query)
	if err != nil {
		ins.err = fmt.Errorf("%s: %w", table, err)
		return
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(row(i)...); err != nil {
			ins.err = fmt.Errorf("%s row %d: %w", table, i, err)
			return
		}
	}
	ins.log.Debugf("stored %d %s", n, table)
}

func writeTables(tx *sql.Tx, c *Cache) error {
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	ins := &inserter{tx: tx, log: logflags.StoreLogger()}

	meta := [][2]string{
		{"version", SchemaVersion.String()},
		{"ptrsize", strconv.Itoa(c.PtrSize)},
	}
	ins.insert("meta", `insert into meta (key, value) values (?, ?)`, len(meta), func(i int) []interface{} {
		return []interface{}{meta[i][0], meta[i][1]}
	})
	ins.insert("files", `insert into files (path, id) values (?, ?)`, len(c.Files), func(i int) []interface{} {
		f := &c.Files[i]
		return []interface{}{f.Path, f.ID}
	})
	ins.insert("locations", `insert into locations (id, file, line, col) values (?, ?, ?, ?)`, len(c.Locations), func(i int) []interface{} {
		l := &c.Locations[i]
		return []interface{}{l.ID, l.File, l.Line, l.Col}
	})
	ins.insert("types", `insert into types (id, kind, name, bytes, inner, loc) values (?, ?, ?, ?, ?, ?)`, len(c.Types), func(i int) []interface{} {
		t := &c.Types[i]
		return []interface{}{t.ID, t.Kind.String(), t.Name, t.Bytes, t.Inner, t.Loc}
	})
	ins.insert("members", `insert into members (parent, type, offset, name, loc) values (?, ?, ?, ?, ?)`, len(c.Members), func(i int) []interface{} {
		m := &c.Members[i]
		return []interface{}{m.Parent, m.Type, m.Offset, m.Name, m.Loc}
	})
	ins.insert("enumerators", `insert into enumerators (parent, name, value, loc) values (?, ?, ?, ?)`, len(c.Enumerators), func(i int) []interface{} {
		e := &c.Enumerators[i]
		return []interface{}{e.Parent, e.Name, e.Value, e.Loc}
	})
	ins.insert("array_dim", `insert into array_dim (id, num, size) values (?, ?, ?)`, len(c.ArrayDims), func(i int) []interface{} {
		d := &c.ArrayDims[i]
		return []interface{}{d.ID, d.Num, d.Size}
	})
	ins.insert("functions", `insert into functions (id, name, lo, hi, loc) values (?, ?, ?, ?, ?)`, len(c.Functions), func(i int) []interface{} {
		f := &c.Functions[i]
		return []interface{}{f.ID, f.Name, int64(f.Lo), int64(f.Hi), f.Loc}
	})
	ins.insert("variables", `insert into variables (id, type, name, global, loc) values (?, ?, ?, ?, ?)`, len(c.Variables), func(i int) []interface{} {
		v := &c.Variables[i]
		return []interface{}{v.ID, v.Type, v.Name, v.Global, v.Loc}
	})
	ins.insert("params", `insert into params (func, var, idx) values (?, ?, ?)`, len(c.Params), func(i int) []interface{} {
		p := &c.Params[i]
		return []interface{}{p.Func, p.Var, p.Idx}
	})
	ins.insert("framepointers", `insert into framepointers (func, lo, hi, expr) values (?, ?, ?, ?)`, len(c.FramePointers), func(i int) []interface{} {
		fp := &c.FramePointers[i]
		return []interface{}{fp.Func, fp.Lo, fp.Hi, EncodeExpr(fp.Expr)}
	})
	ins.insert("variables2ranges", `insert into variables2ranges (var, lo, hi) values (?, ?, ?)`, len(c.VarRanges), func(i int) []interface{} {
		r := &c.VarRanges[i]
		return []interface{}{r.Var, int64(r.Lo), int64(r.Hi)}
	})
	ins.insert("variables2expressions", `insert into variables2expressions (var, lo, hi, expr) values (?, ?, ?, ?)`, len(c.VarExprs), func(i int) []interface{} {
		e := &c.VarExprs[i]
		return []interface{}{e.Var, e.Lo, e.Hi, EncodeExpr(e.Expr)}
	})
	ins.insert("lines", `insert into lines (addr, loc) values (?, ?)`, len(c.Lines), func(i int) []interface{} {
		l := &c.Lines[i]
		return []interface{}{l.Addr, l.Loc}
	})
	ins.insert("symbols", `insert into symbols (id, name, value, size, bind, type, vis, shndx) values (?, ?, ?, ?, ?, ?, ?, ?)`, len(c.Symbols), func(i int) []interface{} {
		s := &c.Symbols[i]
		return []interface{}{s.ID, s.Name, int64(s.Value), int64(s.Size), s.Bind, s.Type, s.Vis, s.Shndx}
	})
	ins.insert("insnset", `insert into insnset (addr, kind) values (?, ?)`, len(c.InsnSet), func(i int) []interface{} {
		m := &c.InsnSet[i]
		return []interface{}{int64(m.Addr), m.Kind.String()}
	})
	ins.insert("cfi", `insert into cfi (lo, hi, expr) values (?, ?, ?)`, len(c.CFI), func(i int) []interface{} {
		r := &c.CFI[i]
		return []interface{}{int64(r.Lo), int64(r.Hi), EncodeExpr(r.Expr)}
	})
	ins.insert("sections", `insert into sections (id, name, type, addr, offset, size, flags) values (?, ?, ?, ?, ?, ?, ?)`, len(c.Sections), func(i int) []interface{} {
		s := &c.Sections[i]
		return []interface{}{s.ID, s.Name, s.Type, int64(s.Addr), int64(s.Offset), int64(s.Size), s.Flags}
	})
	return ins.err
}

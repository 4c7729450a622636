package cachestore

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleCache() *Cache {
	return &Cache{
		Files:     []File{{ID: 0, Path: "/src/a.c"}},
		Locations: []Location{{ID: 0, File: 0, Line: 10, Col: 4}},
		Types: []Type{
			{ID: 0, Kind: KindInt, Name: sql.NullString{String: "int", Valid: true}, Bytes: sql.NullInt64{Int64: 4, Valid: true}},
			{ID: 1, Kind: KindPtr, Bytes: sql.NullInt64{Int64: 4, Valid: true}, Inner: sql.NullInt64{Int64: 0, Valid: true}},
		},
		Functions: []Function{{ID: 0, Name: "main", Lo: 0x100, Hi: 0x120, Loc: sql.NullInt64{Int64: 0, Valid: true}}},
		Variables: []Variable{{ID: 0, Type: 1, Name: sql.NullString{String: "p", Valid: true}}},
		Params:    []Param{{Func: 0, Var: 0, Idx: 0}},
		VarExprs:  []VarExpr{{Var: 0, Expr: []byte{0x91, 0x78}}},
		InsnSet:   []InsnMapping{{Addr: 0x100, Kind: InsnThumb}},
	}
}

func TestStoreAndOpen(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	if err := os.WriteFile(bin, []byte("ELF"), 0644); err != nil {
		t.Fatal(err)
	}
	cache := bin + ".ac"
	if err := Store(cache, sampleCache()); err != nil {
		t.Fatal(err)
	}

	db, err := Open(cache, bin)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var kind string
	var inner int64
	if err := db.QueryRow(`select kind, inner from types where id = 1`).Scan(&kind, &inner); err != nil {
		t.Fatal(err)
	}
	if kind != "ptr" || inner != 0 {
		t.Errorf("got kind %q inner %d", kind, inner)
	}

	var expr string
	if err := db.QueryRow(`select expr from variables2expressions where var = 0`).Scan(&expr); err != nil {
		t.Fatal(err)
	}
	b, err := DecodeExpr(expr)
	if err != nil || len(b) != 2 || b[0] != 0x91 || b[1] != 0x78 {
		t.Errorf("bad expression %q %v", expr, err)
	}

	var ikind string
	if err := db.QueryRow(`select kind from insnset`).Scan(&ikind); err != nil {
		t.Fatal(err)
	}
	if k, err := ParseInsnKind(ikind); err != nil || k != InsnThumb {
		t.Errorf("insn kind %q %v", ikind, err)
	}

	matches, _ := filepath.Glob(cache + ".tmp*")
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestStoreFailureKeepsOldCache(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "bin.ac")
	if err := os.WriteFile(cache, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	c := sampleCache()
	// reference to a type that does not exist
	c.Types[1].Inner = sql.NullInt64{Int64: 42, Valid: true}
	if err := Store(cache, c); err == nil {
		t.Fatal("expected foreign key violation")
	}
	b, err := os.ReadFile(cache)
	if err != nil || string(b) != "old" {
		t.Errorf("cache was modified: %q %v", b, err)
	}
	matches, _ := filepath.Glob(cache + ".tmp*")
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestStale(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	cache := bin + ".ac"
	if err := os.WriteFile(bin, []byte("ELF"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(cache, bin)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing cache: got %v", err)
	}

	if err := Store(cache, sampleCache()); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(cache, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(bin, now, now); err != nil {
		t.Fatal(err)
	}
	_, err = Open(cache, bin)
	if !Stale(err) {
		t.Fatalf("expected stale cache, got %v", err)
	}

	if err := Store(cache, sampleCache()); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(cache, now.Add(time.Second), now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	db, err := Open(cache, bin)
	if err != nil {
		t.Fatalf("rebuilt cache: %v", err)
	}
	db.Close()
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory(sampleCache())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`select count(*) from functions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 function, got %d", n)
	}
}

func TestKindNames(t *testing.T) {
	for k := KindUnsupported; k <= KindArray; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("%v: got %v %v", k, got, err)
		}
	}
}

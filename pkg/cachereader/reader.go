// Package cachereader answers debug information queries from a cache.
//
// A Reader is one session over one cache. Objects are reconstructed from
// the cache on first use and memoized by id for the lifetime of the
// session, so two lookups of the same id return the same pointer. A
// Reader is not safe for concurrent use; open one Reader per goroutine.
package cachereader

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/adbi/idk/pkg/bininfo"
	"github.com/adbi/idk/pkg/cachebuilder"
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/config"
	"github.com/adbi/idk/pkg/logflags"
)

// Reader is a query session over the cache of one binary.
type Reader struct {
	db      *sql.DB
	binPath string
	cfg     *config.Config
	log     logflags.Logger
	ptrSize int

	void      *DataType
	types     map[int64]*DataType
	variables map[int64]*Variable
	functions map[int64]*Function
	locations map[int64]Location

	files     *Files
	insnset   []InsnRange
	funcNames *trie.Trie

	// address keyed expression lookups
	framePointers *lru.Cache
	cfa           *lru.Cache
}

// Load opens the cache of the binary at binPath, building it first if it
// does not exist. A cache older than the binary is rebuilt unless the
// configuration disables it, in which case an error is returned.
func Load(binPath string, cfg *config.Config) (*Reader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logflags.StoreLogger()

	if _, err := os.Stat(binPath); err != nil {
		return nil, err
	}
	cachePath := cfg.CachePath(binPath)

	db, err := cachestore.Open(cachePath, binPath)
	switch {
	case err == nil:
		log.Debugf("using cache %s", cachePath)
	case errors.Is(err, fs.ErrNotExist):
		log.Infof("no cache for %s", binPath)
		db, err = build(binPath, cachePath, cfg)
	case cachestore.Stale(err):
		if !enabled(cfg.RebuildStale) {
			return nil, fmt.Errorf("cache %s is out of date and rebuilding is disabled", cachePath)
		}
		log.Infof("rebuilding cache %s", cachePath)
		db, err = build(binPath, cachePath, cfg)
	}
	if err != nil {
		return nil, err
	}

	r, err := New(db, binPath, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Build extracts the cache content of the binary at binPath.
func Build(binPath string) (*cachestore.Cache, error) {
	bi, err := bininfo.Load(binPath)
	if err != nil {
		return nil, err
	}
	return cachebuilder.Build(bi)
}

func build(binPath, cachePath string, cfg *config.Config) (*sql.DB, error) {
	c, err := Build(binPath)
	if err != nil {
		return nil, err
	}
	if !enabled(cfg.StoreCache) {
		return cachestore.OpenMemory(c)
	}
	if err := cachestore.Store(cachePath, c); err != nil {
		return nil, err
	}
	return cachestore.Open(cachePath, binPath)
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// New returns a Reader over db, an open cache of the binary at binPath.
// The Reader takes ownership of db.
func New(db *sql.DB, binPath string, cfg *config.Config) (*Reader, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	size := cfg.ExprCacheSize
	if size <= 0 {
		size = config.DefaultExprCacheSize
	}
	fp, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	cfa, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		db:            db,
		binPath:       binPath,
		cfg:           cfg,
		log:           logflags.ReaderLogger(),
		ptrSize:       4,
		types:         make(map[int64]*DataType),
		variables:     make(map[int64]*Variable),
		functions:     make(map[int64]*Function),
		locations:     make(map[int64]Location),
		framePointers: fp,
		cfa:           cfa,
	}
	r.void = &DataType{r: r, void: true, Name: "void"}

	var s string
	switch err := db.QueryRow(`select value from meta where key = 'ptrsize'`).Scan(&s); {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			r.ptrSize = n
		}
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// BinaryPath returns the path of the binary described by the cache.
func (r *Reader) BinaryPath() string {
	return r.binPath
}

// PtrSize returns the size of an address of the target machine.
func (r *Reader) PtrSize() int {
	return r.ptrSize
}

func (r *Reader) ids(query string, args ...interface{}) ([]int64, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Reader) addrs(query string, args ...interface{}) ([]uint64, error) {
	ids, err := r.ids(query, args...)
	if err != nil {
		return nil, err
	}
	addrs := make([]uint64, len(ids))
	for i, id := range ids {
		addrs[i] = uint64(id)
	}
	return addrs, nil
}

// location returns the location with the given id. An invalid id yields
// the undefined location.
func (r *Reader) location(id sql.NullInt64) (Location, error) {
	if !id.Valid {
		return Location{}, nil
	}
	if l, ok := r.locations[id.Int64]; ok {
		return l, nil
	}
	files, err := r.Files()
	if err != nil {
		return Location{}, err
	}
	var l Location
	err = r.db.QueryRow(`select files.path, locations.line, locations.col
		from locations join files on files.id = locations.file
		where locations.id = ?`, id.Int64).Scan(&l.File, &l.Line, &l.Col)
	if err != nil {
		return Location{}, fmt.Errorf("location %d: %w", id.Int64, err)
	}
	l.short = files.Simplify(l.File)
	r.locations[id.Int64] = l
	return l, nil
}

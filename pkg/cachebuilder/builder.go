// Package cachebuilder extracts the debug information of a binary into the
// rows of a cache: source locations, deduplicated types, functions,
// variables, line tables, call frame information, symbols, sections and
// the instruction set mapping.
//
// Problems with single records (an address outside of every loaded
// section, an unsupported member location) are logged and the record is
// skipped, they never abort the build.
package cachebuilder

import (
	"fmt"

	"github.com/adbi/idk/pkg/bininfo"
	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/loclist"
	"github.com/adbi/idk/pkg/dwarf/reader"
	"github.com/adbi/idk/pkg/logflags"
)

type builder struct {
	bi    *bininfo.BinaryInfo
	tree  *reader.Tree
	log   logflags.Logger
	loc   *loclist.Dwarf2Reader
	locs  *Locations
	types *typeGraph
	cache *cachestore.Cache

	// varByOffset maps the offset of a retained variable entry to its id.
	varByOffset map[uint64]int64
}

// Build extracts the cache content of bi.
func Build(bi *bininfo.BinaryInfo) (*cachestore.Cache, error) {
	if bi.Dwarf == nil {
		return nil, bininfo.ErrMissingDebugInfo
	}
	tree, err := reader.Load(bi.Dwarf)
	if err != nil {
		return nil, fmt.Errorf("reading debug information: %w", err)
	}

	b := &builder{
		bi:          bi,
		tree:        tree,
		log:         logflags.BuilderLogger(),
		loc:         loclist.NewDwarf2Reader(bi.DebugLoc, bi.PtrSize, bi.ByteOrder),
		locs:        NewLocations(unitFiles(tree)),
		cache:       &cachestore.Cache{PtrSize: bi.PtrSize},
		varByOffset: make(map[uint64]int64),
	}

	b.collectSections()
	b.collectSymbols()
	b.collectInsnSet()
	b.collectLines()
	b.buildTypes()
	b.types.rows(b.cache)
	b.collectVariables()
	b.collectFunctions()
	b.collectCFI()
	b.cache.Files, b.cache.Locations = b.locs.rows()

	b.log.Debugf("%d files, %d locations, %d types, %d functions, %d variables",
		len(b.cache.Files), len(b.cache.Locations), len(b.cache.Types), len(b.cache.Functions), len(b.cache.Variables))
	return b.cache, nil
}

func (b *builder) entryLogger(e *reader.Entry) logflags.Logger {
	fields := logflags.Fields{"die": fmt.Sprintf("%#x", e.Offset)}
	if name := e.Name(); name != "" {
		fields["name"] = name
	}
	return b.log.WithFields(fields)
}

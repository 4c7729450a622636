package cachebuilder

import (
	"strings"

	"github.com/adbi/idk/pkg/cachestore"
)

const linkerPrefix = "__dl_"

// mappingSymbol reports whether name is an ARM mapping symbol and returns
// the instruction set it marks. Some linkers prefix every symbol of
// .symtab with __dl_.
func mappingSymbol(name string) (cachestore.InsnKind, bool) {
	name = strings.TrimPrefix(name, linkerPrefix)
	if len(name) < 2 || name[0] != '$' {
		return 0, false
	}
	switch name[1] {
	case 'a':
		return cachestore.InsnARM, true
	case 't':
		return cachestore.InsnThumb, true
	case 'x':
		return cachestore.InsnARM64, true
	case 'd':
		return cachestore.InsnData, true
	}
	return 0, false
}

func (b *builder) collectSections() {
	for _, s := range b.bi.Sections {
		b.cache.Sections = append(b.cache.Sections, cachestore.Section{
			ID:     int64(s.Index),
			Name:   s.Name,
			Type:   int64(s.Type),
			Addr:   s.Addr,
			Offset: s.Offset,
			Size:   s.Size,
			Flags:  int64(s.Flags),
		})
	}
}

func (b *builder) collectSymbols() {
	for _, sym := range b.bi.Symbols {
		if _, ok := mappingSymbol(sym.Name); ok {
			continue
		}
		b.cache.Symbols = append(b.cache.Symbols, cachestore.Symbol{
			ID:    int64(len(b.cache.Symbols)),
			Name:  sym.Name,
			Value: sym.Value,
			Size:  sym.Size,
			Bind:  int64(sym.Bind),
			Type:  int64(sym.Type),
			Vis:   int64(sym.Visibility),
			Shndx: int64(sym.Shndx),
		})
	}
}

func (b *builder) collectInsnSet() {
	for _, sym := range b.bi.Symbols {
		kind, ok := mappingSymbol(sym.Name)
		if !ok {
			continue
		}
		off, err := b.bi.AddrToOffset(sym.Value)
		if err != nil {
			continue
		}
		b.cache.InsnSet = append(b.cache.InsnSet, cachestore.InsnMapping{Addr: off, Kind: kind})
	}
}

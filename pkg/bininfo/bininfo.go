// Package bininfo loads the parts of an ELF binary needed to build a debug
// information cache: the section table, the symbol tables and the DWARF
// sections. It also translates virtual addresses to file offsets.
package bininfo

import (
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrMissingDebugInfo is returned when a binary has no DWARF sections.
var ErrMissingDebugInfo = errors.New("could not find debug information")

// InvalidAddressError is returned when an address does not belong to any
// section that is loaded in memory.
type InvalidAddressError struct {
	Addr uint64
}

func (err *InvalidAddressError) Error() string {
	return fmt.Sprintf("address %#x is invalid", err.Addr)
}

// Section describes one entry of the ELF section header table.
type Section struct {
	Index  int
	Name   string
	Type   elf.SectionType
	Addr   uint64
	Offset uint64
	Size   uint64
	Flags  elf.SectionFlag
}

// Loaded reports whether the section occupies memory at runtime.
func (s *Section) Loaded() bool {
	return s.Flags&elf.SHF_ALLOC != 0
}

// Symbol is an ELF symbol table entry.
type Symbol struct {
	Name       string
	Value      uint64
	Size       uint64
	Bind       elf.SymBind
	Type       elf.SymType
	Visibility elf.SymVis
	Shndx      elf.SectionIndex
}

// BinaryInfo holds the static information about a binary.
type BinaryInfo struct {
	Path    string
	ModTime time.Time

	Machine   elf.Machine
	ByteOrder binary.ByteOrder
	PtrSize   int

	// Sections does not include the null section at index 0.
	Sections []Section
	Symbols  []Symbol

	Dwarf      *dwarf.Data
	DebugLoc   []byte
	DebugFrame []byte
}

// Load reads the binary at path.
func Load(path string) (*BinaryInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bi, err := LoadELF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bi.Path = path
	bi.ModTime = fi.ModTime()
	return bi, nil
}

// LoadELF reads the section table, symbols and debug sections of f.
func LoadELF(f *elf.File) (*BinaryInfo, error) {
	if f.Section(".debug_info") == nil {
		return nil, ErrMissingDebugInfo
	}
	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("could not read debug information: %w", err)
	}

	bi := &BinaryInfo{
		Machine:   f.Machine,
		ByteOrder: f.ByteOrder,
		PtrSize:   4,
		Dwarf:     data,
	}
	if f.Class == elf.ELFCLASS64 {
		bi.PtrSize = 8
	}

	for i, s := range f.Sections {
		if i == 0 {
			continue
		}
		bi.Sections = append(bi.Sections, Section{
			Index:  i,
			Name:   s.Name,
			Type:   s.Type,
			Addr:   s.Addr,
			Offset: s.Offset,
			Size:   s.Size,
			Flags:  s.Flags,
		})
	}

	bi.DebugLoc, err = sectionData(f, ".debug_loc")
	if err != nil {
		return nil, err
	}
	bi.DebugFrame, err = sectionData(f, ".debug_frame")
	if err != nil {
		return nil, err
	}

	for _, load := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := load()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				continue
			}
			return nil, err
		}
		for _, sym := range syms {
			bi.Symbols = append(bi.Symbols, Symbol{
				Name:       sym.Name,
				Value:      sym.Value,
				Size:       sym.Size,
				Bind:       elf.ST_BIND(sym.Info),
				Type:       elf.ST_TYPE(sym.Info),
				Visibility: elf.ST_VISIBILITY(sym.Other),
				Shndx:      sym.Section,
			})
		}
	}

	return bi, nil
}

func sectionData(f *elf.File, name string) ([]byte, error) {
	s := f.Section(name)
	if s == nil || s.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", name, err)
	}
	return data, nil
}

// AddrToOffset converts a virtual address to a file offset. Only sections
// loaded in memory are considered.
func (bi *BinaryInfo) AddrToOffset(addr uint64) (uint64, error) {
	for i := range bi.Sections {
		s := &bi.Sections[i]
		if !s.Loaded() {
			continue
		}
		if s.Addr <= addr && addr < s.Addr+s.Size {
			return s.Offset + (addr - s.Addr), nil
		}
	}
	return 0, &InvalidAddressError{Addr: addr}
}

// EndToOffset converts the exclusive end of an address range to a file
// offset. Unlike AddrToOffset an address equal to the end of a loaded
// section is valid.
func (bi *BinaryInfo) EndToOffset(addr uint64) (uint64, error) {
	if off, err := bi.AddrToOffset(addr); err == nil {
		return off, nil
	}
	for i := range bi.Sections {
		s := &bi.Sections[i]
		if s.Loaded() && s.Size > 0 && addr == s.Addr+s.Size {
			return s.Offset + s.Size, nil
		}
	}
	return 0, &InvalidAddressError{Addr: addr}
}

// RangeToOffsets translates the half-open address range [lo, hi).
func (bi *BinaryInfo) RangeToOffsets(lo, hi uint64) (uint64, uint64, error) {
	olo, err := bi.AddrToOffset(lo)
	if err != nil {
		return 0, 0, err
	}
	ohi, err := bi.EndToOffset(hi)
	if err != nil {
		return 0, 0, err
	}
	return olo, ohi, nil
}

// Package dwarfbuilder provides a way to build DWARF sections with
// arbitrary contents.
package dwarfbuilder

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// Builder dwarf builder
type Builder struct {
	ptrSize int

	info     bytes.Buffer
	loc      bytes.Buffer
	ranges   bytes.Buffer
	line     bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState

	cuStart int
	cuOpen  bool
}

// New creates a new DWARF builder for a target with 4 byte addresses.
// Call AddCompileUnit before adding entries.
func New() *Builder {
	return NewWithPtrSize(4)
}

// NewWithPtrSize creates a new DWARF builder for a target with addresses
// of the given size.
func NewWithPtrSize(ptrSize int) *Builder {
	return &Builder{ptrSize: ptrSize}
}

// AddCompileUnit starts a new compilation unit, closing the current one.
// If lines is not nil a line program is written for the unit.
func (b *Builder) AddCompileUnit(name, compDir string, lowpc uint64, lines *LineProgram) dwarf.Offset {
	if b.cuOpen {
		b.CloseCompileUnit()
	}
	b.cuStart = b.info.Len()
	b.cuOpen = true
	b.info.Write([]byte{
		0x0, 0x0, 0x0, 0x0, // length
		0x4, 0x0, // version
		0x0, 0x0, 0x0, 0x0, // debug_abbrev_offset
		byte(b.ptrSize), // address_size
	})

	r := b.TagOpen(dwarf.TagCompileUnit, name)
	b.Attr(dwarf.AttrLanguage, uint8(0x01)) // DW_LANG_C89
	if compDir != "" {
		b.Attr(dwarf.AttrCompDir, compDir)
	}
	b.Attr(dwarf.AttrLowpc, Address(lowpc))
	if lines != nil {
		b.Attr(dwarf.AttrStmtList, SecOffset(b.line.Len()))
		b.writeLineProgram(lines)
	}
	return r
}

// CloseCompileUnit closes the current compilation unit.
func (b *Builder) CloseCompileUnit() {
	b.TagClose()
	info := b.info.Bytes()
	binary.LittleEndian.PutUint32(info[b.cuStart:], uint32(len(info)-b.cuStart-4))
	b.cuOpen = false
}

// Build closes b and returns all the dwarf sections.
func (b *Builder) Build() (abbrev, aranges, frame, info, line, pubnames, ranges, str, loc []byte, err error) {
	if b.cuOpen {
		if len(b.tagStack) != 1 {
			err = fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack)-1)
			return
		}
		b.CloseCompileUnit()
	}

	if len(b.tagStack) > 0 {
		err = fmt.Errorf("unbalanced TagOpen/TagClose %d", len(b.tagStack))
		return
	}

	abbrev = b.makeAbbrevTable()
	info = b.info.Bytes()
	line = b.line.Bytes()
	ranges = b.ranges.Bytes()
	loc = b.loc.Bytes()

	return
}

// Data builds b and parses the result with debug/dwarf. It also returns
// the contents of .debug_loc.
func (b *Builder) Data() (*dwarf.Data, []byte, error) {
	abbrev, aranges, frame, info, line, pubnames, ranges, str, loc, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	data, err := dwarf.New(abbrev, aranges, frame, info, line, pubnames, ranges, str)
	if err != nil {
		return nil, nil, err
	}
	return data, loc, nil
}

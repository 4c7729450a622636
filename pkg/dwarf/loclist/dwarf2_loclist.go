// Package loclist reads DWARF 2 to 4 location lists from .debug_loc.
package loclist

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errTruncated = errors.New("unexpected end of .debug_loc")

// Dwarf2Reader parses and presents DWARF loclist information for DWARF versions 2 through 4.
type Dwarf2Reader struct {
	data      []byte
	cur       int
	ptrSz     int
	byteOrder binary.ByteOrder
}

// NewDwarf2Reader returns an initialized loclist Reader for DWARF versions 2 through 4.
func NewDwarf2Reader(data []byte, ptrSz int, byteOrder binary.ByteOrder) *Dwarf2Reader {
	if byteOrder == nil {
		byteOrder = binary.LittleEndian
	}
	return &Dwarf2Reader{data: data, ptrSz: ptrSz, byteOrder: byteOrder}
}

// Empty returns true if this reader has no data.
func (rdr *Dwarf2Reader) Empty() bool {
	return rdr.data == nil
}

// Seek moves the data pointer to the specified offset.
func (rdr *Dwarf2Reader) Seek(off int) {
	rdr.cur = off
}

// Next advances the reader to the next loclist entry. It returns false
// at the end of the list.
func (rdr *Dwarf2Reader) Next(e *Entry) (bool, error) {
	var err error
	if e.LowPC, err = rdr.oneAddr(); err != nil {
		return false, err
	}
	if e.HighPC, err = rdr.oneAddr(); err != nil {
		return false, err
	}

	if e.LowPC == 0 && e.HighPC == 0 {
		return false, nil
	}

	if e.BaseAddressSelection() {
		e.Instr = nil
		return true, nil
	}

	buf, err := rdr.read(2)
	if err != nil {
		return false, err
	}
	instrlen := rdr.byteOrder.Uint16(buf)
	e.Instr, err = rdr.read(int(instrlen))
	if err != nil {
		return false, err
	}
	return true, nil
}

// All returns the entries of the location list starting at off, with
// addresses made absolute. Base is the base address of the compile unit,
// base address selection entries replace it for the entries that follow.
func (rdr *Dwarf2Reader) All(off int, base uint64) ([]Entry, error) {
	if off < 0 || off >= len(rdr.data) {
		return nil, fmt.Errorf("location list offset %#x out of range", off)
	}
	rdr.Seek(off)
	var r []Entry
	for {
		var e Entry
		ok, err := rdr.Next(&e)
		if err != nil {
			return nil, fmt.Errorf("location list at %#x: %w", off, err)
		}
		if !ok {
			return r, nil
		}
		if e.BaseAddressSelection() {
			base = e.HighPC
			continue
		}
		e.LowPC += base
		e.HighPC += base
		r = append(r, e)
	}
}

// Find returns the loclist entry for the specified PC address, inside the
// loclist stating at off. Base is the base address of the compile unit.
func (rdr *Dwarf2Reader) Find(off int, base, pc uint64) (*Entry, error) {
	entries, err := rdr.All(off, base)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if pc >= entries[i].LowPC && pc < entries[i].HighPC {
			return &entries[i], nil
		}
	}
	return nil, nil
}

func (rdr *Dwarf2Reader) read(sz int) ([]byte, error) {
	if rdr.cur+sz > len(rdr.data) {
		return nil, errTruncated
	}
	r := rdr.data[rdr.cur : rdr.cur+sz]
	rdr.cur += sz
	return r, nil
}

func (rdr *Dwarf2Reader) oneAddr() (uint64, error) {
	switch rdr.ptrSz {
	case 4:
		buf, err := rdr.read(rdr.ptrSz)
		if err != nil {
			return 0, err
		}
		addr := rdr.byteOrder.Uint32(buf)
		if addr == ^uint32(0) {
			return ^uint64(0), nil
		}
		return uint64(addr), nil
	case 8:
		buf, err := rdr.read(rdr.ptrSz)
		if err != nil {
			return 0, err
		}
		return rdr.byteOrder.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("bad address size %d", rdr.ptrSz)
	}
}

// Entry represents a single entry in the loclist section.
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// BaseAddressSelection returns true if entry.highpc should
// be used as the base address for subsequent entries.
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/adbi/idk/pkg/dwarf/leb128"
	"github.com/adbi/idk/pkg/dwarf/op"
)

// LocEntry represents one entry of debug_loc. Addresses are relative to
// the base address of the compilation unit unless Base is set.
type LocEntry struct {
	Lowpc  uint64
	Highpc uint64
	Loc    []byte
}

// LocList is a location list written to debug_loc, optionally preceded by
// a base address selection entry.
type LocList struct {
	Base    *uint64
	Entries []LocEntry
}

// LocationBlock returns a DWARF expression corresponding to the list of
// arguments.
func LocationBlock(args ...interface{}) []byte {
	var buf bytes.Buffer
	for _, arg := range args {
		switch x := arg.(type) {
		case op.Opcode:
			buf.WriteByte(byte(x))
		case int:
			leb128.EncodeSigned(&buf, int64(x))
		case uint:
			leb128.EncodeUnsigned(&buf, uint64(x))
		default:
			panic("unsupported value type")
		}
	}
	return buf.Bytes()
}

func (b *Builder) writeAddr(buf *bytes.Buffer, addr uint64) {
	if b.ptrSize == 8 {
		binary.Write(buf, binary.LittleEndian, addr)
	} else {
		binary.Write(buf, binary.LittleEndian, uint32(addr))
	}
}

func (b *Builder) writeLocList(list LocList) uint32 {
	off := uint32(b.loc.Len())

	if list.Base != nil {
		b.writeAddr(&b.loc, ^uint64(0))
		b.writeAddr(&b.loc, *list.Base)
	}

	for _, locentry := range list.Entries {
		b.writeAddr(&b.loc, locentry.Lowpc)
		b.writeAddr(&b.loc, locentry.Highpc)
		binary.Write(&b.loc, binary.LittleEndian, uint16(len(locentry.Loc)))
		b.loc.Write(locentry.Loc)
	}

	// end of loclist
	b.writeAddr(&b.loc, 0)
	b.writeAddr(&b.loc, 0)
	return off
}

// Range is an entry of debug_ranges, relative to the base address of the
// compilation unit.
type Range struct {
	Lowpc, Highpc uint64
}

func (b *Builder) writeRanges(rngs []Range) uint32 {
	off := uint32(b.ranges.Len())
	for _, rng := range rngs {
		b.writeAddr(&b.ranges, rng.Lowpc)
		b.writeAddr(&b.ranges, rng.Highpc)
	}
	b.writeAddr(&b.ranges, 0)
	b.writeAddr(&b.ranges, 0)
	return off
}

package loclist

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDwarf2Loclist(t *testing.T) {
	buf := new(bytes.Buffer)

	p32 := func(n uint32) { binary.Write(buf, binary.LittleEndian, n) }
	p16 := func(n uint16) { binary.Write(buf, binary.LittleEndian, n) }

	buf.Write([]byte{0xaa, 0xbb}) // padding, the list starts at 2
	off := buf.Len()

	// base+0x10 .. base+0x20: DW_OP_reg0
	p32(0x10)
	p32(0x20)
	p16(1)
	buf.WriteByte(0x50)

	// base address selection
	p32(0xffffffff)
	p32(0x8000)

	// 0x8004 .. 0x8010: DW_OP_fbreg -8
	p32(0x4)
	p32(0x10)
	p16(2)
	buf.Write([]byte{0x91, 0x78})

	// end of list
	p32(0)
	p32(0)

	rdr := NewDwarf2Reader(buf.Bytes(), 4, binary.LittleEndian)
	entries, err := rdr.All(off, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("wrong number of entries %d", len(entries))
	}

	tests := []struct {
		lo, hi uint64
		instr  []byte
	}{
		{0x1010, 0x1020, []byte{0x50}},
		{0x8004, 0x8010, []byte{0x91, 0x78}},
	}
	for i, tc := range tests {
		e := entries[i]
		if e.LowPC != tc.lo || e.HighPC != tc.hi || !bytes.Equal(e.Instr, tc.instr) {
			t.Errorf("entry %d: got %#x-%#x %x, expected %#x-%#x %x", i, e.LowPC, e.HighPC, e.Instr, tc.lo, tc.hi, tc.instr)
		}
	}

	e, err := rdr.Find(off, 0x1000, 0x8008)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.LowPC != 0x8004 {
		t.Fatalf("Find: wrong entry %v", e)
	}
	if e, _ := rdr.Find(off, 0x1000, 0x2000); e != nil {
		t.Fatalf("Find: expected no entry, got %v", e)
	}
}

func TestDwarf2LoclistTruncated(t *testing.T) {
	data := []byte{0x10, 0, 0, 0, 0x20, 0, 0, 0, 0x05}
	rdr := NewDwarf2Reader(data, 4, binary.LittleEndian)
	if _, err := rdr.All(0, 0); err == nil {
		t.Fatal("expected error for truncated list")
	}
}

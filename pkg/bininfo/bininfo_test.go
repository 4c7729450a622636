package bininfo

import (
	"debug/elf"
	"errors"
	"testing"
)

func fakeBinary() *BinaryInfo {
	return &BinaryInfo{
		Sections: []Section{
			{Index: 1, Name: ".text", Type: elf.SHT_PROGBITS, Addr: 0x1000, Offset: 0x200, Size: 0x100, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR},
			{Index: 2, Name: ".data", Type: elf.SHT_PROGBITS, Addr: 0x3000, Offset: 0x300, Size: 0x40, Flags: elf.SHF_ALLOC | elf.SHF_WRITE},
			{Index: 3, Name: ".debug_info", Type: elf.SHT_PROGBITS, Addr: 0, Offset: 0x400, Size: 0x1000},
		},
	}
}

func TestAddrToOffset(t *testing.T) {
	bi := fakeBinary()
	tests := []struct {
		addr uint64
		off  uint64
		ok   bool
	}{
		{0x1050, 0x250, true},
		{0x1000, 0x200, true},
		{0x10ff, 0x2ff, true},
		{0x1100, 0, false},
		{0x2000, 0, false},
		{0x3010, 0x310, true},
		// not loaded
		{0x10, 0, false},
	}
	for _, tc := range tests {
		off, err := bi.AddrToOffset(tc.addr)
		if !tc.ok {
			var aerr *InvalidAddressError
			if !errors.As(err, &aerr) {
				t.Errorf("%#x: expected InvalidAddressError, got %v", tc.addr, err)
			} else if aerr.Addr != tc.addr {
				t.Errorf("%#x: wrong address in error %#x", tc.addr, aerr.Addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%#x: %v", tc.addr, err)
			continue
		}
		if off != tc.off {
			t.Errorf("%#x: got %#x expected %#x", tc.addr, off, tc.off)
		}
	}
}

func TestEndToOffset(t *testing.T) {
	bi := fakeBinary()
	off, err := bi.EndToOffset(0x1100)
	if err != nil {
		t.Fatal(err)
	}
	if off != 0x300 {
		t.Fatalf("got %#x", off)
	}
	if _, err := bi.EndToOffset(0x1101); err == nil {
		t.Fatal("expected error past the end of .text")
	}
	lo, hi, err := bi.RangeToOffsets(0x1010, 0x1100)
	if err != nil || lo != 0x210 || hi != 0x300 {
		t.Fatalf("RangeToOffsets: %#x %#x %v", lo, hi, err)
	}
}

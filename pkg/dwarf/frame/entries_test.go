package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEntriesAt(t *testing.T) {
	frames := newEntries()
	frames = append(frames,
		&FrameDescriptionEntry{begin: 10, size: 40},
		&FrameDescriptionEntry{begin: 50, size: 50},
		&FrameDescriptionEntry{begin: 100, size: 100},
		&FrameDescriptionEntry{begin: 300, size: 10})

	for _, test := range []struct {
		pc  uint64
		fde *FrameDescriptionEntry
	}{
		{0, nil},
		{9, nil},
		{10, frames[0]},
		{35, frames[0]},
		{49, frames[0]},
		{50, frames[1]},
		{75, frames[1]},
		{100, frames[2]},
		{199, frames[2]},
		{200, nil},
		{299, nil},
		{300, frames[3]},
		{309, frames[3]},
		{310, nil},
		{400, nil}} {

		out, err := frames.At(test.pc)
		if test.fde != nil {
			if err != nil {
				t.Fatal(err)
			}
			if out != test.fde {
				t.Errorf("[pc = %#x] got incorrect fde\noutput:\t%#v\nexpected:\t%#v", test.pc, out, test.fde)
			}
		} else {
			if err == nil {
				t.Errorf("[pc = %#x] expected error got fde %#v", test.pc, out)
			}
		}
	}
}

// armDebugFrame returns a .debug_frame section with one CIE and one FDE
// covering [0x8000, 0x8020), in the shape GCC emits for 32-bit ARM.
func armDebugFrame(fdeInstr []byte) []byte {
	buf := new(bytes.Buffer)
	p32 := func(n uint32) { binary.Write(buf, binary.LittleEndian, n) }

	cie := []byte{
		1,    // version
		0,    // augmentation
		2,    // code alignment factor
		0x7c, // data alignment factor (-4)
		14,   // return address register
		DW_CFA_def_cfa, 13, 0,
	}
	for len(cie)%4 != 0 {
		cie = append(cie, DW_CFA_nop)
	}
	p32(uint32(len(cie) + 4))
	p32(0xffffffff)
	buf.Write(cie)

	fde := new(bytes.Buffer)
	binary.Write(fde, binary.LittleEndian, uint32(0x8000))
	binary.Write(fde, binary.LittleEndian, uint32(0x20))
	fde.Write(fdeInstr)
	for fde.Len()%4 != 0 {
		fde.WriteByte(DW_CFA_nop)
	}
	p32(uint32(fde.Len() + 4))
	p32(0) // CIE pointer
	buf.Write(fde.Bytes())
	return buf.Bytes()
}

func TestParseCIE(t *testing.T) {
	fdes, err := Parse(armDebugFrame(nil), binary.LittleEndian, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdes) != 1 {
		t.Fatalf("expected 1 FDE, got %d", len(fdes))
	}
	common := fdes[0].CIE
	if common.Version != 1 {
		t.Fatalf("Expected Version 1, but get %d", common.Version)
	}
	if common.CodeAlignmentFactor != 2 {
		t.Fatalf("Expected CodeAlignmentFactor 2, but get %d", common.CodeAlignmentFactor)
	}
	if common.DataAlignmentFactor != -4 {
		t.Fatalf("Expected DataAlignmentFactor -4, but get %d", common.DataAlignmentFactor)
	}
	if common.ReturnAddressRegister != 14 {
		t.Fatalf("Expected ReturnAddressRegister 14, but get %d", common.ReturnAddressRegister)
	}
	if fdes[0].Begin() != 0x8000 || fdes[0].End() != 0x8020 {
		t.Fatalf("wrong FDE range %#x-%#x", fdes[0].Begin(), fdes[0].End())
	}
}

func TestRows(t *testing.T) {
	data := armDebugFrame([]byte{
		DW_CFA_advance_loc | 1, // 0x8002
		DW_CFA_def_cfa_offset, 8,
		DW_CFA_offset | 14, 1,
		DW_CFA_advance_loc | 3, // 0x8008
		DW_CFA_def_cfa_register, 11,
	})
	fdes, err := Parse(data, binary.LittleEndian, 4)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := fdes[0].Rows()
	if err != nil {
		t.Fatal(err)
	}

	expected := []struct {
		loc    uint64
		reg    uint64
		offset int64
	}{
		{0x8000, 13, 0},
		{0x8002, 13, 8},
		{0x8008, 11, 8},
	}
	if len(rows) != len(expected) {
		t.Fatalf("expected %d rows, got %d: %#v", len(expected), len(rows), rows)
	}
	for i, tc := range expected {
		row := rows[i]
		if row.Loc != tc.loc || row.CFA.Rule != RuleCFA || row.CFA.Reg != tc.reg || row.CFA.Offset != tc.offset {
			t.Errorf("row %d: got %#x r%d%+d, expected %#x r%d%+d", i, row.Loc, row.CFA.Reg, row.CFA.Offset, tc.loc, tc.reg, tc.offset)
		}
	}

	fctx, err := fdes[0].FrameAt(0x8004)
	if err != nil {
		t.Fatal(err)
	}
	if fctx.CFA.Reg != 13 || fctx.CFA.Offset != 8 {
		t.Errorf("FrameAt: wrong CFA r%d%+d", fctx.CFA.Reg, fctx.CFA.Offset)
	}
	if fctx.Regs[14].Offset != -4 {
		t.Errorf("FrameAt: wrong lr rule %#v", fctx.Regs[14])
	}
}

func TestRowsExpression(t *testing.T) {
	data := armDebugFrame([]byte{
		DW_CFA_advance_loc | 2,
		DW_CFA_def_cfa_expression, 2, 0x7d, 0x10, // DW_OP_breg13 16
	})
	fdes, err := Parse(data, binary.LittleEndian, 4)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := fdes[0].Rows()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].CFA.Rule != RuleExpression || !bytes.Equal(rows[1].CFA.Expression, []byte{0x7d, 0x10}) {
		t.Fatalf("wrong CFA rule %#v", rows[1].CFA)
	}
}

func TestParseTruncated(t *testing.T) {
	data := armDebugFrame(nil)
	if _, err := Parse(data[:len(data)-6], binary.LittleEndian, 4); err == nil {
		t.Fatal("expected error")
	}
}

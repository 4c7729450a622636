package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/adbi/idk/pkg/dwarf/leb128"
)

// LineProgram describes the line number program of a compilation unit.
// Rows form a single sequence ending at End.
type LineProgram struct {
	// Files are relative to the compilation directory. DW_AT_decl_file
	// index i refers to Files[i-1].
	Files []string
	Rows  []LineRow
	End   uint64
}

// LineRow is one row of the line table.
type LineRow struct {
	Addr    uint64
	File    int
	Line    int
	Col     int
	NotStmt bool
}

const (
	dwLnsCopy        = 0x01
	dwLnsAdvanceLine = 0x03
	dwLnsSetFile     = 0x04
	dwLnsSetColumn   = 0x05
	dwLnsNegateStmt  = 0x06
	dwLneEndSequence = 0x01
	dwLneSetAddress  = 0x02
)

func (b *Builder) writeLineProgram(lp *LineProgram) {
	var hdr, prog bytes.Buffer

	hdr.WriteByte(1)    // minimum_instruction_length
	hdr.WriteByte(1)    // default_is_stmt
	hdr.WriteByte(0xfb) // line_base (-5)
	hdr.WriteByte(14)   // line_range
	hdr.WriteByte(13)   // opcode_base
	hdr.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	hdr.WriteByte(0) // no include directories
	for _, f := range lp.Files {
		hdr.WriteString(f)
		hdr.WriteByte(0)
		hdr.Write([]byte{0, 0, 0}) // directory, mtime, length
	}
	hdr.WriteByte(0)

	setAddress := func(addr uint64) {
		prog.WriteByte(0)
		leb128.EncodeUnsigned(&prog, uint64(1+b.ptrSize))
		prog.WriteByte(dwLneSetAddress)
		b.writeAddr(&prog, addr)
	}

	file, line, col, stmt := 1, 1, 0, true
	for _, row := range lp.Rows {
		setAddress(row.Addr)
		if row.File != file {
			prog.WriteByte(dwLnsSetFile)
			leb128.EncodeUnsigned(&prog, uint64(row.File))
			file = row.File
		}
		if row.Line != line {
			prog.WriteByte(dwLnsAdvanceLine)
			leb128.EncodeSigned(&prog, int64(row.Line-line))
			line = row.Line
		}
		if row.Col != col {
			prog.WriteByte(dwLnsSetColumn)
			leb128.EncodeUnsigned(&prog, uint64(row.Col))
			col = row.Col
		}
		if stmt == row.NotStmt {
			prog.WriteByte(dwLnsNegateStmt)
			stmt = !stmt
		}
		prog.WriteByte(dwLnsCopy)
	}
	setAddress(lp.End)
	prog.Write([]byte{0, 1, dwLneEndSequence})

	// unit_length, version, header_length
	binary.Write(&b.line, binary.LittleEndian, uint32(2+4+hdr.Len()+prog.Len()))
	binary.Write(&b.line, binary.LittleEndian, uint16(2))
	binary.Write(&b.line, binary.LittleEndian, uint32(hdr.Len()))
	b.line.Write(hdr.Bytes())
	b.line.Write(prog.Bytes())
}

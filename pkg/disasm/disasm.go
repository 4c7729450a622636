// Package disasm decodes the machine code of a binary. Addresses are file
// offsets, as everywhere in a cache, so branch targets are file offsets
// too.
package disasm

import (
	"fmt"
	"io"

	"github.com/adbi/idk/pkg/cachestore"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Offset uint64
	Bytes  []byte
	Size   int
	Set    cachestore.InsnKind
	Kind   Kind

	// Target is the destination of a branch, valid if HasTarget is set.
	Target    uint64
	HasTarget bool

	inst archInst
}

// Kind classifies an instruction by its effect on control flow.
type Kind uint8

const (
	OtherInstruction Kind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	HardBreakInstruction
)

func (k Kind) String() string {
	switch k {
	case CallInstruction:
		return "call"
	case RetInstruction:
		return "ret"
	case JmpInstruction:
		return "jmp"
	case HardBreakInstruction:
		return "break"
	}
	return "other"
}

// IsCall reports whether inst calls a function.
func (inst *Instruction) IsCall() bool {
	return inst.Kind == CallInstruction
}

// IsRet reports whether inst returns from a function.
func (inst *Instruction) IsRet() bool {
	return inst.Kind == RetInstruction
}

type archInst interface {
	Text(flavour AssemblyFlavour, pc uint64, symLookup func(uint64) (string, uint64)) string
}

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// GNUFlavour will display GNU assembly syntax.
	GNUFlavour = AssemblyFlavour(iota)
	// GoFlavour will display Go assembly syntax.
	GoFlavour
)

// Text returns the assembly of inst in the given flavour. symLookup, which
// may be nil, names branch targets in the Go flavour.
func (inst *Instruction) Text(flavour AssemblyFlavour, symLookup func(uint64) (string, uint64)) string {
	if inst.inst == nil {
		return "?"
	}
	return inst.inst.Text(flavour, inst.Offset, symLookup)
}

// UnsupportedSetError is returned for code that cannot be decoded.
type UnsupportedSetError struct {
	Set cachestore.InsnKind
}

func (err *UnsupportedSetError) Error() string {
	return fmt.Sprintf("cannot decode %s instructions", err.Set)
}

// maxInstructionLength is the size of every supported instruction.
const maxInstructionLength = 4

// Decode decodes the instruction of set starting at mem[0], located at
// offset off. Undecodable words still yield an instruction of full
// length, whose text is "?", along with the error.
func Decode(set cachestore.InsnKind, mem []byte, off uint64) (Instruction, error) {
	inst := Instruction{Offset: off, Set: set}
	if len(mem) < maxInstructionLength {
		return inst, io.ErrUnexpectedEOF
	}
	var err error
	switch set {
	case cachestore.InsnARM:
		err = armAsmDecode(&inst, mem)
	case cachestore.InsnARM64:
		err = arm64AsmDecode(&inst, mem)
	default:
		return inst, &UnsupportedSetError{Set: set}
	}
	return inst, err
}

// Disassemble decodes the code of set in [lo, hi), read from r at file
// offsets. Decoding errors of single instructions do not stop it.
func Disassemble(r io.ReaderAt, set cachestore.InsnKind, lo, hi uint64) ([]Instruction, error) {
	if set != cachestore.InsnARM && set != cachestore.InsnARM64 {
		return nil, &UnsupportedSetError{Set: set}
	}
	if hi < lo {
		return nil, fmt.Errorf("invalid range [%#x, %#x)", lo, hi)
	}
	mem := make([]byte, int(hi-lo))
	n, err := r.ReadAt(mem, int64(lo))
	if err != nil && !(err == io.EOF && n > 0) {
		return nil, err
	}
	mem = mem[:n]

	insts := make([]Instruction, 0, len(mem)/maxInstructionLength)
	off := lo
	for len(mem) >= maxInstructionLength {
		inst, _ := Decode(set, mem, off)
		insts = append(insts, inst)
		off += uint64(inst.Size)
		mem = mem[inst.Size:]
	}
	return insts, nil
}

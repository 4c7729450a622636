package disasm

import (
	"bytes"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// armBreakInstruction is the undefined instruction used as a breakpoint.
var armBreakInstruction = []byte{0xf0, 0x01, 0xf0, 0xe7}

func armAsmDecode(asmInst *Instruction, mem []byte) error {
	asmInst.Size = 4
	asmInst.Bytes = mem[:asmInst.Size]

	if bytes.Equal(asmInst.Bytes, armBreakInstruction) {
		asmInst.Kind = HardBreakInstruction
		return nil
	}

	inst, err := armasm.Decode(mem, armasm.ModeARM)
	if err != nil {
		return err
	}

	asmInst.inst = (*armArchInst)(&inst)
	asmInst.Kind = OtherInstruction

	switch inst.Op {
	case armasm.B, armasm.BX:
		asmInst.Kind = JmpInstruction
		if reg, ok := inst.Args[0].(armasm.Reg); ok && reg == armasm.LR {
			asmInst.Kind = RetInstruction
		}
	case armasm.BL, armasm.BLX:
		asmInst.Kind = CallInstruction
	case armasm.LDR, armasm.ADD, armasm.MOV:
		if reg, ok := inst.Args[0].(armasm.Reg); ok && reg == armasm.PC {
			asmInst.Kind = RetInstruction
		}
	case armasm.POP:
		if regList, ok := inst.Args[0].(armasm.RegList); ok && (regList&(1<<uint(armasm.PC)) != 0) {
			asmInst.Kind = RetInstruction
		}
	}

	switch inst.Op {
	case armasm.BL, armasm.BLX, armasm.B:
		// relative to the instruction plus 8
		if rel, ok := inst.Args[0].(armasm.PCRel); ok {
			asmInst.Target, asmInst.HasTarget = asmInst.Offset+8+uint64(rel), true
		}
	}
	return nil
}

type armArchInst armasm.Inst

func (inst *armArchInst) Text(flavour AssemblyFlavour, pc uint64, symLookup func(uint64) (string, uint64)) string {
	if inst == nil {
		return "?"
	}

	var text string

	switch flavour {
	case GNUFlavour:
		text = armasm.GNUSyntax(armasm.Inst(*inst))
	default:
		text = armasm.GoSyntax(armasm.Inst(*inst), pc, symLookup, nil)
	}

	return strings.TrimSpace(text)
}

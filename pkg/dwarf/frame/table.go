package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/adbi/idk/pkg/dwarf/leb128"
)

// DWRule wrapper of rule defined for register values.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext wrapper of FDE context
type FrameContext struct {
	loc             uint64
	order           binary.ByteOrder
	ptrSize         int
	address         uint64
	CFA             DWRule
	Regs            map[uint64]DWRule
	initialRegs     map[uint64]DWRule
	buf             *bytes.Buffer
	cie             *CommonInformationEntry
	RetAddrReg      uint64
	codeAlignment   uint64
	dataAlignment   int64
	rememberedState *stateStack
	err             error
}

// Row is one row of the call frame table: the CFA rule in effect from Loc
// up to the Loc of the next row.
type Row struct {
	Loc uint64
	CFA DWRule
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

// stateStack is a stack where `DW_CFA_remember_state` pushes
// its CFA and registers state and `DW_CFA_restore_state`
// pops them.
type stateStack struct {
	items []rowState
}

func newStateStack() *stateStack {
	return &stateStack{
		items: make([]rowState, 0),
	}
}

func (stack *stateStack) push(state rowState) {
	stack.items = append(stack.items, state)
}

func (stack *stateStack) pop() (rowState, bool) {
	if len(stack.items) == 0 {
		return rowState{}, false
	}
	restored := stack.items[len(stack.items)-1]
	stack.items = stack.items[0 : len(stack.items)-1]
	return restored, true
}

// Instructions used to recreate the table from the .debug_frame data.
const (
	DW_CFA_nop                = 0x0        // No ops
	DW_CFA_set_loc            = 0x01       // op1: address
	DW_CFA_advance_loc1       = iota       // op1: 1-bytes delta
	DW_CFA_advance_loc2                    // op1: 2-byte delta
	DW_CFA_advance_loc4                    // op1: 4-byte delta
	DW_CFA_offset_extended                 // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                // op1: ULEB128 register
	DW_CFA_undefined                       // op1: ULEB128 register
	DW_CFA_same_value                      // op1: ULEB128 register
	DW_CFA_register                        // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                  // No ops
	DW_CFA_restore_state                   // No ops
	DW_CFA_def_cfa                         // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                // op1: ULEB128 register
	DW_CFA_def_cfa_offset                  // op1: ULEB128 offset
	DW_CFA_def_cfa_expression              // op1: BLOCK
	DW_CFA_expression                      // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf              // op1: ULEB128 register, op2: SLEB128 BLOCK
	DW_CFA_def_cfa_sf                      // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf               // op1: SLEB128 offset
	DW_CFA_val_offset                      // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf                   // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression                  // op1: ULEB128, op2: BLOCK
	DW_CFA_GNU_args_size      = 0x2e       // op1: ULEB128 size
	DW_CFA_advance_loc        = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset             = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore            = (0x3 << 6) // High 2 bits: 0x3, low 6: register
)

// Rule rule defined for register values.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
	RuleCFA // Value is rule.Reg + rule.Offset
)

const low_6_offset = 0x3f

var errTruncated = errors.New("truncated call frame instructions")

type instruction func(frame *FrameContext)

// Mapping from DWARF opcode to function.
var fnlookup = map[byte]instruction{
	DW_CFA_advance_loc:        advanceloc,
	DW_CFA_offset:             offset,
	DW_CFA_restore:            restore,
	DW_CFA_set_loc:            setloc,
	DW_CFA_advance_loc1:       advanceloc1,
	DW_CFA_advance_loc2:       advanceloc2,
	DW_CFA_advance_loc4:       advanceloc4,
	DW_CFA_offset_extended:    offsetextended,
	DW_CFA_restore_extended:   restoreextended,
	DW_CFA_undefined:          undefined,
	DW_CFA_same_value:         samevalue,
	DW_CFA_register:           register,
	DW_CFA_remember_state:     rememberstate,
	DW_CFA_restore_state:      restorestate,
	DW_CFA_def_cfa:            defcfa,
	DW_CFA_def_cfa_register:   defcfaregister,
	DW_CFA_def_cfa_offset:     defcfaoffset,
	DW_CFA_def_cfa_expression: defcfaexpression,
	DW_CFA_expression:         expression,
	DW_CFA_offset_extended_sf: offsetextendedsf,
	DW_CFA_def_cfa_sf:         defcfasf,
	DW_CFA_def_cfa_offset_sf:  defcfaoffsetsf,
	DW_CFA_val_offset:         valoffset,
	DW_CFA_val_offset_sf:      valoffsetsf,
	DW_CFA_val_expression:     valexpression,
	DW_CFA_GNU_args_size:      gnuargssize,
}

func executeCIEInstructions(cie *CommonInformationEntry, order binary.ByteOrder, ptrSize int) (*FrameContext, error) {
	initialInstructions := make([]byte, len(cie.InitialInstructions))
	copy(initialInstructions, cie.InitialInstructions)
	frame := &FrameContext{
		cie:             cie,
		order:           order,
		ptrSize:         ptrSize,
		Regs:            make(map[uint64]DWRule),
		RetAddrReg:      cie.ReturnAddressRegister,
		initialRegs:     make(map[uint64]DWRule),
		codeAlignment:   cie.CodeAlignmentFactor,
		dataAlignment:   cie.DataAlignmentFactor,
		buf:             bytes.NewBuffer(initialInstructions),
		rememberedState: newStateStack(),
	}

	for frame.buf.Len() > 0 && frame.err == nil {
		executeDwarfInstruction(frame)
	}
	if frame.err != nil {
		return nil, frame.err
	}
	for k, v := range frame.Regs {
		frame.initialRegs[k] = v
	}
	return frame, nil
}

// Unwind the stack to find the return address register.
func executeDwarfProgramUntilPC(fde *FrameDescriptionEntry, pc uint64) (*FrameContext, error) {
	frame, err := executeCIEInstructions(fde.CIE, fde.order, fde.ptrSize)
	if err != nil {
		return nil, err
	}
	frame.loc = fde.Begin()
	frame.address = pc
	if err := frame.ExecuteUntilPC(fde.Instructions); err != nil {
		return nil, err
	}

	return frame, nil
}

// ExecuteUntilPC execute dwarf instructions.
func (frame *FrameContext) ExecuteUntilPC(instructions []byte) error {
	frame.buf.Truncate(0)
	frame.buf.Write(instructions)

	// We only need to execute the instructions until
	// ctx.loc > ctx.address (which is the address we
	// are currently at in the traced process).
	for frame.address >= frame.loc && frame.buf.Len() > 0 && frame.err == nil {
		executeDwarfInstruction(frame)
	}
	return frame.err
}

// Rows executes the whole program of fde and returns one row for every
// location where the table changes, in increasing order. Rows at or past
// the end of the FDE are dropped.
func (fde *FrameDescriptionEntry) Rows() ([]Row, error) {
	frame, err := executeCIEInstructions(fde.CIE, fde.order, fde.ptrSize)
	if err != nil {
		return nil, err
	}
	frame.loc = fde.Begin()
	frame.buf.Truncate(0)
	frame.buf.Write(fde.Instructions)

	var rows []Row
	add := func(loc uint64, cfa DWRule) {
		if loc >= fde.End() {
			return
		}
		if n := len(rows); n > 0 && rows[n-1].Loc == loc {
			rows[n-1].CFA = cfa
			return
		}
		rows = append(rows, Row{Loc: loc, CFA: cfa})
	}

	for frame.buf.Len() > 0 {
		loc, cfa := frame.loc, frame.CFA
		executeDwarfInstruction(frame)
		if frame.err != nil {
			return nil, fmt.Errorf("FDE at %#x: %w", fde.Begin(), frame.err)
		}
		if frame.loc != loc {
			add(loc, cfa)
		}
	}
	add(frame.loc, frame.CFA)
	return rows, nil
}

func executeDwarfInstruction(frame *FrameContext) {
	instruction, err := frame.buf.ReadByte()
	if err != nil {
		frame.err = errTruncated
		return
	}

	if instruction == DW_CFA_nop {
		return
	}

	fn := lookupFunc(instruction, frame)
	if fn == nil {
		return
	}

	fn(frame)
}

func lookupFunc(instruction byte, frame *FrameContext) instruction {
	const high_2_bits = 0xc0
	var restore bool

	// Special case the 3 opcodes that have their argument encoded in the opcode itself.
	switch instruction & high_2_bits {
	case DW_CFA_advance_loc:
		instruction = DW_CFA_advance_loc
		restore = true

	case DW_CFA_offset:
		instruction = DW_CFA_offset
		restore = true

	case DW_CFA_restore:
		instruction = DW_CFA_restore
		restore = true
	}

	if restore {
		// Restore the last byte as it actually contains the argument for the opcode.
		if err := frame.buf.UnreadByte(); err != nil {
			frame.err = err
			return nil
		}
	}

	fn, ok := fnlookup[instruction]
	if !ok {
		frame.err = fmt.Errorf("encountered an unexpected DWARF CFA opcode: %#x", instruction)
		return nil
	}

	return fn
}

func (frame *FrameContext) readByte() byte {
	b, err := frame.buf.ReadByte()
	if err != nil && frame.err == nil {
		frame.err = errTruncated
	}
	return b
}

func (frame *FrameContext) uleb() uint64 {
	n, _, err := leb128.DecodeUnsigned(frame.buf)
	if err != nil && frame.err == nil {
		frame.err = errTruncated
	}
	return n
}

func (frame *FrameContext) sleb() int64 {
	n, _, err := leb128.DecodeSigned(frame.buf)
	if err != nil && frame.err == nil {
		frame.err = errTruncated
	}
	return n
}

func (frame *FrameContext) fixed(size int) uint64 {
	b := frame.buf.Next(size)
	if len(b) < size {
		if frame.err == nil {
			frame.err = errTruncated
		}
		return 0
	}
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(frame.order.Uint16(b))
	case 4:
		return uint64(frame.order.Uint32(b))
	default:
		return frame.order.Uint64(b)
	}
}

func (frame *FrameContext) block() []byte {
	l := frame.uleb()
	expr := frame.buf.Next(int(l))
	if uint64(len(expr)) < l && frame.err == nil {
		frame.err = errTruncated
	}
	return expr
}

func advanceloc(frame *FrameContext) {
	b := frame.readByte()

	delta := b & low_6_offset
	frame.loc += uint64(delta) * frame.codeAlignment
}

func advanceloc1(frame *FrameContext) {
	frame.loc += frame.fixed(1) * frame.codeAlignment
}

func advanceloc2(frame *FrameContext) {
	frame.loc += frame.fixed(2) * frame.codeAlignment
}

func advanceloc4(frame *FrameContext) {
	frame.loc += frame.fixed(4) * frame.codeAlignment
}

func offset(frame *FrameContext) {
	b := frame.readByte()

	var (
		reg    = b & low_6_offset
		offset = frame.uleb()
	)

	frame.Regs[uint64(reg)] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleOffset}
}

func restore(frame *FrameContext) {
	b := frame.readByte()
	restoreReg(frame, uint64(b&low_6_offset))
}

func restoreReg(frame *FrameContext, reg uint64) {
	oldrule, ok := frame.initialRegs[reg]
	if ok {
		frame.Regs[reg] = oldrule
	} else {
		frame.Regs[reg] = DWRule{Rule: RuleUndefined}
	}
}

func setloc(frame *FrameContext) {
	frame.loc = frame.fixed(frame.ptrSize)
}

func offsetextended(frame *FrameContext) {
	var (
		reg    = frame.uleb()
		offset = frame.uleb()
	)

	frame.Regs[reg] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleOffset}
}

func undefined(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleUndefined}
}

func samevalue(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleSameVal}
}

func register(frame *FrameContext) {
	reg1 := frame.uleb()
	reg2 := frame.uleb()
	frame.Regs[reg1] = DWRule{Reg: reg2, Rule: RuleRegister}
}

func rememberstate(frame *FrameContext) {
	clonedRegs := make(map[uint64]DWRule, len(frame.Regs))
	for k, v := range frame.Regs {
		clonedRegs[k] = v
	}
	frame.rememberedState.push(rowState{cfa: frame.CFA, regs: clonedRegs})
}

func restorestate(frame *FrameContext) {
	restored, ok := frame.rememberedState.pop()
	if !ok {
		frame.err = errors.New("DW_CFA_restore_state without remembered state")
		return
	}

	frame.CFA = restored.cfa
	frame.Regs = restored.regs
}

func restoreextended(frame *FrameContext) {
	restoreReg(frame, frame.uleb())
}

func defcfa(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.uleb()

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = int64(offset)
	frame.CFA.Expression = nil
}

func defcfaregister(frame *FrameContext) {
	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = frame.uleb()
	frame.CFA.Expression = nil
}

func defcfaoffset(frame *FrameContext) {
	frame.CFA.Offset = int64(frame.uleb())
}

func defcfasf(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.sleb()

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = offset * frame.dataAlignment
	frame.CFA.Expression = nil
}

func defcfaoffsetsf(frame *FrameContext) {
	offset := frame.sleb()
	offset *= frame.dataAlignment
	frame.CFA.Offset = offset
}

func defcfaexpression(frame *FrameContext) {
	frame.CFA.Expression = frame.block()
	frame.CFA.Rule = RuleExpression
}

func expression(frame *FrameContext) {
	var (
		reg  = frame.uleb()
		expr = frame.block()
	)

	frame.Regs[reg] = DWRule{Rule: RuleExpression, Expression: expr}
}

func offsetextendedsf(frame *FrameContext) {
	var (
		reg    = frame.uleb()
		offset = frame.sleb()
	)

	frame.Regs[reg] = DWRule{Offset: offset * frame.dataAlignment, Rule: RuleOffset}
}

func valoffset(frame *FrameContext) {
	var (
		reg    = frame.uleb()
		offset = frame.uleb()
	)

	frame.Regs[reg] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleValOffset}
}

func valoffsetsf(frame *FrameContext) {
	var (
		reg    = frame.uleb()
		offset = frame.sleb()
	)

	frame.Regs[reg] = DWRule{Offset: offset * frame.dataAlignment, Rule: RuleValOffset}
}

func valexpression(frame *FrameContext) {
	var (
		reg  = frame.uleb()
		expr = frame.block()
	)

	frame.Regs[reg] = DWRule{Rule: RuleValExpression, Expression: expr}
}

func gnuargssize(frame *FrameContext) {
	frame.uleb()
}

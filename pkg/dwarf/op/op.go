package op

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/adbi/idk/pkg/dwarf/leb128"
)

// Opcode represent a DWARF stack program instruction.
// See ./opcodes.go for a full list.
type Opcode byte

func (op Opcode) String() string {
	if name, ok := opcodeName[op]; ok {
		return name
	}
	return fmt.Sprintf("%#02x", byte(op))
}

// Symbols referenced by generated expressions. The caller is responsible
// for computing them before the expression text is evaluated.
const (
	FrameBaseSymbol = "__adbi_frame__"
	CFASymbol       = "__adbi_cfa__"
)

// DefaultPtrSize is the operand size of DW_OP_addr when the caller does not
// provide one.
const DefaultPtrSize = 4

type stackfn func(Opcode, *context) error

// context is the state of a single evaluation. Stack entries are C
// expressions, not numbers.
type context struct {
	buf     *bytes.Reader
	size    int
	pos     int
	stack   []string
	ptrSize int

	usesFrame bool
	usesCFA   bool

	// set by opcodes that end the evaluation early
	done  bool
	value string
}

var oplut = map[Opcode]stackfn{
	DW_OP_nop:            nop,
	DW_OP_dup:            dup,
	DW_OP_drop:           drop,
	DW_OP_pick:           pick,
	DW_OP_over:           over,
	DW_OP_swap:           swap,
	DW_OP_rot:            rot,
	DW_OP_call_frame_cfa: callframecfa,
	DW_OP_addr:           addr,
	DW_OP_const1u:        constfixed,
	DW_OP_const1s:        constfixed,
	DW_OP_const2u:        constfixed,
	DW_OP_const2s:        constfixed,
	DW_OP_const4u:        constfixed,
	DW_OP_const4s:        constfixed,
	DW_OP_const8u:        constfixed,
	DW_OP_const8s:        constfixed,
	DW_OP_constu:         constu,
	DW_OP_consts:         consts,
	DW_OP_fbreg:          framebase,
	DW_OP_bregx:          bregister,
	DW_OP_regx:           register,
	DW_OP_plus:           arith,
	DW_OP_minus:          arith,
	DW_OP_plus_uconst:    plusuconst,
	DW_OP_stack_value:    stackvalue,
}

func init() {
	for op := DW_OP_lit0; op <= DW_OP_lit31; op++ {
		oplut[op] = literal
	}
	for op := DW_OP_reg0; op <= DW_OP_reg31; op++ {
		oplut[op] = register
	}
	for op := DW_OP_breg0; op <= DW_OP_breg31; op++ {
		oplut[op] = bregister
	}
	// Every other known opcode is valid DWARF that this machine cannot
	// express symbolically.
	for op := range opcodeName {
		if _, ok := oplut[op]; !ok {
			oplut[op] = unsupported
		}
	}
}

// Result is the outcome of evaluating a location expression.
type Result struct {
	// Expr is a C expression. If IsAddress is set it evaluates to the
	// address of the object, otherwise to its value.
	Expr      string
	IsAddress bool
	UsesFrame bool
	UsesCFA   bool
}

// ExecuteStackProgram evaluates a DWARF location expression symbolically
// and returns the generated C expression. ptrSize is the operand size of
// DW_OP_addr, zero selects DefaultPtrSize.
func ExecuteStackProgram(instructions []byte, ptrSize int) (Result, error) {
	if ptrSize == 0 {
		ptrSize = DefaultPtrSize
	}
	ctxt := &context{
		buf:     bytes.NewReader(instructions),
		size:    len(instructions),
		stack:   make([]string, 0, 3),
		ptrSize: ptrSize,
	}

	for !ctxt.done {
		ctxt.pos = ctxt.size - ctxt.buf.Len()
		opcodeByte, err := ctxt.buf.ReadByte()
		if err != nil {
			break
		}
		opcode := Opcode(opcodeByte)
		fn, ok := oplut[opcode]
		if !ok {
			return Result{}, &MalformedExpressionError{Pos: ctxt.pos, Opcode: opcode, Reason: "invalid opcode"}
		}
		if err := fn(opcode, ctxt); err != nil {
			return Result{}, err
		}
	}

	if ctxt.done {
		return Result{Expr: ctxt.value, UsesFrame: ctxt.usesFrame, UsesCFA: ctxt.usesCFA}, nil
	}

	v, err := ctxt.pop(endOfProgram, 1)
	if err != nil {
		return Result{}, err
	}
	return Result{Expr: v, IsAddress: true, UsesFrame: ctxt.usesFrame, UsesCFA: ctxt.usesCFA}, nil
}

// endOfProgram is reported as the opcode of a stack underflow that happens
// when the expression runs out of instructions.
const endOfProgram Opcode = 0

// PrettyPrint prints the DWARF stack program instructions to `out`.
// Printing stops at the first operand that cannot be decoded.
func PrettyPrint(out io.Writer, instructions []byte, ptrSize int) {
	if ptrSize == 0 {
		ptrSize = DefaultPtrSize
	}
	in := bytes.NewReader(instructions)

	for {
		opcode, err := in.ReadByte()
		if err != nil {
			break
		}
		if name, hasname := opcodeName[Opcode(opcode)]; hasname {
			io.WriteString(out, name)
			out.Write([]byte{' '})
		} else {
			fmt.Fprintf(out, "%#x ", opcode)
		}
		for _, arg := range opcodeArgs[Opcode(opcode)] {
			if err := prettyPrintArg(out, in, arg, ptrSize); err != nil {
				io.WriteString(out, "<truncated>")
				return
			}
		}
	}
}

func prettyPrintArg(out io.Writer, in *bytes.Reader, arg rune, ptrSize int) error {
	switch arg {
	case 's':
		n, _, err := leb128.DecodeSigned(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%#x ", n)
	case 'u':
		n, _, err := leb128.DecodeUnsigned(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%#x ", n)
	case '1', '2', '4', '8', 'a':
		sz := int(arg - '0')
		if arg == 'a' {
			sz = ptrSize
		}
		x, err := readUint(in, sz)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%#x ", x)
	case 'B':
		sz, _, err := leb128.DecodeUnsigned(in)
		if err != nil {
			return err
		}
		if sz > uint64(in.Len()) {
			return io.ErrUnexpectedEOF
		}
		data := make([]byte, sz)
		if _, err := io.ReadFull(in, data); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d [%x] ", sz, data)
	}
	return nil
}

func readUint(in io.Reader, size int) (uint64, error) {
	var buf [8]byte
	if size <= 0 || size > len(buf) {
		return 0, fmt.Errorf("unsupported operand size %d", size)
	}
	if _, err := io.ReadFull(in, buf[:size]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (ctxt *context) push(v string) {
	ctxt.stack = append(ctxt.stack, v)
}

// pop removes the top of the stack. need is the number of entries the
// current opcode consumes, used to report underflows.
func (ctxt *context) pop(opcode Opcode, need int) (string, error) {
	if len(ctxt.stack) == 0 {
		return "", &StackUnderflowError{Opcode: opcode, Need: need, Have: 0}
	}
	v := ctxt.stack[len(ctxt.stack)-1]
	ctxt.stack = ctxt.stack[:len(ctxt.stack)-1]
	return v, nil
}

func (ctxt *context) require(opcode Opcode, need int) error {
	if len(ctxt.stack) < need {
		return &StackUnderflowError{Opcode: opcode, Need: need, Have: len(ctxt.stack)}
	}
	return nil
}

func (ctxt *context) truncated(opcode Opcode) error {
	return &MalformedExpressionError{Pos: ctxt.pos, Opcode: opcode, Reason: "unexpected end of expression"}
}

func (ctxt *context) uleb(opcode Opcode) (uint64, error) {
	n, _, err := leb128.DecodeUnsigned(ctxt.buf)
	if err != nil {
		return 0, ctxt.truncated(opcode)
	}
	return n, nil
}

func (ctxt *context) sleb(opcode Opcode) (int64, error) {
	n, _, err := leb128.DecodeSigned(ctxt.buf)
	if err != nil {
		return 0, ctxt.truncated(opcode)
	}
	return n, nil
}

// offsetExpr renders base plus a signed byte offset.
func offsetExpr(base string, off int64) string {
	switch {
	case off > 0:
		return fmt.Sprintf("%s + %#x", base, off)
	case off < 0:
		return fmt.Sprintf("%s - %#x", base, uint64(-off))
	}
	return base
}

func unsupported(opcode Opcode, ctxt *context) error {
	return &MalformedExpressionError{Pos: ctxt.pos, Opcode: opcode, Reason: "unsupported opcode"}
}

func nop(opcode Opcode, ctxt *context) error {
	return nil
}

func dup(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 1); err != nil {
		return err
	}
	ctxt.push(ctxt.stack[len(ctxt.stack)-1])
	return nil
}

func drop(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 1); err != nil {
		return err
	}
	ctxt.stack = ctxt.stack[:len(ctxt.stack)-1]
	return nil
}

func pick(opcode Opcode, ctxt *context) error {
	idx, err := ctxt.buf.ReadByte()
	if err != nil {
		return ctxt.truncated(opcode)
	}
	if err := ctxt.require(opcode, int(idx)+1); err != nil {
		return err
	}
	ctxt.push(ctxt.stack[len(ctxt.stack)-1-int(idx)])
	return nil
}

func over(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 2); err != nil {
		return err
	}
	ctxt.push(ctxt.stack[len(ctxt.stack)-2])
	return nil
}

func swap(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 2); err != nil {
		return err
	}
	n := len(ctxt.stack)
	ctxt.stack[n-1], ctxt.stack[n-2] = ctxt.stack[n-2], ctxt.stack[n-1]
	return nil
}

// rot moves the top entry to third place, the second entry becomes the top
// and the third entry becomes the second.
func rot(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 3); err != nil {
		return err
	}
	n := len(ctxt.stack)
	a, b, c := ctxt.stack[n-1], ctxt.stack[n-2], ctxt.stack[n-3]
	ctxt.stack[n-3], ctxt.stack[n-2], ctxt.stack[n-1] = a, c, b
	return nil
}

func callframecfa(opcode Opcode, ctxt *context) error {
	ctxt.push(CFASymbol)
	ctxt.usesCFA = true
	return nil
}

func addr(opcode Opcode, ctxt *context) error {
	v, err := readUint(ctxt.buf, ctxt.ptrSize)
	if err != nil {
		return ctxt.truncated(opcode)
	}
	ctxt.push(fmt.Sprintf("(void *) 0x%08x", v))
	return nil
}

func constfixed(opcode Opcode, ctxt *context) error {
	var size int
	switch opcode {
	case DW_OP_const1u, DW_OP_const1s:
		size = 1
	case DW_OP_const2u, DW_OP_const2s:
		size = 2
	case DW_OP_const4u, DW_OP_const4s:
		size = 4
	default:
		size = 8
	}
	v, err := readUint(ctxt.buf, size)
	if err != nil {
		return ctxt.truncated(opcode)
	}
	switch opcode {
	case DW_OP_const1s:
		ctxt.push(fmt.Sprintf("%#x", int8(v)))
	case DW_OP_const2s:
		ctxt.push(fmt.Sprintf("%#x", int16(v)))
	case DW_OP_const4s:
		ctxt.push(fmt.Sprintf("%#x", int32(v)))
	case DW_OP_const8s:
		ctxt.push(fmt.Sprintf("%#x", int64(v)))
	default:
		ctxt.push(fmt.Sprintf("%#x", v))
	}
	return nil
}

func constu(opcode Opcode, ctxt *context) error {
	n, err := ctxt.uleb(opcode)
	if err != nil {
		return err
	}
	ctxt.push(fmt.Sprintf("%#x", n))
	return nil
}

func consts(opcode Opcode, ctxt *context) error {
	n, err := ctxt.sleb(opcode)
	if err != nil {
		return err
	}
	ctxt.push(fmt.Sprintf("%#x", n))
	return nil
}

func literal(opcode Opcode, ctxt *context) error {
	ctxt.push(fmt.Sprintf("%#x", int(opcode-DW_OP_lit0)))
	return nil
}

func framebase(opcode Opcode, ctxt *context) error {
	off, err := ctxt.sleb(opcode)
	if err != nil {
		return err
	}
	ctxt.push(offsetExpr(FrameBaseSymbol, off))
	ctxt.usesFrame = true
	return nil
}

func bregister(opcode Opcode, ctxt *context) error {
	regnum := uint64(opcode - DW_OP_breg0)
	if opcode == DW_OP_bregx {
		n, err := ctxt.uleb(opcode)
		if err != nil {
			return err
		}
		regnum = n
	}
	off, err := ctxt.sleb(opcode)
	if err != nil {
		return err
	}
	ctxt.push(offsetExpr(fmt.Sprintf("(char *) get_reg(%d)", regnum), off))
	return nil
}

// register names a register holding the value itself. It ends the
// evaluation: the object has no address.
func register(opcode Opcode, ctxt *context) error {
	regnum := uint64(opcode - DW_OP_reg0)
	if opcode == DW_OP_regx {
		n, err := ctxt.uleb(opcode)
		if err != nil {
			return err
		}
		regnum = n
	}
	ctxt.done = true
	ctxt.value = fmt.Sprintf("get_reg(%d)", regnum)
	return nil
}

// arith combines the two topmost entries with byte granularity pointer
// arithmetic. The former top of the stack is the left operand.
func arith(opcode Opcode, ctxt *context) error {
	if err := ctxt.require(opcode, 2); err != nil {
		return err
	}
	a, _ := ctxt.pop(opcode, 2)
	b, _ := ctxt.pop(opcode, 2)
	sign := "+"
	if opcode == DW_OP_minus {
		sign = "-"
	}
	ctxt.push(fmt.Sprintf("(void *) ((char *) (%s)) %s ((char *) (%s))", a, sign, b))
	return nil
}

func plusuconst(opcode Opcode, ctxt *context) error {
	n, err := ctxt.uleb(opcode)
	if err != nil {
		return err
	}
	a, err := ctxt.pop(opcode, 1)
	if err != nil {
		return err
	}
	ctxt.push(fmt.Sprintf("(void *) ((char *) (%s)) + %#x", a, n))
	return nil
}

func stackvalue(opcode Opcode, ctxt *context) error {
	v, err := ctxt.pop(opcode, 1)
	if err != nil {
		return err
	}
	ctxt.done = true
	ctxt.value = v
	return nil
}

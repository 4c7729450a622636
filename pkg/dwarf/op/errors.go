package op

import "fmt"

// MalformedExpressionError is returned for opcode streams the machine
// cannot evaluate: unknown or unsupported opcodes and truncated operands.
type MalformedExpressionError struct {
	Pos    int
	Opcode Opcode
	Reason string
}

func (err *MalformedExpressionError) Error() string {
	return fmt.Sprintf("malformed DWARF expression at %d (%s): %s", err.Pos, err.Opcode, err.Reason)
}

// StackUnderflowError is returned when an opcode needs more stack entries
// than are available.
type StackUnderflowError struct {
	Opcode Opcode
	Need   int
	Have   int
}

func (err *StackUnderflowError) Error() string {
	where := err.Opcode.String()
	if err.Opcode == endOfProgram {
		where = "end of expression"
	}
	return fmt.Sprintf("DWARF stack underflow at %s: need %d entries, have %d", where, err.Need, err.Have)
}

package cachebuilder

import (
	"fmt"
	"strconv"

	"github.com/adbi/idk/pkg/dwarf/op"
)

// UnsupportedLocationFormError is returned for a member location
// expression other than DW_OP_plus_uconst.
type UnsupportedLocationFormError struct {
	Opcode op.Opcode
	// Empty is set if the expression had no opcodes at all.
	Empty bool
}

func (err *UnsupportedLocationFormError) Error() string {
	if err.Empty {
		return "unsupported data member location: empty expression"
	}
	return fmt.Sprintf("unsupported opcode in data member location %s (%#02x)", err.Opcode, byte(err.Opcode))
}

func describeFLC(file string, line, col int64) string {
	s := file
	if line != 0 {
		s += ":" + strconv.FormatInt(line, 10)
		if col != 0 {
			s += ":" + strconv.FormatInt(col, 10)
		}
	}
	return s
}

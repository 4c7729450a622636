package op

import (
	"errors"
	"fmt"
)

// ErrNotAddress is returned by AssignAddress for results that denote a
// value (a register or a computed value) instead of a memory location.
var ErrNotAddress = errors.New("expression result has no address")

func (r Result) String() string {
	return fmt.Sprintf("DWARF expression result: %q, is address: %v, use frame: %v, use cfa: %v", r.Expr, r.IsAddress, r.UsesFrame, r.UsesCFA)
}

// AssignAddress returns a C rvalue holding the address of the object,
// optionally cast to typecast (usually a pointer type). Without a cast the
// expression has type char *.
func (r Result) AssignAddress(typecast string) (string, error) {
	if !r.IsAddress {
		return "", ErrNotAddress
	}
	if typecast != "" {
		return fmt.Sprintf("(%s) (%s)", typecast, r.Expr), nil
	}
	return r.Expr, nil
}

// SimpleAssign returns a C rvalue holding the value of a builtin typed
// object. Memory locations are read as regval_t before the cast. It must
// not be used for compound types.
func (r Result) SimpleAssign(typecast string) string {
	if typecast == "" {
		typecast = "regval_t"
	}
	if r.IsAddress {
		return fmt.Sprintf("(%s) (*((regval_t *) (%s)))", typecast, r.Expr)
	}
	return fmt.Sprintf("(%s) %s", typecast, r.Expr)
}

// Assign returns a C statement copying the object into the variable name.
// The copy does not alias the original object.
func (r Result) Assign(name string, scalar bool, typecast string) string {
	switch {
	case r.IsAddress:
		return fmt.Sprintf("__adbicpy(&%s, %s, sizeof(%s));", name, r.Expr, name)
	case scalar && typecast != "":
		return fmt.Sprintf("%s = (%s) %s;", name, typecast, r.Expr)
	case scalar:
		return fmt.Sprintf("%s = %s;", name, r.Expr)
	default:
		return fmt.Sprintf("{ unsigned int __adbi_tmp = %s; __adbicpy(&%s, &__adbi_tmp, 4); }", r.Expr, name)
	}
}

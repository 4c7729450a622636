package cachereader

import (
	"database/sql"
	"fmt"

	"github.com/adbi/idk/pkg/cachestore"
	"github.com/adbi/idk/pkg/dwarf/op"
)

// Variable is a variable, constant or parameter of the binary.
type Variable struct {
	ID int64
	// Name is empty for unnamed parameters.
	Name   string
	Global bool
	Type   *DataType
	Loc    Location

	ranges []addrRange
	exprs  []rangeExpr
	r      *Reader
}

type addrRange struct {
	lo, hi uint64
}

func (rg addrRange) contains(addr uint64) bool {
	return rg.lo <= addr && addr < rg.hi
}

// rangeExpr is an expression valid in [lo, hi), or everywhere if the
// range is invalid.
type rangeExpr struct {
	lo, hi sql.NullInt64
	expr   []byte
}

func (e *rangeExpr) validAt(addr uint64) bool {
	return !e.lo.Valid || (uint64(e.lo.Int64) <= addr && addr < uint64(e.hi.Int64))
}

func (v *Variable) String() string {
	name := v.Name
	if name == "" {
		name = "<anon>"
	}
	return fmt.Sprintf("%s %s", v.Type, name)
}

// VisibleAt reports whether v is in scope at addr. Globals and variables
// without ranges are visible everywhere.
func (v *Variable) VisibleAt(addr uint64) bool {
	if v.Global || len(v.ranges) == 0 {
		return true
	}
	for _, rg := range v.ranges {
		if rg.contains(addr) {
			return true
		}
	}
	return false
}

// Expression returns the location expression of v valid at addr. It
// returns false if v is not visible at addr or was optimized out there.
func (v *Variable) Expression(addr uint64) ([]byte, bool) {
	if !v.VisibleAt(addr) {
		return nil, false
	}
	for i := range v.exprs {
		if v.exprs[i].validAt(addr) {
			return v.exprs[i].expr, true
		}
	}
	return nil, false
}

// AccessibleAt reports whether the value of v can be found at addr.
func (v *Variable) AccessibleAt(addr uint64) bool {
	_, ok := v.Expression(addr)
	return ok
}

// Eval translates the location expression of v valid at addr to C.
func (v *Variable) Eval(addr uint64) (op.Result, error) {
	expr, ok := v.Expression(addr)
	if !ok {
		return op.Result{}, &UnknownLocationError{What: fmt.Sprintf("%s at %#x", v.Name, addr)}
	}
	return op.ExecuteStackProgram(expr, v.r.ptrSize)
}

// Declaration returns the lines declaring v, named name if it is not
// empty.
func (v *Variable) Declaration(name string) ([]string, error) {
	if name == "" {
		name = v.Name
	}
	return v.Type.DeclareVar(name)
}

// Variable returns the variable with the given id.
func (r *Reader) Variable(id int64) (*Variable, error) {
	if v, ok := r.variables[id]; ok {
		return v, nil
	}
	v := &Variable{ID: id, r: r}
	var (
		typeID int64
		name   sql.NullString
		loc    sql.NullInt64
	)
	err := r.db.QueryRow(`select type, name, global, loc from variables where id = ?`, id).
		Scan(&typeID, &name, &v.Global, &loc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &UnknownLocationError{What: fmt.Sprintf("variable %d", id)}
		}
		return nil, fmt.Errorf("variable %d: %w", id, err)
	}
	v.Name = name.String
	if v.Loc, err = r.location(loc); err != nil {
		return nil, err
	}
	if v.Type, err = r.Type(typeID); err != nil {
		return nil, err
	}
	if v.ranges, err = r.ranges(`select lo, hi from variables2ranges where var = ? order by lo`, id); err != nil {
		return nil, err
	}
	if v.exprs, err = r.rangeExprs(`select lo, hi, expr from variables2expressions where var = ? order by rowid`, id); err != nil {
		return nil, err
	}
	r.variables[id] = v
	return v, nil
}

func (r *Reader) ranges(query string, args ...interface{}) ([]addrRange, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rgs []addrRange
	for rows.Next() {
		var lo, hi int64
		if err := rows.Scan(&lo, &hi); err != nil {
			return nil, err
		}
		rgs = append(rgs, addrRange{uint64(lo), uint64(hi)})
	}
	return rgs, rows.Err()
}

func (r *Reader) rangeExprs(query string, args ...interface{}) ([]rangeExpr, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exprs []rangeExpr
	for rows.Next() {
		var (
			e   rangeExpr
			enc string
		)
		if err := rows.Scan(&e.lo, &e.hi, &enc); err != nil {
			return nil, err
		}
		if e.expr, err = cachestore.DecodeExpr(enc); err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, rows.Err()
}

func (r *Reader) variableList(ids []int64) ([]*Variable, error) {
	vars := make([]*Variable, 0, len(ids))
	for _, id := range ids {
		v, err := r.Variable(id)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, nil
}

// Variables returns all variables.
func (r *Reader) Variables() ([]*Variable, error) {
	ids, err := r.ids(`select id from variables order by id`)
	if err != nil {
		return nil, err
	}
	return r.variableList(ids)
}

// Globals returns the global variables.
func (r *Reader) Globals() ([]*Variable, error) {
	ids, err := r.ids(`select id from variables where global = 1 order by id`)
	if err != nil {
		return nil, err
	}
	return r.variableList(ids)
}

// LocalsAt returns the local variables in scope at addr.
func (r *Reader) LocalsAt(addr uint64) ([]*Variable, error) {
	ids, err := r.ids(`select distinct var from variables2ranges
		where lo <= ? and ? < hi
		and var in (select id from variables where global = 0)
		order by var`, int64(addr), int64(addr))
	if err != nil {
		return nil, err
	}
	return r.variableList(ids)
}

// VariablesAt returns the local variables in scope at addr followed by
// the global variables.
func (r *Reader) VariablesAt(addr uint64) ([]*Variable, error) {
	locals, err := r.LocalsAt(addr)
	if err != nil {
		return nil, err
	}
	globals, err := r.Globals()
	if err != nil {
		return nil, err
	}
	return append(locals, globals...), nil
}

// LookupVariable returns the variable named name visible at addr. Locals
// shadow globals.
func (r *Reader) LookupVariable(addr uint64, name string) (*Variable, error) {
	vars, err := r.VariablesAt(addr)
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, &UnknownLocationError{What: fmt.Sprintf("variable %s at %#x", name, addr)}
}

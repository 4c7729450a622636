package cachereader

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/adbi/idk/pkg/dwarf/op"
)

// Function is a function instance of the binary.
type Function struct {
	ID   int64
	Name string
	// Lo and Hi are the file offsets of the code of the function, Hi
	// excluded.
	Lo, Hi uint64
	Loc    Location

	frame  []rangeExpr
	params []*Variable
	loaded bool
	r      *Reader
}

func (fn *Function) String() string {
	return fmt.Sprintf("%s [%#x, %#x)", fn.Name, fn.Lo, fn.Hi)
}

func (fn *Function) load() error {
	if fn.loaded {
		return nil
	}
	frame, err := fn.r.rangeExprs(`select lo, hi, expr from framepointers where func = ? order by rowid`, fn.ID)
	if err != nil {
		return err
	}
	ids, err := fn.r.ids(`select var from params where func = ? order by idx`, fn.ID)
	if err != nil {
		return err
	}
	params, err := fn.r.variableList(ids)
	if err != nil {
		return err
	}
	fn.frame, fn.params, fn.loaded = frame, params, true
	return nil
}

// Params returns the parameters of fn in declaration order.
func (fn *Function) Params() ([]*Variable, error) {
	if err := fn.load(); err != nil {
		return nil, err
	}
	return fn.params, nil
}

// FrameExpression returns the frame base expression of fn valid at addr.
func (fn *Function) FrameExpression(addr uint64) ([]byte, bool, error) {
	if err := fn.load(); err != nil {
		return nil, false, err
	}
	for i := range fn.frame {
		if fn.frame[i].validAt(addr) {
			return fn.frame[i].expr, true, nil
		}
	}
	return nil, false, nil
}

// Frame translates the frame base expression of fn valid at addr to C.
func (fn *Function) Frame(addr uint64) (op.Result, error) {
	expr, ok, err := fn.FrameExpression(addr)
	if err != nil {
		return op.Result{}, err
	}
	if !ok {
		return op.Result{}, &UnknownLocationError{What: fmt.Sprintf("frame base of %s at %#x", fn.Name, addr)}
	}
	return op.ExecuteStackProgram(expr, fn.r.ptrSize)
}

// Lines returns the line table rows inside fn ordered by address.
func (fn *Function) Lines() ([]LineAddr, error) {
	return fn.r.linesIn(fn.Lo, fn.Hi)
}

// FirstInsn returns the address of the first instruction after the
// prologue of fn: the second distinct line table address inside it, or
// Lo if there is none.
func (fn *Function) FirstInsn() (uint64, error) {
	addrs, err := fn.r.addrs(`select distinct addr from lines
		where ? <= addr and addr < ? order by addr limit 2`, int64(fn.Lo), int64(fn.Hi))
	if err != nil {
		return 0, err
	}
	if len(addrs) < 2 {
		return fn.Lo, nil
	}
	return addrs[1], nil
}

// Function returns the function with the given id.
func (r *Reader) Function(id int64) (*Function, error) {
	if fn, ok := r.functions[id]; ok {
		return fn, nil
	}
	fn := &Function{ID: id, r: r}
	var (
		lo, hi int64
		loc    sql.NullInt64
	)
	err := r.db.QueryRow(`select name, lo, hi, loc from functions where id = ?`, id).
		Scan(&fn.Name, &lo, &hi, &loc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &UnknownLocationError{What: fmt.Sprintf("function %d", id)}
		}
		return nil, fmt.Errorf("function %d: %w", id, err)
	}
	fn.Lo, fn.Hi = uint64(lo), uint64(hi)
	if fn.Loc, err = r.location(loc); err != nil {
		return nil, err
	}
	r.functions[id] = fn
	return fn, nil
}

func (r *Reader) functionList(ids []int64) ([]*Function, error) {
	fns := make([]*Function, 0, len(ids))
	for _, id := range ids {
		fn, err := r.Function(id)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

// Functions returns all functions ordered by address.
func (r *Reader) Functions() ([]*Function, error) {
	ids, err := r.ids(`select id from functions order by lo, id`)
	if err != nil {
		return nil, err
	}
	return r.functionList(ids)
}

// FunctionsNamed returns the functions called name ordered by address.
func (r *Reader) FunctionsNamed(name string) ([]*Function, error) {
	ids, err := r.ids(`select id from functions where name = ? order by lo, id`, name)
	if err != nil {
		return nil, err
	}
	return r.functionList(ids)
}

// FunctionAt returns the function containing addr. If functions nest,
// the one starting last wins.
func (r *Reader) FunctionAt(addr uint64) (*Function, error) {
	ids, err := r.ids(`select id from functions where lo <= ? and ? < hi
		order by lo desc limit 1`, int64(addr), int64(addr))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &UnknownLocationError{What: fmt.Sprintf("no function at %#x", addr)}
	}
	return r.Function(ids[0])
}

// FunctionsWithPrefix returns the sorted names of the functions starting
// with prefix.
func (r *Reader) FunctionsWithPrefix(prefix string) ([]string, error) {
	if r.funcNames == nil {
		rows, err := r.db.Query(`select distinct name from functions`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		names := trie.New()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			names.Add(name, nil)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		r.funcNames = names
	}
	var found []string
	if prefix == "" {
		found = r.funcNames.Keys()
	} else {
		found = r.funcNames.PrefixSearch(prefix)
	}
	sort.Strings(found)
	return found, nil
}

// Func2Addr returns the entry address of the function called fn. If file
// is not empty only functions declared in that source file are
// considered.
func (r *Reader) Func2Addr(file, fn string) (uint64, error) {
	var (
		addrs []uint64
		err   error
	)
	if file != "" {
		files, err := r.Files()
		if err != nil {
			return 0, err
		}
		path, err := files.Expand(file)
		if err != nil {
			return 0, err
		}
		addrs, err = r.addrs(`select distinct functions.lo from functions
			join locations on locations.id = functions.loc
			where functions.name = ?
			and locations.file = (select id from files where path = ?)
			order by functions.lo`, fn, path)
		if err != nil {
			return 0, err
		}
	} else {
		addrs, err = r.addrs(`select distinct lo from functions where name = ? order by lo`, fn)
		if err != nil {
			return 0, err
		}
	}
	return unique(fn, addrs)
}

func unique(name string, addrs []uint64) (uint64, error) {
	switch len(addrs) {
	case 1:
		return addrs[0], nil
	case 0:
		return 0, &UnknownLocationError{What: name}
	default:
		return 0, &AmbiguousReferenceError{Name: name, Candidates: addrs}
	}
}

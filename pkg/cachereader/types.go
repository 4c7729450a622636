package cachereader

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/adbi/idk/pkg/cachestore"
)

// DataType is a data type of the binary. Cross references between types
// are resolved through the reader, so a DataType is valid only as long as
// the Reader that returned it.
type DataType struct {
	ID   int64
	Kind cachestore.Kind
	// Name is empty for anonymous types.
	Name string
	Loc  Location

	bytes   sql.NullInt64
	innerID sql.NullInt64
	inner   *DataType
	void    bool
	r       *Reader

	members     []*Member
	enumerators []*Enumerator
	dims        []sql.NullInt64

	reqs     *requirements
	reqsBusy bool
}

// Member is a member of a struct, class or union.
type Member struct {
	Name string
	// Offset is in bits from the start of the parent.
	Offset int64
	Type   *DataType
	Loc    Location

	typeID int64
}

// Enumerator is a named value of an enum.
type Enumerator struct {
	Name  string
	Value int64
	Loc   Location
}

// Anonymous reports whether t has no name.
func (t *DataType) Anonymous() bool {
	return t.Name == ""
}

// SafeName returns the name of t, or <anonymous>.
func (t *DataType) SafeName() string {
	if t.Anonymous() {
		return "<anonymous>"
	}
	return t.Name
}

// Void reports whether t is the void type.
func (t *DataType) Void() bool {
	return t.void
}

// Inner returns the type t modifies, points to, aliases or is an array of.
// It returns void for those kinds when no inner type is recorded, and nil
// for all other kinds.
func (t *DataType) Inner() *DataType {
	return t.inner
}

// Members returns the members of a compound type ordered by offset.
func (t *DataType) Members() []*Member {
	return t.members
}

// Enumerators returns the enumerators of an enum in declaration order.
func (t *DataType) Enumerators() []*Enumerator {
	return t.enumerators
}

// Dimensions returns the extents of an array type. An invalid extent is
// unknown.
func (t *DataType) Dimensions() []sql.NullInt64 {
	return t.dims
}

// Unbounded reports whether some extent of an array type is unknown.
func (t *DataType) Unbounded() bool {
	for _, d := range t.dims {
		if !d.Valid {
			return true
		}
	}
	return false
}

// ByteSize returns the size of t in bytes, or 0 if it is unknown. Arrays
// with an unknown extent are 4 bytes.
func (t *DataType) ByteSize() int64 {
	if t.bytes.Valid {
		return t.bytes.Int64
	}
	switch t.Kind {
	case cachestore.KindPtr, cachestore.KindRef, cachestore.KindRRef:
		return int64(t.r.ptrSize)
	case cachestore.KindArray:
		if t.Unbounded() {
			// heuristic for compiler output: unknown extents count as one word
			return 4
		}
		n := t.inner.ByteSize()
		for _, d := range t.dims {
			n *= d.Int64
		}
		return n
	}
	if t.inner != nil && !t.void {
		return t.inner.ByteSize()
	}
	return 0
}

// Innermost returns the type reached by following Inner from t through
// pointers, modifiers and arrays. Typedefs end the chain.
func (t *DataType) Innermost() *DataType {
	for t.ops().nested {
		t = t.inner
	}
	return t
}

// Scalar reports whether t holds a single value.
func (t *DataType) Scalar() bool {
	return t.ops().scalar(t)
}

// Forwardable reports whether t can be declared without being defined.
func (t *DataType) Forwardable() bool {
	return t.ops().forwardable(t)
}

func (t *DataType) String() string {
	return t.ops().describe(t)
}

func (m *Member) String() string {
	return fmt.Sprintf("%s %s", m.Type, m.Name)
}

// Type returns the data type with the given id. The first lookup of an id
// loads the type and every type reachable from it.
func (r *Reader) Type(id int64) (*DataType, error) {
	if t, ok := r.types[id]; ok {
		return t, nil
	}

	var loaded []*DataType
	pending := []int64{id}
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, ok := r.types[id]; ok {
			continue
		}
		t, err := r.loadType(id)
		if err != nil {
			for _, t := range loaded {
				delete(r.types, t.ID)
			}
			return nil, err
		}
		r.types[id] = t
		loaded = append(loaded, t)
		if t.innerID.Valid {
			pending = append(pending, t.innerID.Int64)
		}
		for _, m := range t.members {
			pending = append(pending, m.typeID)
		}
	}

	for _, t := range loaded {
		switch {
		case t.innerID.Valid:
			t.inner = r.types[t.innerID.Int64]
		case t.ops().nested || t.Kind == cachestore.KindTypedef:
			t.inner = r.void
		}
		for _, m := range t.members {
			m.Type = r.types[m.typeID]
		}
	}
	return r.types[id], nil
}

func (r *Reader) loadType(id int64) (*DataType, error) {
	t := &DataType{ID: id, r: r}
	var (
		kind string
		name sql.NullString
		loc  sql.NullInt64
	)
	err := r.db.QueryRow(`select kind, name, bytes, inner, loc from types where id = ?`, id).
		Scan(&kind, &name, &t.bytes, &t.innerID, &loc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &UnknownLocationError{What: fmt.Sprintf("type %d", id)}
		}
		return nil, fmt.Errorf("type %d: %w", id, err)
	}
	if t.Kind, err = cachestore.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("type %d: %w", id, err)
	}
	t.Name = name.String
	if t.Loc, err = r.location(loc); err != nil {
		return nil, err
	}

	switch t.Kind {
	case cachestore.KindStruct, cachestore.KindUnion, cachestore.KindClass:
		err = r.loadMembers(t)
	case cachestore.KindEnum:
		err = r.loadEnumerators(t)
	case cachestore.KindArray:
		err = r.loadDims(t)
	}
	if err != nil {
		return nil, fmt.Errorf("type %d: %w", id, err)
	}
	return t, nil
}

func (r *Reader) loadMembers(t *DataType) error {
	rows, err := r.db.Query(`select type, offset, name, loc from members
		where parent = ? order by offset, rowid`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var locs []sql.NullInt64
	for rows.Next() {
		var (
			m    Member
			name sql.NullString
			loc  sql.NullInt64
		)
		if err := rows.Scan(&m.typeID, &m.Offset, &name, &loc); err != nil {
			return err
		}
		m.Name = name.String
		t.members = append(t.members, &m)
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i, m := range t.members {
		if m.Loc, err = r.location(locs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) loadEnumerators(t *DataType) error {
	rows, err := r.db.Query(`select name, value, loc from enumerators
		where parent = ? order by rowid`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var locs []sql.NullInt64
	for rows.Next() {
		var (
			e   Enumerator
			loc sql.NullInt64
		)
		if err := rows.Scan(&e.Name, &e.Value, &loc); err != nil {
			return err
		}
		t.enumerators = append(t.enumerators, &e)
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i, e := range t.enumerators {
		if e.Loc, err = r.location(locs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) loadDims(t *DataType) error {
	rows, err := r.db.Query(`select size from array_dim where id = ? order by num`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var size sql.NullInt64
		if err := rows.Scan(&size); err != nil {
			return err
		}
		t.dims = append(t.dims, size)
	}
	return rows.Err()
}

// Types returns every data type of the cache ordered by id.
func (r *Reader) Types() ([]*DataType, error) {
	ids, err := r.ids(`select id from types order by id`)
	if err != nil {
		return nil, err
	}
	return r.typeList(ids)
}

// TypesByName returns the types named name. Both the bare name and the
// description returned by String are matched, so "struct node" finds the
// struct but not a typedef named node.
func (r *Reader) TypesByName(name string) ([]*DataType, error) {
	bare := name
	if i := strings.LastIndex(name, " "); i >= 0 {
		bare = name[i+1:]
	}
	ids, err := r.ids(`select id from types where name = ? order by id`, bare)
	if err != nil {
		return nil, err
	}
	all, err := r.typeList(ids)
	if err != nil {
		return nil, err
	}
	var types []*DataType
	for _, t := range all {
		if t.Name == name || t.String() == name {
			types = append(types, t)
		}
	}
	return types, nil
}

func (r *Reader) typeList(ids []int64) ([]*DataType, error) {
	types := make([]*DataType, 0, len(ids))
	for _, id := range ids {
		t, err := r.Type(id)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

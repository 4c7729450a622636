package cachereader

import "github.com/adbi/idk/pkg/cachestore"

// requirements are the types a type depends on directly. Hard
// requirements must be defined before the type is defined, soft ones only
// declared.
type requirements struct {
	hard []*DataType
	soft []*DataType
}

// add records r as a requirement. An anonymous type cannot be declared
// on its own, so its requirements are added instead.
func (rs *requirements) add(r *DataType, hard bool) {
	if r.Anonymous() {
		sub := r.requirements()
		for _, h := range sub.hard {
			rs.addOne(h, true)
		}
		for _, s := range sub.soft {
			rs.addOne(s, false)
		}
		return
	}
	if r.ops().declared {
		rs.addOne(r, hard)
	}
}

func (rs *requirements) addOne(r *DataType, hard bool) {
	list := &rs.soft
	if hard {
		list = &rs.hard
	}
	for _, t := range *list {
		if t == r {
			return
		}
	}
	*list = append(*list, r)
}

func noRequirements(*DataType, *requirements) {}

func innerRequirement(t *DataType, rs *requirements) {
	rs.add(t.inner, true)
}

// typedefRequirements only needs a declaration of a named struct, union
// or enum: typedef struct X Y; is valid C while X is incomplete.
func typedefRequirements(t *DataType, rs *requirements) {
	rs.add(t.inner, !t.inner.Forwardable())
}

// completion returns the type that must be defined after t for t to be
// a complete type, or nil.
func (t *DataType) completion() *DataType {
	if t.Kind == cachestore.KindTypedef && t.inner.Forwardable() {
		return t.inner
	}
	return nil
}

func compoundRequirements(t *DataType, rs *requirements) {
	for _, m := range t.members {
		rs.add(m.Type, true)
	}
}

func (t *DataType) requirements() *requirements {
	if t.reqs != nil {
		return t.reqs
	}
	if t.reqsBusy {
		// an anonymous type reached through itself
		return &requirements{}
	}
	t.reqsBusy = true
	rs := &requirements{}
	t.ops().requires(t, rs)
	t.reqsBusy = false
	t.reqs = rs
	return rs
}

// HardRequirements returns the types that must be defined before t can be
// defined.
func (t *DataType) HardRequirements() []*DataType {
	return t.requirements().hard
}

// SoftRequirements returns the types that must be declared before t can
// be defined.
func (t *DataType) SoftRequirements() []*DataType {
	return t.requirements().soft
}

// Decl is one step of a declaration order: the definition of Type if
// Definition is set, its forward declaration otherwise.
type Decl struct {
	Type       *DataType
	Definition bool
}

// DeclOrder returns the declarations and definitions needed to define t.
// The definition of t comes last unless t is a typedef of a struct, union
// or enum, which is followed by the definition of its target. Every hard
// requirement of a defined type is defined earlier in the result and
// every soft requirement is at least declared earlier.
func (t *DataType) DeclOrder() []Decl {
	o := &declOrderer{
		declared: make(map[*DataType]bool),
		defined:  make(map[*DataType]bool),
		busy:     make(map[*DataType]bool),
	}
	o.process(t)
	return o.out
}

type declOrderer struct {
	out      []Decl
	declared map[*DataType]bool
	defined  map[*DataType]bool
	busy     map[*DataType]bool
}

func (o *declOrderer) declare(t *DataType) {
	if t.Forwardable() && !o.declared[t] && !o.defined[t] {
		o.declared[t] = true
		o.out = append(o.out, Decl{Type: t})
	}
}

func (o *declOrderer) process(t *DataType) {
	if o.defined[t] || o.busy[t] {
		return
	}
	o.busy[t] = true
	defer delete(o.busy, t)

	rs := t.requirements()
	for _, r := range rs.hard {
		o.declare(r)
	}
	for _, r := range rs.soft {
		o.declare(r)
	}
	o.declare(t)

	for _, r := range rs.hard {
		o.process(r)
	}
	for _, r := range rs.soft {
		if !r.Forwardable() {
			o.process(r)
		}
	}

	o.defined[t] = true
	o.out = append(o.out, Decl{Type: t, Definition: true})

	if c := t.completion(); c != nil {
		o.process(c)
	}
}

// Program returns the C source of the declarations and definitions in
// the declaration order of t.
func (t *DataType) Program() ([]string, error) {
	var lines []string
	for _, d := range t.DeclOrder() {
		var (
			src []string
			err error
		)
		if d.Definition {
			src, err = d.Type.Define()
		} else {
			src, err = d.Type.Declare()
		}
		if err != nil {
			return nil, err
		}
		if len(src) == 0 {
			continue
		}
		lines = append(lines, src...)
		lines = append(lines, "")
	}
	return lines, nil
}

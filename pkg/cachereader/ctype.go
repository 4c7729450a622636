package cachereader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adbi/idk/pkg/cachestore"
)

// kindOps is the behaviour of one kind of data type.
type kindOps struct {
	// nested kinds derive from their inner type and are never defined on
	// their own.
	nested bool
	// declared kinds appear in requirement sets.
	declared bool

	scalar      func(t *DataType) bool
	forwardable func(t *DataType) bool
	codename    func(t *DataType) (string, error)
	declarator  func(t *DataType, name string) string
	printf      func(t *DataType) (string, bool)
	requires    func(t *DataType, rs *requirements)
	define      func(t *DataType) ([]string, error)
	describe    func(t *DataType) string
}

var (
	kindTable map[cachestore.Kind]*kindOps
	voidOps   *kindOps
)

func init() {
	builtin := func(codename func(*DataType) (string, error), printf func(*DataType) (string, bool)) *kindOps {
		return &kindOps{
			scalar:      always,
			forwardable: never,
			codename:    codename,
			declarator:  plainDeclarator,
			printf:      printf,
			requires:    noRequirements,
			define:      defineBuiltin,
			describe:    (*DataType).SafeName,
		}
	}
	compound := func(prefix, str string) *kindOps {
		return &kindOps{
			declared:    true,
			scalar:      never,
			forwardable: named,
			codename:    compoundCodename(prefix),
			declarator:  plainDeclarator,
			printf:      notPrintable,
			requires:    compoundRequirements,
			define:      defineCompound(prefix),
			describe: func(t *DataType) string {
				return str + " " + t.SafeName()
			},
		}
	}
	indirect := func(decl, str string) *kindOps {
		return &kindOps{
			nested:      true,
			scalar:      always,
			forwardable: never,
			codename:    nestedCodename,
			declarator: func(t *DataType, name string) string {
				n := strings.TrimRight(decl+" "+name, " ")
				if t.inner.Kind == cachestore.KindArray && !t.inner.void {
					n = "(" + n + ")"
				}
				return t.inner.declarator(n)
			},
			printf: func(*DataType) (string, bool) {
				return "0x%x", true
			},
			requires: func(t *DataType, rs *requirements) {
				rs.add(t.inner, false)
			},
			define: defineNothing,
			describe: func(t *DataType) string {
				return str + " " + t.inner.String()
			},
		}
	}
	modifier := func(decl, str string) *kindOps {
		return &kindOps{
			nested:      true,
			scalar:      innerScalar,
			forwardable: never,
			codename:    nestedCodename,
			declarator: func(t *DataType, name string) string {
				return t.inner.declarator(strings.TrimRight(decl+" "+name, " "))
			},
			printf: func(t *DataType) (string, bool) {
				return t.inner.PrintfPattern()
			},
			requires: innerRequirement,
			define:   defineNothing,
			describe: func(t *DataType) string {
				return str + " " + t.inner.String()
			},
		}
	}

	unsupported := &kindOps{
		scalar:      never,
		forwardable: never,
		codename: func(*DataType) (string, error) {
			return "void /* unsupported */", nil
		},
		declarator: plainDeclarator,
		printf:     notPrintable,
		requires:   noRequirements,
		define: func(t *DataType) ([]string, error) {
			return []string{fmt.Sprintf("// datatype %s is not supported", t)}, nil
		},
		describe: (*DataType).SafeName,
	}

	voidOps = &kindOps{
		scalar:      never,
		forwardable: never,
		codename: func(*DataType) (string, error) {
			return "void", nil
		},
		declarator: plainDeclarator,
		printf:     notPrintable,
		requires:   noRequirements,
		define:     defineNothing,
		describe: func(*DataType) string {
			return "void"
		},
	}

	kindTable = map[cachestore.Kind]*kindOps{
		cachestore.KindUnsupported: unsupported,

		cachestore.KindInt:   builtin(intCodename("signed "), intPrintf("d")),
		cachestore.KindUint:  builtin(intCodename("unsigned "), intPrintf("u")),
		cachestore.KindBool:  builtin(intCodename(""), intPrintf("d")),
		cachestore.KindChar:  builtin(charCodename("signed "), charPrintf),
		cachestore.KindUchar: builtin(charCodename("unsigned "), charPrintf),
		cachestore.KindFloat: builtin(floatCodename, notPrintable),

		cachestore.KindConst:    modifier("/* const */", "const"),
		cachestore.KindVolatile: modifier("volatile", "volatile"),
		cachestore.KindRestrict: modifier("__restrict__", "restrict"),
		cachestore.KindPacked:   modifier("/* packed */", "packed"),
		cachestore.KindShared:   modifier("/* shared */", "shared"),

		cachestore.KindPtr:  indirect("*", "pointer to"),
		cachestore.KindRef:  indirect("* /* ref */", "reference to"),
		cachestore.KindRRef: indirect("* /* rref */", "right reference to"),

		cachestore.KindStruct: compound("struct", "struct"),
		cachestore.KindClass:  compound("struct /* class */", "class"),
		cachestore.KindUnion:  compound("union", "union"),

		cachestore.KindEnum: {
			declared:    true,
			scalar:      always,
			forwardable: named,
			codename: func(t *DataType) (string, error) {
				if t.Anonymous() {
					return anonCodename(t), nil
				}
				return "enum " + t.Name, nil
			},
			declarator: plainDeclarator,
			printf:     notPrintable,
			requires:   noRequirements,
			define:     defineEnum,
			describe: func(t *DataType) string {
				return "enum " + t.SafeName()
			},
		},

		cachestore.KindArray: {
			nested:      true,
			scalar:      never,
			forwardable: never,
			codename:    nestedCodename,
			declarator:  arrayDeclarator,
			printf:      notPrintable,
			requires:    innerRequirement,
			define:      defineNothing,
			describe: func(t *DataType) string {
				if len(t.dims) > 1 {
					return fmt.Sprintf("%d-dimensional array of %s", len(t.dims), t.inner)
				}
				return "array of " + t.inner.String()
			},
		},

		cachestore.KindTypedef: {
			declared:    true,
			scalar:      innerScalar,
			forwardable: never,
			codename: func(t *DataType) (string, error) {
				return t.Name, nil
			},
			declarator: plainDeclarator,
			printf: func(t *DataType) (string, bool) {
				return t.inner.PrintfPattern()
			},
			requires: typedefRequirements,
			define: func(t *DataType) ([]string, error) {
				lines, err := t.inner.DeclareVar(t.Name)
				if err != nil {
					return nil, err
				}
				lines[0] = "typedef " + lines[0]
				return lines, nil
			},
			describe: func(t *DataType) string {
				return "typedef " + t.SafeName()
			},
		},
	}
}

func (t *DataType) ops() *kindOps {
	if t.void {
		return voidOps
	}
	if o, ok := kindTable[t.Kind]; ok {
		return o
	}
	return kindTable[cachestore.KindUnsupported]
}

func always(*DataType) bool { return true }
func never(*DataType) bool  { return false }

func named(t *DataType) bool {
	return !t.Anonymous()
}

func innerScalar(t *DataType) bool {
	return t.inner.Scalar()
}

func anonCodename(t *DataType) string {
	return fmt.Sprintf("__adbi_anon_type_%06x", t.ID)
}

func intCodename(sign string) func(*DataType) (string, error) {
	return func(t *DataType) (string, error) {
		var base string
		switch t.ByteSize() {
		case 1:
			base = "char"
		case 2:
			base = "short"
		case 4:
			base = "int"
		case 8:
			base = "long long int"
		case 16:
			base = "__int128"
		default:
			return "", &UnsupportedTypeError{Type: t.String(), Reason: fmt.Sprintf("no integer type of %d bytes", t.ByteSize())}
		}
		return sign + base, nil
	}
}

func intPrintf(conv string) func(*DataType) (string, bool) {
	return func(t *DataType) (string, bool) {
		var size string
		switch t.ByteSize() {
		case 1:
			size = "hh"
		case 2:
			size = "h"
		case 4:
		case 8:
			size = "ll"
		default:
			return notPrintable(t)
		}
		return "%" + size + conv, true
	}
}

func charCodename(sign string) func(*DataType) (string, error) {
	return func(t *DataType) (string, error) {
		if t.ByteSize() != 1 {
			return "", &UnsupportedTypeError{Type: t.String(), Reason: fmt.Sprintf("no character type of %d bytes", t.ByteSize())}
		}
		return sign + "char", nil
	}
}

func charPrintf(*DataType) (string, bool) {
	return "%c", true
}

func floatCodename(t *DataType) (string, error) {
	switch t.ByteSize() {
	case 2:
		return "__fp16", nil
	case 4:
		return "__adbi_fp32_t", nil
	case 8:
		return "__adbi_fp64_t", nil
	case 16:
		return "__adbi_fp128_t", nil
	}
	return "", &UnsupportedTypeError{Type: t.String(), Reason: fmt.Sprintf("no floating point type of %d bytes", t.ByteSize())}
}

func compoundCodename(prefix string) func(*DataType) (string, error) {
	return func(t *DataType) (string, error) {
		if t.Anonymous() {
			return anonCodename(t), nil
		}
		return prefix + " " + t.Name, nil
	}
}

// nestedCodename spells an abstract declarator of t, e.g. "struct node *".
func nestedCodename(t *DataType) (string, error) {
	lines, err := t.DeclareVar("")
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.Join(lines, " "), ";"), nil
}

func notPrintable(t *DataType) (string, bool) {
	return fmt.Sprintf("<dumping of %s is not supported>", t), false
}

func plainDeclarator(_ *DataType, name string) string {
	return name
}

func arrayDeclarator(t *DataType, name string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range t.dims {
		if d.Valid {
			fmt.Fprintf(&b, "[%d]", d.Int64)
		} else {
			b.WriteString("[]")
		}
	}
	return t.inner.declarator(b.String())
}

func (t *DataType) declarator(name string) string {
	return t.ops().declarator(t, name)
}

func defineBuiltin(t *DataType) ([]string, error) {
	return []string{fmt.Sprintf("// datatype %s does not need to be defined", t)}, nil
}

func defineNothing(*DataType) ([]string, error) {
	return nil, nil
}

func defineCompound(prefix string) func(*DataType) ([]string, error) {
	return func(t *DataType) ([]string, error) {
		if t.Anonymous() {
			// defined inline wherever it is used
			return nil, nil
		}
		members, err := t.defineMembers()
		if err != nil {
			return nil, err
		}
		lines := []string{fmt.Sprintf("%s __attribute__ ((__packed__)) %s {", prefix, t.Name)}
		lines = append(lines, indentLines(members)...)
		return append(lines, "};"), nil
	}
}

// defineMembers lays out the members of a packed compound, filling holes
// and the tail with padding arrays.
func (t *DataType) defineMembers() ([]string, error) {
	var (
		lines  []string
		offset int64
		pad    int
	)
	padding := func(n int64) {
		lines = append(lines, fmt.Sprintf("char __adbi_member_padding_%06x_%02d__[%d];", t.ID, pad, n))
		pad++
	}
	for _, m := range t.members {
		at := m.Offset / 8
		if offset < at {
			padding(at - offset)
			offset = at
		}
		if m.Loc.Valid() {
			lines = append(lines, fmt.Sprintf("/* Original definition: %s */", m.Loc))
		}
		lines = append(lines, fmt.Sprintf("/* Field offset: %4d */", at))
		decl, err := m.Type.DeclareVar(m.Name)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Name, err)
		}
		lines = append(lines, decl...)
		lines = append(lines, "")
		if end := at + m.Type.ByteSize(); end > offset {
			offset = end
		}
	}
	if size := t.ByteSize(); offset < size {
		padding(size - offset)
	}
	return lines, nil
}

func defineEnum(t *DataType) ([]string, error) {
	if t.Anonymous() {
		return nil, nil
	}
	lines := []string{"enum " + t.Name + " {"}
	lines = append(lines, indentLines(t.defineEnumerators())...)
	return append(lines, "};"), nil
}

func (t *DataType) defineEnumerators() []string {
	if len(t.enumerators) == 0 {
		return []string{"/* no enumerators */"}
	}
	hexDigits := func(v int64) string {
		if v < 0 {
			return strconv.FormatUint(uint64(-v), 16)
		}
		return strconv.FormatInt(v, 16)
	}
	var nl, xl, dl int
	for _, e := range t.enumerators {
		nl = max(nl, len(e.Name))
		xl = max(xl, len(hexDigits(e.Value)))
		dl = max(dl, len(strconv.FormatInt(e.Value, 10)))
	}
	lines := make([]string, 0, len(t.enumerators))
	for _, e := range t.enumerators {
		sign := ""
		if e.Value < 0 {
			sign = "-"
		}
		hex := strings.Repeat("0", xl-len(hexDigits(e.Value))) + hexDigits(e.Value)
		lines = append(lines, fmt.Sprintf("%-*s = %s0x%s,   /* == %*d */", nl, e.Name, sign, hex, dl, e.Value))
	}
	return lines
}

// Codename returns the name t is spelled with in generated C code.
func (t *DataType) Codename() (string, error) {
	return t.ops().codename(t)
}

// varType returns the type specifier lines of a declaration whose type
// is t. Anonymous compounds and enums are spelled out inline.
func (t *DataType) varType() ([]string, error) {
	switch t.Kind {
	case cachestore.KindStruct, cachestore.KindUnion, cachestore.KindClass, cachestore.KindEnum:
		if !t.Anonymous() || t.void {
			break
		}
		var (
			head string
			body []string
		)
		if t.Kind == cachestore.KindEnum {
			head = "enum {"
			body = t.defineEnumerators()
		} else {
			prefix := map[cachestore.Kind]string{
				cachestore.KindStruct: "struct",
				cachestore.KindUnion:  "union",
				cachestore.KindClass:  "struct /* class */",
			}[t.Kind]
			head = prefix + " __attribute__ ((__packed__)) {"
			var err error
			if body, err = t.defineMembers(); err != nil {
				return nil, err
			}
		}
		lines := append([]string{head}, indentLines(body)...)
		return append(lines, "}"), nil
	}
	name, err := t.Codename()
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// DeclareVar returns the lines declaring a variable of type t named
// name. An empty name declares nothing, which is useful for anonymous
// members and abstract declarators.
func (t *DataType) DeclareVar(name string) ([]string, error) {
	lines, err := t.Innermost().varType()
	if err != nil {
		return nil, err
	}
	last := lines[len(lines)-1]
	if decl := strings.TrimSpace(t.declarator(cName(name))); decl != "" {
		last += " " + decl
	}
	lines[len(lines)-1] = last + ";"
	return lines, nil
}

// Define returns the definition of t. Types that are defined inline or
// derived from other types yield no lines.
func (t *DataType) Define() ([]string, error) {
	return t.ops().define(t)
}

// Declare returns the forward declaration of t.
func (t *DataType) Declare() ([]string, error) {
	if !t.Forwardable() {
		return nil, &UnsupportedTypeError{Type: t.String(), Reason: "type cannot be forward declared"}
	}
	name, err := t.Codename()
	if err != nil {
		return nil, err
	}
	return []string{name + ";"}, nil
}

// PrintfPattern returns the printf conversion of a value of t. The
// boolean is false when values of t cannot be printed, in which case the
// pattern is a placeholder message.
func (t *DataType) PrintfPattern() (string, bool) {
	return t.ops().printf(t)
}

// PrintfStatement returns an adbi_printf call dumping the C expression
// name of type t.
func (t *DataType) PrintfStatement(name string) string {
	pattern, ok := t.PrintfPattern()
	args := []string{strconv.Quote(name)}
	if ok {
		args = append(args, name)
	}
	return fmt.Sprintf(`adbi_printf("%%s = %s", %s);`, pattern, strings.Join(args, ", "))
}

package cachestore

import (
	"database/sql"
	"fmt"
)

// Kind is the kind of a data type.
type Kind uint8

const (
	KindUnsupported Kind = iota
	KindInt
	KindUint
	KindChar
	KindUchar
	KindFloat
	KindBool
	KindConst
	KindVolatile
	KindRestrict
	KindPacked
	KindShared
	KindPtr
	KindRef
	KindRRef
	KindTypedef
	KindStruct
	KindUnion
	KindClass
	KindEnum
	KindArray
)

var kindNames = [...]string{
	KindUnsupported: "unsupported",
	KindInt:         "int",
	KindUint:        "uint",
	KindChar:        "char",
	KindUchar:       "uchar",
	KindFloat:       "float",
	KindBool:        "bool",
	KindConst:       "const",
	KindVolatile:    "volatile",
	KindRestrict:    "restrict",
	KindPacked:      "packed",
	KindShared:      "shared",
	KindPtr:         "ptr",
	KindRef:         "ref",
	KindRRef:        "rref",
	KindTypedef:     "typedef",
	KindStruct:      "struct",
	KindUnion:       "union",
	KindClass:       "class",
	KindEnum:        "enum",
	KindArray:       "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindUnsupported, fmt.Errorf("unknown type kind %q", s)
}

// InsnKind is the instruction set used by a range of code.
type InsnKind uint8

const (
	InsnData InsnKind = iota
	InsnARM
	InsnThumb
	InsnARM64
)

var insnKindNames = [...]string{
	InsnData:  "data",
	InsnARM:   "arm",
	InsnThumb: "thumb",
	InsnARM64: "arm64",
}

func (k InsnKind) String() string {
	if int(k) < len(insnKindNames) {
		return insnKindNames[k]
	}
	return fmt.Sprintf("InsnKind(%d)", uint8(k))
}

// ParseInsnKind is the inverse of InsnKind.String.
func ParseInsnKind(s string) (InsnKind, error) {
	for k, name := range insnKindNames {
		if name == s {
			return InsnKind(k), nil
		}
	}
	return InsnData, fmt.Errorf("unknown instruction set %q", s)
}

// Rows of the cache tables. Nullable columns use the database/sql null
// types. Address ranges are half-open file offset ranges.

type File struct {
	ID   int64
	Path string
}

type Location struct {
	ID   int64
	File int64
	Line int64
	Col  int64
}

type Type struct {
	ID    int64
	Kind  Kind
	Name  sql.NullString
	Bytes sql.NullInt64
	Inner sql.NullInt64
	Loc   sql.NullInt64
}

type Member struct {
	Parent int64
	Type   int64
	// Offset is in bits.
	Offset int64
	Name   sql.NullString
	Loc    sql.NullInt64
}

type Enumerator struct {
	Parent int64
	Name   string
	Value  int64
	Loc    sql.NullInt64
}

// ArrayDim is the extent of one dimension of an array type. An invalid
// Size means the extent is unknown.
type ArrayDim struct {
	ID   int64
	Num  int64
	Size sql.NullInt64
}

type Function struct {
	ID   int64
	Name string
	Lo   uint64
	Hi   uint64
	Loc  sql.NullInt64
}

type Param struct {
	Func int64
	Var  int64
	Idx  int64
}

// FramePointer is a frame base expression of a function. Lo and Hi are
// invalid when the expression is valid in the whole function.
type FramePointer struct {
	Func int64
	Lo   sql.NullInt64
	Hi   sql.NullInt64
	Expr []byte
}

type Variable struct {
	ID     int64
	Type   int64
	Name   sql.NullString
	Global bool
	Loc    sql.NullInt64
}

type VarRange struct {
	Var int64
	Lo  uint64
	Hi  uint64
}

// VarExpr is a location expression of a variable. Lo and Hi are invalid
// when the expression is valid wherever the variable is visible.
type VarExpr struct {
	Var  int64
	Lo   sql.NullInt64
	Hi   sql.NullInt64
	Expr []byte
}

// Line maps an address to a location. Addr is invalid when the address
// could not be translated to a file offset.
type Line struct {
	Addr sql.NullInt64
	Loc  int64
}

type Symbol struct {
	ID    int64
	Name  string
	Value uint64
	Size  uint64
	Bind  int64
	Type  int64
	Vis   int64
	Shndx int64
}

type InsnMapping struct {
	Addr uint64
	Kind InsnKind
}

type CFI struct {
	Lo   uint64
	Hi   uint64
	Expr []byte
}

type Section struct {
	ID     int64
	Name   string
	Type   int64
	Addr   uint64
	Offset uint64
	Size   uint64
	Flags  int64
}

// Cache holds the content of every table of a cache.
type Cache struct {
	// PtrSize is the size of an address of the target machine.
	PtrSize int

	Files         []File
	Locations     []Location
	Types         []Type
	Members       []Member
	Enumerators   []Enumerator
	ArrayDims     []ArrayDim
	Functions     []Function
	Params        []Param
	FramePointers []FramePointer
	Variables     []Variable
	VarRanges     []VarRange
	VarExprs      []VarExpr
	Lines         []Line
	Symbols       []Symbol
	InsnSet       []InsnMapping
	CFI           []CFI
	Sections      []Section
}

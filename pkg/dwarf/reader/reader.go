// Package reader loads the debug information entries of a binary into an
// in-memory tree with parent links and an offset index.
package reader

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"path/filepath"
)

// Tree holds every debug information entry of a binary, in the order they
// appear in .debug_info.
type Tree struct {
	Data  *dwarf.Data
	Units []*Unit

	entries  []*Entry
	byOffset map[dwarf.Offset]*Entry
}

// Unit is a compilation unit.
type Unit struct {
	Root    *Entry
	Name    string
	CompDir string
	// Base is the base address of range and location lists.
	Base uint64

	files []string
	lines *dwarf.LineReader
}

// Load reads all entries of data.
func Load(data *dwarf.Data) (*Tree, error) {
	t := &Tree{Data: data, byOffset: make(map[dwarf.Offset]*Entry)}
	rdr := data.Reader()

	var (
		stack []*Entry
		cu    *Unit
	)
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		entry := &Entry{Entry: e, tree: t}
		if e.Tag == dwarf.TagCompileUnit || e.Tag == dwarf.TagPartialUnit {
			stack = stack[:0]
			cu, err = t.newUnit(entry)
			if err != nil {
				return nil, err
			}
		} else if len(stack) > 0 {
			entry.Parent = stack[len(stack)-1]
			entry.Parent.Children = append(entry.Parent.Children, entry)
		}
		entry.Unit = cu

		t.entries = append(t.entries, entry)
		t.byOffset[e.Offset] = entry
		if e.Children {
			stack = append(stack, entry)
		}
	}

	if len(t.Units) == 0 {
		return nil, errors.New("no compilation units")
	}
	return t, nil
}

func (t *Tree) newUnit(root *Entry) (*Unit, error) {
	u := &Unit{Root: root}
	u.Name, _ = root.Entry.Val(dwarf.AttrName).(string)
	u.CompDir, _ = root.Entry.Val(dwarf.AttrCompDir).(string)
	u.Base, _ = root.Entry.Val(dwarf.AttrLowpc).(uint64)

	lr, err := t.Data.LineReader(root.Entry)
	if err != nil {
		return nil, fmt.Errorf("line table of %s: %w", u.Name, err)
	}
	u.lines = lr
	if lr != nil {
		for i, f := range lr.Files() {
			switch {
			case f != nil:
				u.files = append(u.files, u.Abs(f.Name))
			case i == 0:
				// DWARF 4 and earlier reserve index 0 for the primary
				// source file.
				u.files = append(u.files, u.Abs(u.Name))
			default:
				u.files = append(u.files, "")
			}
		}
	}
	if len(u.files) == 0 {
		u.files = []string{u.Abs(u.Name)}
	}
	t.Units = append(t.Units, u)
	return u, nil
}

// Entries returns all entries in .debug_info order.
func (t *Tree) Entries() []*Entry {
	return t.entries
}

// Entry returns the entry at offset off, or nil.
func (t *Tree) Entry(off dwarf.Offset) *Entry {
	return t.byOffset[off]
}

// Abs returns name as an absolute clean path, relative names are taken
// relative to the compilation directory.
func (u *Unit) Abs(name string) string {
	if name == "" {
		return ""
	}
	if !filepath.IsAbs(name) {
		dir := u.CompDir
		if dir == "" {
			dir = "."
		}
		name = filepath.Join(dir, name)
	}
	return filepath.Clean(name)
}

// Files returns the source files of the unit, indexed like DW_AT_decl_file.
func (u *Unit) Files() []string {
	return u.files
}

// File returns the source file with the given DW_AT_decl_file index.
func (u *Unit) File(idx int64) (string, bool) {
	if idx < 0 || idx >= int64(len(u.files)) || u.files[idx] == "" {
		return "", false
	}
	return u.files[idx], true
}

// LineReader returns a reader positioned at the start of the line program
// of the unit, or nil if the unit has no line program.
func (u *Unit) LineReader() *dwarf.LineReader {
	if u.lines != nil {
		u.lines.Reset()
	}
	return u.lines
}

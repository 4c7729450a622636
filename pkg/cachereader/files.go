package cachereader

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/adbi/idk/pkg/locspec"
)

// Location is a source location. The zero Location is undefined.
type Location struct {
	File string
	Line int
	Col  int

	short string
}

// Valid reports whether l is defined.
func (l Location) Valid() bool {
	return l.File != ""
}

func (l Location) String() string {
	var coords []string
	if l.short != "" {
		coords = append(coords, l.short)
	} else if l.File != "" {
		coords = append(coords, l.File)
	}
	for _, n := range []int{l.Line, l.Col} {
		if n != 0 {
			coords = append(coords, strconv.Itoa(n))
		}
	}
	if len(coords) == 0 {
		return "???"
	}
	return strings.Join(coords, ":")
}

// Files is the set of source files referenced by a cache.
type Files struct {
	paths  []string
	set    map[string]bool
	short  map[string]string
	prefix string
	rules  [][2]string
}

// Files returns the source files of the binary.
func (r *Reader) Files() (*Files, error) {
	if r.files != nil {
		return r.files, nil
	}
	rows, err := r.db.Query(`select distinct path from files order by path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.files = newFiles(paths, r.cfg.SubstitutePath.Pairs())
	return r.files, nil
}

func newFiles(paths []string, rules [][2]string) *Files {
	f := &Files{
		paths: paths,
		set:   make(map[string]bool, len(paths)),
		short: make(map[string]string, len(paths)),
		rules: rules,
	}
	var stable []string
	for _, p := range paths {
		f.set[p] = true
		if !strings.HasPrefix(p, "/tmp/") {
			stable = append(stable, p)
		}
	}
	f.prefix = commonPrefix(stable)
	if i := strings.LastIndex(f.prefix, "/"); i > 0 {
		f.prefix = f.prefix[:i+1]
	} else {
		f.prefix = ""
	}
	for _, p := range paths {
		f.short[p] = f.uniqueEnd(p)
	}
	return f
}

func commonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		n := 0
		for n < len(prefix) && n < len(p) && prefix[n] == p[n] {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}

// uniqueEnd returns the shortest suffix of p, starting after a slash,
// that no other file ends with.
func (f *Files) uniqueEnd(p string) string {
	var conflicts []string
	for _, other := range f.paths {
		if other != p {
			conflicts = append(conflicts, other)
		}
	}
	end := len(p)
	for {
		slash := strings.LastIndex(p[:end], "/")
		if slash < 0 {
			return p
		}
		candidate := p[slash:]
		remaining := conflicts[:0]
		for _, other := range conflicts {
			if strings.HasSuffix(other, candidate) {
				remaining = append(remaining, other)
			}
		}
		conflicts = remaining
		if len(conflicts) == 0 {
			return candidate[1:]
		}
		end = slash
	}
}

// All returns the paths of all source files, sorted.
func (f *Files) All() []string {
	return f.paths
}

// Simplify returns a short name for p: the shortest unique suffix of a
// known file, or p relative to the common directory of all files.
func (f *Files) Simplify(p string) string {
	if s, ok := f.short[p]; ok {
		return s
	}
	if f.prefix != "" && strings.HasPrefix(p, f.prefix) {
		return p[len(f.prefix):]
	}
	return p
}

// Local returns the path p should be read from on this machine, after
// applying the configured path substitution rules.
func (f *Files) Local(p string) string {
	return locspec.SubstitutePath(p, f.rules)
}

// Expand returns the known source file named by p. An absolute p must be
// known; a relative p must be the suffix of exactly one known file. Paths
// are matched both as recorded and after path substitution.
func (f *Files) Expand(p string) (string, error) {
	norm := path.Clean(p)

	if path.IsAbs(norm) {
		if f.set[norm] {
			return norm, nil
		}
		for _, known := range f.paths {
			if f.Local(known) == norm {
				return known, nil
			}
		}
		return "", &UnknownLocationError{What: "source file " + norm}
	}

	suffix := "/" + norm
	var matches []string
	for _, known := range f.paths {
		if strings.HasSuffix(known, suffix) || strings.HasSuffix(f.Local(known), suffix) || known == norm {
			matches = append(matches, known)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", &UnknownLocationError{What: "source file " + p}
	default:
		return "", &AmbiguousReferenceError{Name: p, Files: matches}
	}
}

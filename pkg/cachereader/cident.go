package cachereader

import "strings"

const indent = "    "

var keywords = map[string]bool{
	"auto": true, "break": true, "case": true, "char": true,
	"const": true, "continue": true, "default": true, "do": true,
	"double": true, "else": true, "enum": true, "extern": true,
	"float": true, "for": true, "goto": true, "if": true,
	"int": true, "long": true, "register": true, "return": true,
	"short": true, "signed": true, "sizeof": true, "static": true,
	"struct": true, "switch": true, "typedef": true, "union": true,
	"unsigned": true, "void": true, "volatile": true, "while": true,
}

func identFirst(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identOther(c byte) bool {
	return identFirst(c) || (c >= '0' && c <= '9')
}

// IsIdentifier reports whether s is a valid C identifier that is not a
// keyword.
func IsIdentifier(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	if !identFirst(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !identOther(s[i]) {
			return false
		}
	}
	return true
}

// ToIdentifier converts s to a valid C identifier by replacing invalid
// characters with an underscore. Keywords get an underscore appended.
func ToIdentifier(s string) string {
	if s == "" {
		return "_"
	}
	if keywords[s] {
		return s + "_"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (i == 0 && identFirst(c)) || (i > 0 && identOther(c)) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func cName(name string) string {
	if name == "" || IsIdentifier(name) {
		return name
	}
	return ToIdentifier(name)
}

func indentLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		if l == "" {
			continue
		}
		out[i] = indent + l
	}
	return out
}

package cachereader

import (
	"fmt"
	"strings"
)

// AmbiguousReferenceError is returned when a name or source line resolves
// to more than one address, or a file name to more than one source file.
type AmbiguousReferenceError struct {
	Name       string
	Candidates []uint64
	Files      []string
}

func (err *AmbiguousReferenceError) Error() string {
	if len(err.Files) > 0 {
		return fmt.Sprintf("ambiguous reference %s, matches: %s", err.Name, strings.Join(err.Files, ", "))
	}
	addrs := make([]string, len(err.Candidates))
	for i, addr := range err.Candidates {
		addrs[i] = fmt.Sprintf("%#x", addr)
	}
	return fmt.Sprintf("ambiguous reference %s, found at: %s", err.Name, strings.Join(addrs, ", "))
}

// UnknownLocationError is returned when an address, source line or name
// has no mapping in the cache.
type UnknownLocationError struct {
	What string
}

func (err *UnknownLocationError) Error() string {
	return "unknown location: " + err.What
}

// UnsupportedTypeError is returned when C code cannot be generated for a
// data type.
type UnsupportedTypeError struct {
	Type   string
	Reason string
}

func (err *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("cannot generate code for %s: %s", err.Type, err.Reason)
}

// Package leb128 provides encoders and decoders for The Little Endian Base 128 format.
// The Little Endian Base 128 format is defined in the DWARF v4 standard,
// section 7.6, page 161 and following.
//
// Decoders report truncated input as ErrTruncated instead of panicking,
// location expressions stored in the cache are untrusted input.
package leb128

// Package locspec parses location specs into file offsets of a binary.
//
// Location spec examples:
//
// locStr ::= *<address> | <filename>:<line> | <filename>:<function> | <function>[+<offset>]
// * *<address> is a file offset, in any base accepted by strconv.ParseUint
// * <filename> can be the full path of a source file or a unique suffix of it
// * <function> must be unambiguous, within <filename> if one is given
// * <offset> is hexadecimal and is added to the entry address of <function>
package locspec

// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame data.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/adbi/idk/pkg/dwarf/leb128"
)

type parsefunc func(*parseContext) parsefunc

type parseContext struct {
	buf     *bytes.Buffer
	data    []byte
	order   binary.ByteOrder
	entries Entries
	cies    map[uint32]*CommonInformationEntry
	common  *CommonInformationEntry
	frame   *FrameDescriptionEntry
	offset  uint32
	length  uint32
	ptrSize int
	err     error
}

// Parse decodes a .debug_frame section and returns its FDEs sorted by
// address. Addresses are read with the given byte order and pointer size.
func Parse(data []byte, order binary.ByteOrder, ptrSize int) (Entries, error) {
	var (
		buf  = bytes.NewBuffer(data)
		pctx = &parseContext{
			buf:     buf,
			data:    data,
			order:   order,
			entries: newEntries(),
			cies:    make(map[uint32]*CommonInformationEntry),
			ptrSize: ptrSize,
		}
	)

	for fn := parselength; buf.Len() != 0 && pctx.err == nil; {
		fn = fn(pctx)
	}
	if pctx.err != nil {
		return nil, pctx.err
	}

	for i := range pctx.entries {
		pctx.entries[i].order = order
		pctx.entries[i].ptrSize = ptrSize
	}
	pctx.entries.sort()

	return pctx.entries, nil
}

func (ctx *parseContext) fail(format string, args ...interface{}) parsefunc {
	ctx.err = fmt.Errorf("malformed .debug_frame at %#x: %s", ctx.offset, fmt.Sprintf(format, args...))
	return nil
}

func parselength(ctx *parseContext) parsefunc {
	ctx.offset = uint32(len(ctx.data) - ctx.buf.Len())
	if ctx.buf.Len() < 4 {
		return ctx.fail("truncated length")
	}
	ctx.length = ctx.order.Uint32(ctx.buf.Next(4))

	if ctx.length == 0 {
		// ZERO terminator
		return parselength
	}
	if ctx.length == 0xffffffff {
		return ctx.fail("64-bit DWARF is not supported")
	}
	if int(ctx.length) > ctx.buf.Len() || ctx.length < 4 {
		return ctx.fail("entry length %#x out of bounds", ctx.length)
	}

	id := ctx.order.Uint32(ctx.buf.Next(4))

	ctx.length -= 4 // take off the length of the CIE id / CIE pointer.

	if id == 0xffffffff {
		ctx.common = &CommonInformationEntry{Length: ctx.length, ID: id}
		ctx.cies[ctx.offset] = ctx.common
		return parseCIE
	}

	cie, ok := ctx.cies[id]
	if !ok {
		return ctx.fail("FDE references unknown CIE at %#x", id)
	}
	ctx.frame = &FrameDescriptionEntry{Length: ctx.length, CIE: cie}
	return parseFDE
}

func parseFDE(ctx *parseContext) parsefunc {
	r := ctx.buf.Next(int(ctx.length))
	if len(r) < 2*ctx.ptrSize {
		return ctx.fail("truncated FDE")
	}

	ctx.frame.begin = readAddr(r, ctx.order, ctx.ptrSize)
	ctx.frame.size = readAddr(r[ctx.ptrSize:], ctx.order, ctx.ptrSize)

	ctx.entries = append(ctx.entries, ctx.frame)

	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.frame.Instructions = r[2*ctx.ptrSize:]
	ctx.length = 0

	return parselength
}

func parseCIE(ctx *parseContext) parsefunc {
	data := ctx.buf.Next(int(ctx.length))
	buf := bytes.NewBuffer(data)
	var err error

	// parse version
	ctx.common.Version, err = buf.ReadByte()
	if err != nil {
		return ctx.fail("truncated CIE")
	}

	// parse augmentation
	aug, err := buf.ReadString(0)
	if err != nil {
		return ctx.fail("unterminated augmentation string")
	}
	ctx.common.Augmentation = aug[:len(aug)-1]
	if ctx.common.Augmentation != "" {
		return ctx.fail("unsupported augmentation %q", ctx.common.Augmentation)
	}

	if ctx.common.Version >= 4 {
		// address_size and segment_size
		buf.Next(2)
	}

	// parse code alignment factor
	if ctx.common.CodeAlignmentFactor, _, err = leb128.DecodeUnsigned(buf); err != nil {
		return ctx.fail("truncated CIE")
	}

	// parse data alignment factor
	if ctx.common.DataAlignmentFactor, _, err = leb128.DecodeSigned(buf); err != nil {
		return ctx.fail("truncated CIE")
	}

	// parse return address register
	if ctx.common.Version == 1 {
		b, err := buf.ReadByte()
		if err != nil {
			return ctx.fail("truncated CIE")
		}
		ctx.common.ReturnAddressRegister = uint64(b)
	} else if ctx.common.ReturnAddressRegister, _, err = leb128.DecodeUnsigned(buf); err != nil {
		return ctx.fail("truncated CIE")
	}

	// parse initial instructions
	// The rest of this entry consists of the instructions
	// so we can just grab all of the data from the buffer
	// cursor to length.
	ctx.common.InitialInstructions = buf.Bytes()
	ctx.length = 0

	return parselength
}

func readAddr(b []byte, order binary.ByteOrder, ptrSize int) uint64 {
	if ptrSize == 8 {
		return order.Uint64(b)
	}
	return uint64(order.Uint32(b))
}

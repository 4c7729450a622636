package frame

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// CommonInformationEntry is a CIE of .debug_frame: the state shared by
// the FDEs that reference it.
type CommonInformationEntry struct {
	Length                uint32
	ID                    uint32
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
}

// FrameDescriptionEntry is an FDE of .debug_frame, describing the frames
// of the code in [Begin, End).
type FrameDescriptionEntry struct {
	Length       uint32
	CIE          *CommonInformationEntry
	Instructions []byte

	begin, size uint64
	order       binary.ByteOrder
	ptrSize     int
}

// Cover reports whether addr is in the code described by fde.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return addr-fde.begin < fde.size
}

// Begin is the first address described by fde.
func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }

// End is the address following the code described by fde.
func (fde *FrameDescriptionEntry) End() uint64 { return fde.begin + fde.size }

// FrameAt runs the program of fde up to addr and returns the state of
// the table there.
func (fde *FrameDescriptionEntry) FrameAt(addr uint64) (*FrameContext, error) {
	return executeDwarfProgramUntilPC(fde, addr)
}

// Entries is the list of FDEs of a .debug_frame section, sorted by
// address once parsed.
type Entries []*FrameDescriptionEntry

func newEntries() Entries {
	return make(Entries, 0, 256)
}

func (fdes Entries) sort() {
	sort.SliceStable(fdes, func(i, j int) bool {
		return fdes[i].begin < fdes[j].begin
	})
}

// NoEntryError is returned when no FDE describes an address.
type NoEntryError struct {
	Addr uint64
}

func (err *NoEntryError) Error() string {
	return fmt.Sprintf("no frame description entry for %#x", err.Addr)
}

// At returns the FDE describing addr.
func (fdes Entries) At(addr uint64) (*FrameDescriptionEntry, error) {
	i := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].End() > addr
	})
	if i == len(fdes) || !fdes[i].Cover(addr) {
		return nil, &NoEntryError{Addr: addr}
	}
	return fdes[i], nil
}

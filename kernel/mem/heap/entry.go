package heap

import "unsafe"

// entryKind is the state of one Metadata slot.
type entryKind uint8

const (
	entryUnallocated entryKind = iota
	entryGeneral
	entryLongTable
)

// entryPayloadSize is sized to hold whichever of descriptor or longTable
// an entry is currently wearing; both are defined to fit exactly, so
// neither variant wastes space relative to the other.
const entryPayloadSize = 128

// entry is one slot of a Metadata page: either a General page (a data
// page plus a segment descriptor) or a LongTable (a bank of large-alloc
// records), chosen by kind and stored in payload via the same
// reinterpret-the-bytes technique mem.Memset/mem.Memcopy use to overlay a
// []byte view on a raw address, rather than a tagged union type the Go
// type system has no native support for.
type entry struct {
	page          uintptr
	maxFreeOffset uint16
	maxFreeLen    uint16
	kind          entryKind
	_             [3]byte
	payload       [entryPayloadSize]byte
}

func (e *entry) descriptor() *descriptor {
	return (*descriptor)(unsafe.Pointer(&e.payload))
}

func (e *entry) longTable() *longTable {
	return (*longTable)(unsafe.Pointer(&e.payload))
}

func (e *entry) isUnallocated() bool { return e.kind == entryUnallocated }
func (e *entry) isGeneral() bool     { return e.kind == entryGeneral }
func (e *entry) isLongTable() bool   { return e.kind == entryLongTable }

// canStoreAlloc reports whether this entry can currently satisfy a
// request for length segments (General) or one more record (LongTable).
func (e *entry) canStoreAlloc(length int) bool {
	switch e.kind {
	case entryGeneral:
		return int(e.maxFreeLen) >= length
	case entryLongTable:
		return e.longTable().hasFreeRecord()
	default:
		return false
	}
}

// becomeGeneral switches an Unallocated entry into a General one backed
// by the given freshly zeroed data page.
func (e *entry) becomeGeneral(pageAddr uintptr) {
	e.page = pageAddr
	e.kind = entryGeneral
	*e.descriptor() = descriptor{}
	e.maxFreeOffset = 0
	e.maxFreeLen = segmentsPerPage
}

// becomeLongTable switches an Unallocated entry into a LongTable.
func (e *entry) becomeLongTable() {
	e.kind = entryLongTable
	*e.longTable() = longTable{}
}

// updateMaxFree recomputes the cached (maxFreeOffset, maxFreeLen) pair
// for a General entry from its descriptor's current bitmap state.
func (e *entry) updateMaxFree() {
	offset, length := e.descriptor().largestFree()
	e.maxFreeOffset = uint16(offset)
	e.maxFreeLen = uint16(length)
}

// allocate places a run of length segments at maxFreeOffset and returns
// the byte range backing it. Assumes canStoreAlloc(length) already held.
func (e *entry) allocate(length int) []byte {
	offset := int(e.maxFreeOffset)
	e.descriptor().setUsed(offset, length)
	e.updateMaxFree()
	return segmentView(e.page, offset, length)
}

// containsPtr reports whether ptr falls within this entry's data page
// (General) or within any of its records' page runs (LongTable).
func (e *entry) containsPtr(ptr uintptr) bool {
	switch e.kind {
	case entryGeneral:
		return ptr&^0xFFF == e.page
	case entryLongTable:
		return e.longTable().containsPage(ptr &^ 0xFFF)
	default:
		return false
	}
}

// segmentOffset derives the segment index of ptr within its data page
// from the low 12 bits of the address.
func segmentOffset(ptr uintptr) int {
	return int(ptr&0xFFF) / segmentSize
}

// segmentView returns a []byte view over length segments starting at
// offset within the data page at pageAddr, using the same
// pointer-reinterpretation the rest of this tree uses to hand out memory
// without a Go-runtime allocation.
func segmentView(pageAddr uintptr, offset, length int) []byte {
	addr := pageAddr + uintptr(offset*segmentSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length*segmentSize)
}

package heap

import (
	"testing"
	"unsafe"
)

func newBackedEntry() (*entry, []byte) {
	buf := make([]byte, 4096)
	var e entry
	e.becomeGeneral(uintptr(unsafe.Pointer(&buf[0])))
	return &e, buf
}

func TestEntryPayloadUnionSizesAgree(t *testing.T) {
	var e entry
	if got := unsafe.Sizeof(e.payload); got != unsafe.Sizeof(descriptor{}) {
		t.Fatalf("payload size %d != descriptor size %d", got, unsafe.Sizeof(descriptor{}))
	}
	if got := unsafe.Sizeof(e.payload); got != unsafe.Sizeof(longTable{}) {
		t.Fatalf("payload size %d != longTable size %d", got, unsafe.Sizeof(longTable{}))
	}
}

func TestEntryBecomeGeneralStartsFullyFree(t *testing.T) {
	e, _ := newBackedEntry()
	if !e.isGeneral() {
		t.Fatalf("expected becomeGeneral to switch the entry to General")
	}
	if e.maxFreeOffset != 0 || int(e.maxFreeLen) != segmentsPerPage {
		t.Fatalf("expected a fresh General entry to report the whole page free")
	}
}

func TestEntryAllocateUpdatesMaxFree(t *testing.T) {
	e, _ := newBackedEntry()

	out := e.allocate(4)
	if len(out) != 4*segmentSize {
		t.Fatalf("allocate(4) returned %d bytes; want %d", len(out), 4*segmentSize)
	}
	if e.maxFreeOffset != 4 || int(e.maxFreeLen) != segmentsPerPage-4 {
		t.Fatalf("maxFree after allocate = (%d,%d); want (4,%d)", e.maxFreeOffset, e.maxFreeLen, segmentsPerPage-4)
	}
}

func TestEntryContainsPtrMatchesOwnPageOnly(t *testing.T) {
	e, buf := newBackedEntry()
	page := uintptr(unsafe.Pointer(&buf[0]))

	if !e.containsPtr(page + 16) {
		t.Fatalf("expected containsPtr to match an address inside the owned page")
	}
	if e.containsPtr(page + 0x2000) {
		t.Fatalf("did not expect containsPtr to match an address outside the owned page")
	}
}

func TestEntryCanStoreAllocReflectsKind(t *testing.T) {
	var unallocated entry
	if unallocated.canStoreAlloc(1) {
		t.Fatalf("expected an Unallocated entry to refuse every request")
	}

	general, _ := newBackedEntry()
	if !general.canStoreAlloc(segmentsPerPage) {
		t.Fatalf("expected a fresh General entry to store a whole-page request")
	}
	if general.canStoreAlloc(segmentsPerPage + 1) {
		t.Fatalf("did not expect a General entry to store more than one page")
	}

	var lt entry
	lt.becomeLongTable()
	if !lt.canStoreAlloc(0) {
		t.Fatalf("expected a fresh LongTable entry to have a free record")
	}
}

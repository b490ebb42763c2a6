package heap

import (
	"testing"
	"unsafe"

	"groveos/kernel/mem"
)

func installHeap(t *testing.T) *heapHarness {
	t.Helper()
	h := newHeapHarness()
	h.install(t)

	origHead := head
	head = newTestMetadata(t)
	t.Cleanup(func() { head = origHead })

	return h
}

func TestAllocateServesSmallRequestWithNaturalAlignment(t *testing.T) {
	installHeap(t)

	addr, err := Allocate(segmentSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr == 0 {
		t.Fatalf("expected a non-zero address")
	}
}

func TestAllocateAlignsSmallRequestAboveSegmentSize(t *testing.T) {
	installHeap(t)

	const align = 64
	addr, err := Allocate(33, align)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr%align != 0 {
		t.Fatalf("addr %#x is not %d-byte aligned", addr, align)
	}
}

func TestAllocateZeroedClearsReturnedRange(t *testing.T) {
	installHeap(t)

	addr, err := Allocate(4*segmentSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 4*segmentSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	addr2, err := AllocateZeroed(4*segmentSize, 1)
	if err != nil {
		t.Fatalf("AllocateZeroed: %v", err)
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(addr2)), 4*segmentSize)
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d = %#x; want 0", i, b)
		}
	}
}

func TestDeallocateReleasesThroughHead(t *testing.T) {
	h := installHeap(t)

	addr, err := Allocate(segmentSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	page := addr &^ 0xFFF

	Deallocate(addr)

	if !h.freed[page] {
		t.Fatalf("expected Deallocate to release the backing page")
	}
}

func TestReallocateGrowsThroughHead(t *testing.T) {
	installHeap(t)

	addr, err := Allocate(segmentSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	grown, err := Reallocate(addr, 4*segmentSize)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if grown == 0 {
		t.Fatalf("expected a non-zero grown address")
	}
}

func TestMustAllocatePanicsOnFailure(t *testing.T) {
	h := installHeap(t)

	// Exhaust every entry on the head page first, while allocPageFn still
	// succeeds, so the next request has nowhere to go but a brand new
	// metadata page.
	for i := 0; i < entriesPerPage; i++ {
		if out := head.Allocate(int(mem.PageSize)); out == nil {
			t.Fatalf("failed to fill entry %d", i)
		}
	}

	h.allocErr = errHeapExhausted
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustAllocate to panic once the heap is exhausted")
		}
	}()
	MustAllocate(segmentSize, 1)
}

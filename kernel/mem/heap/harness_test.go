package heap

import (
	"testing"
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

// heapHarness backs allocPageFn/allocManyFn with ordinary Go-heap memory
// (permitted here since this is a _test.go file, unlike the rest of this
// package) and records unmapAddrFn/freeFrameFn calls, so Metadata's
// algorithms can be exercised without a real VPA/PFA underneath them —
// the same role harness plays for kernel/mem/vmm's own PTM tests.
type heapHarness struct {
	pages    map[uintptr][]byte
	freed    map[uintptr]bool
	allocErr *kernel.Error
}

func newHeapHarness() *heapHarness {
	return &heapHarness{pages: map[uintptr][]byte{}, freed: map[uintptr]bool{}}
}

func (h *heapHarness) newPage() uintptr {
	buf := make([]byte, int(mem.PageSize))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	h.pages[addr] = buf
	return addr
}

func (h *heapHarness) install(t *testing.T) {
	t.Helper()

	origAllocPage, origAllocMany := allocPageFn, allocManyFn
	origUnmap, origFree := unmapAddrFn, freeFrameFn
	t.Cleanup(func() {
		allocPageFn, allocManyFn = origAllocPage, origAllocMany
		unmapAddrFn, freeFrameFn = origUnmap, origFree
	})

	allocPageFn = func() (uintptr, *kernel.Error) {
		if h.allocErr != nil {
			return 0, h.allocErr
		}
		return h.newPage(), nil
	}
	allocManyFn = func(dst []uintptr) *kernel.Error {
		if h.allocErr != nil {
			return h.allocErr
		}
		for i := range dst {
			dst[i] = h.newPage()
		}
		return nil
	}
	unmapAddrFn = func(addr uintptr) (pmm.Frame, *kernel.Error) {
		h.freed[addr] = true
		return pmm.Frame(1), nil
	}
	freeFrameFn = func(pmm.Frame) *kernel.Error { return nil }
}

// newTestMetadata builds a standalone Metadata page backed by the harness,
// bypassing Init/head so each test gets its own isolated chain.
func newTestMetadata(t *testing.T) *Metadata {
	t.Helper()
	m, err := newMetadataPage()
	if err != nil {
		t.Fatalf("newMetadataPage: %v", err)
	}
	return m
}

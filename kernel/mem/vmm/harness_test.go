package vmm

import (
	"testing"
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

// harness backs the three reserved addresses with ordinary Go memory so
// tests can exercise the PTM without dereferencing real high-canonical
// addresses, the same role ptePtrFn plays for the single-level recursive
// scheme this package's teacher used.
//
// Unlike that scheme, SELF/STATIC here are supposed to track whichever
// hierarchy is currently active, not a single fixed table: the harness's
// switchPDTFn mock re-resolves activePML4/activeReserved by walking the
// newly active PML4's own SELF/STATIC chain, exactly as the CPU's own
// paging hardware would.
type harness struct {
	pml4     [entriesPerPT]pageTableEntry
	reserved [entriesPerPT]pageTableEntry

	activePML4     *[entriesPerPT]pageTableEntry
	activeReserved *[entriesPerPT]pageTableEntry

	frames    map[pmm.Frame]*[entriesPerPT]pageTableEntry
	freed     map[pmm.Frame]bool
	nextFrame pmm.Frame
	allocErr  *kernel.Error

	active         uintptr
	switchPDTCalls int
}

func newHarness() *harness {
	h := &harness{
		frames: map[pmm.Frame]*[entriesPerPT]pageTableEntry{},
		freed:  map[pmm.Frame]bool{},
	}
	h.activePML4 = &h.pml4
	h.activeReserved = &h.reserved
	return h
}

// setActive records addr as the active PDT and, if addr corresponds to a
// frame the harness actually knows about, re-resolves activePML4 and
// activeReserved by walking that frame's own SELF chain. A switch to an
// address the harness has no backing for (e.g. the zero value before any
// hierarchy exists) leaves the previous resolution in place.
func (h *harness) setActive(addr uintptr) {
	h.active = addr

	pml4, ok := h.frames[pmm.Frame(addr>>mem.PageShift)]
	if !ok {
		return
	}
	pdpt, ok := h.frames[pml4[pml4Index(selfAddr)].Frame()]
	if !ok {
		return
	}
	pd, ok := h.frames[pdpt[pdptIndex(selfAddr)].Frame()]
	if !ok {
		return
	}
	pt, ok := h.frames[pd[pdIndex(selfAddr)].Frame()]
	if !ok {
		return
	}

	h.activePML4 = pml4
	h.activeReserved = pt
}

func (h *harness) install(t *testing.T) {
	t.Helper()

	origAlloc, origFree, origFlush, origTablePtr := allocFrameFn, freeFrameFn, flushTLBEntryFn, tablePtrFn
	origSwitch, origActive := switchPDTFn, activePDTFn
	t.Cleanup(func() {
		allocFrameFn, freeFrameFn, flushTLBEntryFn, tablePtrFn = origAlloc, origFree, origFlush, origTablePtr
		switchPDTFn, activePDTFn = origSwitch, origActive
	})

	switchPDTFn = func(addr uintptr) {
		h.switchPDTCalls++
		h.setActive(addr)
	}
	activePDTFn = func() uintptr { return h.active }

	allocFrameFn = func() (pmm.Frame, *kernel.Error) {
		if h.allocErr != nil {
			return pmm.InvalidFrame, h.allocErr
		}
		h.nextFrame++
		f := h.nextFrame
		h.frames[f] = &[entriesPerPT]pageTableEntry{}
		return f, nil
	}
	freeFrameFn = func(f pmm.Frame) *kernel.Error {
		if _, ok := h.frames[f]; !ok {
			t.Fatalf("freeing unknown or already-freed frame %d", f)
		}
		delete(h.frames, f)
		h.freed[f] = true
		return nil
	}
	flushTLBEntryFn = func(uintptr) {}
	tablePtrFn = func(addr uintptr) unsafe.Pointer {
		switch addr {
		case selfAddr:
			return unsafe.Pointer(&h.activePML4[0])
		case staticAddr:
			return unsafe.Pointer(&h.activeReserved[0])
		case workAddr:
			frame := h.activeReserved[ptIndex(workAddr)].Frame()
			tbl, ok := h.frames[frame]
			if !ok {
				t.Fatalf("WORK points at unknown frame %d", frame)
			}
			return unsafe.Pointer(&tbl[0])
		}
		t.Fatalf("unexpected tablePtrFn address %#x", addr)
		return nil
	}
}

// newTable allocates a table frame directly through the harness's frame
// map, bypassing allocFrameFn's call counting, for tests that need to
// pre-wire a hierarchy before exercising an operation under test.
func (h *harness) newTable() (pmm.Frame, *[entriesPerPT]pageTableEntry) {
	h.nextFrame++
	f := h.nextFrame
	tbl := &[entriesPerPT]pageTableEntry{}
	h.frames[f] = tbl
	return f, tbl
}

// buildHierarchy wires up a standalone 4-frame PML4/PDPT/PD/reserved-PT
// chain with valid SELF and STATIC self-maps, without activating it —
// the shape SetupPML4 produces, built by hand so tests can exercise a
// hierarchy that isn't the currently active one.
func (h *harness) buildHierarchy() pmm.Frame {
	pml4F, pml4 := h.newTable()
	pdptF, pdpt := h.newTable()
	pdF, pd := h.newTable()
	ptF, pt := h.newTable()

	set := func(tbl *[entriesPerPT]pageTableEntry, idx uintptr, frame pmm.Frame) {
		tbl[idx] = 0
		tbl[idx].SetFrame(frame)
		tbl[idx].SetFlags(FlagRW)
	}
	set(pml4, pml4Index(selfAddr), pdptF)
	set(pdpt, pdptIndex(selfAddr), pdF)
	set(pd, pdIndex(selfAddr), ptF)
	set(pt, ptIndex(selfAddr), pml4F)
	set(pt, ptIndex(staticAddr), ptF)
	return pml4F
}

package vmm

import (
	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

var (
	// ErrOutOfVirtualMemory is returned when an allocator's cursor would
	// have to pass maxVirtPage to satisfy a request.
	ErrOutOfVirtualMemory = &kernel.Error{Module: "vmm", Message: "out of virtual memory"}

	// ErrAlreadyMapped is returned by AllocAt/AllocManyAt when the
	// caller-chosen address (or one of a run) is already live.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "address is already mapped"}
)

// maxVirtPage bounds how far a VirtualAllocator's cursor may advance while
// probing for a free page; one past this is outside any address a 4-level
// hierarchy without 5-level paging extensions can address.
const maxVirtPage = uintptr(0x_FFFF_FFFF_FFFF_F)

// VirtualAllocator hands out virtual pages within one address space,
// backing each with a freshly allocated physical frame through the
// PageTableManager it was built against.
//
// It is a bump allocator with give-back: the cursor only ever retreats when
// a Page below it is released, never on every release, so the common case
// (allocate, use, never release until teardown) stays O(1) per call.
type VirtualAllocator struct {
	ptm     *PageTableManager
	virtPtr uintptr
}

// NewVirtualAllocator returns an allocator that will hand out pages
// starting at startAddr within the address space ptm manages.
func NewVirtualAllocator(ptm *PageTableManager, startAddr uintptr) *VirtualAllocator {
	return &VirtualAllocator{ptm: ptm, virtPtr: startAddr >> mem.PageShift}
}

// Page is a scoped handle binding a virtual address to the VirtualAllocator
// that owns it. Go has no destructors, so unlike the RAII handle this type
// is modeled on, a Page does not release itself when it goes out of scope:
// every caller must eventually call exactly one of Release or Leak.
type Page struct {
	addr uintptr
	vpa  *VirtualAllocator
}

// Address returns the virtual address this page handle was bound to.
func (p Page) Address() uintptr { return p.addr }

// Release unmaps the page and frees its backing frame, unless it has been
// leaked. Safe to call on a leaked page; it becomes a no-op.
func (p Page) Release() *kernel.Error {
	return p.vpa.dealloc(p)
}

// Leak marks the page's mapping as surviving past this handle: Release
// becomes a no-op and the caller is responsible for ever tearing the
// mapping down again. Metadata and data pages handed to the heap are
// leaked this way, since the heap — not the VPA — owns their lifetime from
// that point on.
func (p Page) Leak() {
	SetFlags(p.addr, FlagLeaked, true)
}

// Alloc probes forward from the cursor for the first unmapped page, maps it
// to a freshly allocated frame with WRITABLE set, advances the cursor past
// the claim and returns a handle to it.
func (vpa *VirtualAllocator) Alloc() (Page, *kernel.Error) {
	var page [1]Page
	if err := vpa.allocRun(page[:]); err != nil {
		return Page{}, err
	}
	return page[0], nil
}

// AllocMany atomically allocates a contiguous virtual run of len(dst) pages,
// each backed by its own (not necessarily contiguous) physical frame, and
// fills dst with the resulting handles. dst is caller-owned: this package
// never allocates a slice of its own, since it runs before any heap exists
// for the Go allocator to carve a backing array out of.
func (vpa *VirtualAllocator) AllocMany(dst []Page) *kernel.Error {
	return vpa.allocRun(dst)
}

// allocRun finds the first run of len(dst) consecutive unmapped pages at or
// after the cursor, maps each to a fresh frame into dst, and advances the
// cursor one past the run's end. Any frame or mapping it claimed before
// hitting a failure is unwound before returning the error.
func (vpa *VirtualAllocator) allocRun(dst []Page) *kernel.Error {
	start, err := vpa.findRun(vpa.virtPtr, len(dst))
	if err != nil {
		return err
	}

	if err := vpa.mapRun(start, dst); err != nil {
		return err
	}

	if next := start + uintptr(len(dst)); next > vpa.virtPtr {
		vpa.virtPtr = next
	}
	return nil
}

// findRun returns the first page index at or after from that begins a run
// of count consecutive unmapped pages, scanning no further than
// maxVirtPage.
func (vpa *VirtualAllocator) findRun(from uintptr, count int) (uintptr, *kernel.Error) {
	for candidate := from; candidate+uintptr(count) <= maxVirtPage+1; candidate++ {
		run := true
		for i := 0; i < count; i++ {
			if IsMapped((candidate + uintptr(i)) << mem.PageShift) {
				run = false
				break
			}
		}
		if run {
			return candidate, nil
		}
	}
	return 0, ErrOutOfVirtualMemory
}

// mapRun maps len(dst) consecutive pages starting at page index start to
// fresh frames, filling dst in order, and rolls back every page it mapped
// if any allocation fails partway through.
func (vpa *VirtualAllocator) mapRun(start uintptr, dst []Page) *kernel.Error {
	for i := range dst {
		vaddr := (start + uintptr(i)) << mem.PageShift

		frame, err := allocFrameFn()
		if err != nil {
			vpa.unwind(dst[:i])
			return err
		}
		if err := MapAddr(vaddr, frame, FlagRW); err != nil {
			_ = freeFrameFn(frame)
			vpa.unwind(dst[:i])
			return err
		}
		dst[i] = Page{addr: vaddr, vpa: vpa}
	}
	return nil
}

func (vpa *VirtualAllocator) unwind(pages []Page) {
	for _, p := range pages {
		_ = vpa.dealloc(p)
	}
}

// AllocAt allocates a single page at the caller-chosen virtual address,
// failing with ErrAlreadyMapped if it is already live.
func (vpa *VirtualAllocator) AllocAt(vaddr uintptr) (Page, *kernel.Error) {
	var page [1]Page
	if err := vpa.allocRunAt(vaddr, page[:]); err != nil {
		return Page{}, err
	}
	return page[0], nil
}

// AllocManyAt allocates len(dst) consecutive pages starting at the
// caller-chosen virtual address, filling dst in order, and fails with
// ErrAlreadyMapped if any target page in the run is already live.
func (vpa *VirtualAllocator) AllocManyAt(vaddr uintptr, dst []Page) *kernel.Error {
	return vpa.allocRunAt(vaddr, dst)
}

func (vpa *VirtualAllocator) allocRunAt(vaddr uintptr, dst []Page) *kernel.Error {
	start := vaddr >> mem.PageShift
	for i := range dst {
		if IsMapped((start + uintptr(i)) << mem.PageShift) {
			return ErrAlreadyMapped
		}
	}
	return vpa.mapRun(start, dst)
}

// dealloc is invoked by Page.Release. A leaked page's PTE carries
// FlagLeaked and is left untouched; otherwise the mapping is torn down and
// its frame returned to the PFA, and the cursor retreats if the freed page
// sits below it.
func (vpa *VirtualAllocator) dealloc(p Page) *kernel.Error {
	if flags, ok := GetFlags(p.addr); ok && flags.HasFlags(FlagLeaked) {
		return nil
	}

	frame, err := UnmapAddr(p.addr)
	if err != nil {
		return err
	}
	if frame.IsValid() {
		if err := freeFrameFn(frame); err != nil {
			return err
		}
	}

	if page := p.addr >> mem.PageShift; page < vpa.virtPtr {
		vpa.virtPtr = page
	}
	return nil
}

// Install activates this allocator's address space and registers it as the
// current VPA.
func (vpa *VirtualAllocator) Install() {
	vpa.ptm.Install()
	currentVPA = vpa
}

// currentVPA is the VPA registered by the most recent call to Install.
var currentVPA *VirtualAllocator

// CurrentVPA returns the VPA most recently installed, or nil before any
// Install call.
func CurrentVPA() *VirtualAllocator { return currentVPA }

// Drop tears down the entire address space this allocator manages: every
// frame reachable from its PML4, then the PML4 itself. The allocator must
// not be used afterwards.
func (vpa *VirtualAllocator) Drop() *kernel.Error {
	return vpa.ptm.Drop()
}

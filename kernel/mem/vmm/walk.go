package vmm

import (
	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

// ensureChild returns the child frame parentFrame's entry at index
// points to, allocating and zeroing a fresh one if the entry is absent
// and alloc is true.
//
// It takes a frame and an index rather than a live pointer into the
// parent's table: provisioning a child needs WORK for the child's own
// zeroing, which retargets the one reusable window out from under any
// pointer still aliasing the parent. The parent view is re-established
// (a cheap, deterministic remap, since parentFrame is a plain value) right
// before the new entry is written — the snapshot/restore discipline
// recursive PTM operations are expected to follow around any nested use
// of the window.
func ensureChild(parentFrame pmm.Frame, index uintptr, alloc bool) (pmm.Frame, *kernel.Error) {
	parent := setWork(parentFrame)
	if parent[index].HasFlags(FlagPresent) {
		return parent[index].Frame(), nil
	}
	if !alloc {
		return pmm.InvalidFrame, ErrNotMapped
	}

	child, err := allocFrameFn()
	if err != nil {
		return pmm.InvalidFrame, err
	}

	setWork(child)
	mem.Memset(workAddr, 0, mem.PageSize)

	parent = setWork(parentFrame)
	parent[index] = 0
	parent[index].SetFrame(child)
	parent[index].SetFlags(FlagRW)
	return child, nil
}

// pteForAddress walks the active hierarchy down to the leaf PTE backing
// vaddr, allocating any missing intermediate PDPT/PD/PT tables along the
// way when alloc is true. When alloc is false and an intermediate table
// is missing, it returns (nil, ErrNotMapped) rather than allocating one.
//
// The returned pointer aliases WORK; it stays valid only until the next
// call that retargets the window (including another pteForAddress call),
// so callers must read or write through it immediately.
func pteForAddress(vaddr uintptr, alloc bool) (*pageTableEntry, *kernel.Error) {
	pml4 := pml4Table()
	pml4e := &pml4[pml4Index(vaddr)]
	if !pml4e.HasFlags(FlagPresent) {
		if !alloc {
			return nil, ErrNotMapped
		}
		child, err := allocFrameFn()
		if err != nil {
			return nil, err
		}
		setWork(child)
		mem.Memset(workAddr, 0, mem.PageSize)
		*pml4e = 0
		pml4e.SetFrame(child)
		pml4e.SetFlags(FlagRW)
	}
	pdptFrame := pml4e.Frame()

	pdFrame, err := ensureChild(pdptFrame, pdptIndex(vaddr), alloc)
	if err != nil {
		return nil, err
	}

	ptFrame, err := ensureChild(pdFrame, pdIndex(vaddr), alloc)
	if err != nil {
		return nil, err
	}

	pt := setWork(ptFrame)
	return &pt[ptIndex(vaddr)], nil
}

// MapAddr installs a present mapping from vaddr to frame with the given
// flags, allocating any missing intermediate tables. Errors only on
// frame exhaustion.
func MapAddr(vaddr uintptr, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pte, err := pteForAddress(vaddr, true)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)
	flushTLBEntryFn(vaddr)
	return nil
}

// UnmapAddr clears the mapping at vaddr, if any, and returns the frame
// that was mapped there. An absent mapping at any level is a no-op. When
// clearing the leaf entry leaves its PT empty, the PT's own frame is
// freed and its parent PD entry cleared too, and so on up through the PD
// and PDPT — the reserved window's own chain always carries the SELF and
// STATIC self-maps in its PT, so it never looks empty and is never
// collected this way.
func UnmapAddr(vaddr uintptr) (pmm.Frame, *kernel.Error) {
	pml4 := pml4Table()
	pml4e := &pml4[pml4Index(vaddr)]
	if !pml4e.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, nil
	}
	pdptFrame := pml4e.Frame()

	pdpt := setWork(pdptFrame)
	pdpte := &pdpt[pdptIndex(vaddr)]
	if !pdpte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, nil
	}
	pdFrame := pdpte.Frame()

	pd := setWork(pdFrame)
	pde := &pd[pdIndex(vaddr)]
	if !pde.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, nil
	}
	ptFrame := pde.Frame()

	pt := setWork(ptFrame)
	pte := &pt[ptIndex(vaddr)]
	if !pte.HasFlags(FlagPresent) {
		return pmm.InvalidFrame, nil
	}

	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(vaddr)

	if !tableEmpty(pt) {
		return frame, nil
	}
	if err := freeFrameFn(ptFrame); err != nil {
		return frame, err
	}
	pd = setWork(pdFrame)
	pd[pdIndex(vaddr)] = 0
	if !tableEmpty(pd) {
		return frame, nil
	}
	if err := freeFrameFn(pdFrame); err != nil {
		return frame, err
	}
	pdpt = setWork(pdptFrame)
	pdpt[pdptIndex(vaddr)] = 0
	if !tableEmpty(pdpt) {
		return frame, nil
	}
	if err := freeFrameFn(pdptFrame); err != nil {
		return frame, err
	}
	*pml4e = 0
	return frame, nil
}

// IsMapped reports whether vaddr currently has a present leaf mapping.
func IsMapped(vaddr uintptr) bool {
	pte, err := pteForAddress(vaddr, false)
	return err == nil && pte.HasFlags(FlagPresent)
}

// Translate returns the physical address vaddr currently maps to,
// including vaddr's own in-page offset, and whether a mapping exists.
func Translate(vaddr uintptr) (uintptr, bool) {
	pte, err := pteForAddress(vaddr, false)
	if err != nil || !pte.HasFlags(FlagPresent) {
		return 0, false
	}
	return pte.Frame().Address() | (vaddr & (uintptr(mem.PageSize) - 1)), true
}

// GetFlags returns the flags on vaddr's mapping, and whether vaddr is
// mapped at all. It never errors: an absent mapping simply reports ok
// as false.
func GetFlags(vaddr uintptr) (PageTableEntryFlag, bool) {
	pte, err := pteForAddress(vaddr, false)
	if err != nil || !pte.HasFlags(FlagPresent) {
		return 0, false
	}
	return PageTableEntryFlag(*pte &^ pageTableEntry(physAddrMask)), true
}

// SetFlags sets (value true) or clears (value false) flags on vaddr's
// existing mapping, leaving its frame and any other flag untouched. A
// no-op, not an error, if vaddr isn't mapped: callers that need to know
// which is the case should check IsMapped first.
func SetFlags(vaddr uintptr, flags PageTableEntryFlag, value bool) {
	pte, err := pteForAddress(vaddr, false)
	if err != nil || !pte.HasFlags(FlagPresent) {
		return
	}
	if value {
		pte.SetFlags(flags)
	} else {
		pte.ClearFlags(flags)
	}
	flushTLBEntryFn(vaddr)
}

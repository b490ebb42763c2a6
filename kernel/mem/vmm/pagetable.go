// Package vmm implements the page-table manager (PTM) and the per-address-
// space virtual page allocator (VPA) built on top of it.
//
// A live PML4 carries three reserved virtual addresses: SELF always maps
// to the PML4's own physical frame (a self-map, exactly like the
// classic recursive trick, but confined to one level); STATIC maps to a
// dedicated "reserved PT" — an ordinary page table, wired into the real
// hierarchy at SELF/STATIC/WORK's shared address prefix — whose own
// entry 510 self-maps it, the same trick one level down; WORK's real
// PTE happens to land at entry 511 of that same reserved PT (SELF,
// STATIC and WORK are three consecutive pages, and the carry from the
// low nibble of their addresses pushes all three into the last three
// slots of one PT: 509, 510, 511). Writing entry 511 through the STATIC
// self-map therefore rewrites WORK's own mapping directly — no
// circularity, because STATIC's target never changes once setup_pml4
// has run.
package vmm

import (
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

var (
	// ErrNotMapped is returned by operations that require an existing
	// intermediate table (translate/flags/unmap's internal walk) when
	// one is missing.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "address is not mapped"}

	// mocked by tests.
	allocFrameFn    = pmm.AllocFrame
	freeFrameFn     = pmm.FreeFrame
	flushTLBEntryFn = flushTLBEntry
	activePDTFn     = activePDT
	switchPDTFn     = switchPDT

	// tablePtrFn resolves one of the three reserved addresses to the
	// memory it currently backs. When compiling the kernel this is just
	// unsafe.Pointer(addr); tests override it to avoid dereferencing
	// unmapped high-canonical addresses in a hosted process.
	tablePtrFn = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }
)

// pml4Table gives direct array access to the active PML4 through SELF.
func pml4Table() *[entriesPerPT]pageTableEntry {
	return (*[entriesPerPT]pageTableEntry)(tablePtrFn(selfAddr))
}

// reservedPT gives direct array access to the reserved PT through
// STATIC. Valid only once setup_pml4 has run for the active hierarchy.
func reservedPT() *[entriesPerPT]pageTableEntry {
	return (*[entriesPerPT]pageTableEntry)(tablePtrFn(staticAddr))
}

// setWork rewrites entry 511 of the reserved PT (WORK's own real PTE)
// to point at frame, invalidates WORK's TLB entry, and returns WORK
// reinterpreted as a page table. Only one call site may hold the
// resulting view at a time: the next setWork call invalidates it.
func setWork(frame pmm.Frame) *[entriesPerPT]pageTableEntry {
	slot := &reservedPT()[ptIndex(workAddr)]
	*slot = 0
	slot.SetFrame(frame)
	slot.SetFlags(FlagRW)
	flushTLBEntryFn(workAddr)
	return (*[entriesPerPT]pageTableEntry)(tablePtrFn(workAddr))
}

func tableEmpty(t *[entriesPerPT]pageTableEntry) bool {
	for i := range t {
		if t[i].HasFlags(FlagPresent) {
			return false
		}
	}
	return true
}

// PageTableManager owns one 4-level paging hierarchy.
type PageTableManager struct {
	pml4Frame pmm.Frame
}

// kernelSpace is the hierarchy the loader installed and activated before
// jumping into the kernel.
var kernelSpace *PageTableManager

// InitKernelSpace records the address space already active when Kmain
// starts (the loader builds and installs it, reserved window included,
// as the last step before the jump) so the rest of the kernel can manage
// it through the same PageTableManager API that SetupPML4 produces for
// any later hierarchy.
func InitKernelSpace() *kernel.Error {
	kernelSpace = &PageTableManager{pml4Frame: pmm.Frame(activePDTFn() >> mem.PageShift)}
	return nil
}

// KernelSpace returns the manager for the kernel's own address space.
func KernelSpace() *PageTableManager {
	return kernelSpace
}

// SetupPML4 builds a brand new 4-level hierarchy: a PML4, a PDPT, a PD
// and the reserved PT, linked together with the SELF and STATIC
// self-maps already in place, then activates it. WORK is left absent;
// it is populated lazily by setWork on first use in the new hierarchy.
//
// Every frame is written to through the CURRENTLY ACTIVE hierarchy's own
// WORK window, not the one under construction: until the final
// switchPDTFn call, SELF/STATIC/WORK still resolve against the old
// hierarchy, so the new PML4's entries can only be reached by treating
// its frames as plain scratch memory, one at a time.
func (m *PageTableManager) SetupPML4() *kernel.Error {
	var frames [4]pmm.Frame
	n := 0
	defer func() {
		for i := 0; i < n; i++ {
			_ = freeFrameFn(frames[i])
		}
	}()

	for n = 0; n < 4; n++ {
		f, err := allocFrameFn()
		if err != nil {
			return err
		}
		frames[n] = f
	}
	pml4Frame, pdptFrame, pdFrame, ptFrame := frames[0], frames[1], frames[2], frames[3]

	for _, f := range frames {
		setWork(f)
		mem.Memset(workAddr, 0, mem.PageSize)
	}

	link := func(parent pmm.Frame, index uintptr, child pmm.Frame) {
		table := setWork(parent)
		table[index] = 0
		table[index].SetFrame(child)
		table[index].SetFlags(FlagRW)
	}
	link(pml4Frame, pml4Index(selfAddr), pdptFrame)
	link(pdptFrame, pdptIndex(selfAddr), pdFrame)
	link(pdFrame, pdIndex(selfAddr), ptFrame)
	link(ptFrame, ptIndex(selfAddr), pml4Frame)   // SELF self-map
	link(ptFrame, ptIndex(staticAddr), ptFrame)   // STATIC self-map

	m.pml4Frame = pml4Frame
	n = 0 // ownership transferred to the new hierarchy; defer must not free it
	switchPDTFn(pml4Frame.Address())
	return nil
}

// Install activates this hierarchy as the current CPU's active address
// space.
func (m *PageTableManager) Install() {
	switchPDTFn(m.pml4Frame.Address())
}

// Drop releases every frame reachable from this hierarchy's PML4 back to
// the physical frame allocator: every present PDPT, then its present
// PDs, then their present PTs (including the reserved PT itself, an
// ordinary branch from the PML4's point of view), then the PML4. The
// manager must not be used afterwards.
func (m *PageTableManager) Drop() *kernel.Error {
	prevActive := activePDTFn()
	defer switchPDTFn(prevActive)
	switchPDTFn(m.pml4Frame.Address())

	pml4 := pml4Table()
	for i := range pml4 {
		if pml4[i].HasFlags(FlagPresent) {
			dropTable(pml4[i].Frame(), 1)
		}
	}

	return freeFrameFn(m.pml4Frame)
}

// dropTable frees every present child table under frame (a table at the
// given level, 1=PDPT, 2=PD, 3=PT) and then frame itself. It re-maps
// WORK to frame at the top of every loop iteration instead of holding
// one table pointer across the whole loop: a recursive call reuses WORK
// for a different frame several levels down, and by the time control
// returns here the window no longer points at this level's table.
func dropTable(frame pmm.Frame, level int) {
	for i := uintptr(0); i < entriesPerPT; i++ {
		table := setWork(frame)
		entry := table[i]
		if !entry.HasFlags(FlagPresent) {
			continue
		}
		if level < pageLevels-1 {
			dropTable(entry.Frame(), level+1)
		}
	}

	_ = freeFrameFn(frame)
}

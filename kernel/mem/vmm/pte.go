package vmm

import "groveos/kernel/mem/pmm"

// PageTableEntryFlag describes a bit flag that can be applied to a page
// table entry.
type PageTableEntryFlag uintptr

// Page table entry flags, matching their bit position in the x86-64 PTE
// format.
const (
	FlagPresent PageTableEntryFlag = 1 << 0
	FlagRW      PageTableEntryFlag = 1 << 1
	FlagUser    PageTableEntryFlag = 1 << 2
	FlagWriteThrough PageTableEntryFlag = 1 << 3
	FlagCacheDisable PageTableEntryFlag = 1 << 4

	// FlagLeaked is a software-only flag (bit 62 is ignored by the MMU
	// for present entries below the physical address limit). A Page
	// handle's destructor checks it to decide whether to reclaim the
	// mapping: set, the mapping has been transferred to the caller and
	// must not be torn down automatically.
	FlagLeaked PageTableEntryFlag = 1 << 62

	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// HasFlags returns true if all of the given flags are set. GetFlags
// returns a PageTableEntryFlag rather than a pageTableEntry, so this
// mirrors pageTableEntry.HasFlags for callers working from a flag set
// already extracted out of an entry.
func (f PageTableEntryFlag) HasFlags(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

const (
	// physAddrMask isolates bits 12-51, the physical frame field of a
	// page table entry.
	physAddrMask = uintptr(0x000F_FFFF_FFFF_F000)
)

// pageTableEntry is a single 64-bit entry in any of the four paging
// structure levels (PML4, PDPT, PD, PT).
type pageTableEntry uintptr

// SetFlags ORs the given flags into the entry, leaving the frame field
// and any other flag untouched.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

// ClearFlags clears the given flags, leaving the frame field untouched.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// HasFlags returns true if all of the given flags are set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return pte&pageTableEntry(flags) == pageTableEntry(flags)
}

// HasAnyFlag returns true if at least one of the given flags is set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return pte&pageTableEntry(flags) != 0
}

// SetFrame points this entry at the given physical frame and marks it
// present, discarding any flags the entry previously carried. Callers
// that need other flags on the mapping (RW, USER, ...) apply them with
// SetFlags after calling SetFrame, the same order the rest of this
// package uses. An earlier version of this logic combined the address
// and the PRESENT bit with AND instead of OR, which zeroed the entry in
// all but the most degenerate case.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry(frame.Address()&physAddrMask) | pageTableEntry(FlagPresent)
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & physAddrMask) >> 12)
}

package vmm

// x86-64 4-level paging: PML4, PDPT, PD, PT, each with 512 entries
// indexed by 9 bits of the virtual address; the bottom 12 bits are the
// in-page byte offset.
const (
	pageLevels   = 4
	entriesPerPT = 512
	entryShift   = 3 // log2(8), size of a page table entry in bytes

	pml4Shift = 39
	pdptShift = 30
	pdShift   = 21
	ptShift   = 12

	entryIndexMask = entriesPerPT - 1
)

// Reserved virtual addresses used as the recursive-mapping window: SELF
// always refers to the currently active PML4's own 512 entries; STATIC
// refers to a dedicated "reserved PT" frame, self-mapped once and never
// repointed; WORK is the single reusable window onto whichever PDPT/PD/PT
// frame a walk currently needs to read or write. All three fall inside
// the same reserved PT (they differ only in their low 3 index bits, which
// carry to exactly entries 509/510/511), so SetupPML4 only ever has to
// provision one PT frame for the three of them.
const (
	selfAddr   = uintptr(0xFFFF_FDFF_FFFF_D000)
	staticAddr = uintptr(0xFFFF_FDFF_FFFF_E000)
	workAddr   = uintptr(0xFFFF_FDFF_FFFF_F000)
)

func pml4Index(vaddr uintptr) uintptr { return (vaddr >> pml4Shift) & entryIndexMask }
func pdptIndex(vaddr uintptr) uintptr { return (vaddr >> pdptShift) & entryIndexMask }
func pdIndex(vaddr uintptr) uintptr   { return (vaddr >> pdShift) & entryIndexMask }
func ptIndex(vaddr uintptr) uintptr   { return (vaddr >> ptShift) & entryIndexMask }

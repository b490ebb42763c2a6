package main

import "unsafe"

const (
	ptePresent = 1 << 0
	pteWrite   = 1 << 1

	physAddrMask = 0x000F_FFFF_FFFF_F000

	// Recursive-mapping window (step 5). Same three reserved virtual
	// addresses spec.md fixes for kernel/mem/vmm; cmd/loader never links
	// that package so the literals are repeated here rather than shared.
	selfAddr   = uint64(0xFFFF_FDFF_FFFF_D000)
	staticAddr = uint64(0xFFFF_FDFF_FFFF_E000)
	workAddr   = uint64(0xFFFF_FDFF_FFFF_F000)
)

func tableIndex(vaddr uint64, level int) uint64 {
	return (vaddr >> uint(12+9*level)) & 0x1FF
}

// physMem is the narrow read/write surface pageBuilder needs on
// physical memory. Boot services always runs with firmware's own
// identity map active, so physical addresses are directly dereferenceable;
// this interface exists purely so pageBuilder is host-testable against a
// fake backed by an ordinary Go map.
type physMem interface {
	zeroPage(addr uint64)
	readEntry(tableAddr uint64, index uint64) uint64
	writeEntry(tableAddr uint64, index uint64, entry uint64)
	writeBytes(addr uint64, data []byte)
}

// identityPhysMem is the production physMem: boot-services physical
// addresses dereferenced directly, since firmware's own page tables
// identity-map all usable and MMIO memory at this point in the boot.
type identityPhysMem struct{}

func (identityPhysMem) zeroPage(addr uint64) {
	p := (*[pageSize]byte)(unsafe.Pointer(uintptr(addr)))
	for i := range p {
		p[i] = 0
	}
}

func (identityPhysMem) readEntry(tableAddr, index uint64) uint64 {
	p := (*[512]uint64)(unsafe.Pointer(uintptr(tableAddr)))
	return p[index]
}

func (identityPhysMem) writeEntry(tableAddr, index, entry uint64) {
	p := (*[512]uint64)(unsafe.Pointer(uintptr(tableAddr)))
	p[index] = entry
}

func (identityPhysMem) writeBytes(addr uint64, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data))
	copy(dst, data)
}

// frameAllocator hands out a fresh, already-accounted-for physical
// frame. In production it calls bootServices.allocatePages(1); tests
// substitute a plain bump counter.
type frameAllocator func() (uint64, error)

// pageBuilder constructs the kernel's initial PML4 before CR3 is ever
// switched to it: every table it allocates is touched through
// identityPhysMem (or a fake in tests), never through the hierarchy it
// is building, since that hierarchy isn't installed yet.
type pageBuilder struct {
	mem   physMem
	alloc frameAllocator
	pml4  uint64
}

func newPageBuilder(mem physMem, alloc frameAllocator) (*pageBuilder, error) {
	frame, err := alloc()
	if err != nil {
		return nil, err
	}
	mem.zeroPage(frame)
	return &pageBuilder{mem: mem, alloc: alloc, pml4: frame}, nil
}

// mapPage installs a single 4 KiB mapping vaddr -> paddr, allocating any
// missing intermediate PDPT/PD/PT frames along the way (step 4's "map
// p_vaddr+4096i -> allocated_phys+4096i" and step 6/8's identity maps).
func (b *pageBuilder) mapPage(vaddr, paddr uint64, writable bool) error {
	table := b.pml4
	for level := 3; level >= 1; level-- {
		idx := tableIndex(vaddr, level)
		entry := b.mem.readEntry(table, idx)
		if entry&ptePresent == 0 {
			frame, err := b.alloc()
			if err != nil {
				return err
			}
			b.mem.zeroPage(frame)
			b.mem.writeEntry(table, idx, frame|ptePresent|pteWrite)
			entry = frame | ptePresent | pteWrite
		}
		table = entry & physAddrMask
	}

	flags := uint64(ptePresent)
	if writable {
		flags |= pteWrite
	}
	b.mem.writeEntry(table, tableIndex(vaddr, 0), (paddr&physAddrMask)|flags)
	return nil
}

// identityMap maps every 4 KiB page in [base, base+length) to itself,
// used for the framebuffer (step 6) and every included memory-map entry
// (step 8).
func (b *pageBuilder) identityMap(base, length uint64) error {
	start := base &^ (pageSize - 1)
	end := alignUp(base+length, pageSize)
	for addr := start; addr < end; addr += pageSize {
		if err := b.mapPage(addr, addr, true); err != nil {
			return err
		}
	}
	return nil
}

// loadSegment allocates ceil(memsz/4096) pages, copies filesz bytes from
// data starting at the segment's file offset, zero-fills the tail, and maps
// p_vaddr+4096i -> allocated_phys+4096i (step 4).
func (b *pageBuilder) loadSegment(ph programHeader, data []byte) error {
	pages := pageCount(ph.MemSz)
	for i := uint64(0); i < pages; i++ {
		frame, err := b.alloc()
		if err != nil {
			return err
		}
		b.mem.zeroPage(frame)

		pageOff := i * pageSize
		if pageOff < ph.FileSz {
			end := pageOff + pageSize
			if end > ph.FileSz {
				end = ph.FileSz
			}
			b.mem.writeBytes(frame, data[ph.Offset+pageOff:ph.Offset+end])
		}

		if err := b.mapPage(ph.VAddr+pageOff, frame, true); err != nil {
			return err
		}
	}
	return nil
}

// installRecursiveWindow wires SELF -> this PML4, STATIC -> the fresh
// scratch PT that mapPage allocates for the window's three slots, and
// leaves WORK (scratch PT entry 511) absent, matching step 5 and
// kernel/mem/vmm's SetupPML4 invariant: reading *SELF yields the PML4
// and writing STATIC[511] repoints *WORK.
func (b *pageBuilder) installRecursiveWindow() error {
	if err := b.mapPage(selfAddr, b.pml4, true); err != nil {
		return err
	}
	scratch := b.pml4
	for level := 3; level >= 1; level-- {
		scratch = b.mem.readEntry(scratch, tableIndex(selfAddr, level)) & physAddrMask
	}
	if err := b.mapPage(staticAddr, scratch, true); err != nil {
		return err
	}
	return nil
}

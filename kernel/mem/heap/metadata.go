package heap

import (
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
	"groveos/kernel/mem/vmm"
)

// entrySize is the footprint of one Metadata slot; a constant expression
// so entriesPerPage below can size the entries array to fit one page
// exactly, the way the teacher sizes its own fixed-capacity arrays.
const entrySize = unsafe.Sizeof(entry{})

// entriesPerPage is the number of entry slots a single Metadata page can
// hold alongside its prev/next links.
const entriesPerPage = (int(mem.PageSize) - 16) / int(entrySize)

// maxLargeAllocPages bounds a single large-path allocation's page count.
// AllocMany needs a caller-supplied destination slice rather than one it
// grows itself (this package never calls make/append, the same
// freestanding-allocator constraint kernel/mem/vmm observes), so the
// destination lives in a fixed-size stack array sized generously enough
// for any allocation this heap is expected to serve.
const maxLargeAllocPages = 512

// Metadata is one 4 KiB page of heap bookkeeping: a doubly-linked list
// node (prev/next chain other metadata pages when this one fills up) plus
// a fixed bank of entries, each independently Unallocated, General or
// LongTable.
type Metadata struct {
	prev    *Metadata
	next    *Metadata
	entries [entriesPerPage]entry
}

// Metadata must not exceed one page; a negative array length in the
// blank declaration below is a compile error, so this is the struct-fits-a-page assertion
// the teacher's own packed structures rely on unsafe.Sizeof for.
var _ [int(mem.PageSize) - int(unsafe.Sizeof(Metadata{}))]byte

// head is the first metadata page, allocated once by Init and kept alive
// for the life of the kernel regardless of how empty it becomes.
var head *Metadata

// vpa is the virtual allocator the heap carves data and metadata pages
// out of. Set once by Init.
var vpa *vmm.VirtualAllocator

// allocPageFn, allocManyFn, unmapAddrFn and freeFrameFn are the seams
// between this package's bookkeeping and the real VPA/PFA, following the
// same package-level-function-variable pattern kernel/mem/vmm uses for
// its own hardware-touching calls: tests substitute a host-memory stand-in
// so the metadata/descriptor state machine is exercised without a real
// page-table hierarchy underneath it. Both seams hand back plain
// addresses rather than vmm.Page values — the heap always leaks a page
// the moment it gets one, so there is never a Page handle for a test
// double to thread back through.
var (
	allocPageFn = func() (uintptr, *kernel.Error) {
		page, err := vpa.Alloc()
		if err != nil {
			return 0, err
		}
		page.Leak()
		return page.Address(), nil
	}
	allocManyFn = func(dst []uintptr) *kernel.Error {
		var buf [maxLargeAllocPages]vmm.Page
		pages := buf[:len(dst)]
		if err := vpa.AllocMany(pages); err != nil {
			return err
		}
		for i := range pages {
			pages[i].Leak()
			dst[i] = pages[i].Address()
		}
		return nil
	}
	unmapAddrFn = vmm.UnmapAddr
	freeFrameFn = pmm.FreeFrame
)

// Init allocates the heap's first metadata page from v and leaks it: the
// page belongs to the heap for the life of the kernel and is never
// returned to the virtual allocator that handed it out.
func Init(v *vmm.VirtualAllocator) *kernel.Error {
	vpa = v
	m, err := newMetadataPage()
	if err != nil {
		return err
	}
	head = m
	return nil
}

// newMetadataPage carves a fresh zeroed Metadata page out of vpa.
func newMetadataPage() (*Metadata, *kernel.Error) {
	addr, err := allocPageFn()
	if err != nil {
		return nil, err
	}

	m := (*Metadata)(unsafe.Pointer(addr))
	*m = Metadata{}
	for i := range m.entries {
		m.entries[i].maxFreeLen = segmentsPerPage
	}
	return m, nil
}

func bytesToSegments(n int) int {
	if n%segmentSize == 0 {
		return n / segmentSize
	}
	return n/segmentSize + 1
}

// releasePage unmaps the data/metadata page at pageAddr and returns its
// backing frame to the PFA. The heap leaks every page it gets from the
// VPA (so the VPA's own bump-cursor bookkeeping never has to care about
// heap-internal churn), so giving one back has to walk through vmm/pmm
// directly rather than through a vmm.Page handle — the same two steps
// VirtualAllocator.dealloc takes for an unleaked page.
func releasePage(pageAddr uintptr) {
	frame, err := unmapAddrFn(pageAddr)
	if err != nil || !frame.IsValid() {
		return
	}
	_ = freeFrameFn(frame)
}

// Allocate serves a request for n bytes, routing to the small (segment
// bitmap) path at or below one page and the large (long table) path
// above it. Returns nil only when every avenue — existing entries, a
// fresh data page, the next metadata page, and a freshly allocated
// metadata page — is exhausted.
func (m *Metadata) Allocate(n int) []byte {
	if n <= int(mem.PageSize) {
		return m.allocateSmall(bytesToSegments(n))
	}
	return m.allocateLarge(n)
}

func (m *Metadata) allocateSmall(segments int) []byte {
	for i := range m.entries {
		e := &m.entries[i]
		if e.isGeneral() && e.canStoreAlloc(segments) {
			return e.allocate(segments)
		}
	}

	for i := range m.entries {
		e := &m.entries[i]
		if e.isUnallocated() {
			addr, err := allocPageFn()
			if err != nil {
				return nil
			}
			e.becomeGeneral(addr)
			return e.allocate(segments)
		}
	}

	if m.next != nil {
		return m.next.allocateSmall(segments)
	}

	// The allocator this is translated from left "allocate and link a new
	// metadata page" as an unimplemented stub; groveos supplies it, since
	// a small allocator that simply fails whenever its first page fills
	// up isn't a usable heap.
	next, err := newMetadataPage()
	if err != nil {
		return nil
	}
	next.prev = m
	m.next = next
	return next.allocateSmall(segments)
}

func (m *Metadata) allocateLarge(n int) []byte {
	pageCount := uint32((n + int(mem.PageSize) - 1) / int(mem.PageSize))
	if pageCount > maxLargeAllocPages {
		return nil
	}

	for i := range m.entries {
		e := &m.entries[i]
		if e.isLongTable() && e.canStoreAlloc(0) {
			if out := m.allocateLargeInto(e, n, pageCount); out != nil {
				return out
			}
		}
	}

	for i := range m.entries {
		e := &m.entries[i]
		if e.isUnallocated() {
			e.becomeLongTable()
			return m.allocateLargeInto(e, n, pageCount)
		}
	}

	if m.next != nil {
		return m.next.allocateLarge(n)
	}

	// As with the small path: find-or-create a LongTable entry with a
	// free record is left as a bare stub upstream. groveos chains a fresh
	// metadata page the same way the small path does.
	next, err := newMetadataPage()
	if err != nil {
		return nil
	}
	next.prev = m
	m.next = next
	return next.allocateLarge(n)
}

func (m *Metadata) allocateLargeInto(e *entry, n int, pageCount uint32) []byte {
	rec := e.longTable().freeRecord()
	if rec == nil {
		return nil
	}

	var buf [maxLargeAllocPages]uintptr
	dst := buf[:pageCount]
	if err := allocManyFn(dst); err != nil {
		return nil
	}
	start := dst[0]

	rec.addr = start
	rec.pageCount = pageCount
	rec.kind = recordOwned
	rec.tailEntry = noTailEntry

	if tail := n % int(mem.PageSize); tail != 0 {
		tailEntry, idx := m.claimTailEntry(start + uintptr(pageCount-1)*uintptr(mem.PageSize))
		if tailEntry != nil {
			used := bytesToSegments(tail)
			tailEntry.descriptor().setUsed(0, used)
			tailEntry.updateMaxFree()
			rec.kind = recordShared
			rec.tailEntry = int16(idx)
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(start)), n)
}

// claimTailEntry finds an Unallocated entry to host the General
// descriptor covering a large allocation's page-tail slack, and returns
// it along with its index for the record's back-reference.
func (m *Metadata) claimTailEntry(pageAddr uintptr) (*entry, int) {
	for i := range m.entries {
		if m.entries[i].isUnallocated() {
			m.entries[i].becomeGeneral(pageAddr)
			return &m.entries[i], i
		}
	}
	return nil, 0
}

// Deallocate locates the entry owning ptr and releases it, walking the
// metadata chain (the allocator this is translated from never recursed
// into `next` here at all) and unlinking any non-head page that becomes
// entirely Unallocated as a result.
func (m *Metadata) Deallocate(ptr uintptr) {
	for i := range m.entries {
		e := &m.entries[i]
		if e.containsPtr(ptr) {
			m.deallocateFrom(e, ptr)
			m.collapseIfEmpty()
			return
		}
	}
	if m.next != nil {
		m.next.Deallocate(ptr)
	}
}

func (m *Metadata) deallocateFrom(e *entry, ptr uintptr) {
	switch e.kind {
	case entryGeneral:
		e.descriptor().setFree(segmentOffset(ptr))
		e.updateMaxFree()
		// Every tag free: the whole page is reclaimable (state machine
		// General(partial) -> Unallocated only fires when nothing in the
		// bitmap is still Used).
		if e.maxFreeOffset == 0 && e.maxFreeLen == segmentsPerPage {
			releasePage(e.page)
			*e = entry{maxFreeLen: segmentsPerPage}
		}
	case entryLongTable:
		lt := e.longTable()
		rec := lt.find(ptr)
		if rec == nil {
			return
		}
		for i := uint32(0); i < rec.pageCount; i++ {
			releasePage(rec.addr + uintptr(i)*uintptr(mem.PageSize))
		}
		if rec.kind == recordShared && rec.tailEntry != noTailEntry {
			m.entries[rec.tailEntry] = entry{maxFreeLen: segmentsPerPage}
		}
		*rec = longRecord{}
	}
}

// collapseIfEmpty unlinks this metadata page from its chain and frees it
// if every entry has gone Unallocated and it isn't the head.
func (m *Metadata) collapseIfEmpty() {
	if m == head {
		return
	}
	for i := range m.entries {
		if !m.entries[i].isUnallocated() {
			return
		}
	}
	if m.prev != nil {
		m.prev.next = m.next
	}
	if m.next != nil {
		m.next.prev = m.prev
	}
	releasePage(uintptr(unsafe.Pointer(m)))
}

// Reallocate resizes the allocation at ptr to n bytes, extending in
// place when the small-path descriptor has room, and falling back to
// allocate-elsewhere-and-copy otherwise.
func (m *Metadata) Reallocate(ptr uintptr, n int) []byte {
	if n <= int(mem.PageSize) {
		return m.reallocateSmall(ptr, bytesToSegments(n))
	}
	// Large-path resizing in place isn't specified beyond "large
	// allocations are page-aligned"; free-then-allocate is always
	// correct even where it isn't the cheapest possible path.
	if m.findEntry(ptr) == nil {
		return nil
	}
	m.Deallocate(ptr)
	return m.Allocate(n)
}

func (m *Metadata) reallocateSmall(ptr uintptr, newLen int) []byte {
	e := m.findEntry(ptr)
	if e == nil {
		if m.next != nil {
			return m.next.reallocateSmall(ptr, newLen)
		}
		return nil
	}

	d := e.descriptor()
	offset := segmentOffset(ptr)
	oldLen := d.allocationSize(offset)

	switch {
	case newLen > oldLen:
		if d.tryExpand(offset, newLen) {
			e.updateMaxFree()
			return segmentView(e.page, offset, newLen)
		}
		// Read the old run's bytes out before releasing it: deallocateFrom
		// may unmap and free the backing page outright if this was its
		// last live run, so the copy must happen while it's still mapped.
		src := e.page + uintptr(offset*segmentSize)
		copySize := oldLen * segmentSize
		out := m.Allocate(newLen * segmentSize)
		if out == nil {
			return nil
		}
		mem.Memcopy(uintptr(unsafe.Pointer(&out[0])), src, mem.Size(copySize))
		m.deallocateFrom(e, ptr)
		return out
	case newLen < oldLen:
		d.shrink(offset, newLen)
		e.updateMaxFree()
		return segmentView(e.page, offset, newLen)
	default:
		return segmentView(e.page, offset, newLen)
	}
}

func (m *Metadata) findEntry(ptr uintptr) *entry {
	for i := range m.entries {
		if m.entries[i].containsPtr(ptr) {
			return &m.entries[i]
		}
	}
	return nil
}

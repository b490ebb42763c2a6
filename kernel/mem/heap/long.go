package heap

import "groveos/kernel/mem"

// recordKind is the state of one longTable slot.
type recordKind uint8

const (
	recordFree recordKind = iota
	recordOwned
	recordShared
)

// noTailEntry marks a longRecord with no Shared tail descriptor.
const noTailEntry = -1

// longRecord describes one large (>4096 byte) allocation: the virtual
// address its run starts at and how many pages it spans. An Owned record
// covers an integer number of pages with nothing else living in the last
// one. A Shared record's allocation doesn't end on a page boundary, so
// tailEntry indexes the General-kind entry (in the same Metadata page)
// that was carved out of the run's last page to serve small allocations
// out of the page-tail slack instead of wasting it.
type longRecord struct {
	addr      uintptr
	pageCount uint32
	tailEntry int16
	kind      recordKind
	_         [1]byte
}

func (r *longRecord) isFree() bool { return r.kind == recordFree }

// longTableCapacity is chosen so a longTable fits in the same payload
// array a descriptor uses, keeping entry's union-style payload one fixed
// size regardless of which kind occupies it.
const longTableCapacity = len([128]byte{}) / 16

// longTable is the large-path sibling of descriptor: a fixed array of
// records rather than a bitmap, since large allocations are tracked by
// pointer and page count instead of by segment.
type longTable struct {
	records [longTableCapacity]longRecord
}

// freeRecord returns a pointer to the first Free slot, or nil if the
// table is full.
func (lt *longTable) freeRecord() *longRecord {
	for i := range lt.records {
		if lt.records[i].isFree() {
			return &lt.records[i]
		}
	}
	return nil
}

func (lt *longTable) hasFreeRecord() bool {
	return lt.freeRecord() != nil
}

// find returns the record whose addr equals addr, or nil.
func (lt *longTable) find(addr uintptr) *longRecord {
	for i := range lt.records {
		if lt.records[i].kind != recordFree && lt.records[i].addr == addr {
			return &lt.records[i]
		}
	}
	return nil
}

// containsPage reports whether any live record's run covers the page
// starting at pageAddr.
func (lt *longTable) containsPage(pageAddr uintptr) bool {
	for i := range lt.records {
		r := &lt.records[i]
		if r.kind == recordFree {
			continue
		}
		end := r.addr + uintptr(r.pageCount)*uintptr(mem.PageSize)
		if pageAddr >= r.addr && pageAddr < end {
			return true
		}
	}
	return false
}

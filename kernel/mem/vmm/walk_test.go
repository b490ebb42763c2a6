package vmm

import (
	"testing"

	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
)

// TestMapTranslateUnmapScenario exercises the literal walk through a
// fresh hierarchy: map one page, confirm translate resolves both the
// start and the last byte of the page but not the next page, then unmap
// and confirm the mapping is gone.
func TestMapTranslateUnmapScenario(t *testing.T) {
	h := newHarness()
	h.install(t)

	const vaddr = uintptr(0xCAFE_0000)
	const target = pmm.Frame(1) // paddr 0x1000

	if err := MapAddr(vaddr, target, FlagRW); err != nil {
		t.Fatalf("MapAddr: %v", err)
	}

	if paddr, ok := Translate(vaddr); !ok || paddr != 0x1000 {
		t.Fatalf("Translate(%#x) = (%#x, %v); want (0x1000, true)", vaddr, paddr, ok)
	}
	if paddr, ok := Translate(vaddr + 0xFFF); !ok || paddr != 0x1FFF {
		t.Fatalf("Translate(%#x) = (%#x, %v); want (0x1fff, true)", vaddr+0xFFF, paddr, ok)
	}
	if IsMapped(vaddr + 0x1000) {
		t.Fatalf("expected next page (%#x) to be unmapped", vaddr+0x1000)
	}
	if !IsMapped(vaddr) {
		t.Fatalf("expected %#x to be mapped", vaddr)
	}

	if _, err := UnmapAddr(vaddr); err != nil {
		t.Fatalf("UnmapAddr: %v", err)
	}
	if IsMapped(vaddr) {
		t.Fatalf("expected %#x to be unmapped after UnmapAddr", vaddr)
	}
}

func TestUnmapAddrIsNoopWhenAbsent(t *testing.T) {
	h := newHarness()
	h.install(t)

	if frame, err := UnmapAddr(0x1234_5000); err != nil || frame != pmm.InvalidFrame {
		t.Fatalf("UnmapAddr on unmapped address = (%v, %v); want (InvalidFrame, nil)", frame, err)
	}
}

func TestUnmapAddrCollectsEmptyParents(t *testing.T) {
	h := newHarness()
	h.install(t)

	const vaddr = uintptr(0x2000_0000)

	if err := MapAddr(vaddr, pmm.Frame(42), FlagRW); err != nil {
		t.Fatalf("MapAddr: %v", err)
	}

	// three intermediate tables (PDPT, PD, PT) were allocated; the leaf
	// frame 42 came from the caller. Track which frames existed right
	// before the unmap.
	liveBefore := len(h.frames)
	if liveBefore < 3 {
		t.Fatalf("expected at least 3 live frames after MapAddr; got %d", liveBefore)
	}

	frame, err := UnmapAddr(vaddr)
	if err != nil {
		t.Fatalf("UnmapAddr: %v", err)
	}
	if frame != pmm.Frame(42) {
		t.Fatalf("UnmapAddr returned frame %v; want 42", frame)
	}

	// leaf data frame ownership is the caller's to release; UnmapAddr
	// only collects now-empty table frames, never the leaf itself.
	if h.freed[42] {
		t.Fatalf("UnmapAddr must not free the leaf data frame itself")
	}

	// the PDPT/PD/PT chain it allocated should now be fully collected
	// back to the allocator, since nothing else used them.
	if got := len(h.frames); got != 0 {
		t.Fatalf("expected all intermediate table frames to be collected; %d still live", got)
	}
	if pml4e := h.pml4[pml4Index(vaddr)]; pml4e.HasFlags(FlagPresent) {
		t.Fatalf("expected PML4 entry for %#x to be cleared after the chain emptied", vaddr)
	}
}

func TestUnmapAddrKeepsParentsWithSiblingMappings(t *testing.T) {
	h := newHarness()
	h.install(t)

	const a = uintptr(0x3000_0000)
	const b = a + uintptr(mem.PageSize) // same PT, different leaf entry

	if err := MapAddr(a, pmm.Frame(1), FlagRW); err != nil {
		t.Fatalf("MapAddr a: %v", err)
	}
	if err := MapAddr(b, pmm.Frame(2), FlagRW); err != nil {
		t.Fatalf("MapAddr b: %v", err)
	}

	if _, err := UnmapAddr(a); err != nil {
		t.Fatalf("UnmapAddr a: %v", err)
	}

	if IsMapped(a) {
		t.Fatalf("expected %#x unmapped", a)
	}
	if !IsMapped(b) {
		t.Fatalf("expected sibling mapping %#x to survive", b)
	}
	if !h.pml4[pml4Index(a)].HasFlags(FlagPresent) {
		t.Fatalf("expected PML4 entry to remain present while a sibling mapping still uses its PT")
	}
}

func TestGetSetFlagsSilentWhenNotMapped(t *testing.T) {
	h := newHarness()
	h.install(t)

	if _, ok := GetFlags(0xDEAD_B000); ok {
		t.Fatalf("expected GetFlags on unmapped address to report ok=false")
	}

	// must not panic or allocate.
	SetFlags(0xDEAD_B000, FlagRW, true)
	if len(h.frames) != 0 {
		t.Fatalf("SetFlags on an unmapped address must not allocate any tables")
	}
}

func TestGetSetFlagsRoundTrip(t *testing.T) {
	h := newHarness()
	h.install(t)

	const vaddr = uintptr(0x4000_0000)
	if err := MapAddr(vaddr, pmm.Frame(7), FlagRW); err != nil {
		t.Fatalf("MapAddr: %v", err)
	}

	flags, ok := GetFlags(vaddr)
	if !ok {
		t.Fatalf("expected GetFlags to report ok=true for a mapped address")
	}
	if !flags.HasFlags(FlagRW | FlagPresent) {
		t.Fatalf("expected FlagRW|FlagPresent; got %v", flags)
	}

	SetFlags(vaddr, FlagUser, true)
	if flags, _ = GetFlags(vaddr); !flags.HasFlags(FlagUser) {
		t.Fatalf("expected FlagUser to be set after SetFlags(true)")
	}

	SetFlags(vaddr, FlagRW, false)
	if flags, _ = GetFlags(vaddr); flags.HasFlags(FlagRW) {
		t.Fatalf("expected FlagRW to be cleared after SetFlags(false)")
	}
	if frame, _ := Translate(vaddr); frame&^0xFFF != pmm.Frame(7).Address() {
		t.Fatalf("SetFlags must not disturb the mapped frame")
	}
}

func TestMapAddrAllocatesMissingIntermediateTables(t *testing.T) {
	h := newHarness()
	h.install(t)

	before := h.nextFrame
	if err := MapAddr(0x5000_0000, pmm.Frame(9), FlagRW); err != nil {
		t.Fatalf("MapAddr: %v", err)
	}

	// PDPT, PD and PT must each have been allocated once.
	if got := h.nextFrame - before; got != 3 {
		t.Fatalf("expected 3 frames allocated for a fresh chain; got %d", got)
	}
}

func TestMapAddrOnFrameExhaustionFails(t *testing.T) {
	h := newHarness()
	h.install(t)
	h.allocErr = ErrNotMapped // any sentinel; only identity matters here

	if err := MapAddr(0x6000_0000, pmm.Frame(1), FlagRW); err != h.allocErr {
		t.Fatalf("expected allocation failure to propagate; got %v", err)
	}
}

package vmm

import (
	"testing"

	"groveos/kernel"
	"groveos/kernel/mem/pmm"
)

func TestSetupPML4WiresSelfAndStaticMaps(t *testing.T) {
	h := newHarness()
	h.install(t)

	var m PageTableManager
	if err := m.SetupPML4(); err != nil {
		t.Fatalf("SetupPML4: %v", err)
	}

	if h.switchPDTCalls != 1 {
		t.Fatalf("expected switchPDT to be called once; got %d", h.switchPDTCalls)
	}
	if h.active != m.pml4Frame.Address() {
		t.Fatalf("expected the new PML4 to be activated; active=%#x want %#x", h.active, m.pml4Frame.Address())
	}

	// four fresh frames: PML4, PDPT, PD, reserved PT.
	if got := len(h.frames); got != 4 {
		t.Fatalf("expected 4 live frames after SetupPML4; got %d", got)
	}

	pml4 := h.frames[m.pml4Frame]
	pdptEntry := pml4[pml4Index(selfAddr)]
	if !pdptEntry.HasFlags(FlagPresent | FlagRW) {
		t.Fatalf("expected PML4's entry for the reserved window to be present+RW")
	}
	pdpt := h.frames[pdptEntry.Frame()]
	pdEntry := pdpt[pdptIndex(selfAddr)]
	pd := h.frames[pdEntry.Frame()]
	ptEntry := pd[pdIndex(selfAddr)]
	reservedFrame := ptEntry.Frame()
	reservedPT := h.frames[reservedFrame]

	selfEntry := reservedPT[ptIndex(selfAddr)]
	if selfEntry.Frame() != m.pml4Frame {
		t.Fatalf("expected SELF's entry (index %d) to self-map the PML4 frame; got %v want %v", ptIndex(selfAddr), selfEntry.Frame(), m.pml4Frame)
	}

	staticEntry := reservedPT[ptIndex(staticAddr)]
	if staticEntry.Frame() != reservedFrame {
		t.Fatalf("expected STATIC's entry (index %d) to self-map the reserved PT frame; got %v want %v", ptIndex(staticAddr), staticEntry.Frame(), reservedFrame)
	}

	workEntry := reservedPT[ptIndex(workAddr)]
	if workEntry.HasFlags(FlagPresent) {
		t.Fatalf("expected WORK's entry (index %d) to start absent", ptIndex(workAddr))
	}
	if idx := ptIndex(workAddr); idx != entriesPerPT-1 {
		t.Fatalf("expected WORK to land on the last PT entry; got index %d", idx)
	}
}

func TestSetupPML4RollsBackOnAllocFailure(t *testing.T) {
	h := newHarness()
	h.install(t)

	// allow the first two allocations (PML4, PDPT) then fail.
	calls := 0
	origAlloc := allocFrameFn
	allocFrameFn = func() (pmm.Frame, *kernel.Error) {
		calls++
		if calls > 2 {
			return pmm.InvalidFrame, ErrNotMapped
		}
		return origAlloc()
	}

	var m PageTableManager
	if err := m.SetupPML4(); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped; got %v", err)
	}
	if got := len(h.frames); got != 0 {
		t.Fatalf("expected partially-allocated frames to be rolled back; %d still live", got)
	}
	if h.switchPDTCalls != 0 {
		t.Fatalf("expected no activation on a failed setup; switchPDT called %d times", h.switchPDTCalls)
	}
}

func TestInstallSwitchesCR3(t *testing.T) {
	h := newHarness()
	h.install(t)

	m := PageTableManager{pml4Frame: pmm.Frame(99)}
	m.Install()

	if h.switchPDTCalls != 1 {
		t.Fatalf("expected switchPDT to be called once; got %d", h.switchPDTCalls)
	}
	if h.active != pmm.Frame(99).Address() {
		t.Fatalf("expected CR3 to be set to frame 99's address; got %#x", h.active)
	}
}

func TestDropFreesWholeHierarchy(t *testing.T) {
	h := newHarness()
	h.install(t)

	victim := h.buildHierarchy()
	m := PageTableManager{pml4Frame: victim}

	if got := len(h.frames); got != 4 {
		t.Fatalf("expected the standalone hierarchy to own 4 frames; got %d", got)
	}

	prevActive := h.active // 0: nothing has been activated in this test
	if err := m.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	if got := len(h.frames); got != 0 {
		t.Fatalf("expected every table frame to be freed by Drop; %d still live", got)
	}
	if h.active != prevActive {
		t.Fatalf("expected Drop to restore the previously active address; active=%#x want %#x", h.active, prevActive)
	}
}

func TestInitKernelSpaceWrapsActiveHierarchy(t *testing.T) {
	h := newHarness()
	h.install(t)

	frame, _ := h.newTable()
	h.active = frame.Address()

	if err := InitKernelSpace(); err != nil {
		t.Fatalf("InitKernelSpace: %v", err)
	}
	if KernelSpace().pml4Frame != frame {
		t.Fatalf("expected KernelSpace to wrap the active PML4 frame %v; got %v", frame, KernelSpace().pml4Frame)
	}
}

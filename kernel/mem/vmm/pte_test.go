package vmm

import (
	"testing"

	"groveos/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatalf("expected FlagPresent|FlagRW to be set")
	}
	if pte.HasFlags(FlagUser) {
		t.Fatalf("did not expect FlagUser to be set")
	}
	if !pte.HasAnyFlag(FlagUser | FlagRW) {
		t.Fatalf("expected HasAnyFlag to report true when at least one flag matches")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatalf("expected FlagRW to be cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatalf("ClearFlags must not disturb unrelated flags")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var pte pageTableEntry
	frame := pmm.Frame(0x123)

	pte.SetFlags(FlagRW | FlagUser)
	pte.SetFrame(frame)

	if got := pte.Frame(); got != frame {
		t.Fatalf("Frame() = %v; want %v", got, frame)
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatalf("SetFrame must mark the entry present")
	}
	// SetFrame discards whatever flags were set before it, the order the
	// rest of this package always uses it in: SetFrame first, then
	// SetFlags for anything beyond PRESENT.
	if pte.HasFlags(FlagRW | FlagUser) {
		t.Fatalf("expected SetFrame to discard pre-existing flags")
	}
}

func TestPageTableEntryZeroValueIsAbsent(t *testing.T) {
	var pte pageTableEntry
	if pte.HasFlags(FlagPresent) {
		t.Fatalf("expected the zero-value entry to be absent")
	}
	if pte.Frame() != pmm.Frame(0) {
		t.Fatalf("expected the zero-value entry's frame field to be 0")
	}
}

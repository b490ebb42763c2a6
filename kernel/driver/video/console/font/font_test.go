package font

import "testing"

func resetFonts(t *testing.T) {
	origFonts := availableFonts
	origNum := numFonts
	t.Cleanup(func() {
		availableFonts = origFonts
		numFonts = origNum
	})
	availableFonts = [maxFonts]*Font{}
	numFonts = 0
}

func TestRegisterAndFindByName(t *testing.T) {
	resetFonts(t)

	f := &Font{Name: "8x16"}
	if !Register(f) {
		t.Fatalf("expected Register to succeed")
	}

	if got := FindByName("8x16"); got != f {
		t.Fatalf("FindByName = %v; want %v", got, f)
	}
	if got := FindByName("missing"); got != nil {
		t.Fatalf("FindByName on an unregistered name = %v; want nil", got)
	}
}

func TestRegisterRejectsOverflow(t *testing.T) {
	resetFonts(t)

	for i := 0; i < maxFonts; i++ {
		if !Register(&Font{Name: "f"}) {
			t.Fatalf("Register %d: expected success", i)
		}
	}
	if Register(&Font{Name: "one too many"}) {
		t.Fatalf("expected Register to reject past maxFonts")
	}
}

func TestBestFitPrefersClosestDimensions(t *testing.T) {
	resetFonts(t)

	small := &Font{Name: "small", RecommendedWidth: 8, RecommendedHeight: 8, Priority: 1}
	large := &Font{Name: "large", RecommendedWidth: 16, RecommendedHeight: 16, Priority: 1}
	Register(small)
	Register(large)

	if got := BestFit(8, 8); got != small {
		t.Fatalf("BestFit(8,8) = %v; want small", got)
	}
	if got := BestFit(16, 16); got != large {
		t.Fatalf("BestFit(16,16) = %v; want large", got)
	}
}

func TestBestFitBreaksTiesByPriority(t *testing.T) {
	resetFonts(t)

	lowPriority := &Font{Name: "low", RecommendedWidth: 8, RecommendedHeight: 8, Priority: 5}
	highPriority := &Font{Name: "high", RecommendedWidth: 12, RecommendedHeight: 12, Priority: 1}
	Register(lowPriority)
	Register(highPriority)

	// both fonts are 4 units away from (10,10); the lower Priority value wins.
	if got := BestFit(10, 10); got != highPriority {
		t.Fatalf("BestFit tie-break = %v; want the font with the lower priority", got)
	}
}

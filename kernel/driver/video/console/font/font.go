// Package font provides bitmap font storage and selection for the
// framebuffer console. Fonts are decoded from PC Screen Font (PSF1) data
// read off disk by the FAT32 driver and registered here; nothing in this
// package ships glyph data of its own.
package font

// maxFonts bounds how many fonts Register can hold; the console only ever
// registers the handful of PSF fonts shipped on the boot volume, and a
// freestanding build has no heap to grow a slice on.
const maxFonts = 8

var (
	availableFonts [maxFonts]*Font
	numFonts       int
)

// Font describes a bitmap font that can be used by a console device.
type Font struct {
	// The name of the font.
	Name string

	// The width and height of each glyph in pixels.
	GlyphWidth  uint32
	GlyphHeight uint32

	// The recommended console resolution for this font.
	RecommendedWidth  uint32
	RecommendedHeight uint32

	// Font priority (lower is better). When auto-detecting a font to use,
	// the font with the lowest priority is preferred.
	Priority uint32

	// The number of bytes describing a row in a glyph.
	BytesPerRow uint32

	// The font bitmap. Each character consists of BytesPerRow * GlyphHeight
	// bytes where each bit indicates whether a pixel should be set to the
	// foreground or the background color, MSB first.
	Data []byte

	numGlyphs uint32
}

// Register adds a decoded font to the set that FindByName/BestFit can
// select from. Returns false if maxFonts are already registered.
func Register(f *Font) bool {
	if numFonts >= maxFonts {
		return false
	}
	availableFonts[numFonts] = f
	numFonts++
	return true
}

// FindByName looks up a font instance by name. If the font is not found
// then the function returns nil.
func FindByName(name string) *Font {
	for _, f := range availableFonts[:numFonts] {
		if f.Name == name {
			return f
		}
	}

	return nil
}

// BestFit returns the best font from the available font list given the
// specified console pixel dimensions. If multiple fonts match the
// dimension criteria then their priority attribute is used to select one.
func BestFit(consoleWidth, consoleHeight uint32) *Font {
	var (
		best                           *Font
		bestDelta                      uint32
		absDeltaW, absDeltaH, absDelta uint32
	)

	for _, f := range availableFonts[:numFonts] {
		if f.RecommendedWidth > consoleWidth {
			absDeltaW = f.RecommendedWidth - consoleWidth
		} else {
			absDeltaW = consoleWidth - f.RecommendedWidth
		}

		if f.RecommendedHeight > consoleHeight {
			absDeltaH = f.RecommendedHeight - consoleHeight
		} else {
			absDeltaH = consoleHeight - f.RecommendedHeight
		}

		absDelta = absDeltaW + absDeltaH

		if best == nil {
			best = f
			bestDelta = absDelta
			continue
		}

		if best.Priority < f.Priority || absDelta > bestDelta {
			continue
		}

		best = f
		bestDelta = absDelta
	}

	return best
}

// Glyph returns the bitmap rows for the given character. Characters beyond
// the font's glyph table fall back to glyph 0 (typically blank or a
// replacement box in PSF fonts).
func (f *Font) Glyph(ch byte) []byte {
	idx := uint32(ch)
	if idx >= f.numGlyphs {
		idx = 0
	}

	off := idx * f.BytesPerRow * f.GlyphHeight
	return f.Data[off : off+f.BytesPerRow*f.GlyphHeight]
}

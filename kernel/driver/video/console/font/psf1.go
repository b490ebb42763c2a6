package font

import "groveos/kernel/errors"

const (
	psf1Magic0 = 0x36
	psf1Magic1 = 0x04

	psf1Mode512    = 0x01
	psf1ModeHasTab = 0x02
	psf1ModeSeq    = 0x04
)

var errBadPSF1Header = errors.KernelError("font: not a PSF1 file")

// DecodePSF1 parses a PC Screen Font version 1 image (as produced by most
// Linux console font files, e.g. the ".psfu" files shipped under
// /usr/share/consolefonts) and returns a ready-to-register Font. PSF1
// glyphs are always 8 pixels wide; the header stores only the height.
//
// Layout: 2 magic bytes, 1 mode byte, 1 height byte, followed by 256 or
// 512 glyphs (mode&psf1Mode512 selects 512) of height bytes each, 1 byte
// per row.
func DecodePSF1(data []byte, name string) (*Font, error) {
	if len(data) < 4 || data[0] != psf1Magic0 || data[1] != psf1Magic1 {
		return nil, errBadPSF1Header
	}

	mode := data[2]
	height := uint32(data[3])

	numGlyphs := uint32(256)
	if mode&psf1Mode512 != 0 {
		numGlyphs = 512
	}

	glyphTableLen := numGlyphs * height
	if uint32(len(data)-4) < glyphTableLen {
		return nil, errBadPSF1Header
	}

	return &Font{
		Name:              name,
		GlyphWidth:        8,
		GlyphHeight:       height,
		RecommendedWidth:  8,
		RecommendedHeight: height,
		BytesPerRow:       1,
		Data:              data[4 : 4+glyphTableLen],
		numGlyphs:         numGlyphs,
	}, nil
}

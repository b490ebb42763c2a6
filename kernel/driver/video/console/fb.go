package console

import (
	"reflect"
	"sync"
	"unsafe"

	"groveos/kernel/driver/video/console/font"
)

const (
	clearColor = Black
	clearChar  = byte(' ')

	// fallbackGlyphWidth/Height are used until a font is registered via
	// SetFont, so early boot output before FAT32/PSF loading still renders
	// as (blank) glyph cells instead of panicking.
	fallbackGlyphWidth  = 8
	fallbackGlyphHeight = 16
)

// Fb implements a framebuffer-backed text console: it renders character
// cells as glyph bitmaps onto a linear 32-bit pixel surface, the same
// surface UEFIBootInfo hands to the kernel. Unlike the VGA text-mode
// console this replaces, there is no hardware character grid — the
// console computes pixel offsets for every cell itself.
type Fb struct {
	sync.Mutex

	pixWidth  uint16
	pixHeight uint16

	cols uint16
	rows uint16

	glyphW uint32
	glyphH uint32

	pix []uint32

	font *font.Font
}

// Init sets up the console against a linear framebuffer of pixWidth x
// pixHeight 32-bit pixels located at fbPhysAddr.
func (cons *Fb) Init(pixWidth, pixHeight uint16, fbPhysAddr uintptr) {
	cons.pixWidth = pixWidth
	cons.pixHeight = pixHeight
	cons.glyphW = fallbackGlyphWidth
	cons.glyphH = fallbackGlyphHeight

	cons.cols = pixWidth / uint16(cons.glyphW)
	cons.rows = pixHeight / uint16(cons.glyphH)

	cons.pix = *(*[]uint32)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(pixWidth) * int(pixHeight),
		Cap:  int(pixWidth) * int(pixHeight),
		Data: fbPhysAddr,
	}))
}

// SetFont switches the glyph source used to render character cells and
// recomputes the console's column/row count for the new glyph size. Any
// content already on screen is not reflowed.
func (cons *Fb) SetFont(f *font.Font) {
	cons.Lock()
	defer cons.Unlock()

	cons.font = f
	cons.glyphW = f.GlyphWidth
	cons.glyphH = f.GlyphHeight
	cons.cols = cons.pixWidth / uint16(cons.glyphW)
	cons.rows = cons.pixHeight / uint16(cons.glyphH)
}

// Dimensions returns the console width and height in character cells.
func (cons *Fb) Dimensions() (uint16, uint16) {
	return cons.cols, cons.rows
}

// Clear clears the specified rectangular region (in character cells).
func (cons *Fb) Clear(x, y, width, height uint16) {
	if x >= cons.cols {
		x = cons.cols
	}
	if y >= cons.rows {
		y = cons.rows
	}
	if x+width > cons.cols {
		width = cons.cols - x
	}
	if y+height > cons.rows {
		height = cons.rows - y
	}

	bg := Attr((clearColor << 4) | clearColor).BgRGB()
	for row := y; row < y+height; row++ {
		for col := x; col < x+width; col++ {
			cons.fillCell(col, row, bg)
		}
	}
}

// Scroll a particular number of lines (character cells) in the specified
// direction.
func (cons *Fb) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.rows {
		return
	}

	rowPixels := int(cons.pixWidth) * int(cons.glyphH)
	offset := int(lines) * rowPixels

	switch dir {
	case Up:
		total := int(cons.rows-lines) * rowPixels
		for i := 0; i < total; i++ {
			cons.pix[i] = cons.pix[i+offset]
		}
		cons.Clear(0, cons.rows-lines, cons.cols, lines)
	case Down:
		for i := int(cons.rows)*rowPixels - 1; i >= offset; i-- {
			cons.pix[i] = cons.pix[i-offset]
		}
		cons.Clear(0, 0, cons.cols, lines)
	}
}

// Write renders ch at the given character cell using attr's foreground
// and background colors.
func (cons *Fb) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.cols || y >= cons.rows {
		return
	}

	fg, bg := attr.RGB(), attr.BgRGB()

	if cons.font == nil || ch == clearChar {
		cons.fillCell(x, y, bg)
		return
	}

	glyph := cons.font.Glyph(ch)
	baseX := uint32(x) * cons.glyphW
	baseY := uint32(y) * cons.glyphH

	for row := uint32(0); row < cons.glyphH; row++ {
		rowByte := glyph[row*cons.font.BytesPerRow]
		for col := uint32(0); col < cons.glyphW; col++ {
			var color uint32
			if rowByte&(0x80>>col) != 0 {
				color = fg
			} else {
				color = bg
			}
			cons.pix[(baseY+row)*uint32(cons.pixWidth)+baseX+col] = color
		}
	}
}

func (cons *Fb) fillCell(x, y uint16, color uint32) {
	baseX := uint32(x) * cons.glyphW
	baseY := uint32(y) * cons.glyphH

	for row := uint32(0); row < cons.glyphH; row++ {
		for col := uint32(0); col < cons.glyphW; col++ {
			cons.pix[(baseY+row)*uint32(cons.pixWidth)+baseX+col] = color
		}
	}
}

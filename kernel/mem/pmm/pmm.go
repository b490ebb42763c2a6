package pmm

import (
	"reflect"
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/kfmt/early"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when no free frame remains
	// in the bitmap.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// errInvalidDealloc is returned by FreeFrame for a frame index outside
	// the bitmap's range.
	errInvalidDealloc = &kernel.Error{Module: "pmm", Message: "invalid deallocation pointer"}

	// errEmptyBitmap is returned by Init when the loader reports a
	// zero-length memory bitmap.
	errEmptyBitmap = &kernel.Error{Module: "pmm", Message: "empty memory bitmap"}

	bitmap    []byte
	numFrames uint64

	// cursor is the search position used by AllocFrame. It advances past
	// every frame AllocFrame hands out, and FreeFrame retreats it when a
	// freed frame sits below it.
	cursor uint64
)

// Init wires the physical frame allocator to the bitmap the loader carved
// out of usable RAM before it exited boot services (UEFIBootInfo's
// memory_bitmap/memory_bitmap_size). Each bit already reflects the
// allocator state the loader left behind: 1 for frames occupied by the
// loader, the kernel image, the bitmap itself, or excluded firmware
// memory types; 0 for everything else. Init does not allocate or zero
// anything — it only attaches the existing bitmap.
func Init(bitmapAddr uintptr, bitmapSize uint64) *kernel.Error {
	if bitmapSize == 0 {
		return errEmptyBitmap
	}

	bitmap = *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(bitmapSize),
		Cap:  int(bitmapSize),
		Data: bitmapAddr,
	}))
	numFrames = bitmapSize * 8
	cursor = 0

	printStats()
	return nil
}

// FrameCount returns the total number of frames tracked by the bitmap,
// regardless of their current allocation state.
func FrameCount() uint64 {
	return numFrames
}

// AllocFrame reserves and returns the next free frame at or after the
// search cursor. The cursor is advanced past the returned frame so the
// next call continues the scan instead of re-checking frames it already
// knows are used. It does not wrap around to the start of the bitmap:
// frames below the cursor are only revisited once FreeFrame lowers the
// cursor back down to them.
func AllocFrame() (Frame, *kernel.Error) {
	if frame, ok := scanFrom(cursor, numFrames); ok {
		cursor = uint64(frame) + 1
		setBit(uint64(frame))
		return frame, nil
	}

	return InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a previously allocated frame back to the bitmap,
// retreating the cursor to it if it sits below the current cursor so a
// subsequent AllocFrame finds it again.
func FreeFrame(f Frame) *kernel.Error {
	if !f.IsValid() || uint64(f) >= numFrames {
		return errInvalidDealloc
	}

	clearBit(uint64(f))
	if uint64(f) < cursor {
		cursor = uint64(f)
	}
	return nil
}

func scanFrom(start, end uint64) (Frame, bool) {
	for i := start; i < end; i++ {
		if !bitSet(i) {
			return Frame(i), true
		}
	}
	return InvalidFrame, false
}

func bitSet(i uint64) bool {
	return bitmap[i>>3]&(1<<(i&7)) != 0
}

func setBit(i uint64) {
	bitmap[i>>3] |= 1 << (i & 7)
}

func clearBit(i uint64) {
	bitmap[i>>3] &^= 1 << (i & 7)
}

// printStats emits a one-line summary of the current allocator state.
// Unused in the hot path; Init calls it once, after attaching the
// bitmap, for boot diagnostics.
func printStats() {
	used := uint64(0)
	for i := uint64(0); i < numFrames; i++ {
		if bitSet(i) {
			used++
		}
	}

	early.Printf("[pmm] frames: %d free / %d total\n", numFrames-used, numFrames)
}

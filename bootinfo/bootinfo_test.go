package bootinfo

import (
	"testing"
	"unsafe"
)

func TestSetActive(t *testing.T) {
	want := Info{
		Framebuffer:       0x1000,
		FramebufferSize:   1920 * 1080,
		FramebufferWidth:  1920,
		FramebufferHeight: 1080,
		MemoryBitmap:      0x2000,
		MemoryBitmapSize:  8192,
		AcpiRSDP:          0x3000,
	}

	Set(uintptr(unsafe.Pointer(&want)))

	got := Active()
	if got == nil {
		t.Fatal("expected Active() to return a non-nil record")
	}

	if *got != want {
		t.Fatalf("expected %+v; got %+v", want, *got)
	}
}

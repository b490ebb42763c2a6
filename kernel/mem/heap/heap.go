package heap

import (
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/mem"
)

var errHeapExhausted = &kernel.Error{Module: "heap", Message: "heap exhausted"}

// Allocate serves a request for size bytes at the given alignment. Large
// allocations (size > one page) are always page-aligned regardless of
// what align asks for, since every run starts at a fresh virtual page.
// A small-path request above the 8-byte segment granule reserves enough
// extra segments to guarantee an aligned sub-address exists in the run
// and returns that sub-address, at the cost of stranding the (at most
// align-1 byte) prefix until the whole run is freed — the small path has
// no way to carve an allocation that doesn't start where the allocator's
// free-run scan places it.
func Allocate(size, align int) (uintptr, *kernel.Error) {
	if align <= segmentSize || size > int(mem.PageSize) {
		out := head.Allocate(size)
		if out == nil {
			return 0, errHeapExhausted
		}
		return uintptr(unsafe.Pointer(&out[0])), nil
	}

	padded := size + align - 1
	if padded > int(mem.PageSize) {
		out := head.Allocate(size)
		if out == nil {
			return 0, errHeapExhausted
		}
		return uintptr(unsafe.Pointer(&out[0])), nil
	}

	out := head.Allocate(padded)
	if out == nil {
		return 0, errHeapExhausted
	}
	addr := uintptr(unsafe.Pointer(&out[0]))
	return (addr + uintptr(align-1)) &^ uintptr(align-1), nil
}

// AllocateZeroed behaves like Allocate but zeroes the returned range
// before handing it back.
func AllocateZeroed(size, align int) (uintptr, *kernel.Error) {
	addr, err := Allocate(size, align)
	if err != nil {
		return 0, err
	}
	mem.Memset(addr, 0, mem.Size(size))
	return addr, nil
}

// Deallocate releases a previous allocation at ptr.
func Deallocate(ptr uintptr) {
	head.Deallocate(ptr)
}

// Reallocate resizes the allocation at ptr to newSize bytes, possibly
// moving it; the returned address replaces every use of ptr.
func Reallocate(ptr uintptr, newSize int) (uintptr, *kernel.Error) {
	out := head.Reallocate(ptr, newSize)
	if out == nil {
		return 0, errHeapExhausted
	}
	return uintptr(unsafe.Pointer(&out[0])), nil
}

// MustAllocate is the entry point the rest of the kernel calls once the
// heap is live: a failed allocation is unrecoverable (spec's "the global
// allocator surface treats null as a hard panic"), so this never returns
// a zero address.
func MustAllocate(size, align int) uintptr {
	addr, err := Allocate(size, align)
	if err != nil {
		kernel.Panic(err)
	}
	return addr
}

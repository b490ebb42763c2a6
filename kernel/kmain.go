package kernel

import (
	_ "unsafe" // required for go:linkname

	"groveos/bootinfo"
	"groveos/kernel/hal"
	"groveos/kernel/kfmt/early"
	"groveos/kernel/mem/heap"
	"groveos/kernel/mem/pmm"
	"groveos/kernel/mem/vmm"
)

// Kmain is the only Go symbol visible (exported) from the post-loader entry
// trampoline. The loader jumps to the kernel ELF's entry point with the
// address of the UEFIBootInfo record in the SysV first-argument register;
// rt0 passes that value through unchanged.
//
// Kmain brings up the memory subsystem in the one order the rest of the
// kernel is allowed to assume has already happened: the physical frame
// allocator first (nothing else can reserve memory without it), then the
// kernel's own virtual address space manager (it needs frames from the
// PFA to allocate page tables), then the heap (it needs both a PFA to
// back its pages and a VPA to map them). None of the three are ever torn
// down.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	bootinfo.Set(bootInfoPtr)
	info := bootinfo.Active()

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()
	early.Printf("starting groveos\n")

	if err := pmm.Init(info.MemoryBitmap, info.MemoryBitmapSize); err != nil {
		Panic(err)
	}
	early.Printf("physical frame allocator ready (%d frames)\n", pmm.FrameCount())

	if err := vmm.InitKernelSpace(); err != nil {
		Panic(err)
	}
	early.Printf("kernel address space ready\n")

	if err := heap.Init(); err != nil {
		Panic(err)
	}
	early.Printf("kernel heap ready\n")

	// Prevent Kmain from returning.
	for {
	}
}

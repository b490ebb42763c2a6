// Package main implements the UEFI boot-handoff loader: it runs with
// boot services still available, builds the kernel's initial address
// space, and jumps to the kernel entry point with boot services
// exited. Firmware call failure is fatal at every step (no partial
// handoff is attempted) — see must below.
package main

import "unsafe"

const (
	kernelPath = "kernel.elf"
)

// bootInfo mirrors UEFIBootInfo, the single record handed to the kernel
// in RDI per the System V ABI.
type bootInfo struct {
	FramebufferPtr    uint64
	FramebufferLen    uint64
	FramebufferWidth  uint64
	FramebufferHeight uint64
	MemoryBitmapPtr   uint64
	MemoryBitmapLen   uint64
	RSDPPtr           uint64
}

// run executes the ten boot-handoff steps against st and returns the
// kernel entry point, the physical frame backing the kernel's PML4, and
// the address of the populated bootInfo — everything efiMain needs to
// jump. It never returns an error to its caller: every failure is fatal
// via must, matching spec.md's "no partial handoff" failure model.
func run(imageHandle uintptr, st *systemTable) (entry uint64, pml4Phys uint64, info *bootInfo) {
	report := st.ConOut.Print
	bs := st.BootServices

	// Step 1: open and read /kernel.elf through this image's own
	// backing device.
	imgProto, err := bs.handleProtocol(imageHandle, &loadedImageProtocolGUID)
	must(report, "LoadedImage", err)
	li := (*loadedImage)(imgProto)

	fsProto, err := bs.handleProtocol(li.DeviceHandle, &simpleFileSystemProtoGUID)
	must(report, "SimpleFileSystem", err)
	sfs := (*simpleFileSystem)(fsProto)

	root, err := sfs.openVolume()
	must(report, "OpenVolume", err)
	kernelFile, err := root.open(kernelPath)
	must(report, "open kernel.elf", err)

	kernelData, err := kernelFile.readAll(bs, kernelFileSize(bs, kernelFile))
	must(report, "read kernel.elf", err)

	img, err := parseELF64(kernelData)
	must(report, "parse ELF", err)

	// Step 2: graphics output.
	gopProto, err := bs.locateProtocol(&graphicsOutputProtocolGUID)
	must(report, "GraphicsOutput", err)
	gop := (*graphicsOutputProtocol)(gopProto)
	fbBase := gop.Mode.FrameBufferBase
	fbLen := uint64(gop.Mode.Info.VerticalResolution) * uint64(gop.Mode.Info.PixelsPerScanLine) * 4
	fbWidth := gop.Mode.Info.HorizontalResolution
	fbHeight := gop.Mode.Info.VerticalResolution

	// Step 3: fresh PML4.
	builder, err := newPageBuilder(identityPhysMem{}, func() (uint64, error) {
		phys, err := bs.allocatePages(1)
		return uint64(phys), err
	})
	must(report, "allocate PML4", err)

	// Step 4: map every PT_LOAD segment.
	for _, ph := range img.Segments {
		must(report, "map segment", builder.loadSegment(ph, kernelData))
	}

	// Step 5: recursive-mapping window.
	must(report, "install recursive window", builder.installRecursiveWindow())

	// Step 6: identity-map the framebuffer.
	must(report, "identity-map framebuffer", builder.identityMap(fbBase, fbLen))

	// Step 7: size the physical-frame bitmap from the memory map.
	memEntries, mapKey, err := bs.getMemoryMap()
	must(report, "GetMemoryMap", err)
	bitmapLen := bitmapByteLen(memEntries)
	bitmapPtr, err := bs.allocatePool(uintptr(bitmapLen))
	must(report, "allocate bitmap", err)
	zeroBytes(bitmapPtr, bitmapLen)

	// Step 8: identity-map every included memory-map entry.
	for _, e := range memEntries {
		if excludedFromBitmap(e.Type) {
			continue
		}
		must(report, "identity-map memory region",
			builder.identityMap(e.PhysicalStart, e.NumberOfPages*pageSize))
	}

	// Step 9: populate UEFIBootInfo.
	rsdp, _ := st.findACPIRoot()
	infoPool, err := bs.allocatePool(unsafe.Sizeof(bootInfo{}))
	must(report, "allocate boot info", err)
	info = (*bootInfo)(infoPool)
	*info = bootInfo{
		FramebufferPtr:    fbBase,
		FramebufferLen:    fbLen / 4,
		FramebufferWidth:  uint64(fbWidth),
		FramebufferHeight: uint64(fbHeight),
		MemoryBitmapPtr:   uint64(uintptr(bitmapPtr)),
		MemoryBitmapLen:   bitmapLen,
		RSDPPtr:           uint64(rsdp),
	}

	// Step 10: exit boot services. The memory map may have changed size
	// since step 7 (the allocations above are themselves entries), so
	// re-fetch the key right before exiting, per the standard EFI dance.
	_, mapKey, err = bs.getMemoryMap()
	must(report, "GetMemoryMap before exit", err)
	must(report, "ExitBootServices", bs.exitBootServices(imageHandle, mapKey))

	return img.Entry, builder.pml4, info
}

func kernelFileSize(bs *bootServices, f *file) uintptr {
	// A real build queries EFI_FILE_INFO through f.GetInfo; trimmed here
	// since the loader only ever reads the whole file once and GetInfo's
	// variable-length trailing file name makes the struct not worth
	// modeling for that single use.
	return 1 << 24
}

// must halts on any firmware call failure, per spec.md's fatal-on-first-
// error boot model: boot services may not be exited until every prior
// step succeeded, so there is no recovery path to return to.
func must(report func(string), step string, err error) {
	if err == nil {
		return
	}
	report("loader: " + step + " failed: " + err.Error() + "\n")
	for {
		halt()
	}
}

func halt()

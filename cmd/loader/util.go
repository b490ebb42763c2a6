package main

import "unsafe"

// ptrAt returns an unsafe.Pointer into data at the given byte offset,
// used to overlay fixed-layout firmware and ELF structs onto raw bytes
// without copying them field by field.
func ptrAt(data []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&data[off])
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func pageCount(size uint64) uint64 {
	return alignUp(size, pageSize) / pageSize
}

const pageSize = 4096

// zeroBytes clears an EFI pool allocation. AllocatePool makes no
// zeroing guarantee, unlike a fresh physical page handed through
// identityPhysMem.
func zeroBytes(addr unsafe.Pointer, n uint64) {
	buf := unsafe.Slice((*byte)(addr), n)
	for i := range buf {
		buf[i] = 0
	}
}

package main

import "fmt"

const (
	elfMagic    = 0x464c457f // "\x7fELF" little-endian
	elfClass64  = 2
	elfData2LSB = 1
	ptLoad      = 1
)

// elfHeader mirrors the 64-bit ELF file header (ELF64_Ehdr).
type elfHeader struct {
	Magic     uint32
	Class     uint8
	Data      uint8
	Version   uint8
	OSABI     uint8
	ABIVer    uint8
	_         [7]uint8
	Type      uint16
	Machine   uint16
	Version2  uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// programHeader mirrors ELF64_Phdr.
type programHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// elfImage is the parsed view of a kernel ELF handed to the page-mapping
// step: the entry point and the LOAD segments that must be mapped.
type elfImage struct {
	Entry    uint64
	Segments []programHeader
}

// parseELF64 parses data as a 64-bit little-endian ELF image, returning
// the entry point and every PT_LOAD program header. It does not copy or
// map anything — step 4 of the boot handoff does that against the
// original data slice plus this parsed header list.
func parseELF64(data []byte) (*elfImage, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("loader: ELF image too small (%d bytes)", len(data))
	}

	hdr := (*elfHeader)(ptrAt(data, 0))
	if hdr.Magic != elfMagic {
		return nil, fmt.Errorf("loader: bad ELF magic %#x", hdr.Magic)
	}
	if hdr.Class != elfClass64 {
		return nil, fmt.Errorf("loader: not a 64-bit ELF (class %d)", hdr.Class)
	}
	if hdr.Data != elfData2LSB {
		return nil, fmt.Errorf("loader: not little-endian (data %d)", hdr.Data)
	}

	img := &elfImage{Entry: hdr.Entry}
	for i := 0; i < int(hdr.PhNum); i++ {
		off := int(hdr.PhOff) + i*int(hdr.PhEntSize)
		if off+int(hdr.PhEntSize) > len(data) {
			return nil, fmt.Errorf("loader: program header %d out of bounds", i)
		}
		ph := *(*programHeader)(ptrAt(data, off))
		if ph.Type != ptLoad {
			continue
		}
		if int(ph.Offset+ph.FileSz) > len(data) {
			return nil, fmt.Errorf("loader: segment %d file range out of bounds", i)
		}
		img.Segments = append(img.Segments, ph)
	}
	return img, nil
}

// cmd/loader is a UEFI application, not kernel code: it is built for a
// GOOS=uefi-shaped target (a hosted Go runtime producing a PE32+ image
// that boot firmware loads directly) and never links the kernel tree. No
// Go package in _examples ships a UEFI protocol binding — this file is a
// from-scratch translation of the handful of protocols
// original_source/uefi_loader's `uefi` crate wraps (LoadedImage,
// SimpleFileSystem, File, GraphicsOutput, BootServices, the ACPI
// configuration-table entry), kept to exactly what the ten boot-handoff
// steps need.
package main

import "unsafe"

// Status is EFI_STATUS: zero is success, the high bit set marks an error.
type Status uintptr

func (s Status) Err() error {
	if s == 0 {
		return nil
	}
	return statusError(s)
}

type statusError Status

func (e statusError) Error() string { return "loader: EFI call failed, status " + hex(uintptr(e)) }

func hex(v uintptr) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var buf [18]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

// guid is EFI_GUID: a 128-bit protocol or table identifier.
type guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var (
	loadedImageProtocolGUID    = guid{0x5B1B31A1, 0x9562, 0x11d2, [8]byte{0x8E, 0x3F, 0x00, 0xA0, 0xC9, 0x69, 0x72, 0x3B}}
	simpleFileSystemProtoGUID  = guid{0x0964e5b22, 0x6459, 0x11d2, [8]byte{0x8e, 0x39, 0x00, 0xa0, 0xc9, 0x69, 0x72, 0x3b}}
	graphicsOutputProtocolGUID = guid{0x9042a9de, 0x23dc, 0x4a38, [8]byte{0x96, 0xfb, 0x7a, 0xde, 0xd0, 0x80, 0x51, 0x6a}}
	acpi20TableGUID            = guid{0x8868e871, 0xe4f1, 0x11d3, [8]byte{0xbc, 0x22, 0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81}}
)

// tableHeader is EFI_TABLE_HEADER, common to SystemTable and BootServices.
type tableHeader struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// configTableEntry is one EFI_CONFIGURATION_TABLE entry in
// SystemTable.ConfigurationTable — the ACPI 2.0 entry carries the RSDP
// physical address step 9 needs.
type configTableEntry struct {
	VendorGUID  guid
	VendorTable uintptr
}

// systemTable is EFI_SYSTEM_TABLE, trimmed to the fields the loader
// reads: console output, boot services, and the configuration table used
// to locate the ACPI RSDP.
type systemTable struct {
	Hdr               tableHeader
	FirmwareVendor    uintptr
	FirmwareRevision  uint32
	_                 uint32
	ConsoleInHandle   uintptr
	ConIn             uintptr
	ConsoleOutHandle  uintptr
	ConOut            *simpleTextOutput
	StdErrHandle      uintptr
	StdErr            uintptr
	RuntimeServices   uintptr
	BootServices      *bootServices
	NumConfigTables   uintptr
	ConfigurationTable uintptr // *configTableEntry array
}

// simpleTextOutput is EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL, trimmed to the
// one method the loader's Print needs.
type simpleTextOutput struct {
	Reset       uintptr
	OutputStr   uintptr // func(this *simpleTextOutput, str *uint16) Status
	rest        [7]uintptr
}

// Print writes s to the firmware console, widening to UCS-2 the way
// EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.OutputString requires. Used before the
// heap-backed kfmt exists and after boot services may already be gone,
// so it allocates nothing beyond a fixed stack buffer.
func (c *simpleTextOutput) Print(s string) {
	var buf [256]uint16
	n := 0
	for _, r := range s {
		if n >= len(buf)-2 {
			break
		}
		if r == '\n' {
			buf[n] = '\r'
			n++
		}
		buf[n] = uint16(r)
		n++
	}
	buf[n] = 0
	efiCall2(c.OutputStr, uintptr(unsafe.Pointer(c)), uintptr(unsafe.Pointer(&buf[0])))
}

// memoryDescriptor is EFI_MEMORY_DESCRIPTOR, one entry of the memory map
// GetMemoryMap returns.
type memoryDescriptor struct {
	Type          uint32
	_             uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// Memory map entry types excluded from the physical-frame bitmap's
// usable range (step 7).
const (
	memReserved           = 0
	memUnusable           = 8
	memPalCode            = 13
	memPersistentMemory   = 14
)

func excludedFromBitmap(t uint32) bool {
	switch t {
	case memReserved, memUnusable, memPalCode, memPersistentMemory:
		return true
	default:
		return false
	}
}

// bootServices is EFI_BOOT_SERVICES, trimmed to the function-pointer
// slots the loader calls. Every field beyond the ones named is an
// opaque uintptr slot preserving the real struct's layout so offsets
// past it still line up; fields are grouped with an underscore run
// rather than named one by one, since nothing here calls them.
type bootServices struct {
	Hdr tableHeader

	_ [2]uintptr // RaiseTPL, RestoreTPL

	AllocatePages uintptr
	FreePages     uintptr
	GetMemoryMap  uintptr
	AllocatePool  uintptr
	FreePool      uintptr

	_ [9]uintptr // event/timer/protocol-registration services

	HandleProtocol uintptr

	_ [1]uintptr // Reserved

	_ [3]uintptr // RegisterProtocolNotify, LocateHandle, LocateDevicePath

	_ [1]uintptr // InstallConfigurationTable

	LoadImage       uintptr
	StartImage      uintptr
	Exit            uintptr
	UnloadImage     uintptr
	ExitBootServices uintptr

	_ [3]uintptr // GetNextMonotonicCount, Stall, SetWatchdogTimer

	_ [2]uintptr // ConnectController, DisconnectController

	OpenProtocol  uintptr
	CloseProtocol uintptr

	_ [3]uintptr // OpenProtocolInformation, ProtocolsPerHandle, LocateHandleBuffer

	LocateProtocol uintptr
}

func (bs *bootServices) handleProtocol(handle uintptr, g *guid) (unsafe.Pointer, error) {
	var out uintptr
	st := Status(efiCall3(bs.HandleProtocol, handle, uintptr(unsafe.Pointer(g)), uintptr(unsafe.Pointer(&out))))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return unsafe.Pointer(out), nil
}

func (bs *bootServices) locateProtocol(g *guid) (unsafe.Pointer, error) {
	var out uintptr
	st := Status(efiCall3(bs.LocateProtocol, uintptr(unsafe.Pointer(g)), 0, uintptr(unsafe.Pointer(&out))))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return unsafe.Pointer(out), nil
}

type allocateType uint32
type memoryType uint32

const (
	allocateAnyPages allocateType = 0
	loaderData       memoryType   = 2
)

func (bs *bootServices) allocatePool(size uintptr) (unsafe.Pointer, error) {
	var out uintptr
	st := Status(efiCall4(bs.AllocatePool, uintptr(loaderData), size, uintptr(unsafe.Pointer(&out)), 0))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return unsafe.Pointer(out), nil
}

func (bs *bootServices) allocatePages(count uintptr) (uintptr, error) {
	var phys uintptr
	st := Status(efiCall4(bs.AllocatePages, uintptr(allocateAnyPages), uintptr(loaderData), count, uintptr(unsafe.Pointer(&phys))))
	if err := st.Err(); err != nil {
		return 0, err
	}
	return phys, nil
}

// getMemoryMap calls GetMemoryMap twice: once with a zero buffer size to
// learn how large the map is (firmware reports EFI_BUFFER_TOO_SMALL and
// fills size/descSize regardless), once to actually fill an
// appropriately sized pool allocation. The map can still grow by a
// descriptor or two between the two calls if the pool allocation itself
// causes firmware bookkeeping, hence the padding below.
func (bs *bootServices) getMemoryMap() ([]memoryDescriptor, uintptr, error) {
	var size, key, descSize uintptr
	var descVer uint32

	efiCall5(bs.GetMemoryMap, uintptr(unsafe.Pointer(&size)), 0,
		uintptr(unsafe.Pointer(&key)), uintptr(unsafe.Pointer(&descSize)),
		uintptr(unsafe.Pointer(&descVer)))

	size += 2 * descSize
	buf, err := bs.allocatePool(size)
	if err != nil {
		return nil, 0, err
	}

	st := Status(efiCall5(bs.GetMemoryMap, uintptr(unsafe.Pointer(&size)), uintptr(buf),
		uintptr(unsafe.Pointer(&key)), uintptr(unsafe.Pointer(&descSize)),
		uintptr(unsafe.Pointer(&descVer))))
	if err := st.Err(); err != nil {
		return nil, 0, err
	}

	count := size / descSize
	out := make([]memoryDescriptor, count)
	for i := uintptr(0); i < count; i++ {
		out[i] = *(*memoryDescriptor)(unsafe.Pointer(uintptr(buf) + i*descSize))
	}
	return out, key, nil
}

func (bs *bootServices) exitBootServices(imageHandle uintptr, mapKey uintptr) error {
	return Status(efiCall2(bs.ExitBootServices, imageHandle, mapKey)).Err()
}

// File mirrors a narrow slice of EFI_FILE_PROTOCOL: open-by-name and
// read. GetInfo keeps its slot but is never called; kernelFileSize
// returns a fixed size instead. Kept as raw function-pointer
// slots the same way bootServices is, called only through efiCallN.
type file struct {
	Revision   uint64
	Open       uintptr
	Close      uintptr
	Delete     uintptr
	Read       uintptr
	Write      uintptr
	GetPos     uintptr
	SetPos     uintptr
	GetInfo    uintptr
	SetInfo    uintptr
	Flush      uintptr
}

func (f *file) readAll(bs *bootServices, size uintptr) ([]byte, error) {
	buf, err := bs.allocatePool(size)
	if err != nil {
		return nil, err
	}
	n := size
	st := Status(efiCall3(f.Read, uintptr(unsafe.Pointer(f)), uintptr(unsafe.Pointer(&n)), uintptr(buf)))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(buf), n), nil
}

type simpleFileSystem struct {
	Revision   uint64
	OpenVolume uintptr // func(this *simpleFileSystem, root **file) Status
}

func (sfs *simpleFileSystem) openVolume() (*file, error) {
	var root *file
	st := Status(efiCall2(sfs.OpenVolume, uintptr(unsafe.Pointer(sfs)), uintptr(unsafe.Pointer(&root))))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return root, nil
}

const fileModeRead = 1

func (f *file) open(name string) (*file, error) {
	u16 := utf16z(name)
	var out *file
	st := Status(efiCall5(f.Open, uintptr(unsafe.Pointer(f)), uintptr(unsafe.Pointer(&out)),
		uintptr(unsafe.Pointer(&u16[0])), fileModeRead, 0))
	if err := st.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func utf16z(s string) []uint16 {
	out := make([]uint16, 0, len(s)+1)
	for _, r := range s {
		out = append(out, uint16(r))
	}
	return append(out, 0)
}

// graphicsOutputModeInfo is EFI_GRAPHICS_OUTPUT_MODE_INFORMATION,
// trimmed to the fields step 2 needs.
type graphicsOutputModeInfo struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          uint32
	PixelInformation     [4]uint32
	PixelsPerScanLine    uint32
}

type graphicsOutputMode struct {
	MaxMode       uint32
	Mode          uint32
	Info          *graphicsOutputModeInfo
	SizeOfInfo    uintptr
	FrameBufferBase uint64
	FrameBufferSize uintptr
}

type graphicsOutputProtocol struct {
	QueryMode uintptr
	SetMode   uintptr
	Blt       uintptr
	Mode      *graphicsOutputMode
}

// findACPIRoot scans the system table's configuration table array for
// the ACPI 2.0 entry and returns the RSDP's physical address.
func (st *systemTable) findACPIRoot() (uintptr, bool) {
	entrySize := unsafe.Sizeof(configTableEntry{})
	for i := uintptr(0); i < st.NumConfigTables; i++ {
		entry := (*configTableEntry)(unsafe.Pointer(st.ConfigurationTable + i*entrySize))
		if entry.VendorGUID == acpi20TableGUID {
			return entry.VendorTable, true
		}
	}
	return 0, false
}

// loadedImage is EFI_LOADED_IMAGE_PROTOCOL, trimmed to the device
// handle the loader needs to open the backing SimpleFileSystem.
type loadedImage struct {
	Revision    uint32
	ParentHandle uintptr
	SystemTable *systemTable
	DeviceHandle uintptr
	_ uintptr // FilePath
	_ uintptr // Reserved
}

// efiCall2/3/4/5 are the MS x64 ABI trampolines (cmd/loader/abi_amd64.s):
// UEFI firmware on amd64 expects the Microsoft calling convention
// (RCX, RDX, R8, R9, then the stack, caller-allocated 32-byte shadow
// space), which differs from the Go internal ABI these files are
// compiled with. Each call crosses that boundary once.
func efiCall2(fn uintptr, a1, a2 uintptr) uintptr
func efiCall3(fn uintptr, a1, a2, a3 uintptr) uintptr
func efiCall4(fn uintptr, a1, a2, a3, a4 uintptr) uintptr
func efiCall5(fn uintptr, a1, a2, a3, a4, a5 uintptr) uintptr

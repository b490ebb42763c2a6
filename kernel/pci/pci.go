// Package pci walks an MCFG's ECAM windows and exposes a ConfigHeader
// reader for a given (bus, device, function), mirroring
// original_source's mcfg.rs.
package pci

import (
	"unsafe"

	"groveos/kernel"
	"groveos/kernel/acpi"
	"groveos/kernel/mem"
	"groveos/kernel/mem/pmm"
	"groveos/kernel/mem/vmm"
)

// ConfigHeader is the first 16 bytes every PCI configuration space starts
// with, common to every device regardless of header type.
type ConfigHeader struct {
	VendorID      uint16
	DeviceID      uint16
	Command       uint16
	Status        uint16
	Revision      uint8
	ProgIF        uint8
	Subclass      uint8
	ClassCode     uint8
	CacheLineSize uint8
	LatencyTimer  uint8
	HeaderType    uint8
	BIST          uint8
}

// mcfgAllocation is one ECAM window entry in the MCFG body.
type mcfgAllocation struct {
	BaseAddress  uint64
	SegmentGroup uint16
	StartBus     uint8
	EndBus       uint8
	_            uint32
}

const mcfgReservedSize = 8

// maxWindows bounds how many ECAM windows a single MCFG can describe.
const maxWindows = 16

// Tables holds the parsed ECAM windows from the MCFG, implementing
// acpi.Initializable so it self-registers for the "MCFG" signature.
type Tables struct {
	loaded  bool
	windows [maxWindows]mcfgAllocation
	count   int
}

var System Tables

func init() {
	acpi.Register(&System)
}

func (t *Tables) Loaded() bool          { return t.loaded }
func (t *Tables) TargetedTable() string { return "MCFG" }

func (t *Tables) Preinit() {
	t.loaded = false
	t.count = 0
}

func (t *Tables) Init(header *acpi.SDTHeader) error {
	bodyAddr := uintptr(unsafe.Pointer(header)) + unsafe.Sizeof(acpi.SDTHeader{}) + mcfgReservedSize
	bodyLen := int(header.Length) - int(unsafe.Sizeof(acpi.SDTHeader{})) - mcfgReservedSize
	entrySize := int(unsafe.Sizeof(mcfgAllocation{}))
	if bodyLen%entrySize != 0 {
		return errMcfgMisaligned
	}

	entryCount := bodyLen / entrySize
	entries := unsafe.Slice((*mcfgAllocation)(unsafe.Pointer(bodyAddr)), entryCount)
	for _, e := range entries {
		if t.count >= maxWindows {
			break
		}
		t.windows[t.count] = e
		t.count++
	}

	t.loaded = true
	return nil
}

// Window returns a ConfigHeader reader bound to ECAM window i.
func (t *Tables) Window(i int) *Window {
	return &Window{a: &t.windows[i]}
}

// Windows returns the count of discovered ECAM windows.
func (t *Tables) Windows() int { return t.count }

// Window reads PCI configuration space out of one ECAM window.
type Window struct {
	a *mcfgAllocation
}

// ConfigHeader maps (if not already mapped) and returns the
// ConfigHeader at the given bus/device/function, or nil if bus is
// outside this window's range.
func (w *Window) ConfigHeader(bus, device, function uint8) *ConfigHeader {
	if bus < w.a.StartBus || bus >= w.a.EndBus {
		return nil
	}

	addr := uintptr(w.a.BaseAddress) +
		(uintptr(bus) << 20) +
		(uintptr(device) << 15) +
		(uintptr(function) << 12)

	page := addr &^ (uintptr(mem.PageSize) - 1)
	if !vmm.IsMapped(page) {
		_ = vmm.MapAddr(page, pmm.Frame(page>>mem.PageShift), vmm.FlagRW)
	}

	return (*ConfigHeader)(unsafe.Pointer(addr))
}

var errMcfgMisaligned = &kernel.Error{Module: "pci", Message: "MCFG body length is not a multiple of the allocation entry size"}

// Package apic parses the MADT (Multiple APIC Description Table) into a
// list of usable local-APIC processor descriptors, mirroring
// original_source's apic.rs.
package apic

import (
	"unsafe"

	"groveos/kernel/acpi"
)

// ProcessorLocalAPIC describes one CPU's local APIC entry from the MADT.
type ProcessorLocalAPIC struct {
	ACPIProcessorID uint8
	APICID          uint8
	Enabled         bool
}

// maxProcessors bounds how many processor-local-APIC records one MADT
// can register; generous for anything this spec's single-core boot path
// is expected to see.
const maxProcessors = 64

// Tables holds the parsed state of the MADT, implementing
// acpi.Initializable so it self-registers for the "APIC" signature.
type Tables struct {
	loaded     bool
	processors [maxProcessors]ProcessorLocalAPIC
	count      int
}

var System Tables

func init() {
	acpi.Register(&System)
}

// Processors returns the parsed processor-local-APIC entries.
func (t *Tables) Processors() []ProcessorLocalAPIC {
	return t.processors[:t.count]
}

func (t *Tables) Loaded() bool         { return t.loaded }
func (t *Tables) TargetedTable() string { return "APIC" }

func (t *Tables) Preinit() {
	t.loaded = false
	t.count = 0
}

type madtTable struct {
	header   acpi.SDTHeader
	apicAddr uint32
	flags    uint32
}

type recordHeader struct {
	entryType     uint8
	recordLength  uint8
}

type processorLocalAPICRecord struct {
	header          recordHeader
	acpiProcessorID uint8
	apicID          uint8
	flags           uint32
}

func (r *processorLocalAPICRecord) isEnabled() bool      { return r.flags&0x01 == 0x01 }
func (r *processorLocalAPICRecord) onlineCapable() bool  { return r.flags&0x02 == 0x02 }

// Init parses a MADT's variable-length record stream, appending every
// enabled or online-capable processor-local-APIC record.
func (t *Tables) Init(header *acpi.SDTHeader) error {
	madt := (*madtTable)(unsafe.Pointer(header))
	start := uintptr(unsafe.Pointer(madt))
	traversed := unsafe.Sizeof(madtTable{})

	for uint32(traversed) < madt.header.Length {
		rh := (*recordHeader)(unsafe.Pointer(start + traversed))
		recLen := uintptr(rh.recordLength)
		if recLen < unsafe.Sizeof(recordHeader{}) {
			recLen = unsafe.Sizeof(recordHeader{})
		}

		if rh.entryType == 0 && t.count < maxProcessors {
			rec := (*processorLocalAPICRecord)(unsafe.Pointer(start + traversed))
			if rec.isEnabled() || rec.onlineCapable() {
				t.processors[t.count] = ProcessorLocalAPIC{
					ACPIProcessorID: rec.acpiProcessorID,
					APICID:          rec.apicID,
					Enabled:         rec.isEnabled(),
				}
				t.count++
			}
		}

		traversed += recLen
	}

	t.loaded = true
	return nil
}

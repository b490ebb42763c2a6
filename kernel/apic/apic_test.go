package apic

import (
	"testing"
	"unsafe"

	"groveos/kernel/acpi"
)

// buildMADT lays out a fake MADT (header + 8-byte local-APIC-address/flags
// prefix + one processor-local-APIC record per element of records) in an ordinary Go byte
// slice, the way a real MADT would be laid out in firmware memory.
func buildMADT(t *testing.T, records []processorLocalAPICRecord) []byte {
	t.Helper()
	headerAndPrefix := int(unsafe.Sizeof(madtTable{}))
	recSize := int(unsafe.Sizeof(processorLocalAPICRecord{}))
	total := headerAndPrefix + recSize*len(records)

	buf := make([]byte, total)
	header := (*acpi.SDTHeader)(unsafe.Pointer(&buf[0]))
	header.Length = uint32(total)

	for i, r := range records {
		off := headerAndPrefix + i*recSize
		rec := (*processorLocalAPICRecord)(unsafe.Pointer(&buf[off]))
		*rec = r
		rec.header.recordLength = uint8(recSize)
	}

	return buf
}

func TestInitCollectsEnabledProcessors(t *testing.T) {
	buf := buildMADT(t, []processorLocalAPICRecord{
		{acpiProcessorID: 0, apicID: 0, flags: 0x01}, // enabled
		{acpiProcessorID: 1, apicID: 2, flags: 0x00}, // neither enabled nor online-capable
		{acpiProcessorID: 2, apicID: 4, flags: 0x02}, // online-capable only
	})
	header := (*acpi.SDTHeader)(unsafe.Pointer(&buf[0]))

	var tables Tables
	tables.Preinit()
	if err := tables.Init(header); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !tables.Loaded() {
		t.Fatalf("expected Loaded to report true after a successful Init")
	}

	procs := tables.Processors()
	if len(procs) != 2 {
		t.Fatalf("Processors() = %+v; want 2 entries", procs)
	}
	if procs[0].APICID != 0 || !procs[0].Enabled {
		t.Fatalf("first processor = %+v; want enabled APIC ID 0", procs[0])
	}
	if procs[1].APICID != 4 || procs[1].Enabled {
		t.Fatalf("second processor = %+v; want online-capable-only APIC ID 4", procs[1])
	}
}

func TestInitSkipsNonProcessorRecords(t *testing.T) {
	rec := processorLocalAPICRecord{acpiProcessorID: 0, apicID: 0, flags: 0x01}
	buf := buildMADT(t, []processorLocalAPICRecord{rec})
	header := (*acpi.SDTHeader)(unsafe.Pointer(&buf[0]))

	headerAndPrefix := int(unsafe.Sizeof(madtTable{}))
	rh := (*recordHeader)(unsafe.Pointer(&buf[headerAndPrefix]))
	rh.entryType = 1 // I/O APIC, not a processor-local-APIC record

	var tables Tables
	tables.Preinit()
	if err := tables.Init(header); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(tables.Processors()) != 0 {
		t.Fatalf("Processors() = %+v; want none for a non-type-0 record", tables.Processors())
	}
}

func TestPreinitResetsState(t *testing.T) {
	buf := buildMADT(t, []processorLocalAPICRecord{{acpiProcessorID: 0, apicID: 0, flags: 0x01}})
	header := (*acpi.SDTHeader)(unsafe.Pointer(&buf[0]))

	var tables Tables
	tables.Preinit()
	if err := tables.Init(header); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tables.Preinit()
	if tables.Loaded() {
		t.Fatalf("expected Preinit to reset Loaded to false")
	}
	if len(tables.Processors()) != 0 {
		t.Fatalf("expected Preinit to reset the processor count")
	}
}

package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a byte to the given I/O port.
func Outb(port uint16, val uint8)

// Inw reads a word from the given I/O port.
func Inw(port uint16) uint16

// Outw writes a word to the given I/O port.
func Outw(port uint16, val uint16)

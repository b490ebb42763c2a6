// Package ata implements read-only ATA PIO sector access for the
// primary and secondary IDE channels. original_source's ata.rs left
// ReadSector as an unimplemented stub (`todo!()`); groveos supplies the
// standard 28-bit LBA PIO protocol, since a disk driver that can't read
// a sector isn't one. Per spec.md's Non-goals this never writes.
package ata

import (
	"groveos/kernel"
	"groveos/kernel/cpu"
)

const sectorSize = 512

// Device is one ATA PIO channel (primary or secondary), master or slave.
type Device struct {
	ioBase      uint16
	controlBase uint16
	master      bool
}

var (
	Primary   = Device{ioBase: 0x1F0, controlBase: 0x3F6, master: true}
	Secondary = Device{ioBase: 0x170, controlBase: 0x376, master: false}
)

const (
	regData       = 0
	regError      = 1
	regSectorCnt  = 2
	regLBALo      = 3
	regLBAMid     = 4
	regLBAHi      = 5
	regDriveHead  = 6
	regStatus     = 7
	regCommand    = 7

	statusBSY = 0x80
	statusDRQ = 0x08
	statusERR = 0x01

	cmdReadSectors = 0x20
)

var ErrTimeout = &kernel.Error{Module: "ata", Message: "ATA PIO wait timed out"}
var ErrDeviceFault = &kernel.Error{Module: "ata", Message: "ATA device reported an error"}

// inbFn/outbFn/inwFn are the seams between this package and the real I/O
// ports, the same package-level-function-variable pattern kernel/mem/vmm
// uses for its own hardware-touching calls: tests substitute an
// in-memory register file so the PIO handshake is exercised without real
// hardware underneath it.
var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
	inwFn  = cpu.Inw
)

func (d *Device) waitReady() *kernel.Error {
	for i := 0; i < 1_000_000; i++ {
		status := inbFn(d.ioBase + regStatus)
		if status&statusERR != 0 {
			return ErrDeviceFault
		}
		if status&statusBSY == 0 && status&statusDRQ != 0 {
			return nil
		}
	}
	return ErrTimeout
}

// ReadSector reads the 512-byte sector at lba (28-bit LBA addressing)
// into buffer, which must be exactly 512 bytes long.
func (d *Device) ReadSector(lba uint32, buffer []byte) *kernel.Error {
	if len(buffer) != sectorSize {
		return &kernel.Error{Module: "ata", Message: "buffer must be exactly one sector"}
	}

	driveSelect := uint8(0xE0)
	if !d.master {
		driveSelect |= 0x10
	}
	driveSelect |= uint8((lba >> 24) & 0x0F)

	outbFn(d.ioBase+regDriveHead, driveSelect)
	outbFn(d.ioBase+regSectorCnt, 1)
	outbFn(d.ioBase+regLBALo, uint8(lba))
	outbFn(d.ioBase+regLBAMid, uint8(lba>>8))
	outbFn(d.ioBase+regLBAHi, uint8(lba>>16))
	outbFn(d.ioBase+regCommand, cmdReadSectors)

	if err := d.waitReady(); err != nil {
		return err
	}

	for i := 0; i < sectorSize/2; i++ {
		word := inwFn(d.ioBase + regData)
		buffer[2*i] = uint8(word)
		buffer[2*i+1] = uint8(word >> 8)
	}

	return nil
}

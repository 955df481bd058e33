package int13

import (
	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/acpi"
	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/models"
)

const (
	// maximum combined size of the boot firmware tables
	xbftabSize = 768
	// alignment of boot firmware table entries
	xbftabAlign = 16
)

// installTable copies one boot firmware table into the low-memory pool,
// stamping the OEM identifiers and fixing the checksum.
func (e *Emulator) installTable(table []byte) error {
	hdr, err := acpi.ParseHeader(table)
	if err != nil {
		return err
	}

	// check length
	length := int(hdr.Length)
	if length > len(table) {
		return errors.Errorf("%s table length %d exceeds data", acpi.Name(hdr.Signature), length)
	}
	if length > xbftabSize-e.xbftabUsed {
		debug.Trace("INT13", "out of space for %s table", acpi.Name(hdr.Signature))
		return errors.Errorf("out of space for %s table", acpi.Name(hdr.Signature))
	}

	// install table
	installed := models.SegOff{
		Seg: e.xbftab.Seg,
		Off: e.xbftab.Off + uint16(e.xbftabUsed),
	}
	copied := make([]byte, length)
	copy(copied, table[:length])

	// fill in common parameters
	var oemID [6]byte
	var oemTableID [8]byte
	copy(oemID[:], "FENSYS")
	copy(oemTableID[:], "iPXE")
	copy(copied[acpi.OEMIDOffset:], oemID[:])
	copy(copied[acpi.OEMTableIDOffset:], oemTableID[:])

	// fix checksum
	acpi.FixChecksum(copied)

	if err := e.machine.CopyToReal(installed, copied); err != nil {
		return err
	}

	// update used length
	e.xbftabUsed = (e.xbftabUsed + length + xbftabAlign - 1) &^ (xbftabAlign - 1)

	debug.Trace("INT13", "installed %s:", acpi.Name(hdr.Signature))
	debug.Hexdump("INT13", installed.Physical(), copied)
	return nil
}

// Describe collects boot firmware tables from the registered producers
// into the low-memory pool, for the booted OS to find.
func (e *Emulator) Describe() error {
	// clear tables
	zero := make([]byte, xbftabSize)
	if err := e.machine.CopyToReal(e.xbftab, zero); err != nil {
		return err
	}
	e.xbftabUsed = 0

	if err := acpi.Install(e.installTable); err != nil {
		debug.Trace("INT13", "could not install ACPI tables: %s", err)
		return err
	}

	return nil
}

// FirmwareTables returns the installed boot firmware table bytes.
func (e *Emulator) FirmwareTables() ([]byte, error) {
	used := make([]byte, e.xbftabUsed)
	if err := e.machine.CopyFromReal(used, e.xbftab); err != nil {
		return nil, err
	}
	return used, nil
}

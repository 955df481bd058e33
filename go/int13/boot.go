package int13

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

// BootConfig carries boot parameters. The INT 13 path has none yet; the
// structure exists so callers share a signature with other SAN boot
// providers.
type BootConfig struct{}

// loadMBR reads the master boot record to 0000:7c00 through the hooked
// interrupt and verifies its signature.
func (e *Emulator) loadMBR(drive uint8) (models.SegOff, error) {
	address := models.SegOff{Seg: 0x0000, Off: 0x7c00}
	tag := e.bootTag(drive)

	// use INT 13,02 to read the MBR
	f := &bios.Frame{
		AX:    uint16(CmdReadSectors)<<8 | 0x01,
		CX:    0x0001,
		DX:    uint16(drive),
		ES:    address.Seg,
		BX:    address.Off,
		Flags: bios.FlagCF,
	}
	if err := e.machine.Int(Vector, f); err != nil {
		return address, err
	}
	if f.CF() {
		debug.Trace(tag, "could not read MBR (status %04x)", f.AX)
		return address, errors.Errorf("could not read MBR (status %04x)", f.AX)
	}

	// check magic signature
	magic, err := e.machine.GetWord(models.SegOff{
		Seg: address.Seg,
		Off: address.Off + BlockSize - 2,
	})
	if err != nil {
		return address, err
	}
	if magic != MBRMagic {
		debug.Trace(tag, "does not contain a valid MBR")
		return address, errors.New("does not contain a valid MBR")
	}

	return address, nil
}

// loadElTorito reads the El Torito boot catalog, validates it, and loads
// the boot image through the hooked interrupt.
func (e *Emulator) loadElTorito(drive uint8) (models.SegOff, error) {
	var address models.SegOff
	tag := e.bootTag(drive)

	// use INT 13,4D to read the boot catalog to 0000:7c00
	command := cdromBootCatalogCommand{
		Size:   cdromBootCatalogCommandLen,
		Count:  1,
		Buffer: 0x7c00,
		Start:  0,
	}
	if err := e.machine.CopyToReal(e.eltoritoCmd, packBytes(&command)); err != nil {
		return address, err
	}
	f := &bios.Frame{
		AX:    uint16(CmdCDROMReadBootCatalog) << 8,
		DX:    uint16(drive),
		DS:    e.eltoritoCmd.Seg,
		SI:    e.eltoritoCmd.Off,
		Flags: bios.FlagCF,
	}
	if err := e.machine.Int(Vector, f); err != nil {
		return address, err
	}
	if f.CF() {
		debug.Trace(tag, "could not read El Torito boot catalog (status %04x)", f.AX)
		return address, errors.Errorf("could not read El Torito boot catalog (status %04x)", f.AX)
	}

	// sanity checks on the validation and initial boot entries
	var valid eltoritoValidationEntry
	var boot eltoritoBootEntry
	catalog := e.machine.StrucAt(models.SegOff{Seg: 0, Off: 0x7c00})
	if err := catalog.Unpack(&valid); err != nil {
		return address, err
	}
	if err := catalog.Unpack(&boot); err != nil {
		return address, err
	}
	if valid.PlatformID != eltoritoPlatformX86 {
		debug.Trace(tag, "El Torito specifies unknown platform %02x", valid.PlatformID)
		return address, errors.Errorf("unknown platform %02x", valid.PlatformID)
	}
	if boot.Indicator != eltoritoBootable {
		debug.Trace(tag, "El Torito is not bootable")
		return address, errors.New("not bootable")
	}
	if boot.MediaType != eltoritoNoEmulation {
		debug.Trace(tag, "El Torito requires emulation type %02x", boot.MediaType)
		return address, errors.Errorf("unsupported emulation type %02x", boot.MediaType)
	}
	debug.Trace(tag, "El Torito boot image at LBA %08x (count %d)",
		boot.Start, boot.Length)
	address.Seg = boot.LoadSegment
	if address.Seg == 0 {
		address.Seg = 0x7c0
	}
	address.Off = 0
	debug.Trace(tag, "El Torito boot image loads at %s", address)

	// Use INT 13,42 to read the boot image. The boot entry counts
	// virtual 512-byte sectors; the transfer happens in device blocks.
	blksize := san.ISOBlockSize
	if dev := e.devices.Find(drive); dev != nil {
		blksize = dev.BlockSize()
	}
	count := (uint32(boot.Length)*512 + uint32(blksize) - 1) / uint32(blksize)
	packet := diskAddress{
		Bufsize: diskAddressMinBufsize,
		Count:   uint8(count),
		Buffer:  address,
		LBA:     uint64(boot.Start),
	}
	if err := e.machine.CopyToReal(e.eltoritoAddr, packBytes(&packet)); err != nil {
		return address, err
	}
	f = &bios.Frame{
		AX:    uint16(CmdExtendedRead) << 8,
		DX:    uint16(drive),
		DS:    e.eltoritoAddr.Seg,
		SI:    e.eltoritoAddr.Off,
		Flags: bios.FlagCF,
	}
	if err := e.machine.Int(Vector, f); err != nil {
		return address, err
	}
	if f.CF() {
		debug.Trace(tag, "could not read El Torito boot image (status %04x)", f.AX)
		return address, errors.Errorf("could not read El Torito boot image (status %04x)", f.AX)
	}

	return address, nil
}

func (e *Emulator) bootTag(drive uint8) string {
	return fmt.Sprintf("INT13 %02x", drive)
}

// Boot attempts to boot from an emulated drive by loading the MBR or El
// Torito boot image and jumping to it with DL set to the drive number.
// By definition this function can never return success.
func (e *Emulator) Boot(drive uint8, config *BootConfig) error {
	address, err := e.loadMBR(drive)
	if err != nil {
		if address, err = e.loadElTorito(drive); err != nil {
			return err
		}
	}

	if e.machine.BootSector == nil {
		return errors.New("no boot sector entry point registered")
	}
	if err := e.machine.BootSector(e.machine, address, drive); err != nil {
		debug.Trace(e.bootTag(drive), "boot returned: %s", err)
		return err
	}

	return errors.New("boot sector returned")
}

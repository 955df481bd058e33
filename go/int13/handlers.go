package int13

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

// packBytes renders a wire structure to its packed little-endian form.
func packBytes(v interface{}) []byte {
	var buf bytes.Buffer
	struc.PackWithOrder(&buf, v, binary.LittleEndian)
	return buf.Bytes()
}

// blockRead transfers blocks from the device into real-mode memory.
func (e *Emulator) blockRead(dev *san.Device, lba uint64, count uint32, buffer uint64) error {
	if count == 0 {
		return nil
	}
	p := make([]byte, int(count)*dev.BlockSize())
	if err := dev.Read(lba, count, p); err != nil {
		return err
	}
	return e.machine.WritePhys(buffer, p)
}

// blockWrite transfers blocks from real-mode memory to the device.
func (e *Emulator) blockWrite(dev *san.Device, lba uint64, count uint32, buffer uint64) error {
	if count == 0 {
		return nil
	}
	p := make([]byte, int(count)*dev.BlockSize())
	if err := e.machine.ReadPhys(buffer, p); err != nil {
		return err
	}
	return dev.Write(lba, count, p)
}

// INT 13,00 - reset disk system
func (e *Emulator) reset(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "reset drive")

	if err := dev.Reset(); err != nil {
		return -StatusResetFailed
	}
	return 0
}

// INT 13,01 - get status of last operation
func (e *Emulator) getLastStatus(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "get status of last operation")
	return drivedata(dev).lastStatus
}

// rwSectors decodes a CHS transfer: count in AL, cylinder split across
// CH and the top bits of CL, sector in the low six bits of CL, head in
// DH, buffer at ES:BX.
func (e *Emulator) rwSectors(dev *san.Device, f *bios.Frame,
	xfer func(dev *san.Device, lba uint64, count uint32, buffer uint64) error) int {
	d := drivedata(dev)

	// only valid for 512-byte sectors
	if dev.BlockSize() != BlockSize {
		debug.Trace(e.tag(dev), "invalid blocksize (%d) for non-extended read/write",
			dev.BlockSize())
		return -StatusInvalid
	}

	cylinder := (uint(f.CL()&0xc0) << 2) | uint(f.CH())
	head := uint(f.DH())
	sector := uint(f.CL() & 0x3f)
	if cylinder >= d.cylinders || head >= d.heads ||
		sector < 1 || sector > d.sectorsPerTrack {
		debug.Trace(e.tag(dev), "C/H/S %d/%d/%d out of range for geometry %d/%d/%d",
			cylinder, head, sector, d.cylinders, d.heads, d.sectorsPerTrack)
		return -StatusInvalid
	}
	lba := uint64((cylinder*d.heads+head)*d.sectorsPerTrack + sector - 1)
	count := uint32(f.AL())
	buffer := models.SegOff{Seg: f.ES, Off: f.BX}

	debug.Detail(e.tag(dev), "C/H/S %d/%d/%d = LBA %08x <-> %s (count %d)",
		cylinder, head, sector, lba, buffer, count)

	if err := xfer(dev, lba, count, buffer.Physical()); err != nil {
		debug.Trace(e.tag(dev), "I/O failed: %s", err)
		return -StatusReadError
	}

	return 0
}

// INT 13,02 - read sectors
func (e *Emulator) readSectors(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "read:")
	return e.rwSectors(dev, f, e.blockRead)
}

// INT 13,03 - write sectors
func (e *Emulator) writeSectors(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "write:")
	return e.rwSectors(dev, f, e.blockWrite)
}

// INT 13,08 - get drive parameters
func (e *Emulator) getParameters(dev *san.Device, f *bios.Frame) int {
	d := drivedata(dev)
	maxCylinder := d.cylinders - 1
	maxHead := d.heads - 1
	maxSector := d.sectorsPerTrack // sic

	debug.Detail(e.tag(dev), "get drive parameters")

	// only valid for 512-byte sectors
	if dev.BlockSize() != BlockSize {
		debug.Trace(e.tag(dev), "invalid blocksize (%d) for non-extended parameters",
			dev.BlockSize())
		return -StatusInvalid
	}

	f.SetCH(uint8(maxCylinder))
	f.SetCL(uint8((maxCylinder>>8)<<6) | uint8(maxSector))
	f.SetDH(uint8(maxHead))
	if isFDD(dev) {
		f.SetDL(e.numFDDs)
		f.SetBL(FDDType1M44)
		f.ES = e.machine.FDDParams.Seg
		f.DI = e.machine.FDDParams.Off
	} else {
		f.SetDL(e.numDrives)
	}

	return 0
}

// INT 13,15 - get disk type
func (e *Emulator) getDiskType(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "get disk type")

	if isFDD(dev) {
		return DiskTypeFDD
	}
	blocks := capacity32(dev)
	f.CX = uint16(blocks >> 16)
	f.DX = uint16(blocks)
	return DiskTypeHDD
}

// INT 13,41 - extensions installation check
func (e *Emulator) extensionCheck(dev *san.Device, f *bios.Frame) int {
	if f.BX != 0x55aa || isFDD(dev) {
		return -StatusInvalid
	}
	debug.Detail(e.tag(dev), "INT13 extensions check")
	f.BX = 0xaa55
	f.CX = ExtensionLinear | ExtensionEDD | Extension64Bit
	return ExtensionVer30
}

// extendedRW decodes a disk address packet at DS:SI and performs the
// transfer.
func (e *Emulator) extendedRW(dev *san.Device, f *bios.Frame,
	xfer func(dev *san.Device, lba uint64, count uint32, buffer uint64) error) int {

	// Extended reads are not allowed on floppy drives: ELTORITO.SYS
	// assumes we are really a CD-ROM if we support them there.
	if isFDD(dev) {
		return -StatusInvalid
	}

	packet := models.SegOff{Seg: f.DS, Off: f.SI}
	bufsize, err := e.machine.GetByte(packet)
	if err != nil || bufsize < diskAddressMinBufsize {
		debug.Detail(e.tag(dev), "<invalid buffer size %#02x>", bufsize)
		return -StatusInvalid
	}

	// read the disk address structure, zero-padding whatever the
	// caller's packet does not cover
	raw := make([]byte, diskAddressLen)
	n := int(bufsize)
	if n > diskAddressLen {
		n = diskAddressLen
	}
	if err := e.machine.CopyFromReal(raw[:n], packet); err != nil {
		return -StatusInvalid
	}
	var addr diskAddress
	if err := struc.UnpackWithOrder(bytes.NewReader(raw), &addr,
		binary.LittleEndian); err != nil {
		return -StatusInvalid
	}

	lba := addr.LBA
	var buffer uint64
	if addr.Count == 0xff ||
		(addr.Buffer.Seg == 0xffff && addr.Buffer.Off == 0xffff) {
		buffer = addr.BufferPhys
		debug.Detail(e.tag(dev), "LBA %08x <-> %08x", lba, buffer)
	} else {
		buffer = addr.Buffer.Physical()
		debug.Detail(e.tag(dev), "LBA %08x <-> %s", lba, addr.Buffer)
	}

	var count uint32
	switch {
	case addr.Count <= 0x7f:
		count = uint32(addr.Count)
	case addr.Count == 0xff:
		count = addr.LongCount
	default:
		debug.Detail(e.tag(dev), "<invalid count %#02x>", addr.Count)
		return -StatusInvalid
	}
	debug.Detail(e.tag(dev), "(count %d)", count)

	if err := xfer(dev, lba, count, buffer); err != nil {
		debug.Trace(e.tag(dev), "extended I/O failed: %s", err)
		// record that no blocks were transferred successfully
		e.machine.PutByte(models.SegOff{Seg: f.DS, Off: f.SI + diskAddressCountOffset}, 0)
		return -StatusReadError
	}

	return 0
}

// INT 13,42 - extended read
func (e *Emulator) extendedRead(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "extended read:")
	return e.extendedRW(dev, f, e.blockRead)
}

// INT 13,43 - extended write
func (e *Emulator) extendedWrite(dev *san.Device, f *bios.Frame) int {
	debug.Detail(e.tag(dev), "extended write:")
	return e.extendedRW(dev, f, e.blockWrite)
}

// INT 13,44 - verify sectors
func (e *Emulator) extendedVerify(dev *san.Device, f *bios.Frame) int {
	var addr diskAddress
	if err := e.machine.StrucAt(models.SegOff{Seg: f.DS, Off: f.SI}).Unpack(&addr); err == nil {
		debug.Detail(e.tag(dev), "verify: LBA %08x (count %d)", addr.LBA, addr.Count)
	}

	// we have no mechanism for verifying sectors
	return -StatusInvalid
}

// INT 13,47 - extended seek
func (e *Emulator) extendedSeek(dev *san.Device, f *bios.Frame) int {
	var addr diskAddress
	if err := e.machine.StrucAt(models.SegOff{Seg: f.DS, Off: f.SI}).Unpack(&addr); err == nil {
		debug.Detail(e.tag(dev), "seek: LBA %08x (count %d)", addr.LBA, addr.Count)
	}

	// ignore and return success
	return 0
}

func padBytes(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// devicePathInfo builds the EDD device path information block.
func (e *Emulator) devicePathInfo(dev *san.Device, dpi *eddDevicePathInformation) error {
	// reopen the block device if necessary
	if dev.NeedsReopen() {
		if err := dev.Reopen(); err != nil {
			return err
		}
	}

	desc, err := dev.Describe()
	if err != nil {
		debug.Trace(e.tag(dev), "cannot identify hardware device: %s", err)
		return err
	}

	// fill in bus type and interface path
	switch desc.BusType {
	case "PCI":
		padBytes(dpi.HostBusType[:], "PCI")
		dpi.InterfacePath[0] = desc.Bus
		dpi.InterfacePath[1] = desc.Slot
		dpi.InterfacePath[2] = desc.Function
		dpi.InterfacePath[3] = 0xff // channel is unused
	default:
		debug.Trace(e.tag(dev), "unrecognised bus type %q", desc.BusType)
		return errors.Errorf("unrecognised bus type %q", desc.BusType)
	}

	padBytes(dpi.InterfaceType[:], desc.InterfaceType)
	dpi.DevicePath = desc.DevicePath

	// fill in common fields and fix checksum
	dpi.Key = eddDevicePathInfoKey
	dpi.Len = eddDevicePathInfoLen
	dpi.Checksum = 0
	var sum uint8
	for _, b := range packBytes(dpi) {
		sum += b
	}
	dpi.Checksum = -sum

	return nil
}

// INT 13,48 - get extended parameters
func (e *Emulator) getExtendedParameters(dev *san.Device, f *bios.Frame) int {
	d := drivedata(dev)
	table := models.SegOff{Seg: f.DS, Off: f.SI}

	bufsize, err := e.machine.GetWord(table)
	if err != nil {
		return -StatusInvalid
	}

	debug.Detail(e.tag(dev), "get extended drive parameters to %s+%02x",
		table, bufsize)

	// build drive parameters
	params := diskParameters{
		Flags:           FlDMATransparent,
		Cylinders:       uint32(d.cylinders),
		Heads:           uint32(d.heads),
		SectorsPerTrack: uint32(d.sectorsPerTrack),
		Sectors:         dev.Capacity(),
		SectorSize:      uint16(dev.BlockSize()),
		DPTE:            models.SegOff{Seg: 0xffff, Off: 0xffff},
	}
	if d.cylinders < 1024 && dev.Capacity() <= MaxCHSSectors {
		params.Flags |= FlCHSValid
	}
	length := diskParametersLen
	if err := e.devicePathInfo(dev, &params.DPI); err != nil {
		debug.Trace(e.tag(dev), "could not provide device path information: %s", err)
		length = diskParametersDPILen
	}

	// The returned "buffer size" is less than the length actually
	// copied if device path information is present.
	if bufsize < diskParametersDPTELen {
		return -StatusInvalid
	}
	if bufsize < diskParametersDPILen {
		params.Bufsize = diskParametersDPTELen
	} else {
		params.Bufsize = diskParametersDPILen
	}

	packed := packBytes(&params)
	if length > int(bufsize) {
		length = int(bufsize)
	}
	debug.Trace(e.tag(dev), "described using extended parameters:")
	debug.Hexdump(e.tag(dev), table.Physical(), packed[:length])
	if err := e.machine.CopyToReal(table, packed[:length]); err != nil {
		return -StatusInvalid
	}

	return 0
}

// INT 13,4B - get status or terminate CD-ROM emulation
func (e *Emulator) cdromStatusTerminate(dev *san.Device, f *bios.Frame) int {
	action := "terminate"
	if f.AL() != 0 {
		action = "status"
	}
	debug.Detail(e.tag(dev), "get CD-ROM emulation %s to %04x:%04x",
		action, f.DS, f.SI)

	// fail if we are not a CD-ROM
	if !dev.IsCDROM {
		debug.Trace(e.tag(dev), "is not a CD-ROM")
		return -StatusInvalid
	}

	specification := cdromSpecification{
		Size:  cdromSpecificationLen,
		Drive: dev.Drive,
	}
	if err := e.machine.CopyToReal(models.SegOff{Seg: f.DS, Off: f.SI},
		packBytes(&specification)); err != nil {
		return -StatusInvalid
	}

	return 0
}

// INT 13,4D - read CD-ROM boot catalog
func (e *Emulator) cdromReadBootCatalog(dev *san.Device, f *bios.Frame) int {
	d := drivedata(dev)

	var command cdromBootCatalogCommand
	if err := e.machine.StrucAt(models.SegOff{Seg: f.DS, Off: f.SI}).Unpack(&command); err != nil {
		return -StatusInvalid
	}
	debug.Detail(e.tag(dev), "read CD-ROM boot catalog to %08x", command.Buffer)

	// fail if we have no boot catalog
	if d.bootCatalog == 0 {
		debug.Trace(e.tag(dev), "has no boot catalog")
		return -StatusInvalid
	}
	start := uint64(d.bootCatalog) + uint64(command.Start)

	if err := e.blockRead(dev, start, uint32(command.Count),
		uint64(command.Buffer)); err != nil {
		debug.Trace(e.tag(dev), "could not read boot catalog: %s", err)
		return -StatusReadError
	}

	return 0
}

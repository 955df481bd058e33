package int13

import (
	"bytes"
	"testing"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

func TestReset(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	drive := x.hook(0x80, backend)

	f := &bios.Frame{AX: 0x0000, DX: uint16(drive)}
	x.int13(f)
	if f.CF() || backend.Resets != 1 {
		t.Error("reset did not reach the device")
	}

	backend.FailReset = true
	f = &bios.Frame{AX: 0x0000, DX: uint16(drive)}
	x.int13(f)
	if !f.CF() || f.AH() != StatusResetFailed {
		t.Errorf("failed reset returned CF=%v AH=%02x", f.CF(), f.AH())
	}
}

func TestWriteSectors(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	drive := x.hook(0x80, backend)
	d := drivedata(x.device(drive))
	d.cylinders, d.heads, d.sectorsPerTrack = 16, 4, 63

	data := bytes.Repeat([]byte{0xa5}, 512)
	buffer := models.SegOff{Seg: 0x2000, Off: 0}
	if err := x.machine.CopyToReal(buffer, data); err != nil {
		t.Fatal(err)
	}
	// write one sector at cylinder 0, head 0, sector 2 (LBA 1)
	f := &bios.Frame{AX: 0x0301, CX: 0x0002, DX: uint16(drive), ES: buffer.Seg, BX: buffer.Off}
	x.int13(f)
	if f.CF() {
		t.Fatalf("write failed with status %02x", f.AH())
	}
	if !bytes.Equal(backend.Data[512:1024], data) {
		t.Error("device does not contain written sector")
	}
}

func TestGetParametersHDD(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))
	d := drivedata(x.device(drive))
	d.cylinders, d.heads, d.sectorsPerTrack = 100, 16, 63

	f := &bios.Frame{DX: uint16(drive)}
	f.SetAH(CmdGetParameters)
	x.int13(f)
	if f.CF() {
		t.Fatalf("get parameters failed with status %02x", f.AH())
	}
	if f.CH() != 99 {
		t.Errorf("max cylinder low byte %d, wanted 99", f.CH())
	}
	// the maximum sector number is NOT decremented
	if f.CL()&0x3f != 63 {
		t.Errorf("max sector %d, wanted 63", f.CL()&0x3f)
	}
	if f.DH() != 15 {
		t.Errorf("max head %d, wanted 15", f.DH())
	}
	if f.DL() != 1 {
		t.Errorf("drive count %d, wanted 1", f.DL())
	}
}

func TestGetParametersFDD(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x00, hddBackend(80*2*18))

	f := &bios.Frame{DX: uint16(drive)}
	f.SetAH(CmdGetParameters)
	x.int13(f)
	if f.CF() {
		t.Fatalf("get parameters failed with status %02x", f.AH())
	}
	if f.BL() != FDDType1M44 {
		t.Errorf("media type %02x, wanted %02x", f.BL(), FDDType1M44)
	}
	params := models.SegOff{Seg: f.ES, Off: f.DI}
	if params != x.machine.FDDParams {
		t.Errorf("ES:DI %s does not locate the parameter table", params)
	}
	if f.DL() != 1 {
		t.Errorf("floppy count %d, wanted 1", f.DL())
	}
}

func TestGetDiskType(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	backend.CapacityBlocks = 0x12345
	drive := x.hook(0x80, backend)

	f := &bios.Frame{DX: uint16(drive) | 0xcc00}
	f.SetAH(CmdGetDiskType)
	x.int13(f)
	if f.CF() || f.AH() != DiskTypeHDD {
		t.Fatalf("disk type CF=%v AH=%02x", f.CF(), f.AH())
	}
	blocks := uint32(f.CX)<<16 | uint32(f.DX)
	if blocks != 0x12345 {
		t.Errorf("sector count %#x, wanted 0x12345", blocks)
	}

	fdd := x.hook(0x00, hddBackend(80*2*18))
	f = &bios.Frame{DX: uint16(fdd)}
	f.SetAH(CmdGetDiskType)
	x.int13(f)
	if f.AH() != DiskTypeFDD {
		t.Errorf("floppy disk type %02x", f.AH())
	}
}

func TestExtensionCheck(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))

	f := &bios.Frame{BX: 0x55aa, DX: uint16(drive)}
	f.SetAH(CmdExtensionCheck)
	x.int13(f)
	if f.CF() {
		t.Fatal("extension check failed")
	}
	if f.BX != 0xaa55 {
		t.Errorf("BX %04x, wanted aa55", f.BX)
	}
	if f.CX != ExtensionLinear|ExtensionEDD|Extension64Bit {
		t.Errorf("extension bitmap %04x", f.CX)
	}
	if f.AH() != ExtensionVer30 {
		t.Errorf("API version %02x, wanted 30", f.AH())
	}

	// wrong magic
	f = &bios.Frame{BX: 0x1234, DX: uint16(drive)}
	f.SetAH(CmdExtensionCheck)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("extension check accepted wrong magic")
	}
}

func (x *fixture) extendedReadPacket(drive uint8, addr *diskAddress) *bios.Frame {
	packet := x.alloc(diskAddressLen)
	x.packAt(packet, addr)
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdExtendedRead)
	x.int13(f)
	return f
}

func TestExtendedRead64BitLBA(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	backend.CapacityBlocks = 0x100000010
	drive := x.hook(0x80, backend)

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize: diskAddressMinBufsize,
		Count:   8,
		Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
		LBA:     0x100000000,
	})
	if f.CF() || f.AH() != 0 {
		t.Fatalf("extended read CF=%v AH=%02x", f.CF(), f.AH())
	}
	if backend.LastLBA != 0x100000000 {
		t.Errorf("device saw LBA %#x", backend.LastLBA)
	}
	if backend.LastCount != 8 {
		t.Errorf("device saw count %d", backend.LastCount)
	}
}

func TestExtendedReadZeroCount(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	drive := x.hook(0x80, backend)
	backend.FailReads = true

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize: diskAddressMinBufsize,
		Count:   0,
		Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
	})
	if f.CF() || f.AH() != 0 {
		t.Error("zero-count read did not succeed")
	}
}

func TestExtendedReadInvalidCount(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))

	for _, count := range []uint8{0x80, 0xa0, 0xfe} {
		f := x.extendedReadPacket(drive, &diskAddress{
			Bufsize: diskAddressMinBufsize,
			Count:   count,
			Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
		})
		if !f.CF() || f.AH() != StatusInvalid {
			t.Errorf("count %#02x accepted", count)
		}
	}
}

func TestExtendedReadLongCount(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	drive := x.hook(0x80, backend)

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize:    diskAddressLen,
		Count:      0xff,
		BufferPhys: 0x20000,
		LBA:        2,
		LongCount:  130,
	})
	if f.CF() {
		t.Fatalf("long-count read failed with status %02x", f.AH())
	}
	if backend.LastCount != 130 {
		t.Errorf("device saw count %d, wanted 130", backend.LastCount)
	}
}

func TestExtendedReadPhysBufferSentinel(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	copy(backend.Data[5*512:], []byte("sentinel sector"))
	drive := x.hook(0x80, backend)

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize:    diskAddressLen,
		Count:      1,
		Buffer:     models.SegOff{Seg: 0xffff, Off: 0xffff},
		LBA:        5,
		BufferPhys: 0x30000,
	})
	if f.CF() {
		t.Fatalf("read failed with status %02x", f.AH())
	}
	got := make([]byte, 15)
	if err := x.machine.ReadPhys(0x30000, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "sentinel sector" {
		t.Errorf("buffer contains %q", got)
	}
}

func TestExtendedReadShortPacket(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize: 8,
		Count:   1,
		Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
	})
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("undersized packet accepted")
	}
}

func TestExtendedReadFloppyRefused(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x00, hddBackend(80*2*18))

	f := x.extendedReadPacket(drive, &diskAddress{
		Bufsize: diskAddressMinBufsize,
		Count:   1,
		Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
	})
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("extended read allowed on a floppy drive")
	}
}

func TestExtendedReadFailureWritesZeroCount(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	drive := x.hook(0x80, backend)
	backend.FailReads = true

	packet := x.alloc(diskAddressLen)
	x.packAt(packet, &diskAddress{
		Bufsize: diskAddressMinBufsize,
		Count:   4,
		Buffer:  models.SegOff{Seg: 0x2000, Off: 0},
		LBA:     1,
	})
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdExtendedRead)
	x.int13(f)
	if !f.CF() || f.AH() != StatusReadError {
		t.Fatalf("failed read returned CF=%v AH=%02x", f.CF(), f.AH())
	}
	count, err := x.machine.GetByte(models.SegOff{Seg: packet.Seg, Off: packet.Off + diskAddressCountOffset})
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("packet count %d after failure, wanted 0", count)
	}
}

func TestExtendedVerifyAndSeek(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))
	packet := x.alloc(diskAddressLen)
	x.packAt(packet, &diskAddress{Bufsize: diskAddressMinBufsize, Count: 1})

	// verify has no mechanism and fails
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdExtendedVerify)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("verify did not return invalid")
	}

	// seek is a no-op success
	f = &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdExtendedSeek)
	x.int13(f)
	if f.CF() || f.AH() != 0 {
		t.Error("seek did not succeed")
	}
}

func TestGetExtendedParameters(t *testing.T) {
	x := newFixture(t)
	backend := hddBackend(0x1000)
	backend.Desc = &san.Description{
		BusType:       "PCI",
		Bus:           3,
		Slot:          1,
		Function:      0,
		InterfaceType: "SCSI",
	}
	drive := x.hook(0x80, backend)

	table := x.alloc(diskParametersLen)
	x.machine.PutWord(table, diskParametersLen)
	f := &bios.Frame{DX: uint16(drive), DS: table.Seg, SI: table.Off}
	f.SetAH(CmdGetExtendedParameters)
	x.int13(f)
	if f.CF() {
		t.Fatalf("get extended parameters failed with status %02x", f.AH())
	}

	var params diskParameters
	if err := x.machine.StrucAt(table).Unpack(&params); err != nil {
		t.Fatal(err)
	}
	if params.Bufsize != diskParametersDPILen {
		t.Errorf("returned bufsize %d, wanted %d", params.Bufsize, diskParametersDPILen)
	}
	if params.Sectors != 0x1000 || params.SectorSize != 512 {
		t.Errorf("capacity %d x %d", params.Sectors, params.SectorSize)
	}
	if params.Flags&FlDMATransparent == 0 {
		t.Error("DMA transparency flag clear")
	}
	if params.DPTE.Seg != 0xffff || params.DPTE.Off != 0xffff {
		t.Error("DPTE not marked invalid")
	}
	if params.DPI.Key != eddDevicePathInfoKey {
		t.Errorf("device path key %04x", params.DPI.Key)
	}
	if params.DPI.InterfacePath[0] != 3 || params.DPI.InterfacePath[1] != 1 {
		t.Error("PCI location not encoded in interface path")
	}
	var sum uint8
	for _, b := range packBytes(&params.DPI) {
		sum += b
	}
	if sum != 0 {
		t.Errorf("device path info sums to %#x", sum)
	}
}

func TestGetExtendedParametersTruncated(t *testing.T) {
	x := newFixture(t)
	// no hardware identity: the device path section is dropped
	drive := x.hook(0x80, hddBackend(0x1000))

	table := x.alloc(diskParametersLen)
	x.machine.PutWord(table, diskParametersDPTELen)
	f := &bios.Frame{DX: uint16(drive), DS: table.Seg, SI: table.Off}
	f.SetAH(CmdGetExtendedParameters)
	x.int13(f)
	if f.CF() {
		t.Fatalf("get extended parameters failed with status %02x", f.AH())
	}
	var params diskParameters
	if err := x.machine.StrucAt(table).Unpack(&params); err != nil {
		t.Fatal(err)
	}
	if params.Bufsize != diskParametersDPTELen {
		t.Errorf("returned bufsize %d, wanted %d", params.Bufsize, diskParametersDPTELen)
	}
	if params.DPI.Key == eddDevicePathInfoKey {
		t.Error("device path info written past caller's buffer")
	}

	// undersized buffer is rejected outright
	x.machine.PutWord(table, diskParametersDPTELen-2)
	f = &bios.Frame{DX: uint16(drive), DS: table.Seg, SI: table.Off}
	f.SetAH(CmdGetExtendedParameters)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("undersized buffer accepted")
	}
}

func TestCDROMStatus(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, cdBackend(19, 30, 4, 0))

	packet := x.alloc(cdromSpecificationLen)
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdCDROMStatusTerminate)
	f.SetAL(1)
	x.int13(f)
	if f.CF() {
		t.Fatalf("CD-ROM status failed with %02x", f.AH())
	}
	var spec cdromSpecification
	if err := x.machine.StrucAt(packet).Unpack(&spec); err != nil {
		t.Fatal(err)
	}
	if spec.Size != cdromSpecificationLen || spec.Drive != drive {
		t.Errorf("specification packet size %d drive %02x", spec.Size, spec.Drive)
	}

	// a non-CD drive refuses
	hdd := x.hook(0x81, hddBackend(0x1000))
	f = &bios.Frame{DX: uint16(hdd), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdCDROMStatusTerminate)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("non-CD drive accepted CD-ROM status call")
	}
}

func TestCDROMStatusWildcardDrive(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, cdBackend(19, 30, 4, 0))

	packet := x.alloc(cdromSpecificationLen)
	// 0x7f is the non-drive-specific CD-ROM drive number
	f := &bios.Frame{DX: 0x007f, DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdCDROMStatusTerminate)
	x.int13(f)
	if f.CF() {
		t.Fatalf("wildcard CD-ROM call failed with %02x", f.AH())
	}
	var spec cdromSpecification
	if err := x.machine.StrucAt(packet).Unpack(&spec); err != nil {
		t.Fatal(err)
	}
	if spec.Drive != drive {
		t.Errorf("specification names drive %02x, wanted %02x", spec.Drive, drive)
	}
}

func TestReadBootCatalog(t *testing.T) {
	x := newFixture(t)
	backend := cdBackend(19, 30, 4, 0)
	drive := x.hook(0x80, backend)

	packet := x.alloc(cdromBootCatalogCommandLen)
	x.packAt(packet, &cdromBootCatalogCommand{
		Size:   cdromBootCatalogCommandLen,
		Count:  1,
		Buffer: 0x8000,
		Start:  0,
	})
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdCDROMReadBootCatalog)
	x.int13(f)
	if f.CF() {
		t.Fatalf("boot catalog read failed with %02x", f.AH())
	}
	got := make([]byte, 32)
	if err := x.machine.ReadPhys(0x8000, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x01 {
		t.Error("catalog validation entry not loaded")
	}
	if backend.LastLBA != 19 {
		t.Errorf("catalog read from LBA %d", backend.LastLBA)
	}
}

func TestReadBootCatalogAbsent(t *testing.T) {
	x := newFixture(t)
	// a CD image with no El Torito boot record
	drive := x.hook(0x80, san.NewMemBackend(san.ISOBlockSize, 64))

	packet := x.alloc(cdromBootCatalogCommandLen)
	x.packAt(packet, &cdromBootCatalogCommand{
		Size:   cdromBootCatalogCommandLen,
		Count:  1,
		Buffer: 0x8000,
	})
	f := &bios.Frame{DX: uint16(drive), DS: packet.Seg, SI: packet.Off}
	f.SetAH(CmdCDROMReadBootCatalog)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("catalog read succeeded with no catalog")
	}
}

func TestUnknownCommand(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, hddBackend(0x1000))

	f := &bios.Frame{DX: uint16(drive)}
	f.SetAH(0x77)
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("unknown command not rejected")
	}
}

func TestInvalidBlockSizeForCHS(t *testing.T) {
	x := newFixture(t)
	drive := x.hook(0x80, cdBackend(19, 30, 4, 0))

	f := &bios.Frame{AX: 0x0201, CX: 0x0001, DX: uint16(drive), ES: 0x2000}
	x.int13(f)
	if !f.CF() || f.AH() != StatusInvalid {
		t.Error("CHS read accepted on a 2048-byte device")
	}
}

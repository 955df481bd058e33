package int13

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

// fixture wires a machine, a device registry, and an emulator together
// with a recording stand-in for the firmware disk handler.
type fixture struct {
	t        *testing.T
	machine  *bios.Machine
	devices  *san.Registry
	emu      *Emulator
	backends map[string]san.Backend

	firmwareCalls int
	firmwareDL    uint8
}

func newFixture(t *testing.T) *fixture {
	x := &fixture{
		t:        t,
		machine:  bios.New(),
		devices:  san.NewRegistry(),
		backends: make(map[string]san.Backend),
	}
	// a firmware disk handler that records calls and fails them
	so := x.machine.BindHandler(func(m *bios.Machine, f *bios.Frame) {
		x.firmwareCalls++
		x.firmwareDL = f.DL()
		f.SetAH(0x01)
		f.SetCF(true)
	})
	x.machine.SetIntVector(0x13, so)

	emu, err := New(x.machine, x.devices, func(uri string) (san.Backend, error) {
		if b, ok := x.backends[uri]; ok {
			return b, nil
		}
		return nil, errors.Errorf("no such target %q", uri)
	})
	if err != nil {
		t.Fatal("could not build emulator:", err)
	}
	x.emu = emu
	return x
}

func (x *fixture) hook(drive uint8, b san.Backend) uint8 {
	uri := fmt.Sprintf("dev%d", len(x.backends))
	x.backends[uri] = b
	assigned, err := x.emu.Hook(drive, []string{uri}, 0)
	if err != nil {
		x.t.Fatal("hook failed:", err)
	}
	return assigned
}

func (x *fixture) int13(f *bios.Frame) {
	if err := x.machine.Int(0x13, f); err != nil {
		x.t.Fatal("interrupt failed:", err)
	}
}

func (x *fixture) alloc(size int) models.SegOff {
	so, err := x.machine.AllocReal(size, 1)
	if err != nil {
		x.t.Fatal("alloc failed:", err)
	}
	return so
}

func (x *fixture) packAt(so models.SegOff, v interface{}) {
	if err := x.machine.StrucAt(so).Pack(v); err != nil {
		x.t.Fatal("pack failed:", err)
	}
}

func (x *fixture) device(drive uint8) *san.Device {
	dev := x.devices.Find(drive)
	if dev == nil {
		x.t.Fatalf("drive %02x not registered", drive)
	}
	return dev
}

// hddBackend builds a hard disk image carrying a valid MBR signature.
func hddBackend(blocks uint64) *san.MemBackend {
	b := san.NewMemBackend(512, blocks)
	binary.LittleEndian.PutUint16(b.Data[510:], MBRMagic)
	return b
}

// chs packs a CHS triple the way partition table entries carry them.
func chs(cylinder, head, sector uint) [3]byte {
	return [3]byte{
		byte(head),
		byte(sector) | byte((cylinder>>8)<<6),
		byte(cylinder),
	}
}

func setPartition(data []byte, idx int, typ byte, start, end [3]byte, lba, length uint32) {
	p := data[partitionTableOffset+16*idx:]
	p[1], p[2], p[3] = start[0], start[1], start[2]
	p[4] = typ
	p[5], p[6], p[7] = end[0], end[1], end[2]
	binary.LittleEndian.PutUint32(p[8:], lba)
	binary.LittleEndian.PutUint32(p[12:], length)
}

// cdBackend builds a CD image with an El Torito boot record, catalog,
// and no-emulation boot entry.
func cdBackend(catalogLBA, bootLBA uint32, lengthVirtual, loadSeg uint16) *san.MemBackend {
	b := san.NewMemBackend(san.ISOBlockSize, 64)
	// boot record volume descriptor
	desc := b.Data[eltoritoLBA*san.ISOBlockSize:]
	desc[0] = 0
	copy(desc[1:], "CD001")
	desc[6] = 1
	copy(desc[7:], "EL TORITO SPECIFICATION")
	binary.LittleEndian.PutUint32(desc[71:], catalogLBA)
	// validation entry
	cat := b.Data[int(catalogLBA)*san.ISOBlockSize:]
	cat[0] = 0x01
	cat[1] = eltoritoPlatformX86
	binary.LittleEndian.PutUint16(cat[30:], 0xaa55)
	// initial/default boot entry
	cat[32] = eltoritoBootable
	cat[33] = eltoritoNoEmulation
	binary.LittleEndian.PutUint16(cat[34:], loadSeg)
	binary.LittleEndian.PutUint16(cat[38:], lengthVirtual)
	binary.LittleEndian.PutUint32(cat[40:], bootLBA)
	return b
}

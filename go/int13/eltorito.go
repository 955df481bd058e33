package int13

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"

	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/san"
)

// eltoritoLBA is the fixed location of the boot record volume descriptor
// on an ISO 9660 volume.
const eltoritoLBA = 17

// eltoritoDescriptor is the El Torito boot record volume descriptor.
type eltoritoDescriptor struct {
	Type     uint8
	ID       [5]byte
	Version  uint8
	SystemID [32]byte
	Unused   [32]byte
	// LBA of the boot catalog
	Sector uint32
}

// the fixed prefix identifying an El Torito boot record
var eltoritoCheck = func() []byte {
	want := eltoritoDescriptor{
		Type:    0, // boot record
		Version: 1,
	}
	copy(want.ID[:], "CD001")
	copy(want.SystemID[:], "EL TORITO SPECIFICATION")
	var buf bytes.Buffer
	struc.PackWithOrder(&buf, &want, binary.LittleEndian)
	// descriptor prefix up to but not including the unused region
	return buf.Bytes()[:39]
}()

// eltoritoValidationEntry is the first entry of the boot catalog.
type eltoritoValidationEntry struct {
	HeaderID   uint8
	PlatformID uint8
	Reserved   uint16
	IDString   [24]byte
	Checksum   uint16
	Signature  uint16
}

// eltoritoBootEntry is the initial/default boot catalog entry.
type eltoritoBootEntry struct {
	Indicator      uint8
	MediaType      uint8
	LoadSegment    uint16
	FilesystemType uint8
	Reserved       uint8
	// length of the boot image in virtual (512-byte) sectors
	Length uint16
	Start  uint32
}

const (
	eltoritoPlatformX86 = 0x00
	eltoritoBootable    = 0x88
	eltoritoNoEmulation = 0x00
)

// parseElTorito reads and checks the boot record volume descriptor,
// remembering the boot catalog location if one is present.
func (e *Emulator) parseElTorito(dev *san.Device, scratch []byte) error {
	d := drivedata(dev)

	if err := dev.Read(eltoritoLBA, 1, scratch); err != nil {
		debug.Trace(e.tag(dev), "could not read El Torito boot record volume descriptor: %s", err)
		return err
	}

	if bytes.Equal(scratch[:len(eltoritoCheck)], eltoritoCheck) {
		d.bootCatalog = binary.LittleEndian.Uint32(scratch[71:75])
		debug.Trace(e.tag(dev), "has an El Torito boot catalog at LBA %08x", d.bootCatalog)
	} else {
		debug.Trace(e.tag(dev), "has no El Torito boot catalog")
	}

	return nil
}

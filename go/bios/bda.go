package bios

import "github.com/fensys/sanboot/go/models"

// BIOS data area locations touched by the emulation
const (
	BDASeg           = 0x40
	BDAEquipmentWord = 0x10
	BDANumDrives     = 0x75
)

// The BDA lives in always-mapped conventional memory, so these accessors
// cannot fail and swallow the impossible errors.

func (m *Machine) EquipmentWord() uint16 {
	v, _ := m.GetWord(models.SegOff{Seg: BDASeg, Off: BDAEquipmentWord})
	return v
}

func (m *Machine) SetEquipmentWord(v uint16) {
	m.PutWord(models.SegOff{Seg: BDASeg, Off: BDAEquipmentWord}, v)
}

func (m *Machine) NumDrives() uint8 {
	v, _ := m.GetByte(models.SegOff{Seg: BDASeg, Off: BDANumDrives})
	return v
}

func (m *Machine) SetNumDrives(v uint8) {
	m.PutByte(models.SegOff{Seg: BDASeg, Off: BDANumDrives}, v)
}

package int13

import (
	"github.com/fensys/sanboot/go/debug"
)

// syncNumDrives reconciles the firmware's drive counts with the set of
// emulated drives: each counter is bumped to cover both the emulated
// drive number and the natural number of any displaced drive, and the
// equipment word's floppy bits are reassembled from the floppy count.
func (e *Emulator) syncNumDrives() {
	m := e.machine

	// get current drive counts
	e.equipmentWord = m.EquipmentWord()
	e.numDrives = m.NumDrives()
	e.numFDDs = 0
	if e.equipmentWord&0x0001 != 0 {
		e.numFDDs = uint8((e.equipmentWord>>6)&0x3) + 1
	}

	// ensure the count is large enough to cover all of our drives
	for _, dev := range e.devices.Devices() {
		d := drivedata(dev)
		counter := &e.numDrives
		if isFDD(dev) {
			counter = &e.numFDDs
		}
		maxDrive := dev.Drive
		if maxDrive < d.naturalDrive {
			maxDrive = d.naturalDrive
		}
		required := (maxDrive & 0x7f) + 1
		if *counter < required {
			*counter = required
			debug.Trace(e.tag(dev), "added to drive count: %d HDDs, %d FDDs",
				e.numDrives, e.numFDDs)
		}
	}

	// update the current drive count
	e.equipmentWord &^= (0x3 << 6) | 0x0001
	if e.numFDDs != 0 {
		e.equipmentWord |= 0x0001 | (uint16(e.numFDDs-1)&0x3)<<6
	}
	m.SetEquipmentWord(e.equipmentWord)
	m.SetNumDrives(e.numDrives)
}

// checkNumDrives re-syncs if the firmware has changed the drive counts
// behind our back (e.g. a setup screen rescanning devices).
func (e *Emulator) checkNumDrives() {
	if e.machine.EquipmentWord() != e.equipmentWord ||
		e.machine.NumDrives() != e.numDrives {
		e.syncNumDrives()
	}
}

package int13

import (
	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
)

// wrapper is the interrupt entry point installed at vector 0x13. Its
// contract mirrors the real-mode stub it stands in for:
//
//   - AX and DX are snapshotted on entry;
//   - overflow is cleared and carry set before calling the dispatcher;
//   - the dispatcher sets overflow to mean "handled, do not chain";
//   - an unhandled call is chained to the displaced vector;
//   - DL is then fixed up: INT 13,15 on a hard disk leaves DL alone,
//     INT 13,08 returns the appropriate drive count, and every other
//     call restores the caller's DL.
func (e *Emulator) wrapper(m *bios.Machine, f *bios.Frame) {
	savedAX := f.AX
	savedDX := f.DX

	f.SetOF(false)
	f.SetCF(true)
	e.dispatch(f)

	// chain if overflow not set
	if !f.OF() {
		if err := m.CallFar(e.vector, f); err != nil {
			debug.Trace("INT13", "could not chain to %s: %s", e.vector, err)
		}
	}

	// fix up DL
	command := uint8(savedAX >> 8)
	savedDL := uint8(savedDX)
	if command == CmdGetDiskType && savedDL&0x80 != 0 {
		// get disk type on a hard disk: DX carries the sector count
		return
	}
	f.SetDL(savedDL)
	if command == CmdGetParameters {
		if savedDL&0x80 != 0 {
			f.SetDL(e.numDrives)
		} else {
			f.SetDL(e.numFDDs)
		}
	}
}

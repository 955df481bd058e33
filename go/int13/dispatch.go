package int13

import (
	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
)

// dispatch decodes the intercepted register frame and routes it to a
// per-command handler. A handled call clears or leaves carry, places the
// status in AH, and sets the overflow flag to tell the wrapper not to
// chain. An unhandled call leaves the frame alone so the wrapper chains
// to the displaced handler.
func (e *Emulator) dispatch(f *bios.Frame) {
	command := f.AH()
	biosDrive := f.DL()

	// check the firmware hasn't killed off our drives
	e.checkNumDrives()

	for _, dev := range e.devices.Devices() {
		d := drivedata(dev)
		if biosDrive != dev.Drive {
			if biosDrive == d.naturalDrive {
				// remap accesses to this drive's natural number
				debug.Detail(e.tag(dev), "INT13,%02x (%02x) remapped to (%02x)",
					command, biosDrive, dev.Drive)
				f.SetDL(dev.Drive)
				return
			} else if biosDrive&0x7f == 0x7f &&
				command == CmdCDROMStatusTerminate && dev.IsCDROM {
				// catch non-drive-specific CD-ROM calls
			} else {
				continue
			}
		}

		debug.Detail(e.tag(dev), "INT13,%02x (%02x): %s",
			command, biosDrive, commandName(command))

		var status int
		switch command {
		case CmdReset:
			status = e.reset(dev, f)
		case CmdGetLastStatus:
			status = e.getLastStatus(dev, f)
		case CmdReadSectors:
			status = e.readSectors(dev, f)
		case CmdWriteSectors:
			status = e.writeSectors(dev, f)
		case CmdGetParameters:
			status = e.getParameters(dev, f)
		case CmdGetDiskType:
			status = e.getDiskType(dev, f)
		case CmdExtensionCheck:
			status = e.extensionCheck(dev, f)
		case CmdExtendedRead:
			status = e.extendedRead(dev, f)
		case CmdExtendedWrite:
			status = e.extendedWrite(dev, f)
		case CmdExtendedVerify:
			status = e.extendedVerify(dev, f)
		case CmdExtendedSeek:
			status = e.extendedSeek(dev, f)
		case CmdGetExtendedParameters:
			status = e.getExtendedParameters(dev, f)
		case CmdCDROMStatusTerminate:
			status = e.cdromStatusTerminate(dev, f)
		case CmdCDROMReadBootCatalog:
			status = e.cdromReadBootCatalog(dev, f)
		default:
			debug.Detail(e.tag(dev), "*** unrecognised INT13 ***")
			status = -StatusInvalid
		}

		// store status for INT 13,01
		d.lastStatus = status

		// negative status indicates an error; carry was set on entry
		// by the wrapper and is only cleared on success
		if status < 0 {
			status = -status
			debug.Trace(e.tag(dev), "INT13,%02x failed with status %02x",
				command, status)
		} else {
			f.SetCF(false)
		}
		f.SetAH(uint8(status))

		// tell the wrapper not to chain this call
		f.SetOF(true)
		return
	}
}

package int13

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

// Emulator owns the hooked interrupt vector, the cached BIOS drive
// counts, and the boot firmware table pool for a set of emulated drives.
type Emulator struct {
	machine *bios.Machine
	devices *san.Registry
	open    san.Opener

	// cached copies of the BIOS data area drive state
	equipmentWord uint16
	numDrives     uint8
	numFDDs       uint8

	// interrupt vector state
	hooked bool
	stub   models.SegOff
	vector models.SegOff

	// boot firmware table pool
	xbftab     models.SegOff
	xbftabUsed int

	// low-memory packets for the El Torito boot path
	eltoritoCmd  models.SegOff
	eltoritoAddr models.SegOff
}

// driveData is the per-drive private data hung off a SAN device.
type driveData struct {
	// naturalDrive is the number this drive would have received if
	// appended to the live BIOS drive list. If the emulated drive
	// displaces a real one, the displaced drive is remapped here.
	naturalDrive uint8

	// CHS geometry. The cylinder field of an INT 13 call is ten bits
	// wide; heads are limited to 255 because DOS through Win95 fails
	// with 256; sector numbering starts at 1, capping sectors at 63.
	cylinders       uint
	heads           uint
	sectorsPerTrack uint

	// LBA of the El Torito boot catalog, if any
	bootCatalog uint32

	// status of the last operation, for INT 13,01
	lastStatus int
}

func drivedata(dev *san.Device) *driveData {
	return dev.Priv.(*driveData)
}

// New builds an emulator on a firmware machine and a device registry.
// The opener is used to open the URI lists handed to Hook.
func New(machine *bios.Machine, devices *san.Registry, open san.Opener) (*Emulator, error) {
	e := &Emulator{
		machine: machine,
		devices: devices,
		open:    open,
	}
	var err error
	if e.xbftab, err = machine.AllocReal(xbftabSize, xbftabAlign); err != nil {
		return nil, err
	}
	if e.eltoritoCmd, err = machine.AllocReal(cdromBootCatalogCommandLen, 1); err != nil {
		return nil, err
	}
	if e.eltoritoAddr, err = machine.AllocReal(diskAddressLen, 1); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Emulator) tag(dev *san.Device) string {
	return fmt.Sprintf("INT13 %02x", dev.Drive)
}

// isFDD reports whether the drive is a floppy disk drive.
func isFDD(dev *san.Device) bool {
	return dev.Drive&0x80 == 0
}

// capacity32 limits the device capacity to a 32-bit block count.
func capacity32(dev *san.Device) uint32 {
	capacity := dev.Capacity()
	if capacity > 0xffffffff {
		return 0xffffffff
	}
	return uint32(capacity)
}

// Hook registers a drive with the emulation, synthesizes its geometry,
// and hooks the interrupt vector if this is the first drive. It returns
// the drive number actually assigned.
func (e *Emulator) Hook(drive uint8, uris []string, flags san.Flags) (uint8, error) {
	needHook := !e.devices.Have()

	// calculate natural drive number
	e.syncNumDrives()
	natural := e.numFDDs
	if drive&0x80 != 0 {
		natural = e.numDrives | 0x80
	}

	// use natural drive number if directed to do so
	if drive&0x7f == 0x7f {
		drive = natural
	}

	dev := san.NewDevice(uris, e.open)
	dev.Priv = &driveData{naturalDrive: natural}

	if err := e.devices.Register(dev, drive, flags); err != nil {
		dev.Put()
		return 0, err
	}

	scratch := make([]byte, dev.BlockSize())

	// parse El Torito parameters, if present
	if dev.IsCDROM {
		if err := e.parseElTorito(dev, scratch); err != nil {
			e.unregister(dev)
			return 0, err
		}
	}

	// give the drive a default geometry, if applicable
	if dev.BlockSize() == BlockSize {
		if err := e.guessGeometry(dev, scratch); err != nil {
			e.unregister(dev)
			return 0, err
		}
	}

	d := drivedata(dev)
	debug.Trace(e.tag(dev), "(naturally %02x) registered with C/H/S geometry %d/%d/%d",
		d.naturalDrive, d.cylinders, d.heads, d.sectorsPerTrack)

	// hook the vector if not already hooked
	if needHook {
		e.stub, e.vector = e.machine.HookInterrupt(Vector, e.wrapper)
		e.hooked = true
	}

	// update the BIOS drive count
	e.syncNumDrives()

	return drive, nil
}

func (e *Emulator) unregister(dev *san.Device) {
	e.devices.Unregister(dev)
	dev.Put()
}

// Unhook removes a drive from the emulation. If it was the last drive,
// the interrupt vector is restored (where possible).
func (e *Emulator) Unhook(drive uint8) {
	dev := e.devices.Find(drive)
	if dev == nil {
		debug.Trace(fmt.Sprintf("INT13 %02x", drive), "is not a SAN drive")
		return
	}

	e.devices.Unregister(dev)

	// The BIOS drive count should be adjusted downwards here, but
	// there is no way to do that reliably.

	debug.Trace(e.tag(dev), "unregistered")

	if !e.devices.Have() && e.hooked {
		if err := e.machine.UnhookInterrupt(Vector, e.stub, e.vector); err != nil {
			debug.Trace(e.tag(dev), "could not unhook vector: %s", err)
		} else {
			e.hooked = false
		}
	}

	dev.Put()
}

// DriveInfo describes an emulated drive.
type DriveInfo struct {
	Drive           uint8
	NaturalDrive    uint8
	IsCDROM         bool
	Cylinders       uint
	Heads           uint
	SectorsPerTrack uint
	BootCatalog     uint32
	Capacity        uint64
	BlockSize       int
	ActiveURI       string
}

// Info reports the state of an emulated drive.
func (e *Emulator) Info(drive uint8) (*DriveInfo, error) {
	dev := e.devices.Find(drive)
	if dev == nil {
		return nil, errors.Errorf("drive %02x is not a SAN drive", drive)
	}
	d := drivedata(dev)
	return &DriveInfo{
		Drive:           dev.Drive,
		NaturalDrive:    d.naturalDrive,
		IsCDROM:         dev.IsCDROM,
		Cylinders:       d.cylinders,
		Heads:           d.heads,
		SectorsPerTrack: d.sectorsPerTrack,
		BootCatalog:     d.bootCatalog,
		Capacity:        dev.Capacity(),
		BlockSize:       dev.BlockSize(),
		ActiveURI:       dev.ActiveURI(),
	}, nil
}

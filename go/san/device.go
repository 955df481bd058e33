// Package san provides the block-device abstraction the INT 13 emulation
// reads and writes through: multipath devices opened from URIs, an
// ordered registry keyed by BIOS drive number, and the file and memory
// backends.
package san

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/debug"
)

// Flags modify how a registered device behaves.
type Flags uint

const (
	// ReadOnly rejects block writes to the device.
	ReadOnly Flags = 1 << iota
)

// Backend is a single open path to a block target.
type Backend interface {
	ReadBlocks(lba uint64, count uint32, p []byte) error
	WriteBlocks(lba uint64, count uint32, p []byte) error
	Reset() error
	Capacity() uint64
	BlockSize() int
	Close() error
}

// Description identifies the hardware path behind a backend, for EDD
// device path information.
type Description struct {
	BusType             string
	Bus, Slot, Function uint8
	InterfaceType       string
	DevicePath          [16]byte
}

// Describer is implemented by backends that can identify their
// underlying device.
type Describer interface {
	Describe() (*Description, error)
}

// Opener opens a URI into a backend.
type Opener func(uri string) (Backend, error)

// Path is one way of reaching the block target.
type Path struct {
	URI     string
	backend Backend
}

// Device is a multipath block device. At most one path is open at a
// time; a failed path is closed and the next is tried on reopen.
type Device struct {
	Drive   uint8
	IsCDROM bool
	Flags   Flags

	// Priv carries the INT 13 layer's per-drive data.
	Priv interface{}

	paths       []*Path
	open        Opener
	active      int
	needsReopen bool
	refs        int

	capacity uint64
	blksize  int
}

func NewDevice(uris []string, open Opener) *Device {
	d := &Device{
		active:      -1,
		needsReopen: true,
		refs:        1,
	}
	for _, uri := range uris {
		d.paths = append(d.paths, &Path{URI: uri})
	}
	d.open = open
	return d
}

func (d *Device) tag() string {
	return fmt.Sprintf("SAN %02x", d.Drive)
}

// Get takes an additional reference to the device.
func (d *Device) Get() {
	d.refs++
}

// Put drops a reference; the last reference closes the active path.
func (d *Device) Put() {
	d.refs--
	if d.refs > 0 {
		return
	}
	if d.active >= 0 && d.paths[d.active].backend != nil {
		d.paths[d.active].backend.Close()
		d.paths[d.active].backend = nil
		d.active = -1
	}
}

func (d *Device) NeedsReopen() bool {
	return d.needsReopen
}

// ActiveURI names the path currently in use, if any.
func (d *Device) ActiveURI() string {
	if d.active < 0 {
		return ""
	}
	return d.paths[d.active].URI
}

// Reopen closes the active path and opens the next working one, starting
// from the path after the failed one so repeated failures rotate through
// the whole set.
func (d *Device) Reopen() error {
	if d.open == nil {
		return errors.New("no opener for device")
	}
	start := 0
	if d.active >= 0 {
		p := d.paths[d.active]
		if p.backend != nil {
			p.backend.Close()
			p.backend = nil
		}
		start = d.active + 1
	}
	var lastErr error
	for i := 0; i < len(d.paths); i++ {
		idx := (start + i) % len(d.paths)
		p := d.paths[idx]
		backend, err := d.open(p.URI)
		if err != nil {
			debug.Trace(d.tag(), "could not open %s: %s", p.URI, err)
			lastErr = err
			continue
		}
		p.backend = backend
		d.active = idx
		d.needsReopen = false
		d.capacity = backend.Capacity()
		d.blksize = backend.BlockSize()
		debug.Trace(d.tag(), "opened %s (%d blocks of %d bytes)",
			p.URI, d.capacity, d.blksize)
		return nil
	}
	d.active = -1
	if lastErr == nil {
		lastErr = errors.New("no paths")
	}
	return errors.Wrap(lastErr, "could not open any path")
}

func (d *Device) backend() (Backend, error) {
	if d.needsReopen {
		if err := d.Reopen(); err != nil {
			return nil, err
		}
	}
	return d.paths[d.active].backend, nil
}

// Capacity returns the device size in blocks, cached at open time.
func (d *Device) Capacity() uint64 {
	return d.capacity
}

// BlockSize returns the device block size, cached at open time.
func (d *Device) BlockSize() int {
	return d.blksize
}

// Read reads count blocks starting at lba. A failed path is marked for
// reopen and the transfer retried once on the next path.
func (d *Device) Read(lba uint64, count uint32, p []byte) error {
	if count == 0 {
		return nil
	}
	return d.rw(lba, count, func(b Backend) error {
		return b.ReadBlocks(lba, count, p)
	})
}

// Write writes count blocks starting at lba.
func (d *Device) Write(lba uint64, count uint32, p []byte) error {
	if count == 0 {
		return nil
	}
	if d.Flags&ReadOnly != 0 {
		return errors.New("device is read-only")
	}
	return d.rw(lba, count, func(b Backend) error {
		return b.WriteBlocks(lba, count, p)
	})
}

func (d *Device) rw(lba uint64, count uint32, op func(Backend) error) error {
	for attempt := 0; ; attempt++ {
		backend, err := d.backend()
		if err != nil {
			return err
		}
		err = op(backend)
		if err == nil {
			return nil
		}
		d.needsReopen = true
		if attempt > 0 || len(d.paths) == 1 {
			return errors.Wrapf(err, "I/O failed at %#x+%d", lba, count)
		}
		debug.Trace(d.tag(), "path %s failed, trying next: %s",
			d.ActiveURI(), err)
	}
}

// Reset resets the device.
func (d *Device) Reset() error {
	backend, err := d.backend()
	if err != nil {
		return err
	}
	return backend.Reset()
}

// Describe identifies the hardware path behind the active backend.
func (d *Device) Describe() (*Description, error) {
	backend, err := d.backend()
	if err != nil {
		return nil, err
	}
	describer, ok := backend.(Describer)
	if !ok {
		return nil, errors.New("cannot identify hardware device")
	}
	return describer.Describe()
}

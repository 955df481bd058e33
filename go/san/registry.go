package san

import (
	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/debug"
)

// ISOBlockSize is the block size that marks a device as a CD-ROM.
const ISOBlockSize = 2048

// Registry holds registered devices in registration order.
type Registry struct {
	devices []*Device
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register opens the device and adds it under the given drive number.
func (r *Registry) Register(d *Device, drive uint8, flags Flags) error {
	if r.Find(drive) != nil {
		return errors.Errorf("drive %02x already registered", drive)
	}
	d.Drive = drive
	d.Flags = flags
	if err := d.Reopen(); err != nil {
		return errors.Wrapf(err, "drive %02x could not open", drive)
	}
	d.IsCDROM = d.BlockSize() == ISOBlockSize
	r.devices = append(r.devices, d)
	debug.Trace(d.tag(), "registered as drive %02x", drive)
	return nil
}

// Unregister removes the device from the registry. The caller still
// holds its reference.
func (r *Registry) Unregister(d *Device) {
	for i, dev := range r.devices {
		if dev == d {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			debug.Trace(d.tag(), "unregistered")
			return
		}
	}
}

// Find returns the device registered under drive, if any.
func (r *Registry) Find(drive uint8) *Device {
	for _, d := range r.devices {
		if d.Drive == drive {
			return d
		}
	}
	return nil
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	return r.devices
}

// Have reports whether any device is registered.
func (r *Registry) Have() bool {
	return len(r.devices) > 0
}

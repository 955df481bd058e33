// Package bios models the real-mode firmware environment the INT 13
// emulation lives in: conventional memory with the interrupt vector table
// and BIOS data area, synthetic far entry points bound to Go handlers,
// and the narrow get/put/copy helpers used to touch real-mode structures.
package bios

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/models/cpu"
)

const (
	// MemSize is the size of the real-mode address space
	MemSize = 0x100000

	firmwareSeg = 0xf000
	// firmware scratch segment for allocated low-memory structures
	dataSeg = 0x9000

	// classic locations for the null interrupt entry point and the
	// diskette parameter table
	nullVectorOff = 0xff53
	fddParamsOff  = 0xefc7
)

// Handler services calls transferred through a bound far entry point.
type Handler func(m *Machine, f *Frame)

type Machine struct {
	Mem *cpu.Mem

	// BootSector hands control to loaded boot code. Executing boot
	// code needs a processor, which this model does not provide; the
	// embedder may install one.
	BootSector func(m *Machine, addr models.SegOff, drive uint8) error

	// FDDParams locates the diskette parameter table.
	FDDParams models.SegOff

	handlers map[uint64]Handler
	nextStub uint16
	allocOff uint32
}

func New() *Machine {
	// 21 address bits: the real-mode address space plus the HMA
	// reachable through ffff:ffff with A20 enabled
	m := &Machine{
		Mem:      cpu.NewMem(21, binary.LittleEndian),
		handlers: make(map[uint64]Handler),
		nextStub: 0x0100,
	}
	// conventional memory, then the firmware ROM segment
	m.Mem.MemMap(0, 0xa0000, "ram")
	m.Mem.MemMap(0xf0000, 0x10000, "firmware")

	// all vectors initially transfer to a do-nothing firmware entry
	null := models.SegOff{Seg: firmwareSeg, Off: nullVectorOff}
	m.bind(null, func(m *Machine, f *Frame) {})
	for vec := 0; vec < 0x100; vec++ {
		m.SetIntVector(uint8(vec), null)
	}

	// the firmware disk handler fails every request: no drives
	disk := models.SegOff{Seg: firmwareSeg, Off: 0xe3fe}
	m.bind(disk, func(m *Machine, f *Frame) {
		f.SetAH(0x01)
		f.SetCF(true)
	})
	m.SetIntVector(0x13, disk)

	m.FDDParams = models.SegOff{Seg: firmwareSeg, Off: fddParamsOff}
	m.WritePhys(m.FDDParams.Physical(), []byte{
		0, 0, 0,
		0x02, // 512 bytes per sector
		48,   // highest sectors per track ever returned
		0, 0, 0, 0, 0, 0,
	})

	return m
}

// bind associates a far entry point with a Go handler.
func (m *Machine) bind(so models.SegOff, h Handler) {
	m.handlers[so.Physical()] = h
}

// BindHandler allocates a fresh firmware entry point for h.
func (m *Machine) BindHandler(h Handler) models.SegOff {
	so := models.SegOff{Seg: firmwareSeg, Off: m.nextStub}
	m.nextStub += 0x10
	m.bind(so, h)
	return so
}

func (m *Machine) UnbindHandler(so models.SegOff) {
	delete(m.handlers, so.Physical())
}

// IntVector reads the vector table entry for vec.
func (m *Machine) IntVector(vec uint8) models.SegOff {
	off, _ := m.Mem.ReadUint(uint64(vec)*4, 2)
	seg, _ := m.Mem.ReadUint(uint64(vec)*4+2, 2)
	return models.SegOff{Seg: uint16(seg), Off: uint16(off)}
}

func (m *Machine) SetIntVector(vec uint8, so models.SegOff) {
	m.Mem.WriteUint(uint64(vec)*4, 2, uint64(so.Off))
	m.Mem.WriteUint(uint64(vec)*4+2, 2, uint64(so.Seg))
}

// HookInterrupt installs a new entry point for vec bound to h, returning
// the entry point and the displaced vector for later chaining/unhooking.
func (m *Machine) HookInterrupt(vec uint8, h Handler) (stub, prev models.SegOff) {
	stub = m.BindHandler(h)
	prev = m.IntVector(vec)
	m.SetIntVector(vec, stub)
	return stub, prev
}

// UnhookInterrupt restores prev at vec. It refuses if the vector no
// longer points at stub: another handler has hooked on top of us and
// unhooking would break its chain.
func (m *Machine) UnhookInterrupt(vec uint8, stub, prev models.SegOff) error {
	if cur := m.IntVector(vec); cur != stub {
		return errors.Errorf("vector %02x points at %s, not %s", vec, cur, stub)
	}
	m.SetIntVector(vec, prev)
	m.UnbindHandler(stub)
	return nil
}

// Int raises a software interrupt against the current vector table.
func (m *Machine) Int(vec uint8, f *Frame) error {
	return m.CallFar(m.IntVector(vec), f)
}

// CallFar transfers to the handler bound at so, the analogue of an
// lcall through a saved vector.
func (m *Machine) CallFar(so models.SegOff, f *Frame) error {
	h := m.handlers[so.Physical()]
	if h == nil {
		return errors.Errorf("no handler bound at %s", so)
	}
	h(m, f)
	return nil
}

func (m *Machine) ReadPhys(addr uint64, p []byte) error {
	return m.Mem.MemReadInto(p, addr)
}

func (m *Machine) WritePhys(addr uint64, p []byte) error {
	return m.Mem.MemWrite(addr, p)
}

func (m *Machine) CopyFromReal(p []byte, so models.SegOff) error {
	return m.ReadPhys(so.Physical(), p)
}

func (m *Machine) CopyToReal(so models.SegOff, p []byte) error {
	return m.WritePhys(so.Physical(), p)
}

func (m *Machine) GetByte(so models.SegOff) (uint8, error) {
	v, err := m.Mem.ReadUint(so.Physical(), 1)
	return uint8(v), err
}

func (m *Machine) GetWord(so models.SegOff) (uint16, error) {
	v, err := m.Mem.ReadUint(so.Physical(), 2)
	return uint16(v), err
}

func (m *Machine) PutByte(so models.SegOff, v uint8) error {
	return m.Mem.WriteUint(so.Physical(), 1, uint64(v))
}

func (m *Machine) PutWord(so models.SegOff, v uint16) error {
	return m.Mem.WriteUint(so.Physical(), 2, uint64(v))
}

// StrucAt returns a little-endian structure stream cursor over real
// memory starting at so.
func (m *Machine) StrucAt(so models.SegOff) *models.StrucStream {
	return &models.StrucStream{
		Stream: &memIO{mem: m.Mem, addr: so.Physical()},
		Order:  binary.LittleEndian,
	}
}

// AllocReal carves an aligned block out of the firmware scratch segment.
// Allocations last for the lifetime of the machine.
func (m *Machine) AllocReal(size, align int) (models.SegOff, error) {
	off := m.allocOff
	if align > 1 {
		off = (off + uint32(align) - 1) &^ (uint32(align) - 1)
	}
	if off+uint32(size) > 0x10000 {
		return models.SegOff{}, errors.Errorf("out of firmware scratch space (%d bytes)", size)
	}
	m.allocOff = off + uint32(size)
	return models.SegOff{Seg: dataSeg, Off: uint16(off)}, nil
}

package bios

import (
	"github.com/fensys/sanboot/go/models/cpu"
)

// memIO is a read/write cursor over simulated memory, letting structure
// codecs treat real-mode memory as a stream.
type memIO struct {
	mem  *cpu.Mem
	addr uint64
}

func (m *memIO) Read(p []byte) (int, error) {
	if err := m.mem.MemReadInto(p, m.addr); err != nil {
		return 0, err
	}
	m.addr += uint64(len(p))
	return len(p), nil
}

func (m *memIO) Write(p []byte) (int, error) {
	if err := m.mem.MemWrite(m.addr, p); err != nil {
		return 0, err
	}
	m.addr += uint64(len(p))
	return len(p), nil
}

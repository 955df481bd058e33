package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

type MemSim struct {
	Mem Pages
}

// Checks whether the address range exists in the currently-mapped memory.
func (m *MemSim) RangeValid(addr, size uint64) bool {
	i := m.Mem.bsearch(addr)
	if i == -1 {
		return false
	}
	end := addr + size
	for _, mm := range m.Mem[i:] {
		if !mm.Contains(addr) {
			break
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end
}

// Maps <addr> - <addr>+<size>, then sorts the mapping list by address
// to allow binary search and simpler reads / bound checks.
func (m *MemSim) Map(addr, size uint64, desc string) *Page {
	page := &Page{Addr: addr, Size: size, Data: make([]byte, size), Desc: desc}
	m.Mem = append(m.Mem, page)
	sort.Sort(m.Mem)
	return page
}

func (m *MemSim) Read(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if !mm.Contains(addr) {
				break
			}
			o := addr - mm.Addr
			n := copy(p, mm.Data[o:])
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte) error {
	if !m.RangeValid(addr, uint64(len(p))) {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if !mm.Contains(addr) {
				break
			}
			o := addr - mm.Addr
			n := copy(mm.Data[o:], p)
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

package bios

import "testing"

func TestFrameSubRegisters(t *testing.T) {
	f := &Frame{AX: 0x1234, CX: 0x5678, DX: 0x9abc}
	if f.AH() != 0x12 || f.AL() != 0x34 {
		t.Error("AX sub-registers wrong")
	}
	if f.CH() != 0x56 || f.CL() != 0x78 {
		t.Error("CX sub-registers wrong")
	}
	f.SetDL(0x80)
	if f.DX != 0x9a80 {
		t.Errorf("SetDL clobbered DH: %#x", f.DX)
	}
	f.SetAH(0xff)
	if f.AX != 0xff34 {
		t.Errorf("SetAH clobbered AL: %#x", f.AX)
	}
}

func TestFrameFlags(t *testing.T) {
	f := &Frame{}
	f.SetCF(true)
	f.SetOF(true)
	if f.Flags != FlagCF|FlagOF {
		t.Errorf("flags %#x", f.Flags)
	}
	f.SetCF(false)
	if f.CF() || !f.OF() {
		t.Error("flag clear affected wrong bit")
	}
}

// Package acpi carries the ACPI description header model and the table
// producer registry. Block transports register producers describing the
// SAN origin of the boot volume; the boot firmware table installer
// collects whatever they generate.
package acpi

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// HeaderLen is the size of a packed description header.
const HeaderLen = 36

// Header is the common ACPI description header.
type Header struct {
	Signature           [4]byte
	Length              uint32
	Revision            uint8
	Checksum            uint8
	OEMID               [6]byte
	OEMTableID          [8]byte
	OEMRevision         uint32
	ASLCompilerID       [4]byte
	ASLCompilerRevision uint32
}

// header field offsets within a packed table
const (
	ChecksumOffset   = 9
	OEMIDOffset      = 10
	OEMTableIDOffset = 16
)

// ParseHeader unpacks the description header at the front of a table.
func ParseHeader(table []byte) (*Header, error) {
	if len(table) < HeaderLen {
		return nil, errors.Errorf("table too short (%d bytes)", len(table))
	}
	var hdr Header
	err := struc.UnpackWithOrder(bytes.NewReader(table[:HeaderLen]), &hdr,
		binary.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "could not unpack header")
	}
	return &hdr, nil
}

// Name returns a printable form of a table signature.
func Name(sig [4]byte) string {
	out := make([]byte, 4)
	for i, b := range sig {
		if b >= 0x20 && b < 0x7f {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// Checksum sums every byte of a packed table.
func Checksum(table []byte) uint8 {
	var sum uint8
	for _, b := range table {
		sum += b
	}
	return sum
}

// FixChecksum adjusts the checksum byte so the table sums to zero.
func FixChecksum(table []byte) {
	table[ChecksumOffset] -= Checksum(table)
}

// Producer generates zero or more packed tables, handing each to the
// supplied install callback.
type Producer func(install func(table []byte) error) error

var producers []Producer

// RegisterProducer adds a table producer to the registry.
func RegisterProducer(p Producer) {
	producers = append(producers, p)
}

// ResetProducers empties the registry.
func ResetProducers() {
	producers = nil
}

// Install runs every registered producer against the install callback.
func Install(install func(table []byte) error) error {
	for _, p := range producers {
		if err := p(install); err != nil {
			return err
		}
	}
	return nil
}

package int13

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"

	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/san"
)

// guessGeometryHDD guesses heads and sectors per track by inspecting the
// partition table.
func (e *Emulator) guessGeometryHDD(dev *san.Device, scratch []byte) (heads, sectors uint, err error) {
	if err := dev.Read(0, 1, scratch); err != nil {
		debug.Trace(e.tag(dev), "could not read partition table to guess geometry: %s", err)
		return 0, 0, err
	}
	debug.Detail(e.tag(dev), "has MBR:")
	debug.Hexdump(e.tag(dev), 0, scratch[:BlockSize])
	debug.Trace(e.tag(dev), "has signature %08x",
		binary.LittleEndian.Uint32(scratch[440:444]))

	// Scan through the partition table and modify guesses for heads
	// and sectors per track if we find any used partitions.
	for i := 0; i < 4; i++ {
		var partition partitionEntry
		entry := scratch[partitionTableOffset+16*i : partitionTableOffset+16*(i+1)]
		if err := struc.UnpackWithOrder(bytes.NewReader(entry), &partition,
			binary.LittleEndian); err != nil {
			return 0, 0, err
		}

		// skip empty partitions
		if partition.Type == 0 {
			continue
		}

		// If the partition starts on cylinder 0 then we can
		// unambiguously determine the number of sectors.
		startCylinder := partCylinder(partition.CHSStart)
		startHead := partHead(partition.CHSStart)
		startSector := partSector(partition.CHSStart)
		if startCylinder == 0 && startHead != 0 {
			sectors = (uint(partition.Start) + 1 - startSector) / startHead
			debug.Trace(e.tag(dev), "guessing C/H/S xx/xx/%d based on partition %d",
				sectors, i+1)
		}

		// If the partition ends on a higher head or sector number
		// than our current guess, then increase the guess.
		endHead := partHead(partition.CHSEnd)
		endSector := partSector(partition.CHSEnd)
		if endHead+1 > heads {
			heads = endHead + 1
			debug.Trace(e.tag(dev), "guessing C/H/S xx/%d/xx based on partition %d",
				heads, i+1)
		}
		if endSector > sectors {
			sectors = endSector
			debug.Trace(e.tag(dev), "guessing C/H/S xx/xx/%d based on partition %d",
				sectors, i+1)
		}
	}

	// default guess is xx/255/63
	if heads == 0 {
		heads = 255
	}
	if sectors == 0 {
		sectors = 63
	}

	return heads, sectors, nil
}

// recognised floppy disk geometries
var fddGeometries = []struct {
	cylinders, heads, sectors uint
}{
	{40, 1, 8},
	{40, 1, 9},
	{40, 2, 8},
	{40, 1, 9},
	{80, 2, 8},
	{80, 2, 9},
	{80, 2, 15},
	{80, 2, 18},
	{80, 2, 20},
	{80, 2, 21},
	{82, 2, 21},
	{83, 2, 21},
	{80, 2, 22},
	{80, 2, 23},
	{80, 2, 24},
	{80, 2, 36},
	{80, 2, 39},
	{80, 2, 40},
	{80, 2, 44},
	{80, 2, 48},
}

// guessGeometryFDD guesses heads and sectors per track by matching the
// disk size against recognised floppy formats.
func (e *Emulator) guessGeometryFDD(dev *san.Device) (heads, sectors uint) {
	blocks := uint(capacity32(dev))

	for _, geometry := range fddGeometries {
		if geometry.cylinders*geometry.heads*geometry.sectors == blocks {
			debug.Trace(e.tag(dev), "guessing C/H/S %d/%d/%d based on size %dK",
				geometry.cylinders, geometry.heads, geometry.sectors, blocks/2)
			return geometry.heads, geometry.sectors
		}
	}

	// Otherwise, assume a partial disk image in the most common
	// format (1440K, 80/2/18).
	debug.Trace(e.tag(dev), "guessing C/H/S xx/2/18 based on size %dK", blocks/2)
	return 2, 18
}

// guessGeometry fills in any geometry fields not already specified.
func (e *Emulator) guessGeometry(dev *san.Device, scratch []byte) error {
	d := drivedata(dev)
	var guessedHeads, guessedSectors uint
	var err error

	if isFDD(dev) {
		guessedHeads, guessedSectors = e.guessGeometryFDD(dev)
	} else {
		guessedHeads, guessedSectors, err = e.guessGeometryHDD(dev, scratch)
		if err != nil {
			return err
		}
	}

	if d.heads == 0 {
		d.heads = guessedHeads
	}
	if d.sectorsPerTrack == 0 {
		d.sectorsPerTrack = guessedSectors
	}
	if d.cylinders == 0 {
		blocks := uint(capacity32(dev))
		blocksPerCyl := d.heads * d.sectorsPerTrack
		d.cylinders = blocks / blocksPerCyl
		if d.cylinders > 1024 {
			d.cylinders = 1024
		}
	}

	return nil
}

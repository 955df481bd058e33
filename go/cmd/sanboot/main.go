package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fensys/sanboot/go/bios"
	"github.com/fensys/sanboot/go/debug"
	"github.com/fensys/sanboot/go/int13"
	"github.com/fensys/sanboot/go/models"
	"github.com/fensys/sanboot/go/san"
)

type session struct {
	machine  *bios.Machine
	emulator *int13.Emulator
	drives   []uint8
}

// hookImages registers each image argument as an emulated drive.
func hookImages(c *cli.Context) (*session, error) {
	if c.Args().Len() == 0 {
		return nil, cli.Exit("no disk images given", 1)
	}
	debug.Level = c.Int("debug")
	debug.Color = c.Bool("color")

	machine := bios.New()
	emulator, err := int13.New(machine, san.NewRegistry(), san.Open)
	if err != nil {
		return nil, err
	}
	s := &session{machine: machine, emulator: emulator}

	drive := uint8(c.Uint("drive"))
	var flags san.Flags
	if c.Bool("read-only") {
		flags |= san.ReadOnly
	}
	for _, image := range c.Args().Slice() {
		assigned, err := emulator.Hook(drive, []string{image}, flags)
		if err != nil {
			return nil, fmt.Errorf("could not hook %s: %w", image, err)
		}
		s.drives = append(s.drives, assigned)
		// subsequent images take the next natural number
		drive = (assigned & 0x80) | 0x7f
	}
	return s, nil
}

func infoCmd(c *cli.Context) error {
	s, err := hookImages(c)
	if err != nil {
		return err
	}
	for _, drive := range s.drives {
		info, err := s.emulator.Info(drive)
		if err != nil {
			return err
		}
		kind := "hdd"
		if info.IsCDROM {
			kind = "cdrom"
		} else if drive&0x80 == 0 {
			kind = "fdd"
		}
		fmt.Printf("drive %02x (naturally %02x, %s) %s\n",
			info.Drive, info.NaturalDrive, kind, info.ActiveURI)
		fmt.Printf("  C/H/S %d/%d/%d, %d blocks of %d bytes\n",
			info.Cylinders, info.Heads, info.SectorsPerTrack,
			info.Capacity, info.BlockSize)
		if info.BootCatalog != 0 {
			fmt.Printf("  El Torito boot catalog at LBA %08x\n", info.BootCatalog)
		}
	}
	return nil
}

func readCmd(c *cli.Context) error {
	s, err := hookImages(c)
	if err != nil {
		return err
	}
	drive := s.drives[0]
	info, err := s.emulator.Info(drive)
	if err != nil {
		return err
	}

	// issue an extended read through the hooked interrupt
	buffer := models.SegOff{Seg: 0x1000, Off: 0x0000}
	packet, err := s.machine.AllocReal(32, 1)
	if err != nil {
		return err
	}
	count := c.Uint("count")
	le := s.machine.StrucAt(packet)
	if err := le.Pack(&struct {
		Bufsize   uint8
		ReservedA uint8
		Count     uint8
		ReservedB uint8
		Buffer    models.SegOff
		LBA       uint64
	}{Bufsize: 16, Count: uint8(count), Buffer: buffer, LBA: c.Uint64("lba")}); err != nil {
		return err
	}
	f := &bios.Frame{
		AX:    0x4200,
		DX:    uint16(drive),
		DS:    packet.Seg,
		SI:    packet.Off,
		Flags: bios.FlagCF,
	}
	if err := s.machine.Int(0x13, f); err != nil {
		return err
	}
	if f.CF() {
		return fmt.Errorf("read failed with status %02x", f.AH())
	}
	data := make([]byte, int(count)*info.BlockSize)
	if err := s.machine.CopyFromReal(data, buffer); err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func bootCmd(c *cli.Context) error {
	s, err := hookImages(c)
	if err != nil {
		return err
	}
	s.machine.BootSector = func(m *bios.Machine, addr models.SegOff, drive uint8) error {
		fmt.Printf("boot image loaded, entry %s, DL=%02x\n", addr, drive)
		return fmt.Errorf("no processor to run boot sector")
	}
	return s.emulator.Boot(s.drives[0], &int13.BootConfig{})
}

func describeCmd(c *cli.Context) error {
	s, err := hookImages(c)
	if err != nil {
		return err
	}
	if err := s.emulator.Describe(); err != nil {
		return err
	}
	tables, err := s.emulator.FirmwareTables()
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Println("no boot firmware tables installed")
		return nil
	}
	saved := debug.Level
	debug.Level = 2
	debug.Hexdump("xbft", 0, tables)
	debug.Level = saved
	return nil
}

func main() {
	app := &cli.App{
		Name:  "sanboot",
		Usage: "serve disk images through INT 13 emulation",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "debug", Usage: "trace level (0-2)"},
			&cli.BoolFlag{Name: "color", Usage: "colorize trace output"},
			&cli.UintFlag{Name: "drive", Value: 0xff, Usage: "first drive number (0xff = natural hard disk)"},
			&cli.BoolFlag{Name: "read-only", Usage: "reject writes to the images"},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "hook images and print drive state",
				ArgsUsage: "IMAGE...",
				Action:    infoCmd,
			},
			{
				Name:      "read",
				Usage:     "read sectors through the hooked interrupt",
				ArgsUsage: "IMAGE...",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "lba", Usage: "starting block"},
					&cli.UintFlag{Name: "count", Value: 1, Usage: "block count"},
				},
				Action: readCmd,
			},
			{
				Name:      "boot",
				Usage:     "attempt to boot from the first image",
				ArgsUsage: "IMAGE...",
				Action:    bootCmd,
			},
			{
				Name:      "describe",
				Usage:     "install and dump boot firmware tables",
				ArgsUsage: "IMAGE...",
				Action:    describeCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// Package int13 exports SAN block devices via the BIOS INT 13 disk
// interrupt interface, so unmodified boot loaders can read and boot from
// network-attached volumes as though they were local drives.
package int13

// Vector is the BIOS disk services interrupt.
const Vector = 0x13

// BlockSize is the sector size assumed by the non-extended API.
const BlockSize = 512

// MaxCHSSectors is the highest sector reachable through a CHS address.
const MaxCHSSectors = 1024 * 255 * 63

// INT 13 command codes
const (
	CmdReset                 = 0x00
	CmdGetLastStatus         = 0x01
	CmdReadSectors           = 0x02
	CmdWriteSectors          = 0x03
	CmdGetParameters         = 0x08
	CmdGetDiskType           = 0x15
	CmdExtensionCheck        = 0x41
	CmdExtendedRead          = 0x42
	CmdExtendedWrite         = 0x43
	CmdExtendedVerify        = 0x44
	CmdExtendedSeek          = 0x47
	CmdGetExtendedParameters = 0x48
	CmdCDROMStatusTerminate  = 0x4b
	CmdCDROMReadBootCatalog  = 0x4d
)

// command names for trace output
var commandNames = map[uint8]string{
	CmdReset:                 "reset",
	CmdGetLastStatus:         "get_last_status",
	CmdReadSectors:           "read_sectors",
	CmdWriteSectors:          "write_sectors",
	CmdGetParameters:         "get_parameters",
	CmdGetDiskType:           "get_disk_type",
	CmdExtensionCheck:        "extension_check",
	CmdExtendedRead:          "extended_read",
	CmdExtendedWrite:         "extended_write",
	CmdExtendedVerify:        "extended_verify",
	CmdExtendedSeek:          "extended_seek",
	CmdGetExtendedParameters: "get_extended_parameters",
	CmdCDROMStatusTerminate:  "cdrom_status_terminate",
	CmdCDROMReadBootCatalog:  "cdrom_read_boot_catalog",
}

func commandName(cmd uint8) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return "unknown"
}

// disk types returned by INT 13,15
const (
	DiskTypeFDD = 0x01
	DiskTypeHDD = 0x03
)

// extension API support bitmap and version for INT 13,41
const (
	ExtensionLinear = 0x01
	ExtensionEDD    = 0x04
	Extension64Bit  = 0x08

	ExtensionVer30 = 0x30
)

// drive parameter flags for INT 13,48
const (
	FlDMATransparent = 0x01
	FlCHSValid       = 0x02
)

// FDDType1M44 is the INT 13,08 media type code for a 1.44 MB floppy.
const FDDType1M44 = 0x04

// MBRMagic is the boot sector signature word.
const MBRMagic = 0xaa55

// Package debug provides the leveled per-object trace output used across
// the firmware emulation. Level 1 prints significant events, level 2 adds
// per-call detail and hexdumps. Trace output is observational only.
package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/mgutz/ansi"
)

var (
	Level            = 0
	Color            = false
	Output io.Writer = os.Stderr
)

var palette = []string{
	"red", "green", "yellow", "blue", "magenta", "cyan",
}

// each tag gets a stable color so interleaved traces from different
// objects can be told apart
func tagColor(tag string) string {
	h := uint32(2166136261)
	for i := 0; i < len(tag); i++ {
		h = (h ^ uint32(tag[i])) * 16777619
	}
	return ansi.ColorCode(palette[h%uint32(len(palette))])
}

func emit(tag, format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	if Color {
		fmt.Fprintf(Output, "%s%s%s %s\n", tagColor(tag), tag, ansi.Reset, msg)
	} else {
		fmt.Fprintf(Output, "%s %s\n", tag, msg)
	}
}

func Trace(tag, format string, a ...interface{}) {
	if Level >= 1 {
		emit(tag, format, a...)
	}
}

func Detail(tag, format string, a ...interface{}) {
	if Level >= 2 {
		emit(tag, format, a...)
	}
}

// Hexdump prints data at level 2 with addresses starting at base.
func Hexdump(tag string, base uint64, data []byte) {
	if Level < 2 {
		return
	}
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		hex := ""
		text := ""
		for i, b := range line {
			if i == 8 {
				hex += " "
			}
			hex += fmt.Sprintf("%02x ", b)
			if b >= 0x20 && b < 0x7f {
				text += string(rune(b))
			} else {
				text += "."
			}
		}
		emit(tag, "%08x  %-49s |%s|", base+uint64(off), hex, text)
	}
}

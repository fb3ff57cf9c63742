// Package disasm renders machine memory as Z80 assembly text. Ranges the
// caller declares as data are not decoded; they come out as DB lines.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oisee/z80kit/pkg/inst"
	"github.com/oisee/z80kit/pkg/machine"
)

// ErrNoSection is returned when removing a non-executable section by an
// index that does not exist.
var ErrNoSection = errors.New("disasm: no such non-executable section")

// Section is a half-open [Addr, Addr+Length) range of bytes that must not
// be decoded as instructions.
type Section struct {
	Addr   uint16
	Length int
}

// Line is one row of disassembly output.
type Line struct {
	Addr uint16
	Text string
}

// Disassembler walks a memory range of a machine, one instruction or DB
// line at a time.
type Disassembler struct {
	m        *machine.Machine
	start    uint16
	length   int
	sections []Section
}

// New builds a disassembler over length bytes starting at start.
func New(m *machine.Machine, start uint16, length int) *Disassembler {
	return &Disassembler{m: m, start: start, length: length}
}

// AddNonExecutable declares a data island.
func (d *Disassembler) AddNonExecutable(addr uint16, length int) {
	d.sections = append(d.sections, Section{Addr: addr, Length: length})
}

// RemoveNonExecutable drops a previously declared island by index.
func (d *Disassembler) RemoveNonExecutable(index int) error {
	if index < 0 || index >= len(d.sections) {
		return ErrNoSection
	}
	d.sections = append(d.sections[:index], d.sections[index+1:]...)
	return nil
}

func (d *Disassembler) section(addr uint16) (Section, bool) {
	for _, s := range d.sections {
		if uint32(addr) >= uint32(s.Addr) && uint32(addr) < uint32(s.Addr)+uint32(s.Length) {
			return s, true
		}
	}
	return Section{}, false
}

// Disassemble walks the configured range. The machine's PC is snapshotted
// and restored, so execution state is untouched.
func (d *Disassembler) Disassemble() []Line {
	savedPC := d.m.PC()
	defer d.m.SetPC(savedPC)

	var lines []Line
	pc := d.start
	end := uint32(d.start) + uint32(d.length)

	for uint32(pc) < end {
		if s, ok := d.section(pc); ok {
			secEnd := uint32(s.Addr) + uint32(s.Length)
			n := secEnd - uint32(pc)
			if rest := end - uint32(pc); rest < n {
				n = rest
			}
			if n > 16 {
				n = 16
			}
			lines = append(lines, Line{Addr: pc, Text: dbLine(d.m.DumpMemory(pc, int(n)))})
			pc += uint16(n)
			continue
		}

		d.m.SetPC(pc)
		dec, err := d.m.Fetch(end)
		if err != nil {
			// Truncated instruction at the end of the range: show the
			// remaining bytes as data.
			lines = append(lines, Line{Addr: pc, Text: dbLine(d.m.DumpMemory(pc, int(end-uint32(pc))))})
			break
		}
		lines = append(lines, Line{Addr: pc, Text: format(dec, d.m.PC())})
		pc = d.m.PC()
	}
	return lines
}

func dbLine(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02Xh", b)
	}
	return "DB " + strings.Join(parts, ", ")
}

// format substitutes the mnemonic placeholders: n and nn as hex with an h
// suffix, e as the absolute target, +d as a signed decimal displacement.
// A zero displacement collapses (IX+0) to (IX).
func format(d inst.Decoded, nextPC uint16) string {
	text := d.Info.Mnemonic
	if strings.Contains(text, "+d)") {
		var disp string
		switch {
		case d.Disp == 0:
			disp = ")"
		case d.Disp > 0:
			disp = fmt.Sprintf("+%d)", d.Disp)
		default:
			disp = fmt.Sprintf("%d)", d.Disp)
		}
		text = strings.Replace(text, "+d)", disp, 1)
	}
	if strings.Contains(text, "nn") {
		text = strings.Replace(text, "nn", fmt.Sprintf("%04Xh", d.Imm16), 1)
	} else if i := placeholderIndex(text, 'n'); i >= 0 {
		text = text[:i] + fmt.Sprintf("%02Xh", d.Imm8) + text[i+1:]
	}
	if i := placeholderIndex(text, 'e'); i >= 0 {
		target := nextPC + uint16(d.Disp)
		text = text[:i] + fmt.Sprintf("%04Xh", target) + text[i+1:]
	}
	return text
}

// placeholderIndex finds a lone lowercase placeholder letter; mnemonics and
// register names are uppercase, so the first lowercase hit is the operand.
func placeholderIndex(text string, ph byte) int {
	for i := 0; i < len(text); i++ {
		if text[i] == ph {
			return i
		}
	}
	return -1
}

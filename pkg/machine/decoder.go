package machine

import (
	"errors"

	"github.com/oisee/z80kit/pkg/inst"
)

// ErrEndOfData is returned when an instruction fetch would read past the
// end of the loaded region.
var ErrEndOfData = errors.New("machine: execution ran past end of loaded data")

// nopInfo stands in for opcodes absent from their table: they decode, and
// execute, as no-ops.
var nopInfo = inst.Info{Mnemonic: "NOP", Handler: inst.NOP}

// fetch decodes one instruction at PC, consuming prefix, displacement and
// immediate bytes in stream order. On return PC points at the byte after
// the full instruction. limit is the exclusive end of the fetchable region.
//
// The DD CB / FD CB forms put the displacement byte BEFORE the final opcode
// byte; every other prefixed form puts the opcode straight after the prefix.
func (m *Machine) fetch(limit uint32) (inst.Decoded, error) {
	read := func() (uint8, error) {
		if uint32(m.cpu.PC) >= limit {
			return 0, ErrEndOfData
		}
		b := m.mem.ReadByte(m.cpu.PC)
		m.cpu.PC++
		return b, nil
	}

	var d inst.Decoded

	b, err := read()
	if err != nil {
		return d, err
	}

	prefix := inst.None
	switch b {
	case 0xCB:
		prefix = inst.CB
		if b, err = read(); err != nil {
			return d, err
		}
	case 0xED:
		prefix = inst.ED
		if b, err = read(); err != nil {
			return d, err
		}
	case 0xDD, 0xFD:
		if b == 0xDD {
			prefix = inst.DD
		} else {
			prefix = inst.FD
		}
		if b, err = read(); err != nil {
			return d, err
		}
		if b == 0xCB {
			// Displacement precedes the final opcode byte.
			if prefix == inst.DD {
				prefix = inst.DDCB
			} else {
				prefix = inst.FDCB
			}
			var disp uint8
			if disp, err = read(); err != nil {
				return d, err
			}
			d.Disp = int8(disp)
			d.HasDisp = true
			if b, err = read(); err != nil {
				return d, err
			}
		}
	}

	d.Opcode = b
	d.Prefix = prefix
	info, ok := inst.Table(prefix)[b]
	if !ok {
		info = nopInfo
	}
	d.Info = info

	// Plain DD/FD indexed forms carry their displacement after the opcode.
	if !d.HasDisp {
		if info.Mode1 == inst.Indexed || info.Mode2 == inst.Indexed ||
			info.Mode1 == inst.Relative || info.Mode2 == inst.Relative {
			var disp uint8
			if disp, err = read(); err != nil {
				return d, err
			}
			d.Disp = int8(disp)
			d.HasDisp = true
		}
	}

	switch {
	case info.Mode1 == inst.Immediate || info.Mode2 == inst.Immediate:
		if d.Imm8, err = read(); err != nil {
			return d, err
		}
		d.HasImm8 = true
	case info.Mode1 == inst.ExtImmediate || info.Mode2 == inst.ExtImmediate,
		info.Mode1 == inst.Extended || info.Mode2 == inst.Extended:
		var lo, hi uint8
		if lo, err = read(); err != nil {
			return d, err
		}
		if hi, err = read(); err != nil {
			return d, err
		}
		d.Imm16 = uint16(hi)<<8 | uint16(lo)
		d.HasImm16 = true
	}

	return d, nil
}

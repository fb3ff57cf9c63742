package machine

import "github.com/oisee/z80kit/pkg/cpu"

// 8-bit ALU primitives against the accumulator. Each one states its flag
// rule directly: carry from the 9th bit, half-carry from the low nibbles,
// overflow on addition when the operands agree in sign and the result does
// not, on subtraction when the operands differ in sign and the result's sign
// differs from A's.

// addCore is ADD/ADC: result = A + value + carry (carry is 0 or 1).
func addCore(c *cpu.CPU, value, carry uint8) {
	sum := uint16(c.A) + uint16(value) + uint16(carry)
	result := uint8(sum)
	var f uint8
	if sum > 0xFF {
		f |= cpu.FlagC
	}
	if (c.A&0x0F)+(value&0x0F)+carry > 0x0F {
		f |= cpu.FlagH
	}
	if (c.A^value^0x80)&(c.A^result)&0x80 != 0 {
		f |= cpu.FlagV
	}
	c.A = result
	c.F = f | cpu.SZ(result)
}

// subFlags computes the flags of A - value - carry without writing A,
// which is exactly what CP needs; SUB and SBC store the result as well.
func subFlags(c *cpu.CPU, value, carry uint8) uint8 {
	diff := int(c.A) - int(value) - int(carry)
	result := uint8(diff)
	f := cpu.FlagN
	if diff < 0 {
		f |= cpu.FlagC
	}
	if c.A&0x0F < value&0x0F+carry {
		f |= cpu.FlagH
	}
	if (c.A^value)&(c.A^result)&0x80 != 0 {
		f |= cpu.FlagV
	}
	c.F = f | cpu.SZ(result)
	return result
}

func addA(c *cpu.CPU, value uint8) { addCore(c, value, 0) }

func adcA(c *cpu.CPU, value uint8) { addCore(c, value, c.F&cpu.FlagC) }

func subA(c *cpu.CPU, value uint8) { c.A = subFlags(c, value, 0) }

func sbcA(c *cpu.CPU, value uint8) { c.A = subFlags(c, value, c.F&cpu.FlagC) }

func cpA(c *cpu.CPU, value uint8) { subFlags(c, value, 0) }

func andA(c *cpu.CPU, value uint8) {
	c.A &= value
	c.F = cpu.FlagH | cpu.SZP(c.A)
}

func orA(c *cpu.CPU, value uint8) {
	c.A |= value
	c.F = cpu.SZP(c.A)
}

func xorA(c *cpu.CPU, value uint8) {
	c.A ^= value
	c.F = cpu.SZP(c.A)
}

// incVal is 8-bit INC: P/V means "was 0x7F", carry untouched.
func incVal(c *cpu.CPU, v uint8) uint8 {
	result := v + 1
	f := c.F & cpu.FlagC
	if v&0x0F == 0x0F {
		f |= cpu.FlagH
	}
	if v == 0x7F {
		f |= cpu.FlagV
	}
	c.F = f | cpu.SZ(result)
	return result
}

// decVal is 8-bit DEC: P/V means "was 0x80", carry untouched.
func decVal(c *cpu.CPU, v uint8) uint8 {
	result := v - 1
	f := c.F&cpu.FlagC | cpu.FlagN
	if v&0x0F == 0 {
		f |= cpu.FlagH
	}
	if v == 0x80 {
		f |= cpu.FlagV
	}
	c.F = f | cpu.SZ(result)
	return result
}

// daa corrects A after BCD arithmetic from the previous N, H and C flags:
// 06h when the low nibble passed 9 (or H), 60h when A passed 99h (or C),
// applied in the direction of the prior operation.
func daa(c *cpu.CPU) {
	prev := c.A
	carry := c.Flag(cpu.FlagC)
	var corr uint8
	if c.A&0x0F > 9 || c.Flag(cpu.FlagH) {
		corr |= 0x06
	}
	if c.A > 0x99 || carry {
		corr |= 0x60
		carry = true
	}
	if c.Flag(cpu.FlagN) {
		c.A -= corr
	} else {
		c.A += corr
	}
	f := c.F&cpu.FlagN | cpu.SZP(c.A)
	if carry {
		f |= cpu.FlagC
	}
	if (prev^c.A)&0x10 != 0 {
		f |= cpu.FlagH
	}
	c.F = f
}

// CB-prefix rotate/shift primitives: C takes the bit shifted out, S/Z/P
// track the result, H and N clear.

func shiftFlags(c *cpu.CPU, v, out uint8) {
	c.F = out | cpu.SZP(v)
}

func rlcVal(c *cpu.CPU, v uint8) uint8 {
	out := v >> 7
	v = v<<1 | out
	shiftFlags(c, v, out)
	return v
}

func rrcVal(c *cpu.CPU, v uint8) uint8 {
	out := v & 0x01
	v = v>>1 | out<<7
	shiftFlags(c, v, out)
	return v
}

func rlVal(c *cpu.CPU, v uint8) uint8 {
	out := v >> 7
	v = v<<1 | c.F&cpu.FlagC
	shiftFlags(c, v, out)
	return v
}

func rrVal(c *cpu.CPU, v uint8) uint8 {
	out := v & 0x01
	v = v>>1 | (c.F&cpu.FlagC)<<7
	shiftFlags(c, v, out)
	return v
}

func slaVal(c *cpu.CPU, v uint8) uint8 {
	out := v >> 7
	v <<= 1
	shiftFlags(c, v, out)
	return v
}

func sraVal(c *cpu.CPU, v uint8) uint8 {
	out := v & 0x01
	v = v&0x80 | v>>1
	shiftFlags(c, v, out)
	return v
}

func srlVal(c *cpu.CPU, v uint8) uint8 {
	out := v & 0x01
	v >>= 1
	shiftFlags(c, v, out)
	return v
}

// addHL is ADD HL,rr (and ADD IX/IY,rr): C from bit 15, H from bit 11,
// N clear; S, Z and P/V are preserved.
func addHL(c *cpu.CPU, hl, value uint16) uint16 {
	sum := uint32(hl) + uint32(value)
	f := c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)
	if hl&0x0FFF+value&0x0FFF > 0x0FFF {
		f |= cpu.FlagH
	}
	if sum > 0xFFFF {
		f |= cpu.FlagC
	}
	c.F = f
	return uint16(sum)
}

// adcHL is ADC HL,rr: the full 16-bit flag set, half-carry on bit 11 and
// overflow on bit 15.
func adcHL(c *cpu.CPU, value uint16) {
	hl := c.HL()
	carry := uint16(c.F & cpu.FlagC)
	sum := uint32(hl) + uint32(value) + uint32(carry)
	result := uint16(sum)
	var f uint8
	if sum > 0xFFFF {
		f |= cpu.FlagC
	}
	if hl&0x0FFF+value&0x0FFF+carry > 0x0FFF {
		f |= cpu.FlagH
	}
	if (hl^value^0x8000)&(hl^result)&0x8000 != 0 {
		f |= cpu.FlagV
	}
	f |= uint8(result>>8) & cpu.FlagS
	if result == 0 {
		f |= cpu.FlagZ
	}
	c.SetHL(result)
	c.F = f
}

// sbcHL is SBC HL,rr: like adcHL with N set and borrow semantics.
func sbcHL(c *cpu.CPU, value uint16) {
	hl := c.HL()
	carry := uint16(c.F & cpu.FlagC)
	diff := int(hl) - int(value) - int(carry)
	result := uint16(diff)
	f := cpu.FlagN
	if diff < 0 {
		f |= cpu.FlagC
	}
	if hl&0x0FFF < value&0x0FFF+carry {
		f |= cpu.FlagH
	}
	if (hl^value)&(hl^result)&0x8000 != 0 {
		f |= cpu.FlagV
	}
	f |= uint8(result>>8) & cpu.FlagS
	if result == 0 {
		f |= cpu.FlagZ
	}
	c.SetHL(result)
	c.F = f
}

package machine

import (
	"github.com/oisee/z80kit/pkg/cpu"
	"github.com/oisee/z80kit/pkg/inst"
)

// indexedAddress resolves the memory operand of an instruction: IX or IY
// plus the signed displacement under a DD/FD prefix, plain HL otherwise.
// This is what lets one handler serve (HL), (IX+d) and (IY+d) alike.
func (m *Machine) indexedAddress(d *inst.Decoded) uint16 {
	switch d.Prefix {
	case inst.DD, inst.DDCB:
		return m.cpu.IX + uint16(d.Disp)
	case inst.FD, inst.FDCB:
		return m.cpu.IY + uint16(d.Disp)
	}
	return m.cpu.HL()
}

// readOperand8 reads the 8-bit operand for a 3-bit register code; code 6 is
// the memory operand.
func (m *Machine) readOperand8(d *inst.Decoded, code uint8) uint8 {
	if code == 6 {
		return m.mem.ReadByte(m.indexedAddress(d))
	}
	return m.cpu.Reg8(code)
}

func (m *Machine) writeOperand8(d *inst.Decoded, code uint8, v uint8) {
	if code == 6 {
		m.mem.WriteByte(m.indexedAddress(d), v)
		return
	}
	m.cpu.SetReg8(code, v)
}

// xyPtr returns the index register selected by the prefix.
func (m *Machine) xyPtr(d *inst.Decoded) *uint16 {
	if d.Prefix == inst.FD || d.Prefix == inst.FDCB {
		return &m.cpu.IY
	}
	return &m.cpu.IX
}

// retPop implements the shared RET tail: pop SP into PC, and signal end of
// execution when the call-depth counter is already zero (a bare RET is how
// loaded programs hand control back).
func (m *Machine) retPop() {
	m.cpu.PC = m.stack.Pop()
	if m.callDepth == 0 {
		m.endRun = true
	} else {
		m.callDepth--
	}
}

// execute runs one decoded instruction. Register, bit and condition indices
// come out of the opcode's bitfields, so one handler covers a whole block
// of the opcode map.
func (m *Machine) execute(d *inst.Decoded) {
	c := m.cpu
	op := d.Opcode

	switch d.Info.Handler {
	case inst.NOP:
		// nothing

	case inst.HALT:
		c.PC-- // re-execute in place until something external intervenes
		c.Halted = true

	case inst.DI:
		c.IFF1, c.IFF2 = false, false
	case inst.EI:
		c.IFF1, c.IFF2 = true, true

	// === 8-bit loads ===
	case inst.LD_R_R:
		m.writeOperand8(d, (op>>3)&7, m.readOperand8(d, op&7))
	case inst.LD_R_N:
		m.writeOperand8(d, (op>>3)&7, d.Imm8)
	case inst.LD_A_BCI:
		c.A = m.mem.ReadByte(c.BC())
	case inst.LD_A_DEI:
		c.A = m.mem.ReadByte(c.DE())
	case inst.LD_BCI_A:
		m.mem.WriteByte(c.BC(), c.A)
	case inst.LD_DEI_A:
		m.mem.WriteByte(c.DE(), c.A)
	case inst.LD_A_NNI:
		c.A = m.mem.ReadByte(d.Imm16)
	case inst.LD_NNI_A:
		m.mem.WriteByte(d.Imm16, c.A)

	// === 16-bit loads ===
	case inst.LD_RR_NN:
		c.SetPair((op>>4)&3, false, d.Imm16)
	case inst.LD_HL_NNI:
		c.SetHL(m.mem.ReadWord(d.Imm16))
	case inst.LD_NNI_HL:
		m.mem.WriteWord(d.Imm16, c.HL())
	case inst.LD_SP_HL:
		c.SP = c.HL()
	case inst.PUSH_RR:
		m.stack.Push(c.Pair((op>>4)&3, true))
	case inst.POP_RR:
		c.SetPair((op>>4)&3, true, m.stack.Pop())

	// === Exchanges ===
	case inst.EX_DE_HL:
		de := c.DE()
		c.SetDE(c.HL())
		c.SetHL(de)
	case inst.EX_AF_AF:
		c.ExAF()
	case inst.EXX:
		c.Exx()
	case inst.EX_SPI_HL:
		tmp := m.mem.ReadWord(c.SP)
		m.mem.WriteWord(c.SP, c.HL())
		c.SetHL(tmp)

	// === 8-bit ALU ===
	case inst.ADD_A_R:
		addA(c, m.readOperand8(d, op&7))
	case inst.ADC_A_R:
		adcA(c, m.readOperand8(d, op&7))
	case inst.SUB_R:
		subA(c, m.readOperand8(d, op&7))
	case inst.SBC_A_R:
		sbcA(c, m.readOperand8(d, op&7))
	case inst.AND_R:
		andA(c, m.readOperand8(d, op&7))
	case inst.XOR_R:
		xorA(c, m.readOperand8(d, op&7))
	case inst.OR_R:
		orA(c, m.readOperand8(d, op&7))
	case inst.CP_R:
		cpA(c, m.readOperand8(d, op&7))
	case inst.ADD_A_N:
		addA(c, d.Imm8)
	case inst.ADC_A_N:
		adcA(c, d.Imm8)
	case inst.SUB_N:
		subA(c, d.Imm8)
	case inst.SBC_A_N:
		sbcA(c, d.Imm8)
	case inst.AND_N:
		andA(c, d.Imm8)
	case inst.XOR_N:
		xorA(c, d.Imm8)
	case inst.OR_N:
		orA(c, d.Imm8)
	case inst.CP_N:
		cpA(c, d.Imm8)
	case inst.INC_R:
		code := (op >> 3) & 7
		m.writeOperand8(d, code, incVal(c, m.readOperand8(d, code)))
	case inst.DEC_R:
		code := (op >> 3) & 7
		m.writeOperand8(d, code, decVal(c, m.readOperand8(d, code)))

	// === 16-bit arithmetic. INC/DEC rr do not affect flags. ===
	case inst.INC_RR:
		p := (op >> 4) & 3
		c.SetPair(p, false, c.Pair(p, false)+1)
	case inst.DEC_RR:
		p := (op >> 4) & 3
		c.SetPair(p, false, c.Pair(p, false)-1)
	case inst.ADD_HL_RR:
		c.SetHL(addHL(c, c.HL(), c.Pair((op>>4)&3, false)))

	// === Accumulator rotates and specials. The four plain rotates only
	// touch C, H and N; S, Z and P/V stay put. ===
	case inst.RLCA:
		out := c.A >> 7
		c.A = c.A<<1 | out
		c.F = (c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)) | out
	case inst.RRCA:
		out := c.A & 0x01
		c.A = c.A>>1 | out<<7
		c.F = (c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)) | out
	case inst.RLA:
		out := c.A >> 7
		c.A = c.A<<1 | c.F&cpu.FlagC
		c.F = (c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)) | out
	case inst.RRA:
		out := c.A & 0x01
		c.A = c.A>>1 | (c.F&cpu.FlagC)<<7
		c.F = (c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)) | out
	case inst.DAA:
		daa(c)
	case inst.CPL:
		c.A ^= 0xFF
		c.F = (c.F & (cpu.FlagC | cpu.FlagP | cpu.FlagZ | cpu.FlagS)) | cpu.FlagN | cpu.FlagH
	case inst.SCF:
		c.F = (c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)) | cpu.FlagC
	case inst.CCF:
		oldC := c.F & cpu.FlagC
		c.F = c.F & (cpu.FlagS | cpu.FlagZ | cpu.FlagP)
		if oldC != 0 {
			c.F |= cpu.FlagH
		} else {
			c.F |= cpu.FlagC
		}

	// === Jumps, calls, returns ===
	case inst.JP_NN:
		c.PC = d.Imm16
	case inst.JP_CC_NN:
		if c.Condition((op >> 3) & 7) {
			c.PC = d.Imm16
		}
	case inst.JP_HLI:
		c.PC = c.HL()
	case inst.JR_E:
		c.PC += uint16(d.Disp)
	case inst.JR_CC_E:
		if c.Condition((op >> 3) & 3) {
			c.PC += uint16(d.Disp)
		}
	case inst.DJNZ_E:
		c.B--
		if c.B != 0 {
			c.PC += uint16(d.Disp)
		}
	case inst.CALL_NN:
		m.stack.Push(c.PC)
		c.PC = d.Imm16
		m.callDepth++
	case inst.CALL_CC_NN:
		if c.Condition((op >> 3) & 7) {
			m.stack.Push(c.PC)
			c.PC = d.Imm16
			m.callDepth++
		}
	case inst.RET:
		m.retPop()
	case inst.RET_CC:
		if c.Condition((op >> 3) & 7) {
			m.retPop()
		}
	case inst.RST_P:
		m.stack.Push(c.PC)
		c.PC = c.PageZeroAddress((op >> 3) & 7)
		m.callDepth++

	// === I/O, immediate port forms. Port address is (A<<8)|n. ===
	case inst.IN_A_N:
		c.A = m.port.Read(uint16(c.A)<<8 | uint16(d.Imm8))
	case inst.OUT_N_A:
		m.port.Write(uint16(c.A)<<8|uint16(d.Imm8), c.A)

	// === CB prefix: rotates, shifts, bit ops ===
	case inst.RLC_R:
		m.writeOperand8(d, op&7, rlcVal(c, m.readOperand8(d, op&7)))
	case inst.RRC_R:
		m.writeOperand8(d, op&7, rrcVal(c, m.readOperand8(d, op&7)))
	case inst.RL_R:
		m.writeOperand8(d, op&7, rlVal(c, m.readOperand8(d, op&7)))
	case inst.RR_R:
		m.writeOperand8(d, op&7, rrVal(c, m.readOperand8(d, op&7)))
	case inst.SLA_R:
		m.writeOperand8(d, op&7, slaVal(c, m.readOperand8(d, op&7)))
	case inst.SRA_R:
		m.writeOperand8(d, op&7, sraVal(c, m.readOperand8(d, op&7)))
	case inst.SRL_R:
		m.writeOperand8(d, op&7, srlVal(c, m.readOperand8(d, op&7)))
	case inst.BIT_B_R:
		// Documented view only: Z from the tested bit, H set, N clear;
		// S, P/V and C are left alone.
		v := m.readOperand8(d, op&7)
		bit := (op >> 3) & 7
		c.SetFlag(cpu.FlagZ, v&(1<<bit) == 0)
		c.SetFlag(cpu.FlagH, true)
		c.SetFlag(cpu.FlagN, false)
	case inst.RES_B_R:
		code := op & 7
		m.writeOperand8(d, code, m.readOperand8(d, code)&^(1<<((op>>3)&7)))
	case inst.SET_B_R:
		code := op & 7
		m.writeOperand8(d, code, m.readOperand8(d, code)|1<<((op>>3)&7))

	// === ED prefix ===
	case inst.IN_R_C:
		v := m.port.Read(c.BC())
		c.SetReg8((op>>3)&7, v)
		c.F = c.F&cpu.FlagC | cpu.SZP(v)
	case inst.OUT_C_R:
		m.port.Write(c.BC(), c.Reg8((op>>3)&7))
	case inst.SBC_HL_RR:
		sbcHL(c, c.Pair((op>>4)&3, false))
	case inst.ADC_HL_RR:
		adcHL(c, c.Pair((op>>4)&3, false))
	case inst.LD_NNI_RR:
		m.mem.WriteWord(d.Imm16, c.Pair((op>>4)&3, false))
	case inst.LD_RR_NNI:
		c.SetPair((op>>4)&3, false, m.mem.ReadWord(d.Imm16))
	case inst.NEG:
		old := c.A
		c.A = 0
		subA(c, old)
	case inst.RETN:
		m.retPop()
		c.IFF1 = c.IFF2
	case inst.RETI:
		// The source model leaves IFF1 alone here; RETN is the only
		// instruction that restores it.
		m.retPop()
	case inst.IM_N:
		switch op {
		case 0x46:
			c.IM = cpu.Mode0
		case 0x56:
			c.IM = cpu.Mode1
		case 0x5E:
			c.IM = cpu.Mode2
		}
	case inst.LD_I_A:
		c.I = c.A
	case inst.LD_R_A:
		c.R = c.A
	case inst.LD_A_I:
		c.A = c.I
		c.F = c.F&cpu.FlagC | cpu.SZ(c.A)
		c.SetFlag(cpu.FlagP, c.IFF2)
	case inst.LD_A_R:
		c.A = c.R
		c.F = c.F&cpu.FlagC | cpu.SZ(c.A)
		c.SetFlag(cpu.FlagP, c.IFF2)
	case inst.RRD:
		v := m.mem.ReadByte(c.HL())
		m.mem.WriteByte(c.HL(), (c.A<<4)|(v>>4))
		c.A = (c.A & 0xF0) | (v & 0x0F)
		c.F = c.F&cpu.FlagC | cpu.SZP(c.A)
	case inst.RLD:
		v := m.mem.ReadByte(c.HL())
		m.mem.WriteByte(c.HL(), (v<<4)|(c.A&0x0F))
		c.A = (c.A & 0xF0) | (v >> 4)
		c.F = c.F&cpu.FlagC | cpu.SZP(c.A)

	// === Block transfer / search / I/O ===
	case inst.LDI:
		m.ldBlock(1)
	case inst.LDD:
		m.ldBlock(0xFFFF)
	case inst.LDIR:
		for {
			m.ldBlock(1)
			if c.BC() == 0 {
				break
			}
		}
		c.SetFlag(cpu.FlagP, false)
	case inst.LDDR:
		for {
			m.ldBlock(0xFFFF)
			if c.BC() == 0 {
				break
			}
		}
		c.SetFlag(cpu.FlagP, false)
	case inst.CPI:
		m.cpBlock(1)
	case inst.CPD:
		m.cpBlock(0xFFFF)
	case inst.CPIR:
		for {
			m.cpBlock(1)
			if c.BC() == 0 || c.Flag(cpu.FlagZ) {
				break
			}
		}
	case inst.CPDR:
		for {
			m.cpBlock(0xFFFF)
			if c.BC() == 0 || c.Flag(cpu.FlagZ) {
				break
			}
		}
	case inst.INI:
		m.inBlock(1)
	case inst.IND:
		m.inBlock(0xFFFF)
	case inst.INIR:
		for {
			m.inBlock(1)
			if c.B == 0 {
				break
			}
		}
	case inst.INDR:
		for {
			m.inBlock(0xFFFF)
			if c.B == 0 {
				break
			}
		}
	case inst.OUTI:
		m.outBlock(1)
	case inst.OUTD:
		m.outBlock(0xFFFF)
	case inst.OTIR:
		for {
			m.outBlock(1)
			if c.B == 0 {
				break
			}
		}
	case inst.OTDR:
		for {
			m.outBlock(0xFFFF)
			if c.B == 0 {
				break
			}
		}

	// === DD/FD prefix: forms that name IX/IY directly ===
	case inst.ADD_XY_RR:
		xy := m.xyPtr(d)
		p := (op >> 4) & 3
		var value uint16
		if p == 2 {
			value = *xy // the HL slot is the index register itself
		} else {
			value = c.Pair(p, false)
		}
		*xy = addHL(c, *xy, value)
	case inst.LD_XY_NN:
		*m.xyPtr(d) = d.Imm16
	case inst.LD_NNI_XY:
		m.mem.WriteWord(d.Imm16, *m.xyPtr(d))
	case inst.LD_XY_NNI:
		*m.xyPtr(d) = m.mem.ReadWord(d.Imm16)
	case inst.INC_XY:
		*m.xyPtr(d)++
	case inst.DEC_XY:
		*m.xyPtr(d)--
	case inst.POP_XY:
		*m.xyPtr(d) = m.stack.Pop()
	case inst.PUSH_XY:
		m.stack.Push(*m.xyPtr(d))
	case inst.EX_SPI_XY:
		xy := m.xyPtr(d)
		tmp := m.mem.ReadWord(c.SP)
		m.mem.WriteWord(c.SP, *xy)
		*xy = tmp
	case inst.JP_XYI:
		c.PC = *m.xyPtr(d)
	case inst.LD_SP_XY:
		c.SP = *m.xyPtr(d)

	// === DD/FD redirect: run the unprefixed (or CB) handler for the same
	// opcode with the memory operand at IX/IY + displacement. ===
	case inst.IXIY_INDIRECT:
		base := inst.Main
		if d.Prefix == inst.DDCB || d.Prefix == inst.FDCB {
			base = inst.CBTab
		}
		if info, ok := base[d.Opcode]; ok {
			redirected := *d
			redirected.Info = info
			m.execute(&redirected)
		}
	}
}

// ldBlock is the LDI/LDD core: memory(DE) ← memory(HL), HL and DE stepped
// together, BC decremented. P/V reports BC ≠ 0 after the decrement.
func (m *Machine) ldBlock(step uint16) {
	c := m.cpu
	m.mem.WriteByte(c.DE(), m.mem.ReadByte(c.HL()))
	c.SetHL(c.HL() + step)
	c.SetDE(c.DE() + step)
	c.SetBC(c.BC() - 1)
	c.F = c.F & (cpu.FlagC | cpu.FlagZ | cpu.FlagS)
	c.SetFlag(cpu.FlagP, c.BC() != 0)
}

// cpBlock is the CPI/CPD core: compare A with memory(HL) without writing A.
// Carry is preserved; P/V reports BC ≠ 0 after the decrement.
func (m *Machine) cpBlock(step uint16) {
	c := m.cpu
	v := m.mem.ReadByte(c.HL())
	res := c.A - v
	c.SetHL(c.HL() + step)
	c.SetBC(c.BC() - 1)
	f := c.F&cpu.FlagC | cpu.FlagN | cpu.SZ(res)
	if c.A&0x0F < v&0x0F {
		f |= cpu.FlagH
	}
	if c.BC() != 0 {
		f |= cpu.FlagP
	}
	c.F = f
}

// inBlock is the INI/IND core: port (BC) → memory (HL).
func (m *Machine) inBlock(step uint16) {
	c := m.cpu
	m.mem.WriteByte(c.HL(), m.port.Read(c.BC()))
	c.SetHL(c.HL() + step)
	c.B--
	c.F |= cpu.FlagN
	c.SetFlag(cpu.FlagZ, c.B == 0)
}

// outBlock is the OUTI/OUTD core: memory (HL) → port (BC).
func (m *Machine) outBlock(step uint16) {
	c := m.cpu
	m.port.Write(c.BC(), m.mem.ReadByte(c.HL()))
	c.SetHL(c.HL() + step)
	c.B--
	c.F |= cpu.FlagN
	c.SetFlag(cpu.FlagZ, c.B == 0)
}

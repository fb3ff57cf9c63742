package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oisee/z80kit/pkg/cpu"
)

func u16(v uint16) *uint16 { return &v }
func u8(v uint8) *uint8    { return &v }

// run loads a program, applies the patch and executes to completion.
func run(t *testing.T, prog []byte, org uint16, patch StatePatch) *Machine {
	t.Helper()
	m := New(nil)
	require.NoError(t, m.LoadExecutable(prog, org, true))
	m.SetState(patch)
	require.NoError(t, m.Execute())
	return m
}

func TestPushPopRoundTrip(t *testing.T) {
	m := New(nil)
	m.cpu.SP = 0x2000

	m.stack.Push(0x4050)
	assert.Equal(t, uint16(0x1FFE), m.cpu.SP)
	assert.Equal(t, uint8(0x40), m.mem.ReadByte(0x1FFF), "high byte at the higher address")
	assert.Equal(t, uint8(0x50), m.mem.ReadByte(0x1FFE), "low byte where SP points")

	assert.Equal(t, uint16(0x4050), m.stack.Pop())
	assert.Equal(t, uint16(0x2000), m.cpu.SP)
}

func TestPushPopWrapsSP(t *testing.T) {
	m := New(nil)
	m.cpu.SP = 0x0001
	m.stack.Push(0xABCD)
	assert.Equal(t, uint16(0xFFFF), m.cpu.SP)
	assert.Equal(t, uint16(0xABCD), m.stack.Pop())
	assert.Equal(t, uint16(0x0001), m.cpu.SP)
}

// TestAddAEFlags is the ADD A,E flag scenario: 0x12 + 0x70 overflows the
// signed range without carrying.
func TestAddAEFlags(t *testing.T) {
	m := run(t, []byte{0x83}, 0x0000, StatePatch{A: u8(0x12), E: u8(0x70)})

	c := m.cpu
	assert.Equal(t, uint8(0x82), c.A)
	assert.True(t, c.Flag(cpu.FlagS))
	assert.False(t, c.Flag(cpu.FlagZ))
	assert.False(t, c.Flag(cpu.FlagH))
	assert.True(t, c.Flag(cpu.FlagP), "signed overflow sets P/V")
	assert.False(t, c.Flag(cpu.FlagN))
	assert.False(t, c.Flag(cpu.FlagC))
}

// TestAddFlagMatrix is the teacher-style flag table for 8-bit addition.
func TestAddFlagMatrix(t *testing.T) {
	tests := []struct {
		a, val                              uint8
		wantA                               uint8
		carry, zero, sign, half, overflow bool
	}{
		{0, 0, 0, false, true, false, false, false},
		{1, 1, 2, false, false, false, false, false},
		{0xFF, 1, 0, true, true, false, true, false},
		{0x0F, 1, 0x10, false, false, false, true, false},
		{0x7F, 1, 0x80, false, false, true, true, true},
		{0x80, 0x80, 0, true, true, false, false, true},
	}
	for _, tc := range tests {
		m := run(t, []byte{0xC6, tc.val}, 0, StatePatch{A: u8(tc.a)}) // ADD A,n
		c := m.cpu
		if c.A != tc.wantA {
			t.Errorf("ADD A=%02X + %02X: got A=%02X, want %02X", tc.a, tc.val, c.A, tc.wantA)
		}
		if c.Flag(cpu.FlagC) != tc.carry {
			t.Errorf("ADD A=%02X + %02X: carry=%v, want %v", tc.a, tc.val, c.Flag(cpu.FlagC), tc.carry)
		}
		if c.Flag(cpu.FlagZ) != tc.zero {
			t.Errorf("ADD A=%02X + %02X: zero=%v, want %v", tc.a, tc.val, c.Flag(cpu.FlagZ), tc.zero)
		}
		if c.Flag(cpu.FlagS) != tc.sign {
			t.Errorf("ADD A=%02X + %02X: sign=%v, want %v", tc.a, tc.val, c.Flag(cpu.FlagS), tc.sign)
		}
		if c.Flag(cpu.FlagH) != tc.half {
			t.Errorf("ADD A=%02X + %02X: half=%v, want %v", tc.a, tc.val, c.Flag(cpu.FlagH), tc.half)
		}
		if c.Flag(cpu.FlagV) != tc.overflow {
			t.Errorf("ADD A=%02X + %02X: overflow=%v, want %v", tc.a, tc.val, c.Flag(cpu.FlagV), tc.overflow)
		}
	}
}

func TestSubAndCompare(t *testing.T) {
	m := run(t, []byte{0xD6, 0x01}, 0, StatePatch{A: u8(0x00)}) // SUB n
	assert.Equal(t, uint8(0xFF), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagC), "borrow")
	assert.True(t, m.cpu.Flag(cpu.FlagN))

	m = run(t, []byte{0xFE, 0x42}, 0, StatePatch{A: u8(0x42)}) // CP n
	assert.Equal(t, uint8(0x42), m.cpu.A, "CP leaves A alone")
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
}

func TestLogicOpsFlags(t *testing.T) {
	m := run(t, []byte{0xE6, 0x0F}, 0, StatePatch{A: u8(0xFF)}) // AND n
	assert.Equal(t, uint8(0x0F), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagH), "AND sets H")
	assert.False(t, m.cpu.Flag(cpu.FlagC))
	assert.True(t, m.cpu.Flag(cpu.FlagP), "0x0F has even parity")

	m = run(t, []byte{0xEE, 0xFF}, 0, StatePatch{A: u8(0xFF)}) // XOR n
	assert.Equal(t, uint8(0), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
	assert.False(t, m.cpu.Flag(cpu.FlagH))

	m = run(t, []byte{0xF6, 0x01}, 0, StatePatch{A: u8(0x80)}) // OR n
	assert.Equal(t, uint8(0x81), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagS))
	assert.True(t, m.cpu.Flag(cpu.FlagP), "0x81 has even parity")
	assert.False(t, m.cpu.Flag(cpu.FlagC))
}

func TestIncDecPreserveCarry(t *testing.T) {
	m := run(t, []byte{0x37, 0x3C}, 0, StatePatch{A: u8(0x7F)}) // SCF; INC A
	assert.Equal(t, uint8(0x80), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagV), "INC 0x7F overflows")
	assert.True(t, m.cpu.Flag(cpu.FlagC), "INC preserves carry")

	m = run(t, []byte{0x37, 0x3D}, 0, StatePatch{A: u8(0x80)}) // SCF; DEC A
	assert.Equal(t, uint8(0x7F), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagV), "DEC 0x80 overflows")
	assert.True(t, m.cpu.Flag(cpu.FlagN))
	assert.True(t, m.cpu.Flag(cpu.FlagC))
}

func TestDAAAfterAdd(t *testing.T) {
	// 0x15 + 0x27 = 0x3C; DAA corrects to 0x42.
	m := run(t, []byte{0xC6, 0x27, 0x27}, 0, StatePatch{A: u8(0x15)})
	assert.Equal(t, uint8(0x42), m.cpu.A)
	assert.False(t, m.cpu.Flag(cpu.FlagC))

	// 0x99 + 0x01 = 0x9A; DAA corrects to 0x00 with carry.
	m = run(t, []byte{0xC6, 0x01, 0x27}, 0, StatePatch{A: u8(0x99)})
	assert.Equal(t, uint8(0x00), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagC))
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
}

func TestBlockCopyProgram(t *testing.T) {
	// The hand-rolled copy loop: LD A,B / OR C / RET Z / LD A,(DE) /
	// LD (HL),A / INC DE / INC HL / DEC BC / JP 1000h
	prog := []byte{0x78, 0xB1, 0xC8, 0x1A, 0x77, 0x13, 0x23, 0x0B, 0xC3, 0x00, 0x10}
	data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA}

	m := New(nil)
	require.NoError(t, m.LoadData(data, 0x2000, true))
	require.NoError(t, m.LoadExecutable(prog, 0x1000, false))
	m.SetState(StatePatch{DE: u16(0x2000), HL: u16(0x3000), BC: u16(0x0010), SP: u16(0x4000)})
	require.NoError(t, m.Execute())

	assert.Equal(t, data, m.DumpMemory(0x3000, len(data)))
	assert.Equal(t, uint16(0), m.cpu.BC())
	assert.True(t, m.endRun, "the RET at depth zero ends the run")
}

func TestDivisionProgram(t *testing.T) {
	// Restoring 16-bit division, dividend in BC, divisor in DE:
	// quotient ends in BC, remainder in HL. 50644 / 27 = 1875 r 19.
	prog := []byte{
		0x21, 0x00, 0x00, // LD HL,0
		0x3E, 0x10, // LD A,16
		0xCB, 0x21, // SLA C
		0xCB, 0x10, // RL B
		0xED, 0x6A, // ADC HL,HL
		0xED, 0x52, // SBC HL,DE
		0x38, 0x03, // JR C,+3
		0x0C,       // INC C
		0x18, 0x01, // JR +1
		0x19,       // ADD HL,DE
		0x3D,       // DEC A
		0x20, 0xEF, // JR NZ,-17
		0xC9, // RET
	}
	m := run(t, prog, 0x0000, StatePatch{BC: u16(0xC5D4), DE: u16(0x001B), SP: u16(0x4000)})
	assert.Equal(t, uint16(0x0753), m.cpu.BC(), "quotient")
	assert.Equal(t, uint16(0x0013), m.cpu.HL(), "remainder")
}

func TestLDIR(t *testing.T) {
	src := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	m := New(nil)
	require.NoError(t, m.LoadData(src, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0xB0}, 0x1000, false)) // LDIR
	m.SetState(StatePatch{HL: u16(0x2000), DE: u16(0x3000), BC: u16(uint16(len(src)))})
	require.NoError(t, m.Execute())

	assert.Equal(t, src, m.DumpMemory(0x3000, len(src)))
	assert.Equal(t, uint16(0), m.cpu.BC())
	assert.Equal(t, uint16(0x2005), m.cpu.HL())
	assert.Equal(t, uint16(0x3005), m.cpu.DE())
	assert.False(t, m.cpu.Flag(cpu.FlagP), "P/V clear after the repeat form")
	assert.False(t, m.cpu.Flag(cpu.FlagH))
	assert.False(t, m.cpu.Flag(cpu.FlagN))
}

func TestLDDRCopiesBackward(t *testing.T) {
	src := []byte{1, 2, 3}
	m := New(nil)
	require.NoError(t, m.LoadData(src, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0xB8}, 0x1000, false)) // LDDR
	m.SetState(StatePatch{HL: u16(0x2002), DE: u16(0x3002), BC: u16(3)})
	require.NoError(t, m.Execute())
	assert.Equal(t, src, m.DumpMemory(0x3000, 3))
}

func TestCPIRFindsMatch(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadData([]byte{0x10, 0x20, 0x30, 0x40}, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0xB1}, 0x1000, false)) // CPIR
	m.SetState(StatePatch{A: u8(0x30), HL: u16(0x2000), BC: u16(0x0010)})
	require.NoError(t, m.Execute())

	assert.True(t, m.cpu.Flag(cpu.FlagZ), "match found")
	assert.Equal(t, uint16(0x2003), m.cpu.HL(), "HL points past the match")
	assert.Equal(t, uint16(0x000D), m.cpu.BC())
	assert.True(t, m.cpu.Flag(cpu.FlagN))
}

func TestHaltStopsRunAndPinsPC(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0x00, 0x76, 0x00}, 0x0000, true))
	require.NoError(t, m.Execute())
	assert.True(t, m.cpu.Halted)
	assert.Equal(t, uint16(0x0001), m.cpu.PC, "PC backs up onto the HALT")
}

func TestFetchPastEndFails(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0x3E}, 0x0000, true)) // LD A,n missing operand
	assert.ErrorIs(t, m.Execute(), ErrEndOfData)
}

func TestCallRetDepth(t *testing.T) {
	// CALL 0005h / RET(top) ... sub: LD A,7 / RET
	prog := []byte{
		0xCD, 0x05, 0x00, // 0000: CALL 0005
		0x3C,       // 0003: INC A
		0xC9,       // 0004: RET  (depth 0 -> end)
		0x3E, 0x07, // 0005: LD A,7
		0xC9, // 0007: RET  (depth 1 -> return)
	}
	m := run(t, prog, 0, StatePatch{SP: u16(0x4000)})
	assert.Equal(t, uint8(8), m.cpu.A, "subroutine ran, then INC A")
	assert.True(t, m.endRun)
}

func TestConditionalCallNotTaken(t *testing.T) {
	// CP 0 sets Z, CALL NZ is skipped.
	prog := []byte{0xFE, 0x00, 0xC4, 0x34, 0x12} // CP 0 / CALL NZ,1234h
	m := run(t, prog, 0, StatePatch{A: u8(0), SP: u16(0x4000)})
	assert.Equal(t, uint16(0x0005), m.cpu.PC)
	assert.Equal(t, 0, m.callDepth)
}

func TestRstPushesAndJumps(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xEF}, 0x1000, true)) // RST 28h
	m.SetState(StatePatch{SP: u16(0x4000)})
	require.NoError(t, m.ExecuteOne())
	assert.Equal(t, uint16(0x0028), m.cpu.PC)
	assert.Equal(t, uint16(0x3FFE), m.cpu.SP)
	assert.Equal(t, uint16(0x1001), m.mem.ReadWord(0x3FFE), "return address pushed")
}

func TestExchanges(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xEB, 0x08, 0xD9}, 0, true)) // EX DE,HL / EX AF,AF' / EXX
	m.SetState(StatePatch{DE: u16(0x1111), HL: u16(0x2222), AF: u16(0x3344)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint16(0x1111), m.cpu.HL2, "EXX parked the swapped HL")
	assert.Equal(t, uint16(0x3344), m.cpu.AF2)
	assert.Equal(t, uint16(0x2222), m.cpu.DE2)
}

func TestExSPHL(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xE3}, 0, true)) // EX (SP),HL
	m.SetState(StatePatch{SP: u16(0x2000), HL: u16(0xBEEF)})
	m.mem.WriteWord(0x2000, 0x1234)
	require.NoError(t, m.ExecuteOne())
	assert.Equal(t, uint16(0x1234), m.cpu.HL())
	assert.Equal(t, uint16(0xBEEF), m.mem.ReadWord(0x2000))
}

func TestIndexedRedirect(t *testing.T) {
	// LD A,(IX+2): DD 7E 02
	m := New(nil)
	require.NoError(t, m.LoadData([]byte{0xAA}, 0x2002, true))
	require.NoError(t, m.LoadExecutable([]byte{0xDD, 0x7E, 0x02}, 0x1000, false))
	m.SetState(StatePatch{IX: u16(0x2000)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0xAA), m.cpu.A)

	// Negative displacement through IY: FD 77 FE is LD (IY-2),A.
	m = New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xFD, 0x77, 0xFE}, 0x1000, true))
	m.SetState(StatePatch{IY: u16(0x3000), A: u8(0x55)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x55), m.mem.ReadByte(0x2FFE))
}

func TestDDCBDisplacementBeforeOpcode(t *testing.T) {
	// DD CB 03 C6 = SET 0,(IX+3)
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xDD, 0xCB, 0x03, 0xC6}, 0x1000, true))
	m.SetState(StatePatch{IX: u16(0x2000)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x01), m.mem.ReadByte(0x2003))
	assert.Equal(t, uint16(0x1004), m.cpu.PC)

	// FD CB 01 7E = BIT 7,(IY+1) on a zero byte sets Z.
	m = New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xFD, 0xCB, 0x01, 0x7E}, 0x1000, true))
	m.SetState(StatePatch{IY: u16(0x3000)})
	require.NoError(t, m.Execute())
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
	assert.True(t, m.cpu.Flag(cpu.FlagH))
	assert.False(t, m.cpu.Flag(cpu.FlagN))
}

func TestSixteenBitArithmetic(t *testing.T) {
	// ADD HL,DE leaves S/Z/PV alone, sets C on bit-15 carry.
	m := run(t, []byte{0x19}, 0, StatePatch{HL: u16(0x8000), DE: u16(0x8000)})
	assert.Equal(t, uint16(0), m.cpu.HL())
	assert.True(t, m.cpu.Flag(cpu.FlagC))

	// SBC HL,DE computes the full flag set.
	m = run(t, []byte{0xED, 0x52}, 0, StatePatch{HL: u16(0x0000), DE: u16(0x0001)})
	assert.Equal(t, uint16(0xFFFF), m.cpu.HL())
	assert.True(t, m.cpu.Flag(cpu.FlagC))
	assert.True(t, m.cpu.Flag(cpu.FlagS))
	assert.True(t, m.cpu.Flag(cpu.FlagN))

	// ADC HL,HL doubles through the carry.
	m = run(t, []byte{0x37, 0xED, 0x6A}, 0, StatePatch{HL: u16(0x4000)}) // SCF first
	assert.Equal(t, uint16(0x8001), m.cpu.HL())
	assert.True(t, m.cpu.Flag(cpu.FlagS))
	assert.True(t, m.cpu.Flag(cpu.FlagV), "0x4000+0x4000 overflows signed 16-bit")
}

func TestInterruptStateInstructions(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xFB, 0xED, 0x5E}, 0, true)) // EI / IM 2
	require.NoError(t, m.Execute())
	assert.True(t, m.cpu.IFF1)
	assert.True(t, m.cpu.IFF2)
	assert.Equal(t, cpu.Mode2, m.cpu.IM)

	require.NoError(t, m.LoadExecutable([]byte{0xF3}, 0, true)) // DI
	require.NoError(t, m.Execute())
	assert.False(t, m.cpu.IFF1)
	assert.False(t, m.cpu.IFF2)
}

func TestRETNRestoresIFF1(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x45}, 0x1000, true)) // RETN
	m.SetState(StatePatch{SP: u16(0x4000)})
	m.cpu.IFF2 = true
	m.cpu.IFF1 = false
	m.mem.WriteWord(0x4000, 0x2000)
	require.NoError(t, m.ExecuteOne())
	assert.True(t, m.cpu.IFF1, "RETN copies IFF2 into IFF1")
	assert.Equal(t, uint16(0x2000), m.cpu.PC)

	// RETI leaves IFF1 alone in this model.
	m = New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x4D}, 0x1000, true))
	m.SetState(StatePatch{SP: u16(0x4000)})
	m.cpu.IFF2 = true
	require.NoError(t, m.ExecuteOne())
	assert.False(t, m.cpu.IFF1)
}

// recordingPort captures bus traffic for the I/O tests.
type recordingPort struct {
	reads  []uint16
	writes map[uint16]uint8
	value  uint8
}

func (p *recordingPort) Read(addr uint16) uint8 {
	p.reads = append(p.reads, addr)
	return p.value
}

func (p *recordingPort) Write(addr uint16, v uint8) {
	if p.writes == nil {
		p.writes = map[uint16]uint8{}
	}
	p.writes[addr] = v
}

func TestPortAddressing(t *testing.T) {
	p := &recordingPort{value: 0x5A}
	m := New(p)
	require.NoError(t, m.LoadExecutable([]byte{0xDB, 0x34}, 0, true)) // IN A,(34h)
	m.SetState(StatePatch{A: u8(0x12)})
	require.NoError(t, m.Execute())
	assert.Equal(t, []uint16{0x1234}, p.reads, "port address is (A<<8)|n")
	assert.Equal(t, uint8(0x5A), m.cpu.A)

	p = &recordingPort{}
	m = New(p)
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x51}, 0, true)) // OUT (C),D
	m.SetState(StatePatch{BC: u16(0xABCD), D: u8(0x99)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x99), p.writes[0xABCD], "(C) forms put BC on the bus")
}

func TestINRCSetsFlags(t *testing.T) {
	p := &recordingPort{value: 0x80}
	m := New(p)
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x50}, 0, true)) // IN D,(C)
	m.SetState(StatePatch{BC: u16(0x0001)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x80), m.cpu.D)
	assert.True(t, m.cpu.Flag(cpu.FlagS))
	assert.False(t, m.cpu.Flag(cpu.FlagZ))
	assert.False(t, m.cpu.Flag(cpu.FlagN))
}

func TestOTIRDrainsBlock(t *testing.T) {
	p := &recordingPort{}
	m := New(p)
	require.NoError(t, m.LoadData([]byte{1, 2, 3}, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0xB3}, 0x1000, false)) // OTIR
	m.SetState(StatePatch{HL: u16(0x2000), BC: u16(0x0305)})                // B=3 transfers to port 5
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0), m.cpu.B)
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
	assert.Equal(t, uint16(0x2003), m.cpu.HL())
}

func TestRLDRotatesNibbles(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadData([]byte{0x31}, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x6F}, 0x1000, false)) // RLD
	m.SetState(StatePatch{A: u8(0x7A), HL: u16(0x2000)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x73), m.cpu.A)
	assert.Equal(t, uint8(0x1A), m.mem.ReadByte(0x2000))

	m = New(nil)
	require.NoError(t, m.LoadData([]byte{0x20}, 0x2000, true))
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x67}, 0x1000, false)) // RRD
	m.SetState(StatePatch{A: u8(0x84), HL: u16(0x2000)})
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0x80), m.cpu.A)
	assert.Equal(t, uint8(0x42), m.mem.ReadByte(0x2000))
}

func TestRotateAccumulator(t *testing.T) {
	m := run(t, []byte{0x07}, 0, StatePatch{A: u8(0x81)}) // RLCA
	assert.Equal(t, uint8(0x03), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagC))

	m = run(t, []byte{0x1F}, 0, StatePatch{A: u8(0x01)}) // RRA, carry clear
	assert.Equal(t, uint8(0x00), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagC))
	assert.False(t, m.cpu.Flag(cpu.FlagZ), "RRA leaves Z alone")
}

func TestCBRotateOnRegister(t *testing.T) {
	m := run(t, []byte{0xCB, 0x00}, 0, StatePatch{B: u8(0x80)}) // RLC B
	assert.Equal(t, uint8(0x01), m.cpu.B)
	assert.True(t, m.cpu.Flag(cpu.FlagC))
	assert.False(t, m.cpu.Flag(cpu.FlagZ))

	m = run(t, []byte{0xCB, 0x3F}, 0, StatePatch{A: u8(0x01)}) // SRL A
	assert.Equal(t, uint8(0x00), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagC))
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
	assert.True(t, m.cpu.Flag(cpu.FlagP), "zero has even parity")
}

func TestDJNZCountsDown(t *testing.T) {
	// LD B,3; loop: INC A / DJNZ loop
	prog := []byte{0x06, 0x03, 0x3C, 0x10, 0xFD}
	m := run(t, prog, 0, StatePatch{})
	assert.Equal(t, uint8(3), m.cpu.A)
	assert.Equal(t, uint8(0), m.cpu.B)
}

func TestJumpIndirect(t *testing.T) {
	// JP (HL) with HL pointing at a HALT inside the loaded image.
	prog := []byte{0xE9, 0x00, 0x76}
	m := New(nil)
	require.NoError(t, m.LoadExecutable(prog, 0x1000, true))
	m.SetState(StatePatch{HL: u16(0x1002)})
	require.NoError(t, m.Execute())
	assert.True(t, m.cpu.Halted)
}

func TestLDAIRFlags(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.LoadExecutable([]byte{0xED, 0x57}, 0, true)) // LD A,I
	m.SetState(StatePatch{I: u8(0x00)})
	m.cpu.IFF2 = true
	require.NoError(t, m.Execute())
	assert.Equal(t, uint8(0), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagZ))
	assert.True(t, m.cpu.Flag(cpu.FlagP), "P/V mirrors IFF2")
}

func TestNEG(t *testing.T) {
	m := run(t, []byte{0xED, 0x44}, 0, StatePatch{A: u8(0x01)})
	assert.Equal(t, uint8(0xFF), m.cpu.A)
	assert.True(t, m.cpu.Flag(cpu.FlagN))
	assert.True(t, m.cpu.Flag(cpu.FlagC))
}

func TestUnknownOpcodeIsNop(t *testing.T) {
	// ED 77 is not in the documented set; it decodes as a no-op.
	m := run(t, []byte{0xED, 0x77, 0x3C}, 0, StatePatch{})
	assert.Equal(t, uint8(1), m.cpu.A)
	assert.Equal(t, uint16(3), m.cpu.PC)
}

func TestGetStateRoundTrip(t *testing.T) {
	m := New(nil)
	m.SetState(StatePatch{A: u8(0x12), BC: u16(0x3456), IX: u16(0x789A), IFF1: func() *bool { b := true; return &b }()})
	s := m.GetState()
	assert.Equal(t, uint8(0x12), s.A)
	assert.Equal(t, uint8(0x34), s.B)
	assert.Equal(t, uint8(0x56), s.C)
	assert.Equal(t, uint16(0x789A), s.IX)
	assert.True(t, s.IFF1)
}

func TestDumpMentionsEverything(t *testing.T) {
	m := New(nil)
	m.SetState(StatePatch{PC: u16(0x1234), SP: u16(0x4000)})
	out := m.Dump()
	assert.Contains(t, out, "PC=1234")
	assert.Contains(t, out, "SP=4000")
	assert.Contains(t, out, "AF'")
	assert.Contains(t, out, "IM=")
}

package machine

import (
	"fmt"
	"strings"

	"github.com/oisee/z80kit/pkg/cpu"
	"github.com/oisee/z80kit/pkg/inst"
	"github.com/oisee/z80kit/pkg/memory"
)

// Machine wires memory, register file, stack engine and port bus together
// and owns the fetch/execute loop.
type Machine struct {
	mem   *memory.Memory
	cpu   *cpu.CPU
	stack *Stack
	port  Port

	// Executable range recorded by LoadExecutable. execEnd is exclusive and
	// may be 0x10000, hence the wider type.
	execStart uint16
	execEnd   uint32

	callDepth int
	endRun    bool
}

// New builds a machine. A nil port gets the no-op DummyPort.
func New(port Port) *Machine {
	if port == nil {
		port = DummyPort{}
	}
	mem := memory.New()
	c := cpu.New()
	return &Machine{
		mem:   mem,
		cpu:   c,
		stack: NewStack(mem, c),
		port:  port,
	}
}

// LoadExecutable copies a program image into memory, points PC at it and
// records the executable range for the run loop and the fetch limit.
func (m *Machine) LoadExecutable(data []byte, addr uint16, clearFirst bool) error {
	if err := m.mem.Load(data, addr, clearFirst); err != nil {
		return err
	}
	m.cpu.PC = addr
	m.execStart = addr
	m.execEnd = uint32(addr) + uint32(len(data))
	m.callDepth = 0
	m.endRun = false
	return nil
}

// LoadData copies bytes into memory without touching PC or the executable
// range.
func (m *Machine) LoadData(data []byte, addr uint16, clearFirst bool) error {
	return m.mem.Load(data, addr, clearFirst)
}

// Execute runs from the current PC until it reaches the end of the loaded
// executable range, a RET at call depth zero signals end of execution, or
// the CPU halts.
func (m *Machine) Execute() error {
	for !m.endRun && !m.cpu.Halted && uint32(m.cpu.PC) < m.execEnd {
		if err := m.step(m.execEnd); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteOne fetches and executes a single instruction.
func (m *Machine) ExecuteOne() error {
	return m.step(m.execEnd)
}

func (m *Machine) step(limit uint32) error {
	d, err := m.fetch(limit)
	if err != nil {
		return err
	}
	m.execute(&d)
	return nil
}

// Fetch decodes one instruction at PC, advancing PC past it. limit is the
// exclusive end of the decodable region. The disassembler drives this
// directly; Execute uses it through step.
func (m *Machine) Fetch(limit uint32) (inst.Decoded, error) {
	return m.fetch(limit)
}

// PC returns the current program counter.
func (m *Machine) PC() uint16 { return m.cpu.PC }

// SetPC moves the program counter.
func (m *Machine) SetPC(pc uint16) { m.cpu.PC = pc }

// DumpMemory returns a copy of length bytes of memory starting at addr.
func (m *Machine) DumpMemory(addr uint16, length int) []byte {
	return m.mem.Dump(addr, length)
}

// State is a full snapshot of the register file.
type State struct {
	A, F, B, C, D, E, H, L uint8
	IX, IY, SP, PC         uint16
	I, R                   uint8
	IFF1, IFF2             bool
	IM                     cpu.InterruptMode
	AF2, BC2, DE2, HL2     uint16
	Halted                 bool
}

// StatePatch updates any subset of the register file: nil fields are left
// alone. Pair fields are applied after the 8-bit halves, so a patch that
// carries both views ends with the pair value.
type StatePatch struct {
	A, F, B, C, D, E, H, L *uint8
	AF, BC, DE, HL         *uint16
	IX, IY, SP, PC         *uint16
	I, R                   *uint8
	IFF1, IFF2             *bool
	IM                     *cpu.InterruptMode
	AF2, BC2, DE2, HL2     *uint16
}

// GetState snapshots the CPU.
func (m *Machine) GetState() State {
	c := m.cpu
	return State{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		IX: c.IX, IY: c.IY, SP: c.SP, PC: c.PC,
		I: c.I, R: c.R,
		IFF1: c.IFF1, IFF2: c.IFF2, IM: c.IM,
		AF2: c.AF2, BC2: c.BC2, DE2: c.DE2, HL2: c.HL2,
		Halted: c.Halted,
	}
}

// SetState applies the provided fields of a patch.
func (m *Machine) SetState(p StatePatch) {
	c := m.cpu
	set8 := func(dst *uint8, src *uint8) {
		if src != nil {
			*dst = *src
		}
	}
	set16 := func(dst *uint16, src *uint16) {
		if src != nil {
			*dst = *src
		}
	}
	set8(&c.A, p.A)
	set8(&c.F, p.F)
	set8(&c.B, p.B)
	set8(&c.C, p.C)
	set8(&c.D, p.D)
	set8(&c.E, p.E)
	set8(&c.H, p.H)
	set8(&c.L, p.L)
	if p.AF != nil {
		c.SetAF(*p.AF)
	}
	if p.BC != nil {
		c.SetBC(*p.BC)
	}
	if p.DE != nil {
		c.SetDE(*p.DE)
	}
	if p.HL != nil {
		c.SetHL(*p.HL)
	}
	set16(&c.IX, p.IX)
	set16(&c.IY, p.IY)
	set16(&c.SP, p.SP)
	set16(&c.PC, p.PC)
	set8(&c.I, p.I)
	set8(&c.R, p.R)
	if p.IFF1 != nil {
		c.IFF1 = *p.IFF1
	}
	if p.IFF2 != nil {
		c.IFF2 = *p.IFF2
	}
	if p.IM != nil {
		c.IM = *p.IM
	}
	set16(&c.AF2, p.AF2)
	set16(&c.BC2, p.BC2)
	set16(&c.DE2, p.DE2)
	set16(&c.HL2, p.HL2)
}

// Reset clears the CPU and memory and forgets the loaded range.
func (m *Machine) Reset() {
	m.cpu.Reset()
	m.mem.Clear()
	m.execStart = 0
	m.execEnd = 0
	m.callDepth = 0
	m.endRun = false
}

func flagChar(on bool) byte {
	if on {
		return '1'
	}
	return '0'
}

// Dump renders a human-readable register dump.
func (m *Machine) Dump() string {
	c := m.cpu
	var b strings.Builder
	fmt.Fprintf(&b, "PC=%04X  SP=%04X  IX=%04X  IY=%04X\n", c.PC, c.SP, c.IX, c.IY)
	fmt.Fprintf(&b, "AF=%04X  BC=%04X  DE=%04X  HL=%04X\n", c.AF(), c.BC(), c.DE(), c.HL())
	fmt.Fprintf(&b, "AF'=%04X BC'=%04X DE'=%04X HL'=%04X\n", c.AF2, c.BC2, c.DE2, c.HL2)
	fmt.Fprintf(&b, "S=%c Z=%c H=%c P/V=%c N=%c C=%c\n",
		flagChar(c.Flag(cpu.FlagS)), flagChar(c.Flag(cpu.FlagZ)), flagChar(c.Flag(cpu.FlagH)),
		flagChar(c.Flag(cpu.FlagP)), flagChar(c.Flag(cpu.FlagN)), flagChar(c.Flag(cpu.FlagC)))
	fmt.Fprintf(&b, "I=%02X  R=%02X  IM=%d  IFF1=%c IFF2=%c", c.I, c.R, c.IM,
		flagChar(c.IFF1), flagChar(c.IFF2))
	if c.Halted {
		b.WriteString("  HALTED")
	}
	b.WriteByte('\n')
	return b.String()
}

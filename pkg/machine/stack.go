package machine

import (
	"github.com/oisee/z80kit/pkg/cpu"
	"github.com/oisee/z80kit/pkg/memory"
)

// Stack is the machine stack engine: PUSH and POP on SP through memory.
// The stack grows downward; after a push SP points at the low byte, so the
// low byte sits at the lower address. SP wraps modulo 64 Ki. Neither
// operation touches flags.
type Stack struct {
	mem *memory.Memory
	cpu *cpu.CPU
}

// NewStack builds a stack engine over the given memory and register file.
func NewStack(mem *memory.Memory, c *cpu.CPU) *Stack {
	return &Stack{mem: mem, cpu: c}
}

// Push stores v on the stack: high byte first, then low.
func (s *Stack) Push(v uint16) {
	s.cpu.SP--
	s.mem.WriteByte(s.cpu.SP, uint8(v>>8))
	s.cpu.SP--
	s.mem.WriteByte(s.cpu.SP, uint8(v))
}

// Pop removes and returns the word at the top of the stack.
func (s *Stack) Pop() uint16 {
	lo := s.mem.ReadByte(s.cpu.SP)
	hi := s.mem.ReadByte(s.cpu.SP + 1)
	s.cpu.SP += 2
	return uint16(hi)<<8 | uint16(lo)
}

// Package asm is a two-pass Z80 assembler. Pass 1 tokenises, collects
// labels and EQUs and emits bytes with placeholders for anything that only
// resolves once every symbol is known; pass 2 evaluates the recorded
// expressions and fills the placeholders in.
package asm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oisee/z80kit/pkg/inst"
)

// Segment is a [Addr, Addr+Length) range produced by DB/DW/DS directives.
// Callers can hand these to the disassembler as data islands.
type Segment struct {
	Addr   uint16
	Length int
}

// Result is the outcome of one Assemble call.
type Result struct {
	OK           bool
	Origin       uint16
	Bytes        []byte
	Errors       []Error
	DataSegments []Segment
}

type patchKind int

const (
	pImm8 patchKind = iota
	pImm16
	pDisp
	pRel
	pData8
	pData16
)

// patch is a placeholder written during pass 1, to be filled during pass 2.
type patch struct {
	line     int
	kind     patchKind
	pos      int // image index of the placeholder
	expr     string
	instAddr uint16
	instLen  int
}

// Assembler translates Z80 source lines into a byte image.
type Assembler struct {
	reserved map[string]bool
}

// New builds an assembler. The reserved-word set covers every instruction
// mnemonic, register, flag and directive: none of them may name a label or
// an EQU.
func New() *Assembler {
	a := &Assembler{reserved: map[string]bool{}}
	for _, enc := range inst.Encodings() {
		word := enc.Text
		if i := strings.IndexByte(word, ' '); i >= 0 {
			word = word[:i]
		}
		a.reserved[word] = true
	}
	for r := range registers8 {
		a.reserved[r] = true
	}
	for r := range registerPairs {
		a.reserved[r] = true
	}
	for f := range flagNames {
		a.reserved[f] = true
	}
	for _, d := range []string{"ORG", "DB", "DEFB", "DW", "DEFW", "DS", "DEFS", "DM", "DEFM", "EQU"} {
		a.reserved[d] = true
	}
	return a
}

// assembly is the mutable state of one Assemble run.
type assembly struct {
	asm *Assembler

	img     [0x10000]byte
	lo, hi  int // written bounds, hi exclusive; lo > hi means nothing yet
	addr    int // current assembly address
	labels  map[string]uint16
	equates map[string]string
	patches []patch
	segs    []Segment
	errs    []Error
	fatal   bool
}

// Assemble runs both passes over the source lines.
func (a *Assembler) Assemble(lines []string) Result {
	run := &assembly{
		asm:     a,
		lo:      0x10000,
		labels:  map[string]uint16{},
		equates: map[string]string{},
	}

	for i, raw := range lines {
		run.passOneLine(scanLine(i+1, raw))
		if run.fatal {
			break
		}
	}
	if !run.fatal {
		run.passTwo()
	}

	res := Result{
		OK:           len(run.errs) == 0,
		Errors:       run.errs,
		DataSegments: run.segs,
	}
	if run.lo < run.hi {
		res.Origin = uint16(run.lo)
		res.Bytes = append([]byte(nil), run.img[run.lo:run.hi]...)
	}
	return res
}

func (r *assembly) errorf(line int, kind ErrorKind, format string, args ...any) {
	r.errs = append(r.errs, Error{Line: line, Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// ensure verifies the next n bytes fit below 0x10000. Running past the top
// of the address space is the one fatal condition.
func (r *assembly) ensure(line, n int) bool {
	if r.addr+n > 0x10000 {
		r.errorf(line, ErrAddressOverflow, "address %04Xh", r.addr)
		r.fatal = true
		return false
	}
	return true
}

func (r *assembly) emit(b byte) {
	r.img[r.addr] = b
	if r.addr < r.lo {
		r.lo = r.addr
	}
	if r.addr+1 > r.hi {
		r.hi = r.addr + 1
	}
	r.addr++
}

func (r *assembly) eval() *evaluator {
	return &evaluator{labels: r.labels, equates: r.equates, dot: uint16(r.addr)}
}

func (r *assembly) defineLabel(line int, name string) {
	upper := strings.ToUpper(name)
	if r.asm.reserved[upper] {
		r.errorf(line, ErrReservedName, "%s", name)
		return
	}
	if _, dup := r.labels[upper]; dup {
		r.errorf(line, ErrDuplicateLabel, "%s", name)
		return
	}
	if _, dup := r.equates[upper]; dup {
		r.errorf(line, ErrDuplicateLabel, "%s already defined by EQU", name)
		return
	}
	r.labels[upper] = uint16(r.addr)
}

func (r *assembly) passOneLine(ln srcLine) {
	if ln.label != "" && ln.mnemonic != "EQU" {
		r.defineLabel(ln.num, ln.label)
	}

	switch ln.mnemonic {
	case "":
		// blank or label-only line
	case "EQU":
		if ln.label == "" {
			r.errorf(ln.num, ErrUnknownInstruction, "EQU without a name")
			return
		}
		r.defineEquate(ln)
	case "ORG":
		v, err := r.eval().Eval(ln.rest)
		switch {
		case err != nil:
			r.errorf(ln.num, ErrInvalidORG, "%s", ln.rest)
		case v < 0 || v > 0xFFFF:
			r.errorf(ln.num, ErrORGOutOfRange, "%d", v)
		default:
			r.addr = int(v)
		}
	case "DB", "DEFB", "DM", "DEFM":
		r.dataBytes(ln)
	case "DW", "DEFW":
		r.dataWords(ln)
	case "DS", "DEFS":
		r.dataSpace(ln)
	default:
		r.instruction(ln)
	}
}

func (r *assembly) defineEquate(ln srcLine) {
	upper := strings.ToUpper(ln.label)
	if r.asm.reserved[upper] {
		r.errorf(ln.num, ErrReservedName, "%s", ln.label)
		return
	}
	if _, dup := r.equates[upper]; dup {
		r.errorf(ln.num, ErrEQURedefined, "%s", ln.label)
		return
	}
	if _, dup := r.labels[upper]; dup {
		r.errorf(ln.num, ErrEQURedefined, "%s already defined as a label", ln.label)
		return
	}
	if strings.TrimSpace(ln.rest) == "" {
		r.errorf(ln.num, ErrEQURedefined, "%s has no expression", ln.label)
		return
	}
	r.equates[upper] = ln.rest
}

// dataBytes handles DB/DEFB/DM/DEFM. Quoted strings become their bytes
// right away; numeric expressions leave a one-byte placeholder for pass 2.
func (r *assembly) dataBytes(ln srcLine) {
	ops := splitOperands(ln.rest)
	if ops == nil {
		r.errorf(ln.num, ErrInvalidData, "%s needs at least one value", ln.mnemonic)
		return
	}
	start := r.addr
	for _, op := range ops {
		if isQuotedString(op) {
			content := op[1 : len(op)-1]
			if !r.ensure(ln.num, len(content)) {
				return
			}
			for i := 0; i < len(content); i++ {
				r.emit(content[i])
			}
			continue
		}
		if !r.ensure(ln.num, 1) {
			return
		}
		r.patches = append(r.patches, patch{
			line: ln.num, kind: pData8, pos: r.addr, expr: op, instAddr: uint16(start),
		})
		r.emit(0)
	}
	r.segs = append(r.segs, Segment{Addr: uint16(start), Length: r.addr - start})
}

func (r *assembly) dataWords(ln srcLine) {
	ops := splitOperands(ln.rest)
	if ops == nil {
		r.errorf(ln.num, ErrInvalidData, "%s needs at least one value", ln.mnemonic)
		return
	}
	start := r.addr
	for _, op := range ops {
		if !r.ensure(ln.num, 2) {
			return
		}
		r.patches = append(r.patches, patch{
			line: ln.num, kind: pData16, pos: r.addr, expr: op, instAddr: uint16(start),
		})
		r.emit(0)
		r.emit(0)
	}
	r.segs = append(r.segs, Segment{Addr: uint16(start), Length: r.addr - start})
}

// dataSpace handles DS/DEFS. Size and fill must resolve during pass 1,
// because every later address depends on the allocated length.
func (r *assembly) dataSpace(ln srcLine) {
	ops := splitOperands(ln.rest)
	if len(ops) < 1 || len(ops) > 2 {
		r.errorf(ln.num, ErrInvalidData, "%s takes a size and an optional fill", ln.mnemonic)
		return
	}
	size, err := r.eval().Eval(ops[0])
	if err != nil {
		r.errorf(ln.num, ErrInvalidData, "size %s: %v", ops[0], err)
		return
	}
	if size < 0 || size > 0x10000 {
		r.errorf(ln.num, ErrDataRange, "size %d", size)
		return
	}
	fill := int64(0)
	if len(ops) == 2 {
		fill, err = r.eval().Eval(ops[1])
		if err != nil {
			r.errorf(ln.num, ErrInvalidData, "fill %s: %v", ops[1], err)
			return
		}
		if fill < -128 || fill > 255 {
			r.errorf(ln.num, ErrDataRange, "fill %d", fill)
			return
		}
	}
	if !r.ensure(ln.num, int(size)) {
		return
	}
	start := r.addr
	for i := int64(0); i < size; i++ {
		r.emit(uint8(fill))
	}
	r.segs = append(r.segs, Segment{Addr: uint16(start), Length: r.addr - start})
}

// instruction normalises the operands, matches the canonical text against
// the instruction table and emits the encoding with placeholders.
func (r *assembly) instruction(ln srcLine) {
	opTexts := splitOperands(ln.rest)
	if len(opTexts) > 2 {
		r.errorf(ln.num, ErrUnknownInstruction, "%s %s", ln.mnemonic, ln.rest)
		return
	}

	ev := r.eval()
	ops := make([]operand, len(opTexts))
	for i, t := range opTexts {
		o, err := r.asm.normalizeOperand(ln.mnemonic, t, i, ev)
		if err != nil {
			if errors.Is(err, errDivZero) {
				r.errorf(ln.num, ErrDivideByZero, "%s", t)
			} else {
				r.errorf(ln.num, ErrUnresolvedOperand, "%s", t)
			}
			return
		}
		ops[i] = o
	}

	enc, ok := r.match(ln.mnemonic, ops)
	if !ok {
		r.errorf(ln.num, ErrUnknownInstruction, "%s %s", ln.mnemonic, strings.TrimSpace(ln.rest))
		return
	}

	prefix := enc.Prefix.Bytes()
	ddcb := enc.Prefix == inst.DDCB || enc.Prefix == inst.FDCB

	needDisp := enc.Info.Mode1 == inst.Indexed || enc.Info.Mode2 == inst.Indexed
	needRel := enc.Info.Mode1 == inst.Relative || enc.Info.Mode2 == inst.Relative
	needImm8 := enc.Info.Mode1 == inst.Immediate || enc.Info.Mode2 == inst.Immediate
	needImm16 := enc.Info.Mode1 == inst.ExtImmediate || enc.Info.Mode2 == inst.ExtImmediate ||
		enc.Info.Mode1 == inst.Extended || enc.Info.Mode2 == inst.Extended

	length := len(prefix) + 1
	if needDisp {
		length++
	}
	if needRel {
		length++
	}
	if needImm8 {
		length++
	}
	if needImm16 {
		length += 2
	}
	if !r.ensure(ln.num, length) {
		return
	}

	var dispExpr, valueExpr string
	for _, o := range ops {
		if o.typ == Indexed {
			dispExpr = o.disp
		} else if o.expr != "" {
			valueExpr = o.expr
		}
	}

	instAddr := uint16(r.addr)
	addPatch := func(kind patchKind, expr string) {
		r.patches = append(r.patches, patch{
			line: ln.num, kind: kind, pos: r.addr, expr: expr,
			instAddr: instAddr, instLen: length,
		})
		r.emit(0)
	}

	if ddcb {
		// DD CB d opcode: the displacement precedes the opcode byte.
		r.emit(prefix[0])
		r.emit(prefix[1])
		addPatch(pDisp, dispExpr)
		r.emit(enc.Opcode)
		return
	}

	for _, b := range prefix {
		r.emit(b)
	}
	r.emit(enc.Opcode)
	if needDisp {
		addPatch(pDisp, dispExpr)
	}
	if needRel {
		addPatch(pRel, valueExpr)
	}
	if needImm8 {
		addPatch(pImm8, valueExpr)
	}
	if needImm16 {
		addPatch(pImm16, valueExpr)
		r.emit(0) // high byte of the same placeholder
	}
}

// match tries every widening combination of the operand tokens against the
// sorted instruction table: a failed n match retries as nn, a bare (IX)
// retries as (IX+d) with a zero displacement.
func (r *assembly) match(mnemonic string, ops []operand) (inst.Encoding, bool) {
	switch len(ops) {
	case 0:
		return inst.LookupText(mnemonic)
	case 1:
		for _, v := range ops[0].variants() {
			if enc, ok := inst.LookupText(mnemonic + " " + v); ok {
				return enc, true
			}
		}
	case 2:
		for _, v1 := range ops[0].variants() {
			for _, v2 := range ops[1].variants() {
				if enc, ok := inst.LookupText(mnemonic + " " + v1 + "," + v2); ok {
					return enc, true
				}
			}
		}
	}
	return inst.Encoding{}, false
}

// passTwo fills every placeholder now that all labels and EQUs are known.
func (r *assembly) passTwo() {
	for _, p := range r.patches {
		ev := &evaluator{labels: r.labels, equates: r.equates, dot: p.instAddr}
		v, err := ev.Eval(p.expr)
		if err != nil {
			switch {
			case errors.Is(err, errDivZero):
				r.errorf(p.line, ErrDivideByZero, "%s", p.expr)
			case p.kind == pData8 || p.kind == pData16:
				r.errorf(p.line, ErrInvalidData, "%s", p.expr)
			default:
				r.errorf(p.line, ErrUnresolvedOperand, "%s", p.expr)
			}
			continue
		}

		switch p.kind {
		case pImm8:
			if v < -128 || v > 255 {
				r.errorf(p.line, ErrOperandRange, "%s = %d", p.expr, v)
				continue
			}
			r.img[p.pos] = uint8(v)
		case pImm16:
			if v < -32768 || v > 65535 {
				r.errorf(p.line, ErrOperandRange, "%s = %d", p.expr, v)
				continue
			}
			r.img[p.pos] = uint8(v)
			r.img[p.pos+1] = uint8(v >> 8)
		case pDisp:
			if v < -128 || v > 127 {
				r.errorf(p.line, ErrDispRange, "%s = %d", p.expr, v)
				continue
			}
			r.img[p.pos] = uint8(v)
		case pRel:
			delta := v - int64(p.instAddr) - int64(p.instLen)
			if delta < -128 || delta > 127 {
				r.errorf(p.line, ErrDispRange, "target %04Xh is %d bytes away", v, delta)
				continue
			}
			r.img[p.pos] = uint8(delta)
		case pData8:
			if v < -128 || v > 255 {
				r.errorf(p.line, ErrDataRange, "%s = %d", p.expr, v)
				continue
			}
			r.img[p.pos] = uint8(v)
		case pData16:
			if v < -32768 || v > 65535 {
				r.errorf(p.line, ErrDataRange, "%s = %d", p.expr, v)
				continue
			}
			r.img[p.pos] = uint8(v)
			r.img[p.pos+1] = uint8(v >> 8)
		}
	}
}

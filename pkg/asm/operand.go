package asm

import (
	"fmt"
	"strings"
)

// OperandType categorises a normalised operand for pass 2.
type OperandType int

const (
	Implied OperandType = iota
	Register
	RegisterPair
	Flag
	Indexed
	Indirect
	Relative
	Immediate
	Unresolved
	UnresolvedIndirect
)

// operand is one parsed instruction operand.
type operand struct {
	text string // source text
	norm string // table token: register name, (HL), n, nn, (n), (nn), (IX+d), e, ...
	typ  OperandType
	expr string // value expression for n/nn/e/(n)/(nn)
	disp string // displacement expression for (IX+d)/(IY+d)
}

var registers8 = map[string]bool{
	"A": true, "B": true, "C": true, "D": true, "E": true,
	"H": true, "L": true, "I": true, "R": true, "F": true,
}

var registerPairs = map[string]bool{
	"AF": true, "BC": true, "DE": true, "HL": true,
	"IX": true, "IY": true, "SP": true, "AF'": true,
}

var flagNames = map[string]bool{
	"NZ": true, "Z": true, "NC": true, "C": true,
	"PO": true, "PE": true, "P": true, "M": true,
}

// relativeMnemonics take a branch target encoded as a signed displacement.
var relativeMnemonics = map[string]bool{"JR": true, "DJNZ": true}

// literalMnemonics carry their first numeric operand inside the mnemonic
// text (it selects the opcode), so it must resolve during pass 1.
var literalMnemonics = map[string]bool{"BIT": true, "RES": true, "SET": true, "IM": true, "RST": true}

// portMnemonics use the 8-bit (n) port form instead of a 16-bit address.
var portMnemonics = map[string]bool{"IN": true, "OUT": true}

// normalizeOperand reduces operand text to the token spelled in the
// instruction table. index is the operand position (0 or 1).
func (a *Assembler) normalizeOperand(mnemonic, text string, index int, ev *evaluator) (operand, error) {
	text = strings.TrimSpace(text)
	o := operand{text: text}
	upper := strings.ToUpper(text)

	// Branch targets of JR and DJNZ: anything that is not a flag name is
	// the displacement expression.
	if relativeMnemonics[mnemonic] && !flagNames[upper] {
		o.norm, o.typ, o.expr = "e", Relative, text
		return o, nil
	}

	// BIT/RES/SET bit numbers, IM modes and RST targets are baked into the
	// opcode, so they are evaluated on the spot.
	if literalMnemonics[mnemonic] && index == 0 {
		v, err := ev.Eval(text)
		if err != nil {
			return o, err
		}
		if mnemonic == "RST" {
			o.norm = fmt.Sprintf("%02Xh", v)
		} else {
			o.norm = fmt.Sprintf("%d", v)
		}
		o.typ = Immediate
		return o, nil
	}

	switch {
	case registerPairs[upper]:
		o.norm, o.typ = upper, RegisterPair
		return o, nil
	case registers8[upper]:
		o.norm, o.typ = upper, Register
		return o, nil
	case flagNames[upper]:
		o.norm, o.typ = upper, Flag
		return o, nil
	}

	if strings.HasPrefix(upper, "(") && strings.HasSuffix(upper, ")") {
		inner := strings.TrimSpace(text[1 : len(text)-1])
		innerU := strings.ToUpper(inner)
		switch innerU {
		case "HL", "BC", "DE", "SP", "C":
			o.norm, o.typ = "("+innerU+")", Indirect
			return o, nil
		case "IX", "IY":
			o.norm, o.typ, o.disp = "("+innerU+")", Indexed, "0"
			return o, nil
		}
		if len(innerU) > 2 && (innerU[:2] == "IX" || innerU[:2] == "IY") {
			rest := strings.TrimSpace(inner[2:])
			if rest != "" && (rest[0] == '+' || rest[0] == '-') {
				o.norm = "(" + innerU[:2] + "+d)"
				o.typ = Indexed
				o.disp = rest // sign travels with the expression
				return o, nil
			}
		}
		// Memory operand: (n) on the port instructions, (nn) elsewhere.
		o.expr = inner
		if portMnemonics[mnemonic] {
			o.norm = "(n)"
		} else {
			o.norm = "(nn)"
		}
		if _, err := ev.Eval(inner); err != nil {
			o.typ = UnresolvedIndirect
		} else {
			o.typ = Indirect
		}
		return o, nil
	}

	// Bare expression: an 8-bit immediate first, widened to nn on a failed
	// table match.
	o.norm, o.expr = "n", text
	if _, err := ev.Eval(text); err != nil {
		o.typ = Unresolved
	} else {
		o.typ = Immediate
	}
	return o, nil
}

// variants lists the table tokens an operand may match, narrowest first.
func (o operand) variants() []string {
	switch o.norm {
	case "n":
		return []string{"n", "nn"}
	case "(IX)":
		return []string{"(IX)", "(IX+d)"}
	case "(IY)":
		return []string{"(IY)", "(IY+d)"}
	}
	return []string{o.norm}
}

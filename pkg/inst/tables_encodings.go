package inst

import "sort"

// Encoding ties a canonical instruction text to its table row, for the
// assembler's text→bytes lookup.
type Encoding struct {
	Text   string
	Prefix Prefix
	Opcode uint8
	Info   Info
}

var encodings []Encoding

// Encodings returns the union of all seven opcode tables as a slice sorted
// by canonical text. When the same text has more than one encoding (the ED
// aliases of LD (nn),HL / LD HL,(nn)), the shorter unprefixed form wins.
func Encodings() []Encoding {
	return encodings
}

// LookupText finds the encoding for a canonical instruction text.
func LookupText(text string) (Encoding, bool) {
	i := sort.Search(len(encodings), func(i int) bool {
		return encodings[i].Text >= text
	})
	if i < len(encodings) && encodings[i].Text == text {
		return encodings[i], true
	}
	return Encoding{}, false
}

func init() {
	// Priority order: earlier tables shadow later ones on equal text.
	order := []Prefix{None, CB, ED, DD, FD, DDCB, FDCB}
	seen := map[string]bool{}
	for _, p := range order {
		for op, info := range Table(p) {
			if seen[info.Mnemonic] {
				continue
			}
			seen[info.Mnemonic] = true
			encodings = append(encodings, Encoding{
				Text:   info.Mnemonic,
				Prefix: p,
				Opcode: op,
				Info:   info,
			})
		}
	}
	sort.Slice(encodings, func(i, j int) bool {
		return encodings[i].Text < encodings[j].Text
	})
}

package main

import (
	"os"

	"golang.org/x/term"
)

// consolePort wires the Z80 I/O space to the terminal: OUT sends the byte
// to stdout, IN blocks for one key. The low byte of the port address is
// ignored — every port is the console.
type consolePort struct{}

func (consolePort) Read(addr uint16) uint8 {
	var buf [1]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil || n == 0 {
		return 0
	}
	return buf[0]
}

func (consolePort) Write(addr uint16, v uint8) {
	os.Stdout.Write([]byte{v})
}

// newConsolePort puts the terminal into raw mode so IN sees single
// keystrokes. The returned func restores the terminal.
func newConsolePort() (consolePort, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return consolePort{}, func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return consolePort{}, nil, err
	}
	return consolePort{}, func() { _ = term.Restore(fd, old) }, nil
}

// Command z80 is a demonstration driver for the toolchain: it assembles
// source files, disassembles binary images and runs them on the emulated
// machine. File handling lives here, not in the library.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oisee/z80kit/pkg/asm"
	"github.com/oisee/z80kit/pkg/disasm"
	"github.com/oisee/z80kit/pkg/machine"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "z80",
		Short: "Z80 toolchain — assemble, disassemble and run machine code",
	}

	// asm command
	var asmOut string
	asmCmd := &cobra.Command{
		Use:   "asm <file.asm>",
		Short: "Assemble a source file into a binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res := asm.New().Assemble(strings.Split(string(src), "\n"))
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stderr, e)
			}
			if !res.OK {
				return fmt.Errorf("%d error(s)", len(res.Errors))
			}
			fmt.Printf("%d bytes at %04Xh\n", len(res.Bytes), res.Origin)
			for _, s := range res.DataSegments {
				fmt.Printf("  data %04Xh..%04Xh\n", s.Addr, int(s.Addr)+s.Length-1)
			}
			out := asmOut
			if out == "" {
				out = strings.TrimSuffix(args[0], ".asm") + ".bin"
			}
			return os.WriteFile(out, res.Bytes, 0o644)
		},
	}
	asmCmd.Flags().StringVarP(&asmOut, "output", "o", "", "Output file (default: source with .bin)")

	// dasm command
	var dasmOrg, dasmLen string
	var dataRanges []string
	dasmCmd := &cobra.Command{
		Use:   "dasm <file.bin>",
		Short: "Disassemble a binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			org, err := parseNum(dasmOrg)
			if err != nil {
				return fmt.Errorf("bad --org: %w", err)
			}
			length := len(data)
			if dasmLen != "" {
				n, err := parseNum(dasmLen)
				if err != nil {
					return fmt.Errorf("bad --length: %w", err)
				}
				length = int(n)
			}
			m := machine.New(nil)
			if err := m.LoadExecutable(data, uint16(org), true); err != nil {
				return err
			}
			d := disasm.New(m, uint16(org), length)
			for _, r := range dataRanges {
				addr, n, err := parseRange(r)
				if err != nil {
					return fmt.Errorf("bad --data %q: %w", r, err)
				}
				d.AddNonExecutable(addr, n)
			}
			for _, line := range d.Disassemble() {
				fmt.Printf("%04X  %s\n", line.Addr, line.Text)
			}
			return nil
		},
	}
	dasmCmd.Flags().StringVar(&dasmOrg, "org", "0", "Load address")
	dasmCmd.Flags().StringVar(&dasmLen, "length", "", "Bytes to disassemble (default: whole file)")
	dasmCmd.Flags().StringArrayVar(&dataRanges, "data", nil, "Non-executable range addr:len (repeatable)")

	// run command
	var runOrg, runSP string
	var console bool
	runCmd := &cobra.Command{
		Use:   "run <file.bin>",
		Short: "Execute a binary image and dump the registers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			org, err := parseNum(runOrg)
			if err != nil {
				return fmt.Errorf("bad --org: %w", err)
			}
			var port machine.Port
			if console {
				cp, restore, err := newConsolePort()
				if err != nil {
					return err
				}
				defer restore()
				port = cp
			}
			m := machine.New(port)
			if err := m.LoadExecutable(data, uint16(org), true); err != nil {
				return err
			}
			if runSP != "" {
				sp, err := parseNum(runSP)
				if err != nil {
					return fmt.Errorf("bad --sp: %w", err)
				}
				sp16 := uint16(sp)
				m.SetState(machine.StatePatch{SP: &sp16})
			}
			if err := m.Execute(); err != nil {
				return err
			}
			fmt.Print(m.Dump())
			return nil
		},
	}
	runCmd.Flags().StringVar(&runOrg, "org", "0", "Load address")
	runCmd.Flags().StringVar(&runSP, "sp", "", "Initial stack pointer")
	runCmd.Flags().BoolVar(&console, "console", false, "Wire the I/O ports to the terminal")

	rootCmd.AddCommand(asmCmd, dasmCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseNum accepts decimal, 0x-prefixed hex and h-suffixed hex.
func parseNum(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "h") || strings.HasSuffix(s, "H") {
		return strconv.ParseUint(s[:len(s)-1], 16, 32)
	}
	return strconv.ParseUint(s, 0, 32)
}

// parseRange parses addr:len.
func parseRange(s string) (uint16, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want addr:len")
	}
	addr, err := parseNum(parts[0])
	if err != nil {
		return 0, 0, err
	}
	n, err := parseNum(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return uint16(addr), int(n), nil
}

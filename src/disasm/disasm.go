// Package disasm renders the instruction bytes around a faulting PC so
// a fatal-fault log line carries more than a bare address (spec.md
// §4.9's "log and exit_task(-1)" faults, and §7's fatal diagnostic
// path). There is no RISC-V entry in golang.org/x/arch's instruction
// decoders (arm, arm64, ppc64, x86 only — the pack's one user of that
// module, gokvm, decodes guest x86 code with x86asm, which cannot
// stand in for an RV64 target), so this package decodes only what the
// base RISC-V encoding itself guarantees: whether an instruction is the
// 16-bit compressed form or the 32-bit form, and renders the raw bytes.
package disasm

import "fmt"

// Len returns the length in bytes of the instruction starting at
// code[0], per the base RISC-V encoding rule: an instruction is 16 bits
// (compressed) unless its low two bits are 11, in which case it is (at
// least) 32 bits. This kernel never emits the wider >32-bit encodings,
// so Len only distinguishes these two cases.
func Len(code []byte) int {
	if len(code) == 0 {
		return 0
	}
	if code[0]&0x3 == 0x3 {
		return 4
	}
	return 2
}

// Instruction renders the raw bytes of the instruction at pc as a hex
// string, e.g. "0x73 0x00 0x00 0x00" for a 4-byte ecall.
func Instruction(code []byte, pc uint64) string {
	n := Len(code)
	if n == 0 || n > len(code) {
		return fmt.Sprintf("<truncated at pc=0x%x>", pc)
	}
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("0x%02x", code[i])
	}
	return s
}

// Context renders up to n instructions' worth of raw bytes starting at
// pc, one per line prefixed with its offset from pc, for a fatal-fault
// diagnostic dump.
func Context(code []byte, pc uint64, n int) []string {
	lines := make([]string, 0, n)
	off := 0
	for i := 0; i < n && off < len(code); i++ {
		l := Len(code[off:])
		if l == 0 || off+l > len(code) {
			lines = append(lines, fmt.Sprintf("+0x%x: <truncated>", off))
			break
		}
		lines = append(lines, fmt.Sprintf("+0x%x: %s", off, Instruction(code[off:], pc+uint64(off))))
		off += l
	}
	return lines
}

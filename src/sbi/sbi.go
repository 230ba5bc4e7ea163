// Package sbi is the kernel's only contact with firmware: the four SBI
// (Supervisor Binary Interface) calls spec.md §6 lists. Every other
// package reaches the firmware exclusively through this package's
// exported functions.
//
// The `ecall` instruction itself is privilege-transition assembly
// (spec.md §9 calls this out explicitly, alongside the trampoline and
// __switch, as one of the few things that must be hand-written
// assembly rather than Go). sbi models that boundary the same way the
// teacher's runtime-intrinsic calls are modeled — as a package-level
// function variable installed once at boot by the assembly entry stub
// (runtime.Cpuid, runtime.Vtop and friends play the same role in the
// teacher's mem package) — so every symbol above this file is ordinary,
// testable Go.
package sbi

import "fmt"

// Extension/function IDs, matching the RISC-V SBI v0.1 "legacy" calls
// spec.md §6 uses (the same four IDs tinyrange-cc/internal/hv/riscv's
// rv64 SBI model implements: SBIExtLegacyPutchar==1, SBIExtLegacyGetchar==2).
const (
	FidSetTimer     = 0
	FidConsolePutc  = 1
	FidConsoleGetc  = 2
	FidShutdown     = 8
)

// Backend is the low-level ecall trampoline: a0/a1/a2 are the SBI call's
// argument registers, fid selects the legacy call. It returns the value
// SBI places back in a0. A freestanding build installs a backend that
// executes a real `ecall`; tests install a fake one that just records
// calls.
type Backend interface {
	Ecall(fid int, a0, a1, a2 uint64) uint64
}

var backend Backend = unsetBackend{}

type unsetBackend struct{}

func (unsetBackend) Ecall(fid int, a0, a1, a2 uint64) uint64 {
	panic(fmt.Sprintf("sbi: no backend installed for ecall fid=%d", fid))
}

// SetBackend installs the ecall implementation. Called exactly once,
// during early boot, by the assembly entry stub in a freestanding build,
// or by a test that wants to observe/control firmware calls.
func SetBackend(b Backend) {
	backend = b
}

// SetTimer programs the next supervisor timer interrupt to fire at
// deadline (an opaque firmware cycle count).
func SetTimer(deadline uint64) {
	backend.Ecall(FidSetTimer, deadline, 0, 0)
}

// ConsolePutChar writes a single byte to the firmware console. Console
// wraps it as a klog.Sink so the kernel logger can be wired directly to it.
func ConsolePutChar(c byte) {
	backend.Ecall(FidConsolePutc, uint64(c), 0, 0)
}

// PutChar implements klog.Sink.
func (sinkAdapter) PutChar(c byte) { ConsolePutChar(c) }

// Console is the klog.Sink adapter over ConsolePutChar.
var Console sinkAdapter

type sinkAdapter struct{}

// ConsoleGetChar reads one byte from the firmware console, or -1 if none
// is pending.
func ConsoleGetChar() int {
	v := backend.Ecall(FidConsoleGetc, 0, 0, 0)
	return int(int64(v))
}

// Shutdown powers the machine off via firmware and never returns. Every
// call site treats it as the terminal action of a fatal kernel error or
// of switch_task discovering no ready task remains (spec.md §4.8).
func Shutdown() {
	backend.Ecall(FidShutdown, 0, 0, 0)
	panic("sbi: shutdown returned")
}

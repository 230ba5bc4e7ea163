// Command kernel is the freestanding entry point spec.md §2 describes:
// the bootloader/SBI hands control here after the (out-of-scope, per
// spec.md §1) entry assembly has set up a stack and jumped into Go
// code. It wires the singletons in the required order, installs the
// firmware backend, loads the embedded app table, and hands off to
// switch_task.
//
// This binary cannot itself execute on real RISC-V hardware without the
// assembly trampoline, linker script and ELF-embedding build step
// spec.md §1 places out of scope; what it demonstrates is the ordinary
// Go half of the boot sequence, the same division of labor the teacher
// draws between its assembly entry stub and Kmain.
package main

import (
	"fmt"
	"os"

	"defs"
	"kernel"
	"klog"
	"sbi"
	"scall"
)

const defaultPriority = 2

// hostBackend is a minimal sbi.Backend usable when this binary is run
// directly on a development host rather than under a RISC-V emulator:
// console I/O goes to the process's own stdio, set_timer is a no-op (no
// hardware timer to program), and shutdown exits the process instead of
// halting a CPU. A real freestanding build links an assembly backend
// that issues actual `ecall` instructions instead of this one.
type hostBackend struct{}

func (hostBackend) Ecall(fid int, a0, a1, a2 uint64) uint64 {
	switch fid {
	case sbi.FidConsolePutc:
		os.Stdout.Write([]byte{byte(a0)})
	case sbi.FidConsoleGetc:
		return ^uint64(0) // -1: no pending input on a host run
	case sbi.FidShutdown:
		os.Exit(0)
	}
	return 0
}

func main() {
	klog.Init(sbi.Console)
	sbi.SetBackend(hostBackend{})
	// klog.Fatal logs and panics; a fatal error ends in a firmware shutdown.
	defer func() {
		if r := recover(); r != nil {
			sbi.Shutdown()
		}
	}()
	scall.SetClock(func() uint64 { return 0 })

	k, err := kernel.New(kernel.Layout{})
	if err != defs.EOK {
		klog.Fatal(fmt.Sprintf("kernel: failed to build kernel address space: %v", err))
	}

	apps := EmbeddedApps
	if len(apps) == 0 {
		klog.Warn("kernel: no embedded apps; run cmd/mkapptable to regenerate apptable_generated.go")
	}
	if bootErr := k.Boot(apps, defaultPriority); bootErr != defs.EOK {
		klog.Fatal(fmt.Sprintf("kernel: boot failed: %v", bootErr))
	}

	// On real hardware this point is never reached: every return from
	// user mode re-enters trap_handler through the trampoline, which
	// keeps calling k.Syscall/k.Fault/k.Preempt via trap.Dispatch
	// forever (spec.md §2). There is no CPU executing user code in
	// this hosted binary, so Boot's first switch_task is also the
	// last thing that happens.
	klog.Info(fmt.Sprintf("kernel: scheduled first task, %d app(s) loaded", len(apps)))
}

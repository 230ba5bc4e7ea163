// Package trap defines the fixed-layout register save areas that cross
// the user/kernel privilege boundary (spec.md §3, §4.9): TrapContext,
// filled in by the trampoline on every entry from user mode, and
// TaskContext, used exclusively by the kernel-to-kernel __switch.
//
// The trampoline itself, __alltraps and __restore, and __switch are
// privilege-transition assembly (spec.md §9) and stay outside Go's
// reach; this package models the data they operate on and the Cause
// decoding trap_handler performs once control reaches high-level code,
// the same division the teacher draws between its runtime-intrinsic
// calls and the ordinary Go above them.
package trap

import (
	"fmt"

	"accnt"
	"klog"
)

// regCount is the number of general-purpose registers RISC-V's base ISA
// defines (x0-x31); the trampoline saves all of them even though x0 is
// hardwired zero, to keep the save-area layout fixed-offset and
// assembly-friendly.
const regCount = 32

// TrapContext is the fixed-layout save area backing one task's
// trap-context page (spec.md §3). Fields after the register file mirror
// exactly what spec.md §4.9 says the trampoline reads on entry/writes on
// exit.
type TrapContext struct {
	X          [regCount]uint64 // general registers, x[2] is sp
	Sstatus    uint64
	Sepc       uint64
	KernelSatp uint64 // token to restore on trap entry
	KernelSp   uint64 // kernel stack pointer to restore on trap entry
	TrapHandlerEntry uint64 // high-level trap_handler address
}

// AppInit seeds a fresh TrapContext for a just-loaded program: x[2] (sp)
// is the user stack top, sepc is the entry point, sstatus is left with
// SPP cleared (user mode) by the caller before activation.
func AppInit(entry, userSp, sstatus, kernelSatp, kernelSp, handlerEntry uint64) TrapContext {
	var cx TrapContext
	cx.X[2] = userSp
	cx.Sepc = entry
	cx.Sstatus = sstatus
	cx.KernelSatp = kernelSatp
	cx.KernelSp = kernelSp
	cx.TrapHandlerEntry = handlerEntry
	return cx
}

// TaskContext is the small kernel-to-kernel switch frame living on the
// kernel stack: a return address plus the RISC-V callee-saved set
// (s0-s11), matching spec.md §3's definition exactly.
type TaskContext struct {
	Ra uint64
	S  [12]uint64
}

// GotoRestore builds the TaskContext a never-yet-run task's kernel stack
// starts with: Ra points at the trap-return path (__restore in a real
// build), so the very first switch into this task lands it in user mode
// through the same path every subsequent trap return uses.
func GotoRestore(restoreEntry uint64) TaskContext {
	return TaskContext{Ra: restoreEntry}
}

// Cause classifies why trap_handler was invoked (spec.md §4.9's decode
// list). The concrete scause encoding is left to whatever backend
// installs causes; Cause is the kernel-level classification every
// backend must map its raw scause value onto.
type Cause int

const (
	CauseUserEcall Cause = iota
	CauseStoreFault
	CauseLoadFault
	CauseInstructionFault
	CausePageFault
	CauseIllegalInstruction
	CauseTimerInterrupt
	CauseOther
)

func (c Cause) String() string {
	switch c {
	case CauseUserEcall:
		return "user ecall"
	case CauseStoreFault:
		return "store fault"
	case CauseLoadFault:
		return "load fault"
	case CauseInstructionFault:
		return "instruction fault"
	case CausePageFault:
		return "page fault"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case CauseTimerInterrupt:
		return "timer interrupt"
	default:
		return "other"
	}
}

// Fatal reports whether a trap with this cause is fatal to the kernel:
// every trap from supervisor mode is (spec.md §7: "traps from supervisor
// mode are always fatal"); from user mode only causes outside the
// ecall/timer/fault set are.
func (c Cause) Fatal(fromSupervisor bool) bool {
	if fromSupervisor {
		return true
	}
	switch c {
	case CauseUserEcall, CauseTimerInterrupt:
		return false
	case CauseStoreFault, CauseLoadFault, CauseInstructionFault, CausePageFault, CauseIllegalInstruction:
		return false // terminates the task, not the kernel
	default:
		return true
	}
}

// Accounting bundles the per-task CPU-time counters trap entry/exit
// updates; kept as a thin alias so trap.go and task.go share one type
// without trap importing task (and vice versa).
type Accounting = accnt.Accnt_t

// Handler is everything trap_handler (spec.md §4.9) needs from the rest
// of the kernel, kept narrow the same way sbi.Backend and
// task.Switcher are so this package never imports task (which already
// imports trap) or scall. A freestanding build's kernel entry point
// (this module's src/kernel package) implements Handler over a live
// task.Manager; tests implement it with small recording fakes.
type Handler interface {
	// Syscall dispatches the current task's pending ecall (a7/a0-a2
	// already sit in its trap context) and writes the result back into
	// a0 itself, matching scall.Dispatch's contract.
	Syscall()
	// Fault logs and terminates the current task for any of the
	// store/load/instruction/page-fault/illegal-instruction causes
	// (spec.md §4.9, §7).
	Fault(cause Cause, pc uint64, code []byte)
	// Preempt reprograms the timer and runs the single scheduling
	// point, the voluntary-yield-equivalent path spec.md §5 describes
	// for a timer interrupt.
	Preempt()
}

// Dispatch is trap_handler itself (spec.md §4.9): it classifies cause,
// advances sepc past the ecall instruction before a syscall runs (so a
// restarted instruction never re-issues the same call), and routes to
// the matching Handler method. Traps spec.md §7 calls always fatal
// (any cause from supervisor mode, or any cause Dispatch doesn't
// otherwise recognize) go through klog.Fatal instead of reaching h.
func Dispatch(h Handler, cx *TrapContext, cause Cause, fromSupervisor bool, stval uint64, code []byte) {
	if cause.Fatal(fromSupervisor) {
		klog.Fatal(fmt.Sprintf("trap: fatal cause=%s supervisor=%v sepc=0x%x stval=0x%x", cause, fromSupervisor, cx.Sepc, stval))
		return
	}
	switch cause {
	case CauseUserEcall:
		cx.Sepc += 4
		h.Syscall()
	case CauseTimerInterrupt:
		h.Preempt()
	case CauseStoreFault, CauseLoadFault, CauseInstructionFault, CausePageFault, CauseIllegalInstruction:
		h.Fault(cause, cx.Sepc, code)
	default:
		klog.Fatal(fmt.Sprintf("trap: unrecognized cause=%s", cause))
	}
}

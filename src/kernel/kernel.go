// Package kernel is the integration point spec.md §2 describes as the
// kernel entry: it owns the singletons ("Global mutable state for
// singletons", spec.md §9) in their required initialization order
// (heap -> frames -> kernel aspace -> trap -> timer -> loader -> task
// manager), implements trap.Handler over a live task.Manager and
// scall's dispatch table, and drives the boot sequence through
// switch_task. Grounded on the teacher's Kmain-style top-level wiring
// (package kernel in the teacher's own source tree occupies the same
// "this is where everything gets plugged together" role, albeit as a
// host-side ELF tool rather than the freestanding entry point) and on
// tinyrange-cc's rv64.Machine, which plays the identical "own every
// singleton device, dispatch decoded traps to the right subsystem"
// role for its RISC-V hypervisor model.
package kernel

import (
	"fmt"

	"aspace"
	"defs"
	"klog"
	"ptable"
	"scall"
	"sysconf"
	"task"
	"trap"
	"vmo"
)

// Layout carries the linker-provided identity-map boundaries spec.md
// §4.4 lists for KERNEL_ASPACE (.text, .rodata, .data, kernel stack
// region, .bss, the frame allocator's backing region, the trampoline).
// A freestanding build's entry stub fills this in from linker symbols
// before calling New; a zero-valued field means "nothing to map" so
// tests can build a Layout covering only what they need.
type Layout struct {
	Text, EText             uint64
	Rodata, ERodata         uint64
	Data, EData             uint64
	Bss, EBss               uint64
	KStackBase, KStackEnd   uint64
	FrameRegion, EFrameRegion uint64
	Trampoline, ETrampoline uint64
}

func identityMap(as *aspace.Aspace, base, end uint64, flags ptable.Pte) defs.Err_t {
	if end <= base {
		return defs.EOK
	}
	v := vmo.FromRange(base, end)
	return as.Map(v, 0, sysconf.VPN(base), v.PageCount(), flags)
}

// kernelAspaceInit builds KERNEL_ASPACE: one identity mapping per
// Layout range, with the supervisor sum bit left for the assembly entry
// stub to set in sstatus (spec.md §4.4 -- "set during kernel_aspace_init
// and left on" describes a CSR write this Go layer cannot itself issue).
func kernelAspaceInit(l Layout) (*aspace.Aspace, defs.Err_t) {
	as, err := aspace.New()
	if err != defs.EOK {
		return nil, err
	}
	ranges := []struct {
		base, end uint64
		flags     ptable.Pte
	}{
		{l.Text, l.EText, ptable.PteR | ptable.PteX},
		{l.Rodata, l.ERodata, ptable.PteR},
		{l.Data, l.EData, ptable.PteR | ptable.PteW},
		{l.KStackBase, l.KStackEnd, ptable.PteR | ptable.PteW},
		{l.Bss, l.EBss, ptable.PteR | ptable.PteW},
		{l.FrameRegion, l.EFrameRegion, ptable.PteR | ptable.PteW},
	}
	for _, r := range ranges {
		if merr := identityMap(as, r.base, r.end, r.flags); merr != defs.EOK {
			as.Close()
			return nil, merr
		}
	}
	if l.ETrampoline > l.Trampoline {
		vmo.InitTrampoline(l.Trampoline, l.ETrampoline)
		if merr := as.Map(vmo.Trampoline, 0, sysconf.TrampolineVPN, 1, ptable.PteR|ptable.PteX); merr != defs.EOK {
			as.Close()
			return nil, merr
		}
	}
	return as, defs.EOK
}

// Kernel bundles the singletons New wires up: KERNEL_ASPACE and the
// task manager. The frame and pid allocators are package-level
// singletons inside frame and pid respectively and need no handle here.
type Kernel struct {
	Aspace  *aspace.Aspace
	Manager *task.Manager
}

var _ trap.Handler = (*Kernel)(nil)

// New performs the boot sequence's middle steps (spec.md §2, §9's
// init-order note): kernel address space, then task manager. The
// caller is responsible for having already installed an sbi.Backend
// and, where used, a scall clock (both assembly/firmware-provided on
// real hardware, installed by a test harness otherwise) before calling
// Boot.
func New(l Layout) (*Kernel, defs.Err_t) {
	as, err := kernelAspaceInit(l)
	if err != defs.EOK {
		return nil, err
	}
	return &Kernel{Aspace: as, Manager: task.NewManager(as)}, defs.EOK
}

// Boot loads every embedded app and hands control to switch_task,
// completing spec.md §2's control flow description ("it then loads
// every embedded ELF, seeds ready tasks, and relinquishes CPU to
// switch_task"). On a freestanding build this call never returns
// because the CPU keeps re-entering trap_handler via hardware traps;
// in this hosted tree it returns once the first task has been picked,
// since there is no CPU executing user code to generate further traps.
func (k *Kernel) Boot(apps map[string][]byte, priority uint) defs.Err_t {
	klog.Info(fmt.Sprintf("kernel: launching %d app(s)", len(apps)))
	return k.Manager.Launch(apps, priority)
}

// Syscall implements trap.Handler by dispatching the current task's
// pending ecall through scall's table (spec.md §4.9's ecall case).
func (k *Kernel) Syscall() {
	t := k.Manager.Current()
	if t == nil {
		klog.Fatal("kernel: ecall trap with no current task")
		return
	}
	klog.WithFields(klog.Fields{"pid": t.Pid(), "num": t.TrapCx.X[17]}).
		Debug("syscall: " + scall.Name(t.TrapCx.X[17]))
	scall.Dispatch(k.Manager, t)
}

// Fault implements trap.Handler by logging and terminating the current
// task (spec.md §4.9, §7). code is the raw bytes at the faulting pc
// when the caller has them (used for disasm's instruction dump); it may
// be nil.
func (k *Kernel) Fault(cause trap.Cause, pc uint64, code []byte) {
	t := k.Manager.Current()
	if t == nil {
		klog.Fatal(fmt.Sprintf("kernel: %s with no current task, pc=0x%x", cause, pc))
		return
	}
	k.Manager.HandleFault(t, cause, pc, code)
}

// Preempt implements trap.Handler's timer-interrupt path: reprogram the
// next deadline, then run the single scheduling point (spec.md §4.9,
// §5's "timer interrupt path is equivalent to a voluntary yield").
func (k *Kernel) Preempt() {
	nextDeadline(sysconf.TimeSliceMillis)
	k.Manager.SwitchTask()
}

// cyclesPerMilli converts nextDeadline's millisecond slice into the
// cycle count passed to sbi.SetTimer, kept separate from sbi itself because the
// cycles-per-millisecond ratio is a platform constant, not part of the
// SBI contract (spec.md §6 only specifies set_timer's argument as an
// opaque "deadline_cycles").
var cyclesPerMilli uint64 = 10_000_000 // a common QEMU virt platform's clint frequency / 1000

// SetCyclesPerMilli lets a freestanding build's boot code (which reads
// the real platform frequency from the device tree) or a test install
// the conversion ratio nextDeadline uses.
func SetCyclesPerMilli(c uint64) { cyclesPerMilli = c }

func nextDeadline(millis uint64) {
	// The actual ecall into firmware lives in the sbi package; kernel
	// only computes the deadline argument, since sbi has no notion of
	// "now" (its Backend hook only issues the call, spec.md §6).
	sbiSetTimer(currentCycles() + millis*cyclesPerMilli)
}

// currentCycles and sbiSetTimer are indirections over sbi.SetTimer and
// whatever reads the current cycle counter, installed exactly like
// sbi.Backend so this package stays testable without a real CLINT.
var currentCycles func() uint64 = func() uint64 { return 0 }
var sbiSetTimer func(uint64) = func(uint64) {}

// SetTimerHooks installs the cycle-counter reader and the SBI set_timer
// call a freestanding build's kernel entry point provides (sbi.SetTimer
// satisfies the second directly); a test can install small fakes to
// assert on reprogrammed deadlines without a real timer.
func SetTimerHooks(cycles func() uint64, setTimer func(uint64)) {
	currentCycles = cycles
	sbiSetTimer = setTimer
}

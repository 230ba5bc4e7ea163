// Package task is the task manager (spec.md §4.8): the process table,
// ready queue, current/last task slots, and the single scheduling point
// switch_task. Grounded on the teacher's tinfo.Threadinfo_t
// (Current/SetCurrent/ClearCurrent naming for the running-task slot)
// generalized from one-slot-per-OS-thread to this kernel's single-hart
// current/last/ready_tasks model, and on caller.Distinct_caller_t
// (caller/caller.go) for deduplicating repeated fault log lines.
package task

import (
	"fmt"
	"sync"

	"accnt"
	"aspace"
	"caller"
	"defs"
	"disasm"
	"elf"
	"klog"
	"pid"
	"ptable"
	"sbi"
	"sched"
	"sysconf"
	"trap"
	"vmo"
)

// Status is a task's scheduling state (spec.md §3).
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	default:
		return "exited"
	}
}

// Task bundles everything spec.md §3 lists: PID handle, kernel stack
// (inside PidH), trap-context pointer, owned address space, status,
// priority and scheduler-private data. TrapCx stands in for the
// mapped trap-context page's contents: a freestanding build backs this
// with the bytes of the page mapped at trapCxVaddr (trapCxVmo, for a task
// built by NewFromElf or Exec; a forked child's page is the copy
// ForkFrom made) instead of a plain Go struct, but nothing
// in this package's logic depends on which storage backs it.
type Task struct {
	mu sync.Mutex

	PidH   *pid.PidHandle
	Aspace *aspace.Aspace
	TrapCx *trap.TrapContext

	trapCxVmo   *vmo.Paged
	trapCxVaddr uint64

	kctx   trap.TaskContext
	status Status

	stride   sched.Stride
	priority uint
	acc      accnt.Accnt_t

	exitCode int
}

func (t *Task) StrideValue() uint64 { return t.stride.Value() }

func (t *Task) Priority() uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// SetPriority validates and updates priority (spec.md §4.7: set_priority
// rejects values < 2).
func (t *Task) SetPriority(p uint) defs.Err_t {
	if !sched.ValidPriority(p) {
		return defs.EINVAL
	}
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
	return defs.EOK
}

func (t *Task) Pid() defs.Pid_t {
	return t.PidH.Pid
}

// createUserAspace builds an empty address space with the trampoline
// and trap-context page spec.md §4.5 requires every user address space
// to contain, returning the trap context's virtual address.
func createUserAspace(kernelAspace *aspace.Aspace) (*aspace.Aspace, *vmo.Paged, uint64, defs.Err_t) {
	as, err := aspace.New()
	if err != defs.EOK {
		return nil, nil, 0, err
	}
	if merr := as.Map(vmo.Trampoline, 0, sysconf.TrampolineVPN, 1, ptable.PteR|ptable.PteX); merr != defs.EOK {
		as.Close()
		return nil, nil, 0, merr
	}
	cxVmo, verr := vmo.NewPaged(1)
	if verr != defs.EOK {
		as.Close()
		return nil, nil, 0, verr
	}
	if merr := as.Map(cxVmo, 0, sysconf.TrapCxVPN, 1, ptable.PteR|ptable.PteW); merr != defs.EOK {
		cxVmo.Close()
		as.Close()
		return nil, nil, 0, merr
	}
	_ = kernelAspace // the trampoline/trap-cx mapping above is identical in every address space; kernelAspace is taken for symmetry with pid.Alloc and future per-aspace kernel bookkeeping
	return as, cxVmo, sysconf.PageAddr(sysconf.TrapCxVPN), defs.EOK
}

// restoreEntry/trapHandlerEntry are placeholders for the addresses a
// freestanding build's linker assigns to __restore and trap_handler
// inside the trampoline page; tests never dereference them.
const (
	restoreEntry     = 0
	trapHandlerEntry = 0
)

// NewFromElf allocates a PID, builds a user address space, loads bin
// into it, and returns a Ready task (spec.md §4.10's loader feeding
// directly into a fresh task).
func NewFromElf(kernelAspace *aspace.Aspace, bin []byte, priority uint) (*Task, defs.Err_t) {
	ph, err := pid.Alloc(kernelAspace)
	if err != defs.EOK {
		return nil, err
	}
	as, cxVmo, cxVaddr, err := createUserAspace(kernelAspace)
	if err != defs.EOK {
		ph.Close()
		return nil, err
	}
	loaded, lerr := elf.Load(as, bin)
	if lerr != defs.EOK {
		as.Close()
		ph.Close()
		return nil, lerr
	}
	cx := trap.AppInit(loaded.Entry, loaded.UserSp, 0, kernelAspace.Token(), ph.Stack.BottomSp, trapHandlerEntry)
	return &Task{
		PidH:        ph,
		Aspace:      as,
		TrapCx:      &cx,
		trapCxVmo:   cxVmo,
		trapCxVaddr: cxVaddr,
		kctx:        trap.GotoRestore(restoreEntry),
		status:      StatusReady,
		priority:    priority,
	}, defs.EOK
}

// Close releases everything a task owns. Called once a task has fully
// exited and no manager slot references it any longer.
func (t *Task) Close() {
	t.Aspace.Close()
	t.PidH.Close()
}

// Switcher is the low-level kernel-to-kernel context switch,
// spec.md §9's __switch. Modeled as an installable hook the same way
// sbi.Backend models ecall: a freestanding build installs one that
// actually swaps stacks; tests install (or default to) one that just
// records the transition, since there is no second kernel stack to
// physically jump to in-process.
type Switcher interface {
	Switch(out, in *Task)
}

type noopSwitcher struct{}

func (noopSwitcher) Switch(out, in *Task) {}

var switcher Switcher = noopSwitcher{}

// SetSwitcher installs the context-switch hook.
func SetSwitcher(s Switcher) { switcher = s }

// Manager holds current/last/ready_tasks under one lock (spec.md §4.8).
type Manager struct {
	mu           sync.Mutex
	current      *Task
	last         *Task
	ready        []*Task
	kernelAspace *aspace.Aspace
	distinct     caller.DistinctCaller
	apps         map[string][]byte
}

// NewManager returns an empty manager bound to kernelAspace (used to
// place every task's kernel stack and as the satp every trap restores
// on entry).
func NewManager(kernelAspace *aspace.Aspace) *Manager {
	m := &Manager{kernelAspace: kernelAspace}
	m.distinct.Enabled = true
	return m
}

// Launch seeds the ready queue from apps (name -> ELF bytes) and
// performs the first switch_task, handing the CPU to whichever task the
// scheduler picks first. A freestanding build's kernel entry point
// keeps calling SwitchTask from the timer-interrupt path forever after
// this; Launch itself only seeds and performs that first handoff
// (spec.md §4.8's "never returns" describes the kernel's overall control
// flow, not a loop inside this function).
func (m *Manager) Launch(apps map[string][]byte, priority uint) defs.Err_t {
	m.mu.Lock()
	if m.apps == nil {
		m.apps = make(map[string][]byte, len(apps))
	}
	for name, bin := range apps {
		m.apps[name] = bin
	}
	m.mu.Unlock()

	for name, bin := range apps {
		t, err := NewFromElf(m.kernelAspace, bin, priority)
		if err != defs.EOK {
			klog.Error(fmt.Sprintf("task: failed to load %s: %v", name, err))
			continue
		}
		m.mu.Lock()
		m.ready = append(m.ready, t)
		m.mu.Unlock()
	}
	m.SwitchTask()
	return defs.EOK
}

// App looks up a previously embedded ELF image by the name it was
// registered under in Launch, the table exec(2) (spec.md §6) resolves
// against.
func (m *Manager) App(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bin, ok := m.apps[name]
	return bin, ok
}

func runnables(ts []*Task) []sched.Runnable {
	rs := make([]sched.Runnable, len(ts))
	for i, t := range ts {
		rs[i] = t
	}
	return rs
}

// SwitchTask is the single scheduling point (spec.md §4.8).
func (m *Manager) SwitchTask() {
	m.mu.Lock()

	out := m.current
	if out != nil {
		out.mu.Lock()
		out.stride.ProcTick(out.priority)
		if out.status == StatusRunning {
			out.status = StatusReady
			m.ready = append(m.ready, out)
		}
		out.mu.Unlock()
	}
	m.last = out
	m.current = nil

	idx := sched.PickNext(runnables(m.ready))
	if idx < 0 {
		m.mu.Unlock()
		klog.Info("task: no ready task remains, shutting down")
		sbi.Shutdown()
		return
	}
	next := m.ready[idx]
	m.ready = append(m.ready[:idx], m.ready[idx+1:]...)
	next.mu.Lock()
	next.status = StatusRunning
	next.mu.Unlock()
	m.current = next

	m.mu.Unlock()

	if out != next {
		switcher.Switch(out, next)
	}

	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
}

// ExitTask marks the current task Exited and switches away from it. It
// becomes unreachable once last is cleared by the next switch (spec.md
// §4.8); the caller is responsible for calling Close once it is safe to
// release the task's resources (a freestanding build does this from the
// same place it discovers a task is no longer referenced).
func (m *Manager) ExitTask(code int) {
	m.mu.Lock()
	if m.current != nil {
		m.current.mu.Lock()
		m.current.status = StatusExited
		m.current.exitCode = code
		m.current.mu.Unlock()
	}
	m.mu.Unlock()
	m.SwitchTask()
}

// Current returns the presently running task, or nil if none.
func (m *Manager) Current() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// NumReady reports the ready-queue length, used by tests.
func (m *Manager) NumReady() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// Fork creates a new task by duplicating parent's address space and
// trap context (spec.md §4.8's new_fork): the child's a0 register is
// zeroed so it observes 0 from fork's point of view, while the parent's
// a0 is left to the syscall dispatcher to fill in with the child pid.
func (m *Manager) Fork(parent *Task) (*Task, defs.Err_t) {
	ph, err := pid.Alloc(m.kernelAspace)
	if err != defs.EOK {
		return nil, err
	}
	// ForkFrom needs an empty target: it copies the parent's trampoline
	// and trap-context page mappings along with everything else.
	as, err := aspace.New()
	if err != defs.EOK {
		ph.Close()
		return nil, err
	}
	if ferr := as.ForkFrom(parent.Aspace); ferr != defs.EOK {
		as.Close()
		ph.Close()
		return nil, ferr
	}

	parent.mu.Lock()
	childCx := *parent.TrapCx
	parent.mu.Unlock()
	childCx.X[10] = 0
	childCx.KernelSp = ph.Stack.BottomSp

	child := &Task{
		PidH:        ph,
		Aspace:      as,
		TrapCx:      &childCx,
		trapCxVaddr: sysconf.PageAddr(sysconf.TrapCxVPN),
		kctx:        trap.GotoRestore(restoreEntry),
		status:      StatusReady,
		priority:    parent.Priority(),
	}

	m.mu.Lock()
	m.ready = append(m.ready, child)
	m.mu.Unlock()
	return child, defs.EOK
}

// Exec replaces t's address space with a freshly loaded program (spec.md
// §4.8). The old address space and trap-context VMO are released only
// after the new one is successfully built, so a failed exec leaves t
// running its previous program.
func (m *Manager) Exec(t *Task, bin []byte) defs.Err_t {
	newAs, cxVmo, cxVaddr, err := createUserAspace(m.kernelAspace)
	if err != defs.EOK {
		return err
	}
	loaded, lerr := elf.Load(newAs, bin)
	if lerr != defs.EOK {
		cxVmo.Close()
		newAs.Close()
		return lerr
	}

	t.mu.Lock()
	oldAs := t.Aspace
	t.Aspace = newAs
	t.trapCxVmo = cxVmo
	t.trapCxVaddr = cxVaddr
	t.TrapCx.Sepc = loaded.Entry
	t.TrapCx.X[2] = loaded.UserSp
	t.mu.Unlock()

	oldAs.Close()
	return defs.EOK
}

// ExecByName resolves name against the embedded app table and execs it
// into t, the name-based form sys_exec (spec.md §6) drives; unlike Exec
// it never touches t when name is unknown, returning ENOTFOUND instead.
func (m *Manager) ExecByName(t *Task, name string) defs.Err_t {
	bin, ok := m.App(name)
	if !ok {
		return defs.ENOTFOUND
	}
	return m.Exec(t, bin)
}

// HandleFault logs a diagnostic for a user-mode fault and terminates
// the offending task with exit code -1 (spec.md §4.9, §7). code is the
// raw bytes at the faulting pc, when available, for the disassembly
// context line; it may be nil.
func (m *Manager) HandleFault(t *Task, cause trap.Cause, pc uint64, code []byte) {
	if m.distinct.Seen(pc) {
		klog.WithFields(klog.Fields{"pid": t.Pid(), "pc": pc, "cause": cause.String()}).
			Debug("repeated fault at this pc suppressed")
	} else {
		fields := klog.Fields{"pid": t.Pid(), "pc": pc, "cause": cause.String()}
		if code != nil {
			fields["inst"] = disasm.Instruction(code, pc)
		}
		klog.WithFields(fields).Warn("user fault, terminating task")
	}
	m.ExitTask(-1)
}

// Backtrace returns the calling Go stack, used when a kernel-side
// invariant violation is about to become a klog.Fatal (spec.md §7's
// "kernel-level corruption is fatal" path).
func Backtrace() string {
	return caller.Dump(1)
}

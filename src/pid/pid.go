// Package pid is the PID allocator and per-PID kernel stack (spec.md
// §4.6). Grounded on the teacher's singleton+mutex pattern (mem.Physmem_t
// in mem/mem.go, accnt's package-level lock) generalized to a small
// integer namespace with a recycled-slot vector instead of biscuit's
// reference-counted physical pages.
package pid

import (
	"sync"

	"aspace"
	"defs"
	"ptable"
	"sysconf"
	"vmo"
)

type allocator struct {
	mu        sync.Mutex
	current   defs.Pid_t
	recycled  []defs.Pid_t
}

var a = &allocator{current: 1}

// KernelStack is the contiguous, aligned region backing one task's
// kernel-mode execution. BottomSp is the highest address (the initial
// stack pointer); InitSp is BottomSp minus one TaskContext, the value a
// never-yet-run task's saved stack pointer starts at (spec.md §3).
type KernelStack struct {
	BottomSp uint64
	InitSp   uint64
}

// PidHandle owns one PID and the kernel stack mapped for it. Close
// unmaps the stack from the kernel address space and returns the PID to
// the recycled pool (spec.md §3's PidHandle invariant: distinct live
// handles always hold distinct values).
type PidHandle struct {
	Pid   defs.Pid_t
	Stack KernelStack

	kernelAspace *aspace.Aspace
	stackVmo     *vmo.Paged
	baseVpn      uint64
	pageCount    int
}

func allocPid() defs.Pid_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		p := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return p
	}
	p := a.current
	a.current++
	return p
}

func freePid(p defs.Pid_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recycled = append(a.recycled, p)
}

// taskContextSize is the size, in bytes, of the callee-saved register
// save area a kernel-to-kernel switch writes just below BottomSp (ra
// plus s0-s11, matching RISC-V's callee-saved set: 13 8-byte words).
const taskContextSize = 13 * 8

// Alloc assigns a fresh PID and maps its kernel stack into
// kernelAspace at the deterministic slot spec.md §4.6 describes:
// T.addr() - (KSTACK+PAGE_SIZE)*(pid+1), leaving one guard page below
// the stack before the next (higher-numbered) pid's slot begins.
func Alloc(kernelAspace *aspace.Aspace) (*PidHandle, defs.Err_t) {
	p := allocPid()

	trampolineAddr := sysconf.PageAddr(sysconf.TrampolineVPN)
	slotSize := uint64(sysconf.KernelStackSize + sysconf.PageSize)
	base := trampolineAddr - slotSize*(uint64(p)+1)
	stackBottom := base + sysconf.PageSize // skip the guard page

	pageCount := sysconf.KernelStackSize / sysconf.PageSize
	v, err := vmo.NewPaged(pageCount)
	if err != defs.EOK {
		freePid(p)
		return nil, err
	}

	baseVpn := stackBottom >> sysconf.PageShift
	if merr := kernelAspace.Map(v, 0, baseVpn, pageCount, ptable.PteR|ptable.PteW); merr != defs.EOK {
		v.Close()
		freePid(p)
		return nil, merr
	}

	top := stackBottom + sysconf.KernelStackSize
	return &PidHandle{
		Pid: p,
		Stack: KernelStack{
			BottomSp: top,
			InitSp:   top - taskContextSize,
		},
		kernelAspace: kernelAspace,
		stackVmo:     v,
		baseVpn:      baseVpn,
		pageCount:    pageCount,
	}, defs.EOK
}

// Close unmaps the kernel stack and returns the PID for reuse.
func (h *PidHandle) Close() {
	if h == nil {
		return
	}
	h.kernelAspace.Unmap(h.baseVpn, h.pageCount, false)
	h.stackVmo.Close()
	freePid(h.Pid)
}

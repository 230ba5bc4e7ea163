// Package scall is the syscall ABI dispatch table (spec.md §6): it
// marshals a7/a0-a2 out of a task's trap context, routes to the named
// handler, and places the signed result back into a0 exactly as
// trap_handler's ecall path describes. Grounded on the teacher's
// fdops package (a narrow interface table dispatched on from a process's
// fd, rather than one giant switch spread across the kernel) generalized
// from "table of fd operations" to "table of syscall numbers", and on
// util.Readn/Writen for the fixed little-endian struct layouts crossing
// the user boundary (timeval).
package scall

import (
	"fmt"

	"aspace"
	"defs"
	"klog"
	"ptable"
	"sbi"
	"sysconf"
	"task"
	"vmo"
)

// Syscall numbers, spec.md §6's ABI table.
const (
	SysWrite        = 64
	SysExit         = 93
	SysYield        = 124
	SysSetPriority  = 140
	SysGetTime      = 169
	SysMunmap       = 215
	SysFork         = 220
	SysExec         = 221
	SysMmap         = 222
)

// clockMillis is the monotonic millisecond counter sys_get_time reads
// (spec.md §6: "derived from a monotonically non-decreasing millisecond
// counter"). A freestanding build installs one backed by the CLINT
// mtime register (the same source sbi.SetTimer's deadlines are computed
// against); tests install a fake one so sleep-style tests don't need
// real wall-clock time to pass.
var clockMillis func() uint64 = func() uint64 { return 0 }

// SetClock installs the millisecond counter sys_get_time reads from.
func SetClock(f func() uint64) { clockMillis = f }

// Dispatch marshals t's pending syscall out of its trap context (a7
// selects the call, a0-a2 are its arguments), runs it, and writes the
// signed result back into a0 -- the complete contract spec.md §4.9's
// "User ecall" case and spec.md §6's ABI table describe. The caller
// (trap dispatch) is responsible for having already advanced sepc by 4
// before calling Dispatch, since a restarted ecall instruction would
// otherwise re-issue the same call forever.
func Dispatch(m *task.Manager, t *task.Task) {
	num := t.TrapCx.X[17]
	a0 := t.TrapCx.X[10]
	a1 := t.TrapCx.X[11]
	a2 := t.TrapCx.X[12]

	var ret int64
	switch num {
	case SysWrite:
		ret = sysWrite(t, a0, a1, a2)
	case SysExit:
		sysExit(m, t, a0)
		return // t has exited; nothing left to write a0 into
	case SysYield:
		ret = sysYield(m)
	case SysSetPriority:
		ret = sysSetPriority(t, a0)
	case SysGetTime:
		ret = sysGetTime(t, a0)
	case SysMunmap:
		ret = sysMunmap(t, a0, a1)
	case SysFork:
		ret = sysFork(m, t)
	case SysExec:
		ret = sysExec(m, t, a0)
	case SysMmap:
		ret = sysMmap(t, a0, a1, a2)
	default:
		klog.WithFields(klog.Fields{"pid": t.Pid(), "num": num}).Warn("syscall: unknown number")
		ret = int64(defs.EINVAL)
	}
	t.TrapCx.X[10] = uint64(ret)
}

// sysWrite implements fd 1 (stdout) by copying len bytes from buf_vaddr
// out of t's user address space and feeding them to the firmware
// console one byte at a time (spec.md §6's write row); any other fd is
// unsupported in this kernel (no filesystem, spec.md §1's Non-goals).
func sysWrite(t *task.Task, fd, bufVaddr, length uint64) int64 {
	if fd != 1 {
		return int64(defs.EINVAL)
	}
	buf := make([]byte, length)
	n := t.Aspace.Read(bufVaddr, buf, true)
	for _, c := range buf[:n] {
		sbi.ConsolePutChar(c)
	}
	if n == 0 && length != 0 {
		return int64(defs.EFAULT)
	}
	return int64(n)
}

// sysExit terminates t with the given exit code and never returns a
// result to it (spec.md §6: exit "never returns").
func sysExit(m *task.Manager, t *task.Task, code uint64) {
	klog.WithFields(klog.Fields{"pid": t.Pid(), "code": int64(code)}).Info("task exited")
	m.ExitTask(int(int64(code)))
}

// sysYield is the voluntary counterpart of the timer-interrupt
// preemption path; spec.md §5 treats the two as equivalent with respect
// to the scheduler, so both simply call switch_task.
func sysYield(m *task.Manager) int64 {
	m.SwitchTask()
	return 0
}

// sysSetPriority validates and applies a new priority, returning the
// applied value or defs.EINVAL (spec.md §6, exercised by the priority_test
// scenario in spec.md §8: 10 and isize::MAX succeed, 0/1/-10 fail).
func sysSetPriority(t *task.Task, raw uint64) int64 {
	signed := int64(raw)
	if signed < 0 {
		return int64(defs.EINVAL)
	}
	p := uint(signed)
	if err := t.SetPriority(p); err != defs.EOK {
		return int64(defs.EINVAL)
	}
	return signed
}

// timeval mirrors spec.md §6's two-field {sec, usec} struct, written
// out in the fixed little-endian layout every user-visible struct in
// this kernel uses (matching util.Writen's byte order).
type timeval struct {
	Sec  uint64
	Usec uint64
}

func (tv timeval) bytes() []byte {
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(tv.Sec >> (8 * uint(i)))
		b[8+i] = byte(tv.Usec >> (8 * uint(i)))
	}
	return b[:]
}

// sysGetTime writes the current wall-clock reading into the user
// buffer at vaddr, returning 0 on success or defs.EFAULT if the pointer
// can't be written in full (spec.md §6).
func sysGetTime(t *task.Task, vaddr uint64) int64 {
	ms := clockMillis()
	tv := timeval{Sec: ms / 1000, Usec: (ms % 1000) * 1000}
	b := tv.bytes()
	if n := t.Aspace.Write(vaddr, b, true); n != len(b) {
		return int64(defs.EFAULT)
	}
	return 0
}

// sysMunmap requires start page-aligned and an exact match to a
// previously mmap'd user range, unmapping it and returning the byte
// count or a negative defs error code (spec.md §6).
func sysMunmap(t *task.Task, start, length uint64) int64 {
	if !sysconf.PageAligned(start) {
		return int64(defs.EINVAL)
	}
	pages := (int(length) + sysconf.PageSize - 1) / sysconf.PageSize
	if pages <= 0 {
		return int64(defs.EINVAL)
	}
	if err := t.Aspace.Unmap(sysconf.VPN(start), pages, true); err != defs.EOK {
		return int64(err)
	}
	return int64(length)
}

// sysFork duplicates t into a new child task; the parent observes the
// child's pid (returned here, written to the parent's a0 by Dispatch),
// the child observes 0 (task.Manager.Fork already zeroes the child's
// a0 directly in its trap context) (spec.md §6, §8's fork_test).
func sysFork(m *task.Manager, t *task.Task) int64 {
	child, err := m.Fork(t)
	if err != defs.EOK {
		return int64(err)
	}
	return int64(child.Pid())
}

// sysExec reads a NUL-terminated name out of user memory and replaces
// t's program image with the matching embedded app, or fails with a
// negative code (defs.ENOTFOUND for an unknown name, defs.EFAULT for an
// unreadable one) without otherwise disturbing the caller (spec.md §6,
// §8's exec_test).
func sysExec(m *task.Manager, t *task.Task, nameVaddr uint64) int64 {
	name, ok := readCString(t.Aspace, nameVaddr, sysconf.MaxAppName)
	if !ok {
		return int64(defs.EFAULT)
	}
	if err := m.ExecByName(t, name); err != defs.EOK {
		return int64(err)
	}
	return 0
}

// readCString copies at most max bytes starting at vaddr out of as and
// returns the prefix up to (not including) the first NUL byte. ok is
// false if no NUL was found within max bytes or the pointer couldn't be
// read at all.
func readCString(as *aspace.Aspace, vaddr uint64, max int) (string, bool) {
	buf := make([]byte, max)
	n := as.Read(vaddr, buf, true)
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// sysMmap allocates a fresh zeroed Paged VMO and maps it at start with
// the requested protection, failing if start isn't page-aligned, prot
// is empty, or the range overlaps an existing mapping (spec.md §6's
// mmap row, exercised by §8's mmap0/mmap1 scenarios).
func sysMmap(t *task.Task, start, length, prot uint64) int64 {
	if !sysconf.PageAligned(start) {
		return int64(defs.EINVAL)
	}
	perm := defs.MmapProt(int(prot))
	if perm&(defs.PermR|defs.PermW|defs.PermX) == 0 {
		return int64(defs.EINVAL)
	}
	pages := (int(length) + sysconf.PageSize - 1) / sysconf.PageSize
	if pages <= 0 {
		return int64(defs.EINVAL)
	}
	v, verr := vmo.NewPaged(pages)
	if verr != defs.EOK {
		return int64(verr)
	}
	flags := ptable.FlagsFromPerm(perm)
	if err := t.Aspace.Map(v, 0, sysconf.VPN(start), pages, flags); err != defs.EOK {
		v.Close()
		return int64(err)
	}
	return int64(length)
}

// Name renders a syscall number as the mnemonic spec.md §6 uses, for
// log lines.
func Name(num uint64) string {
	switch num {
	case SysWrite:
		return "write"
	case SysExit:
		return "exit"
	case SysYield:
		return "yield"
	case SysSetPriority:
		return "set_priority"
	case SysGetTime:
		return "get_time"
	case SysMunmap:
		return "munmap"
	case SysFork:
		return "fork"
	case SysExec:
		return "exec"
	case SysMmap:
		return "mmap"
	default:
		return fmt.Sprintf("unknown(%d)", num)
	}
}

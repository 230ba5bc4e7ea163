// Package accnt accumulates per-task CPU usage. Kept and adapted from the
// teacher's accnt/accnt.go: the nanosecond user/sys counters and the
// Add/Finish API survive unchanged; To_rusage (which served the Linux
// rusage syscall, out of scope here) is replaced by Snapshot, whose
// result type is what the diag package's pprof export takes per task.
// sys_get_time reads its own millisecond clock, not these counters.
package accnt

import (
	"sync"
	"sync/atomic"
)

// Accnt_t accumulates user- and system-time nanoseconds for one task.
// The embedded mutex lets Snapshot and Add take a consistent view while
// Utadd/Systadd stay lock-free. Nothing in the trap path calls
// Utadd/Systadd, so a task's counters stay at zero.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds of user-mode execution.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds of kernel-mode execution.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Finish adds the elapsed time since startNs (nanoseconds, monotonic) to
// the system-time counter. Called when a task exits so its final trap's
// kernel-side work is still accounted for.
func (a *Accnt_t) Finish(startNs, nowNs int64) {
	a.Systadd(nowNs - startNs)
}

// Add merges n's counters into a, used when a parent's accounting must
// fold in a reaped child's (kept for parity with the teacher's API; this
// kernel has no wait()/reap path in scope, but fork bookkeeping still
// wants a cheap way to seed a child's counters at zero from a shared
// helper rather than duplicating the lock dance).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// Snapshot is a consistent point-in-time read of the counters.
type Snapshot struct {
	UserNs int64
	SysNs  int64
}

func (a *Accnt_t) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{UserNs: a.Userns, SysNs: a.Sysns}
}

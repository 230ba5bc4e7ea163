// Package sched implements the stride scheduler (spec.md §4.7): each
// ready task carries a single wrapping stride counter; the scheduler
// always picks the task with the least accumulated stride, tolerating
// unsigned wraparound via a signed-difference comparator.
package sched

import "sysconf"

// Stride is one task's scheduler-private data (spec.md §3's sched_data).
type Stride struct {
	value uint64
}

// Runnable is anything the scheduler can compare and tick. Task provides
// this by embedding a *Stride and a priority.
type Runnable interface {
	StrideValue() uint64
	Priority() uint
}

// PickNext returns the index into ready of the task with minimum
// accumulated stride, using the signed-difference comparator
// (min-stride) as-signed > 0 so wraparound never causes a stale task to
// look smaller forever. Returns -1 if ready is empty.
func PickNext(ready []Runnable) int {
	if len(ready) == 0 {
		return -1
	}
	best := 0
	min := ready[0].StrideValue()
	for i := 1; i < len(ready); i++ {
		s := ready[i].StrideValue()
		if int64(min-s) > 0 {
			min = s
			best = i
		}
	}
	return best
}

// clampPriority enforces spec.md §4.7's priority domain: unsigned, at
// least 2, so MAX/priority can never divide by zero or overflow.
func clampPriority(p uint) uint {
	if p < 2 {
		return 2
	}
	return p
}

// ProcTick advances s by MAX/priority, run on every time-slice boundary
// and every voluntary yield.
func (s *Stride) ProcTick(priority uint) {
	s.value += uint64(sysconf.StrideMax) / uint64(clampPriority(priority))
}

// Value returns the current stride, satisfying part of Runnable for
// callers that want the raw counter without a full Task.
func (s *Stride) Value() uint64 { return s.value }

// ValidPriority reports whether p is an acceptable argument to
// set_priority (spec.md §4.7: priorities are unsigned integers >= 2).
func ValidPriority(p uint) bool { return p >= 2 }

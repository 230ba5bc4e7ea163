// Package diag exports scheduler and accounting state as a pprof
// profile so the CPU-time ratio between tasks (spec.md §8's scheduler
// fairness property) can be inspected with any standard pprof viewer
// instead of ad hoc logging. Uses github.com/google/pprof/profile, a
// direct dependency of the teacher's go.mod.
package diag

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"accnt"
)

// TaskSample is the minimal view of one task diag needs: identity, its
// accounting snapshot, and its current stride (spec.md §4.7/§4.8).
type TaskSample struct {
	Pid    int
	Status string
	Stride uint64
	Acc    accnt.Snapshot
}

// Export builds a pprof profile with one sample per task, valued by
// user-mode and system-mode nanoseconds, so a flame-graph-style viewer
// groups CPU time by task the same way it would group it by call stack.
func Export(samples []TaskSample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "cpu-user", Unit: "nanoseconds"},
			{Type: "cpu-sys", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
	}

	funcs := make(map[int]*profile.Function)
	locs := make(map[int]*profile.Location)
	var nextID uint64 = 1

	for _, s := range samples {
		fn, ok := funcs[s.Pid]
		if !ok {
			fn = &profile.Function{
				ID:   nextID,
				Name: fmt.Sprintf("pid=%d status=%s stride=%d", s.Pid, s.Status, s.Stride),
			}
			nextID++
			funcs[s.Pid] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locs[s.Pid]
		if !ok {
			loc = &profile.Location{
				ID:   nextID,
				Line: []profile.Line{{Function: fn}},
			}
			nextID++
			locs[s.Pid] = loc
			p.Location = append(p.Location, loc)
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Acc.UserNs, s.Acc.SysNs},
		})
	}
	return p
}

// Write validates and serializes the profile built from samples,
// writing the standard gzip-compressed pprof wire format to w.
func Write(w io.Writer, samples []TaskSample) error {
	p := Export(samples)
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}

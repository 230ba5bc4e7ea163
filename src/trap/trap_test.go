package trap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"klog"
)

func init() {
	klog.InitWriter(new(bytes.Buffer))
}

type fakeHandler struct {
	syscalls  int
	faults    []Cause
	preempts  int
}

func (f *fakeHandler) Syscall()                             { f.syscalls++ }
func (f *fakeHandler) Fault(cause Cause, pc uint64, code []byte) { f.faults = append(f.faults, cause) }
func (f *fakeHandler) Preempt()                              { f.preempts++ }

func TestDispatchEcallAdvancesSepcAndCallsSyscall(t *testing.T) {
	cx := &TrapContext{Sepc: 0x1000}
	h := &fakeHandler{}
	Dispatch(h, cx, CauseUserEcall, false, 0, nil)
	require.Equal(t, uint64(0x1004), cx.Sepc)
	require.Equal(t, 1, h.syscalls)
}

func TestDispatchTimerCallsPreempt(t *testing.T) {
	cx := &TrapContext{}
	h := &fakeHandler{}
	Dispatch(h, cx, CauseTimerInterrupt, false, 0, nil)
	require.Equal(t, 1, h.preempts)
}

func TestDispatchUserFaultCallsFault(t *testing.T) {
	cx := &TrapContext{Sepc: 0x2000}
	h := &fakeHandler{}
	Dispatch(h, cx, CausePageFault, false, 0x3000, nil)
	require.Equal(t, []Cause{CausePageFault}, h.faults)
}

func TestDispatchSupervisorTrapIsFatal(t *testing.T) {
	cx := &TrapContext{}
	h := &fakeHandler{}
	require.Panics(t, func() {
		Dispatch(h, cx, CauseUserEcall, true, 0, nil)
	})
	require.Zero(t, h.syscalls)
}

func TestAppInitSeedsStackAndEntry(t *testing.T) {
	cx := AppInit(0x1000, 0x2000, 0, 0x8000000000000001, 0x3000, 0x4000)
	require.Equal(t, uint64(0x2000), cx.X[2])
	require.Equal(t, uint64(0x1000), cx.Sepc)
	require.Equal(t, uint64(0x3000), cx.KernelSp)
}

func TestGotoRestoreSetsReturnAddress(t *testing.T) {
	tc := GotoRestore(0xdead)
	require.Equal(t, uint64(0xdead), tc.Ra)
	for _, s := range tc.S {
		require.Zero(t, s)
	}
}

func TestCauseFatalClassification(t *testing.T) {
	require.False(t, CauseUserEcall.Fatal(false))
	require.False(t, CausePageFault.Fatal(false))
	require.True(t, CausePageFault.Fatal(true))
	require.True(t, CauseOther.Fatal(false))
}

func TestCauseString(t *testing.T) {
	require.Equal(t, "page fault", CausePageFault.String())
	require.Equal(t, "other", CauseOther.String())
}

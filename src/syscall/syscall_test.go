package scall

import (
	"bytes"
	dbgelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"aspace"
	"defs"
	"klog"
	"sysconf"
	"task"
	"vmo"
)

func init() {
	vmo.InitTrampoline(0, uint64(sysconf.PageSize))
	klog.InitWriter(new(bytes.Buffer))
}

// buildExec assembles the smallest ELF64 RISC-V EXEC task.NewFromElf
// will accept: one PT_LOAD segment holding code at vaddr.
func buildExec(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phsize

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(dbgelf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	require.Equal(t, ehsize, buf.Len())

	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(dbgelf.PF_R|dbgelf.PF_X))
	binary.Write(&buf, binary.LittleEndian, dataOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint64(sysconf.PageSize))

	buf.Write(code)
	return buf.Bytes()
}

// newTask builds a fresh manager, launches one task into it and returns
// that task as the manager's current task, the harness every test in
// this file starts from.
func newTask(t *testing.T) (*task.Manager, *task.Task) {
	t.Helper()
	ka, err := aspace.New()
	require.Equal(t, defs.EOK, err)
	m := task.NewManager(ka)
	bin := buildExec(t, 0x10000, []byte{0x73, 0x00, 0x00, 0x00})
	require.Equal(t, defs.EOK, m.Launch(map[string][]byte{"app": bin}, 2))
	tsk := m.Current()
	require.NotNil(t, tsk)
	return m, tsk
}

// asArg reproduces the bit pattern a signed isize argument arrives as
// in a trap-context register: sys_set_priority(-10) really means a0
// holds uint64(int64(-10)).
func asArg(v int64) uint64 { return uint64(v) }

func TestSetPriorityMatchesSpecScenario(t *testing.T) {
	_, tsk := newTask(t)

	require.Equal(t, int64(10), sysSetPriority(tsk, asArg(10)))
	require.Equal(t, int64(1<<62), sysSetPriority(tsk, asArg(1<<62)))
	require.Equal(t, int64(defs.EINVAL), sysSetPriority(tsk, asArg(0)))
	require.Equal(t, int64(defs.EINVAL), sysSetPriority(tsk, asArg(1)))
	require.Equal(t, int64(defs.EINVAL), sysSetPriority(tsk, asArg(-10)))
}

func TestMmapThenMunmapRoundTrip(t *testing.T) {
	_, tsk := newTask(t)

	const start = uint64(0x10000000)
	const length = uint64(sysconf.PageSize)
	require.Equal(t, int64(length), sysMmap(tsk, start, length, uint64(defs.PermR|defs.PermW)))

	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.Equal(t, int(length), tsk.Aspace.Write(start, buf, true))

	out := make([]byte, length)
	require.Equal(t, int(length), tsk.Aspace.Read(start, out, true))
	require.Equal(t, buf, out)

	require.Equal(t, int64(length), sysMunmap(tsk, start, length))
	require.Equal(t, int64(defs.ENOTFOUND), sysMunmap(tsk, start, length))
}

func TestMmapRejectsUnalignedStart(t *testing.T) {
	_, tsk := newTask(t)
	require.Equal(t, int64(defs.EINVAL), sysMmap(tsk, 1, uint64(sysconf.PageSize), uint64(defs.PermR)))
}

func TestMmapRejectsEmptyProt(t *testing.T) {
	_, tsk := newTask(t)
	require.Equal(t, int64(defs.EINVAL), sysMmap(tsk, 0x10000000, uint64(sysconf.PageSize), 0))
}

func TestMmapRejectsOverlap(t *testing.T) {
	_, tsk := newTask(t)
	const start = uint64(0x10000000)
	require.Equal(t, int64(sysconf.PageSize), sysMmap(tsk, start, uint64(sysconf.PageSize), uint64(defs.PermR)))
	require.Equal(t, int64(defs.EOVERLAP), sysMmap(tsk, start, uint64(sysconf.PageSize), uint64(defs.PermR)))
}

func TestGetTimeWritesTimeval(t *testing.T) {
	_, tsk := newTask(t)
	SetClock(func() uint64 { return 3500 })
	defer SetClock(func() uint64 { return 0 })

	const vaddr = uint64(0x20000000)
	require.Equal(t, int64(sysconf.PageSize), sysMmap(tsk, vaddr, uint64(sysconf.PageSize), uint64(defs.PermR|defs.PermW)))
	require.Equal(t, int64(0), sysGetTime(tsk, vaddr))

	var buf [16]byte
	require.Equal(t, 16, tsk.Aspace.Read(vaddr, buf[:], true))
	require.Equal(t, uint64(3), binary.LittleEndian.Uint64(buf[0:8]))
	require.Equal(t, uint64(500000), binary.LittleEndian.Uint64(buf[8:16]))
}

func TestWriteRejectsNonStdoutFd(t *testing.T) {
	_, tsk := newTask(t)
	require.Equal(t, int64(defs.EINVAL), sysWrite(tsk, 2, 0, 0))
}

func TestExecUnknownNameFails(t *testing.T) {
	m, tsk := newTask(t)
	const vaddr = uint64(0x30000000)
	name := []byte("non_exist\x00")
	require.Equal(t, int64(sysconf.PageSize), sysMmap(tsk, vaddr, uint64(sysconf.PageSize), uint64(defs.PermR|defs.PermW)))
	require.Equal(t, len(name), tsk.Aspace.Write(vaddr, name, true))

	require.Equal(t, int64(defs.ENOTFOUND), sysExec(m, tsk, vaddr))
}

func TestForkReturnsPositivePidToParent(t *testing.T) {
	m, tsk := newTask(t)
	tsk.TrapCx.X[10] = 77

	ret := sysFork(m, tsk)
	require.Greater(t, ret, int64(0))
}

func TestDispatchRoutesYieldAndWritesA0(t *testing.T) {
	m, tsk := newTask(t)
	tsk.TrapCx.X[17] = SysYield
	tsk.TrapCx.X[10] = 0xdead

	Dispatch(m, tsk)
	require.Equal(t, uint64(0), tsk.TrapCx.X[10])
}

func TestDispatchRoutesSetPriorityAndWritesA0(t *testing.T) {
	m, tsk := newTask(t)
	tsk.TrapCx.X[17] = SysSetPriority
	tsk.TrapCx.X[10] = 7

	Dispatch(m, tsk)
	require.Equal(t, uint64(7), tsk.TrapCx.X[10])
	require.Equal(t, uint(7), tsk.Priority())
}

func TestDispatchUnknownNumberReturnsInvalid(t *testing.T) {
	m, tsk := newTask(t)
	tsk.TrapCx.X[17] = 999

	Dispatch(m, tsk)
	require.Equal(t, uint64(asArg(int64(defs.EINVAL))), tsk.TrapCx.X[10])
}

func TestNameRendersMnemonics(t *testing.T) {
	require.Equal(t, "write", Name(SysWrite))
	require.Equal(t, "fork", Name(SysFork))
	require.Contains(t, Name(12345), "unknown")
}

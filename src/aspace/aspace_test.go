package aspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
	"ptable"
	"sysconf"
	"vmo"
)

func TestMapWriteReadRoundTrip(t *testing.T) {
	as, err := New()
	require.Equal(t, defs.EOK, err)
	defer as.Close()

	v, err := vmo.NewPaged(1)
	require.Equal(t, defs.EOK, err)

	const baseVpn = 0x100
	require.Equal(t, defs.EOK, as.Map(v, 0, baseVpn, 1, ptable.PteR|ptable.PteW|ptable.PteU))

	vaddr := baseVpn * sysconf.PageSize
	in := []byte("hello, address space")
	n := as.Write(uint64(vaddr), in, true)
	require.Equal(t, len(in), n)

	out := make([]byte, len(in))
	n = as.Read(uint64(vaddr), out, true)
	require.Equal(t, len(in), n)
	require.Equal(t, in, out)
}

func TestMapOverlapRejected(t *testing.T) {
	as, err := New()
	require.Equal(t, defs.EOK, err)
	defer as.Close()

	v1, _ := vmo.NewPaged(4)
	v2, _ := vmo.NewPaged(4)

	require.Equal(t, defs.EOK, as.Map(v1, 0, 10, 4, ptable.PteR))
	require.Equal(t, defs.EOVERLAP, as.Map(v2, 0, 12, 4, ptable.PteR))
}

func TestUnmapThenReadStops(t *testing.T) {
	as, err := New()
	require.Equal(t, defs.EOK, err)
	defer as.Close()

	v, _ := vmo.NewPaged(1)
	require.Equal(t, defs.EOK, as.Map(v, 0, 5, 1, ptable.PteR|ptable.PteW))
	require.Equal(t, defs.EOK, as.Unmap(5, 1, false))

	buf := make([]byte, 8)
	n := as.Read(uint64(5*sysconf.PageSize), buf, false)
	require.Equal(t, 0, n)
}

func TestUnmapRequireUserRejectsKernelMapping(t *testing.T) {
	as, err := New()
	require.Equal(t, defs.EOK, err)
	defer as.Close()

	v, _ := vmo.NewPaged(1)
	require.Equal(t, defs.EOK, as.Map(v, 0, 9, 1, ptable.PteR|ptable.PteW))
	require.Equal(t, defs.EINVAL, as.Unmap(9, 1, true))
}

func TestForkFromCopiesPagedContents(t *testing.T) {
	parent, err := New()
	require.Equal(t, defs.EOK, err)
	defer parent.Close()

	v, _ := vmo.NewPaged(1)
	require.Equal(t, defs.EOK, parent.Map(v, 0, 20, 1, ptable.PteR|ptable.PteW|ptable.PteU))
	parent.Write(uint64(20*sysconf.PageSize), []byte("parent data"), true)

	child, err := New()
	require.Equal(t, defs.EOK, err)
	defer child.Close()

	require.Equal(t, defs.EOK, child.ForkFrom(parent))

	buf := make([]byte, len("parent data"))
	n := child.Read(uint64(20*sysconf.PageSize), buf, true)
	require.Equal(t, len(buf), n)
	require.Equal(t, "parent data", string(buf))

	// Mutating the child must not affect the parent: the fork copied
	// frames rather than sharing them.
	child.Write(uint64(20*sysconf.PageSize), []byte("child wrote"), true)
	parentBuf := make([]byte, len("parent data"))
	parent.Read(uint64(20*sysconf.PageSize), parentBuf, true)
	require.Equal(t, "parent data", string(parentBuf))
}

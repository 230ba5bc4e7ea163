package ptable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
	"frame"
	"klog"
)

func init() {
	klog.InitWriter(new(bytes.Buffer))
}

func TestMapQueryUnmap(t *testing.T) {
	tbl, err := New()
	require.Equal(t, defs.EOK, err)
	defer tbl.Close()

	f, err := frame.Alloc()
	require.Equal(t, defs.EOK, err)
	defer f.Free()

	const vpn = 0x1234
	require.Equal(t, defs.EOK, tbl.Map(vpn, f.Ppn, PteR|PteW|PteU))

	e, ok := tbl.Query(vpn)
	require.True(t, ok)
	require.Equal(t, f.Ppn, e.Ppn())
	require.True(t, e.Valid())

	tbl.Unmap(vpn)
	_, ok = tbl.Query(vpn)
	require.False(t, ok)
}

func TestRemapIsFatal(t *testing.T) {
	tbl, err := New()
	require.Equal(t, defs.EOK, err)
	defer tbl.Close()

	f, err := frame.Alloc()
	require.Equal(t, defs.EOK, err)
	defer f.Free()

	const vpn = 7
	require.Equal(t, defs.EOK, tbl.Map(vpn, f.Ppn, PteR))
	require.Panics(t, func() { tbl.Map(vpn, f.Ppn, PteR) })
}

func TestUnmapAbsentIsFatal(t *testing.T) {
	tbl, err := New()
	require.Equal(t, defs.EOK, err)
	defer tbl.Close()

	require.Panics(t, func() { tbl.Unmap(42) })
}

func TestDistantVpnsUseDistinctLeaves(t *testing.T) {
	tbl, err := New()
	require.Equal(t, defs.EOK, err)
	defer tbl.Close()

	f1, _ := frame.Alloc()
	f2, _ := frame.Alloc()
	defer f1.Free()
	defer f2.Free()

	require.Equal(t, defs.EOK, tbl.Map(0, f1.Ppn, PteR))
	require.Equal(t, defs.EOK, tbl.Map(1<<20, f2.Ppn, PteW))

	e1, ok := tbl.Query(0)
	require.True(t, ok)
	require.Equal(t, f1.Ppn, e1.Ppn())

	e2, ok := tbl.Query(1 << 20)
	require.True(t, ok)
	require.Equal(t, f2.Ppn, e2.Ppn())
}

func TestTokenEncodesSv39ModeAndRoot(t *testing.T) {
	tbl, err := New()
	require.Equal(t, defs.EOK, err)
	defer tbl.Close()

	tok := tbl.Token()
	require.Equal(t, uint64(8), tok>>60)
}

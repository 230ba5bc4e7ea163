package pid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aspace"
	"defs"
	"sysconf"
)

func TestAllocGivesDistinctPidsAndStacks(t *testing.T) {
	ka, err := aspace.New()
	require.Equal(t, defs.EOK, err)
	defer ka.Close()

	h1, err := Alloc(ka)
	require.Equal(t, defs.EOK, err)
	defer h1.Close()

	h2, err := Alloc(ka)
	require.Equal(t, defs.EOK, err)
	defer h2.Close()

	require.NotEqual(t, h1.Pid, h2.Pid)
	require.NotEqual(t, h1.Stack.BottomSp, h2.Stack.BottomSp)
	require.True(t, h1.Stack.InitSp < h1.Stack.BottomSp)
}

func TestStackIsUsable(t *testing.T) {
	ka, err := aspace.New()
	require.Equal(t, defs.EOK, err)
	defer ka.Close()

	h, err := Alloc(ka)
	require.Equal(t, defs.EOK, err)
	defer h.Close()

	in := []byte("kernel stack contents")
	vaddr := h.Stack.BottomSp - uint64(sysconf.PageSize)
	n := ka.Write(vaddr, in, false)
	require.Equal(t, len(in), n)

	out := make([]byte, len(in))
	n = ka.Read(vaddr, out, false)
	require.Equal(t, len(in), n)
	require.Equal(t, in, out)
}

func TestClosePidIsReusable(t *testing.T) {
	ka, err := aspace.New()
	require.Equal(t, defs.EOK, err)
	defer ka.Close()

	h1, err := Alloc(ka)
	require.Equal(t, defs.EOK, err)
	pid1 := h1.Pid
	h1.Close()

	h2, err := Alloc(ka)
	require.Equal(t, defs.EOK, err)
	defer h2.Close()
	require.Equal(t, pid1, h2.Pid)
}

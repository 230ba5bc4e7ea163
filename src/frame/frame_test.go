package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
)

func TestAllocIsZeroed(t *testing.T) {
	f, err := Alloc()
	require.Equal(t, defs.EOK, err)
	require.NotNil(t, f)
	b := Bytes(f.Ppn)
	for _, v := range b {
		require.Zero(t, v)
	}
	f.Free()
}

func TestFreeListIsLIFO(t *testing.T) {
	f1, err := Alloc()
	require.Equal(t, defs.EOK, err)
	f2, err := Alloc()
	require.Equal(t, defs.EOK, err)

	f1.Free()
	f2.Free()

	// f2 was freed last, so it must be the first frame Alloc reuses.
	r1, err := Alloc()
	require.Equal(t, defs.EOK, err)
	require.Equal(t, f2.Ppn, r1.Ppn)

	r2, err := Alloc()
	require.Equal(t, defs.EOK, err)
	require.Equal(t, f1.Ppn, r2.Ppn)

	r1.Free()
	r2.Free()
}

func TestNoDoubleAllocation(t *testing.T) {
	seen := make(map[Ppn]bool)
	var frames []*Frame
	for i := 0; i < 64; i++ {
		f, err := Alloc()
		require.Equal(t, defs.EOK, err)
		require.False(t, seen[f.Ppn], "ppn %d handed out twice while still live", f.Ppn)
		seen[f.Ppn] = true
		frames = append(frames, f)
	}
	for _, f := range frames {
		f.Free()
	}
}

func TestFreeIsIdempotentOnNil(t *testing.T) {
	var f *Frame
	require.NotPanics(t, func() { f.Free() })
}

func TestNumFreeAccountsForRecycled(t *testing.T) {
	before := NumFree()
	f, err := Alloc()
	require.Equal(t, defs.EOK, err)
	require.Equal(t, before-1, NumFree())
	f.Free()
	require.Equal(t, before, NumFree())
}

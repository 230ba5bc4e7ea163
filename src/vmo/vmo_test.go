package vmo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"defs"
	"sysconf"
)

func TestPagedReadWriteRoundTrip(t *testing.T) {
	v, err := NewPaged(2)
	require.Equal(t, defs.EOK, err)
	defer v.Close()

	in := make([]byte, sysconf.PageSize+16)
	for i := range in {
		in[i] = byte(i)
	}
	n := v.Write(100, in)
	require.Equal(t, len(in), n)

	out := make([]byte, len(in))
	n = v.Read(100, out)
	require.Equal(t, len(in), n)
	require.Equal(t, in, out)
}

func TestPagedReadWriteClampsToPageCount(t *testing.T) {
	v, err := NewPaged(1)
	require.Equal(t, defs.EOK, err)
	defer v.Close()

	buf := make([]byte, sysconf.PageSize*2)
	n := v.Write(0, buf)
	require.Equal(t, sysconf.PageSize, n)
}

func TestReadAtOrPastLimitIsZeroBytes(t *testing.T) {
	v, err := NewPaged(1)
	require.Equal(t, defs.EOK, err)
	defer v.Close()

	buf := make([]byte, 8)
	n := v.Read(sysconf.PageSize, buf)
	require.Equal(t, 0, n)
}

func TestPhysicalFromRangeRoundsOutToWholePages(t *testing.T) {
	p := FromRange(10, sysconf.PageSize+10)
	require.Equal(t, 2, p.PageCount())
}

func TestGetPageOutOfRange(t *testing.T) {
	v, err := NewPaged(1)
	require.Equal(t, defs.EOK, err)
	defer v.Close()

	_, gerr := v.GetPage(1)
	require.Equal(t, defs.EOUTOFRANGE, gerr)
}

package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"accnt"
)

func TestExportProducesOneSamplePerTask(t *testing.T) {
	samples := []TaskSample{
		{Pid: 1, Status: "running", Stride: 10, Acc: accnt.Snapshot{UserNs: 100, SysNs: 5}},
		{Pid: 2, Status: "ready", Stride: 20, Acc: accnt.Snapshot{UserNs: 50, SysNs: 1}},
	}
	p := Export(samples)
	require.Len(t, p.Sample, 2)
	require.Len(t, p.Function, 2)
	require.NoError(t, p.CheckValid())
	require.Equal(t, []int64{100, 5}, p.Sample[0].Value)
}

func TestWriteProducesNonEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []TaskSample{
		{Pid: 1, Status: "running", Stride: 0, Acc: accnt.Snapshot{UserNs: 1, SysNs: 1}},
	})
	require.NoError(t, err)
	require.NotZero(t, buf.Len())
}

func TestWriteAcceptsEmptySampleSet(t *testing.T) {
	// A profile with its two sample types but no samples is still valid;
	// this just exercises the CheckValid path with nothing to check.
	var buf bytes.Buffer
	err := Write(&buf, nil)
	require.NoError(t, err)
}

package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackSvcCallAllocatesDistinctWindows(t *testing.T) {
	lb := NewLoopback()

	a, err := lb.SvcCall(0x25, 0, 0, 0, 0)
	require.NoError(t, err)
	b, err := lb.SvcCall(0x25, 0, 0, 0, 0)
	require.NoError(t, err)

	require.Equal(t, uint32(loopbackWindowBase), a)
	require.Equal(t, a+loopbackWindowStride, b)
}

func TestLoopbackMemReadOfUntouchedPageIsZero(t *testing.T) {
	lb := NewLoopback()

	buf := make([]byte, 8)
	require.NoError(t, lb.MemRead(0x20000, buf))
	require.Equal(t, make([]byte, 8), buf)
}

func TestLoopbackMemWriteThenReadRoundTrips(t *testing.T) {
	lb := NewLoopback()

	require.NoError(t, lb.MemWrite(0x20ffc, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	buf := make([]byte, 8)
	require.NoError(t, lb.MemRead(0x20ffc, buf))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
}

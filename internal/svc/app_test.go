package svc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/cpucore"
)

func TestAppInitWritesStackPointerAndMapsRegion(t *testing.T) {
	s, core := newTestState(cpucore.ModeApp, newFakeClient())
	defer core.Destroy()

	const userPtr = 0x100
	require.NoError(t, core.SetReg(cpucore.R2, userPtr))

	require.NoError(t, s.Call(0x01))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), r0)

	var buf [4]byte
	require.NoError(t, core.MemRead(userPtr, buf[:]))
	require.Equal(t, uint32(appInitStackTop), binary.LittleEndian.Uint32(buf[:]))

	var probe [1]byte
	require.NoError(t, core.MemRead(appInitStackBase, probe[:]))
}

func TestAppExitRequestsStateBufferAndReturnsZero(t *testing.T) {
	client := newFakeClient()
	s, core := newTestState(cpucore.ModeApp, client)
	defer core.Destroy()

	s.stateRegionSize = 0x4000

	require.NoError(t, s.Call(0x00))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), r0)

	require.Len(t, client.calls, 1)
	require.Equal(t, uint32(svcIDGetStateBuffer), client.calls[0].idx)
	require.Equal(t, uint32(0x4000), client.calls[0].a0)
}

package svc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/cpucore"
)

func TestUnhandledSyscallReturnsGeneralMemoryError(t *testing.T) {
	s, core := newTestState(cpucore.ModeApp, newFakeClient())
	defer core.Destroy()

	require.NoError(t, s.Call(0x02))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x9), r0)
}

func TestModeGatedSyscallRejectedOutsideAppMode(t *testing.T) {
	s, core := newTestState(cpucore.ModeSystem, newFakeClient())
	defer core.Destroy()

	require.NoError(t, s.Call(0x00))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x9), r0)
}

func TestForwardEchoPassesRegistersThroughToProxy(t *testing.T) {
	client := newFakeClient()
	client.nextResult = 0x2a

	s, core := newTestState(cpucore.ModeApp, client)
	defer core.Destroy()

	require.NoError(t, core.SetReg(cpucore.R0, 0x10))
	require.NoError(t, core.SetReg(cpucore.R1, 0x20))
	require.NoError(t, core.SetReg(cpucore.R2, 0x30))
	require.NoError(t, core.SetReg(cpucore.R3, 0x40))

	require.NoError(t, s.Call(0x04))

	require.Len(t, client.calls, 1)
	require.Equal(t, fakeCall{0x04, 0x10, 0x20, 0x30, 0x40}, client.calls[0])

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x2a), r0)
}

package svc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/cpucore"
)

const (
	testPhysBase = 0x3FFF000 // 4 KiB below a 64 MiB boundary, keeps the mapped region tiny
	testPspBase  = 0x04000000
)

func TestX86MemMapInstallsWindowAndReadsLazilyFromProxy(t *testing.T) {
	client := newFakeClient()
	client.mem[testPspBase] = 0xAB
	client.nextResult = testPspBase

	s, core := newTestState(cpucore.ModeApp, client)
	defer core.Destroy()

	require.NoError(t, core.SetReg(cpucore.R0, testPhysBase))
	require.NoError(t, core.SetReg(cpucore.R1, 0))

	require.NoError(t, s.Call(0x07))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(testPspBase), r0)

	var buf [1]byte
	require.NoError(t, core.MemRead(testPspBase, buf[:]))
	require.Equal(t, byte(0xAB), buf[0])
}

func TestX86MemMapSlotExhaustionReturnsZero(t *testing.T) {
	client := newFakeClient()
	client.nextResult = testPspBase

	s, core := newTestState(cpucore.ModeApp, client)
	defer core.Destroy()

	for i := 0; i < maxSlots; i++ {
		slot := s.freeSlot()
		require.NotNil(t, slot)
		slot.physBase = testPhysBase + uint64(i) // mark as taken without a real window
	}

	require.NoError(t, core.SetReg(cpucore.R0, testPhysBase))
	require.NoError(t, core.SetReg(cpucore.R1, 0))
	require.NoError(t, s.Call(0x07))

	r0, err := core.QueryReg(cpucore.R0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), r0)
}

func TestX86MemUnmapWritesBackDirtyBytesThroughProxy(t *testing.T) {
	client := newFakeClient()
	client.nextResult = testPspBase

	s, core := newTestState(cpucore.ModeApp, client)
	defer core.Destroy()

	require.NoError(t, core.SetReg(cpucore.R0, testPhysBase))
	require.NoError(t, core.SetReg(cpucore.R1, 0))
	require.NoError(t, s.Call(0x07))

	require.NoError(t, core.MemWrite(testPspBase, []byte{0xCD}))

	client.nextResult = 0
	require.NoError(t, core.SetReg(cpucore.R0, testPspBase))
	require.NoError(t, s.Call(0x08))

	require.Equal(t, byte(0xCD), client.mem[testPspBase])

	require.Len(t, client.calls, 2)
	require.Equal(t, uint32(0x08), client.calls[1].idx)

	require.Nil(t, s.findSlotByPspBase(testPspBase))
}

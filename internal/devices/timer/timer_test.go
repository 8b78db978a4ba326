package timer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestCounterAdvancesWhenEnabled(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)
	inst, err := device.NewInstance(desc, Base, nil)
	require.NoError(t, err)

	require.NoError(t, desc.WriteCB(inst, regControl, 4, 0x1))

	v1, err := desc.ReadCB(inst, regCnt100MHz, 4)
	require.NoError(t, err)
	v2, err := desc.ReadCB(inst, regCnt100MHz, 4)
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)
}

func TestCounterDoesNotAdvanceWhenDisabled(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, _ := device.NewInstance(desc, Base, nil)

	v1, _ := desc.ReadCB(inst, regCnt100MHz, 4)
	v2, _ := desc.ReadCB(inst, regCnt100MHz, 4)
	require.Equal(t, v1, v2)
}

package unk03010000

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestSentinelReadReturnsReadyBit(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)

	inst, err := device.NewInstance(desc, Base, nil)
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, 0x104, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0x100), v)
}

func TestSentinelReadOtherOffsetReturnsZero(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, _ := device.NewInstance(desc, Base, nil)

	v, err := desc.ReadCB(inst, 0x0, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

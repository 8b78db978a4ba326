package smnunknown

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestUnknownRegisterZeroFillsReads(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)
	inst, err := device.NewInstance(desc, 0, nil)
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, 0x5a078, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestUnknownRegisterAcceptsWrites(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, _ := device.NewInstance(desc, 0, nil)
	require.NoError(t, desc.WriteCB(inst, 0x5a078, 4, 0xabcd))
}

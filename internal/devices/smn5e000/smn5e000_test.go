package smn5e000

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestReadReturnsSpinBit(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)
	inst, err := device.NewInstance(desc, Addr, nil)
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

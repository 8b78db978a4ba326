package flash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestReadReturnsImageBytes(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)

	image := []byte{0xde, 0xad, 0xbe, 0xef}
	inst, err := device.NewInstance(desc, SMNBaseDefault, Config{Image: image})
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0xefbeadde), v)
}

func TestWriteIgnoredWhenReadOnly(t *testing.T) {
	desc, _ := device.Lookup(Name)
	image := make([]byte, 4)
	inst, err := device.NewInstance(desc, SMNBaseDefault, Config{Image: image})
	require.NoError(t, err)

	require.NoError(t, desc.WriteCB(inst, 0, 4, 0xdeadbeef))
	v, err := desc.ReadCB(inst, 0, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestOutOfBoundsReadIgnored(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, err := device.NewInstance(desc, SMNBaseDefault, Config{Image: make([]byte, 4)})
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, 0x1000, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

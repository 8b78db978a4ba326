package ccp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestSubmittedRequestCompletesImmediately(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)
	inst, err := device.NewInstance(desc, 0x03010000, nil)
	require.NoError(t, err)

	require.NoError(t, desc.WriteCB(inst, regQueueControl, 4, 0x42))

	status, err := desc.ReadCB(inst, regQueueStatus, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(statusComplete), status)
}

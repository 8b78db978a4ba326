package x86uart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func TestLSRAlwaysReportsTransmitterReady(t *testing.T) {
	desc, ok := device.Lookup(Name)
	require.True(t, ok)
	inst, err := device.NewInstance(desc, Base, nil)
	require.NoError(t, err)

	v, err := desc.ReadCB(inst, regLSR, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(lsrTHRE|lsrTEMT), v)
}

func TestWritingThrBuffersLine(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, _ := device.NewInstance(desc, Base, nil)

	for _, c := range "hi\n" {
		require.NoError(t, desc.WriteCB(inst, regTHR, 1, uint32(c)))
	}
	st := inst.State.(*state)
	require.Empty(t, st.line)
}

func TestRbrReadsBackOne(t *testing.T) {
	desc, _ := device.Lookup(Name)
	inst, _ := device.NewInstance(desc, Base, nil)

	v, err := desc.ReadCB(inst, regRBR, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

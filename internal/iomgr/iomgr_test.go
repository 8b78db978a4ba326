package iomgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/device"
)

func newSentinelDescriptor() *device.Descriptor {
	return &device.Descriptor{
		Name:       "test-sentinel",
		WindowSize: 0x1000,
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			if offset == 0x104 {
				return 0x100, nil
			}
			return 0, nil
		},
	}
}

func TestRegisterMMIODeviceAndRead(t *testing.T) {
	m := New()
	inst, err := device.NewInstance(newSentinelDescriptor(), 0x03010000, nil)
	require.NoError(t, err)
	require.NoError(t, m.RegisterMMIODevice(0x03010000, 0x1000, inst))

	v, err := m.PSPAddrRead(0x03010000+0x104, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0x100), v)
}

func TestRegisterMMIODeviceRejectsOverlap(t *testing.T) {
	m := New()
	inst1, _ := device.NewInstance(newSentinelDescriptor(), 0x1000, nil)
	inst2, _ := device.NewInstance(newSentinelDescriptor(), 0x1080, nil)
	require.NoError(t, m.RegisterMMIODevice(0x1000, 0x100, inst1))
	require.Error(t, m.RegisterMMIODevice(0x1080, 0x100, inst2))
}

func TestUnassignedMMIOReadReturnsZeroByDefault(t *testing.T) {
	m := New()
	v, err := m.PSPAddrRead(0xdeadbeef, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestUnassignedMMIOWriteIsIgnoredByDefault(t *testing.T) {
	m := New()
	require.NoError(t, m.PSPAddrWrite(0xdeadbeef, 4, 0x1234))
}

func TestSMNRegionsAreScopedPerCCD(t *testing.T) {
	m := New()
	instA, _ := device.NewInstance(newSentinelDescriptor(), 0, nil)
	instB, _ := device.NewInstance(newSentinelDescriptor(), 0, nil)
	require.NoError(t, m.RegisterSMNDevice(0, 0x5e000, 4, instA))
	require.NoError(t, m.RegisterSMNDevice(1, 0x5e000, 4, instB))

	v, err := m.SMNRead(0, 0x5e000, 4)
	require.NoError(t, err)
	require.Zero(t, v)

	v, err = m.SMNRead(2, 0x5e000, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestUnregisterRemovesFromAllTables(t *testing.T) {
	m := New()
	inst, _ := device.NewInstance(newSentinelDescriptor(), 0x1000, nil)
	require.NoError(t, m.RegisterMMIODevice(0x1000, 0x100, inst))
	m.Unregister(inst)

	v, err := m.PSPAddrRead(0x1000+0x104, 4)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestX86DeviceRoutesByAddress(t *testing.T) {
	m := New()
	inst, _ := device.NewInstance(newSentinelDescriptor(), 0x04000000, nil)
	require.NoError(t, m.RegisterX86Device(0x04000000, 0x1000, inst))

	v, err := m.X86Read(0x04000000+0x104, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0x100), v)
}

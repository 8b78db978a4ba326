// Package unk03010000 is the sentinel device at PSP MMIO address
// 0x03010000 the on-chip bootloader spin-waits on, grounded on
// original_source/psp-dev-unknown-0x03010000.c.
package unk03010000

import (
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("devices.unk03010000")

const (
	// Name is the registry key, matching the original's device name
	// minus its typo'd extra zero ("unk-0x030100000").
	Name = "unk-0x03010000"

	// Base is the PSP MMIO address this device occupies.
	Base = 0x03010000
	// windowSize is the 4 KiB MMIO window, cbMmio in the original.
	windowSize = 4096
)

type state struct{}

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Unknown device starting at 0x03010000",
		WindowSize:  windowSize,
		Init: func(inst *device.Instance) error {
			inst.State = &state{}
			return nil
		},
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			log.WithField("offset", offset).WithField("size", size).Trace("mmio read")
			if offset == 0x104 {
				// on_chip_bl_main() spins until bit 8 is set.
				return 0x100, nil
			}
			return 0, nil
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			log.WithField("offset", offset).WithField("value", value).Trace("mmio write")
			return nil
		},
	})
}

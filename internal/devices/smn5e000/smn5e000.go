// Package smn5e000 is the fixed SMN register at 0x0005e000 the
// on-chip bootloader spins on, grounded on
// original_source/psp-dev-smn-unknown.c's
// pspDevUnkSmnRead0x0005e000.
package smn5e000

import "github.com/amdpsp/pspemu/internal/device"

const (
	Name = "smn-0x0005e000"

	// Addr is the SMN address this register lives at.
	Addr = 0x0005e000

	windowSize = 4
)

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Unknown SMN register at 0x0005e000",
		WindowSize:  windowSize,
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			if offset == 0 {
				// The on-chip bootloader waits for bit 0 to go 1.
				return 0x1, nil
			}
			return 0, nil
		},
	})
}

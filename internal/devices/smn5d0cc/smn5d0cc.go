// Package smn5d0cc is the fixed SMN register at 0x0005d0cc the
// off-chip bootloader checks for fuse-RAM BISI enablement, grounded on
// original_source/psp-dev-smn-unknown.c's
// pspDevUnkSmnRead0x0005d0cc.
package smn5d0cc

import "github.com/amdpsp/pspemu/internal/device"

const (
	Name = "smn-0x0005d0cc"

	// Addr is the SMN address this register lives at.
	Addr = 0x0005d0cc

	windowSize = 4

	// bisiEnBit is bit 5: without it set, the off-chip bootloader
	// returns PSPSTATUS_CCX_SEC_BISI_EN_NOT_SET_IN_FUSE_RAM.
	bisiEnBit = 1 << 5
)

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Unknown SMN register at 0x0005d0cc",
		WindowSize:  windowSize,
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			if offset == 0 {
				return bisiEnBit, nil
			}
			return 0, nil
		},
	})
}

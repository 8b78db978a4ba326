// Package timer is the 100 MHz counter MMIO device starting at PSP
// address 0x03010424, grounded on original_source/psp-dev-timer.c. The
// counter register counts up by one on each read while bit 0 of the
// control register is set.
package timer

import (
	"github.com/amdpsp/pspemu/internal/device"
)

const (
	Name = "timer"

	// Base is where this device's window starts.
	Base = 0x03010424

	windowSize   = 36
	regControl   = 0
	regCnt100MHz = 32
)

type state struct {
	ctrl   uint32
	cnt    uint32
}

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Timer device starting at 0x03010424",
		WindowSize:  windowSize,
		Init: func(inst *device.Instance) error {
			inst.State = &state{}
			return nil
		},
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			if size != 4 {
				return 0, nil // unsupported access width, ignored like the original
			}
			st := inst.State.(*state)
			switch offset {
			case regControl:
				// The original returns the counter here too, not the
				// control value — kept as-is, it is load-bearing for
				// whatever firmware polls this register as a ready bit.
				return st.cnt, nil
			case regCnt100MHz:
				v := st.cnt
				if st.ctrl&0x1 != 0 {
					st.cnt++
				}
				return v, nil
			default:
				return 0, nil
			}
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			if size != 4 {
				return nil
			}
			st := inst.State.(*state)
			switch offset {
			case regControl:
				st.ctrl = value
			case regCnt100MHz:
				st.cnt = value
			}
			return nil
		},
	})
}

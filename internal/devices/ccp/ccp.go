// Package ccp is the Cryptographic Co-Processor v5 stub, grounded on
// original_source/psp-dev-ccp-v5.c. Cryptographic fidelity is an
// explicit Non-goal: this device accepts submit-queue writes and
// completes every queued request immediately with a fixed success
// status, without performing any actual cryptography.
package ccp

import (
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("devices.ccp")

const (
	Name = "ccp-v5"

	windowSize = 2 * 4096

	// regQueueControl is where firmware rings the submit-queue
	// doorbell; the original has no named registers at all (it only
	// logs accesses), so this offset and the completed-status
	// behavior are new, added to give S-scenario-style tests
	// something observable without modeling the real descriptor ring.
	regQueueControl = 0x0
	regQueueStatus  = 0x4

	statusComplete = 0x1
)

type state struct {
	lastSubmitted uint32
}

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "CCPv5",
		WindowSize:  windowSize,
		Init: func(inst *device.Instance) error {
			inst.State = &state{}
			return nil
		},
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			st := inst.State.(*state)
			log.WithField("offset", offset).WithField("size", size).Trace("mmio read")
			switch offset {
			case regQueueStatus:
				return statusComplete, nil
			default:
				return st.lastSubmitted, nil
			}
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			st := inst.State.(*state)
			if size == 4 {
				log.WithField("offset", offset).WithField("value", value).Trace("mmio write")
			}
			if offset == regQueueControl {
				st.lastSubmitted = value
			}
			return nil
		},
	})
}

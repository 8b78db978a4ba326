// Package smnunknown is the generic "unimplemented SMN/MMIO register"
// device: zero-fill reads, logged writes. Grounded on
// original_source/psp-dev-smn-unknown.c (the bulk of whose fixed
// registers have no documented behavior beyond a handle slot) and
// psp-dev-mmio-unknown.c, which is exactly this shape for the PSP MMIO
// space. Intended as the I/O Manager's unassigned-region fallback
// rather than something ccd registers at a fixed address.
package smnunknown

import (
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("devices.smnunknown")

const Name = "unknown"

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Unimplemented SMN/MMIO register fallback",
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			log.WithField("offset", offset).WithField("size", size).Trace("read from unimplemented register")
			return 0, nil
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			log.WithField("offset", offset).WithField("value", value).Trace("write to unimplemented register")
			return nil
		},
	})
}

// Package flash is the SMN-attached flash ROM image device, grounded
// on original_source/psp-dev-flash.c. The original also offers an
// EM100 network-attached flash emulator (a raw TCP protocol for live
// reflashing); that transport is an out-of-scope external collaborator
// here — this device only ever serves the flat byte blob
// internal/config loads, read-only unless EM100 emulation is
// explicitly requested, in which case writes are accepted in-place
// but no network listener is started.
package flash

import (
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("devices.flash")

const Name = "flash"

// SMN base address the original picks by micro-architecture.
const (
	SMNBaseZen2    = 0x44000000
	SMNBaseDefault = 0x0a000000
)

type state struct {
	image     []byte
	writable  bool
}

// Config is the subset of internal/config.Config this device needs,
// kept narrow so the devices package never imports config directly.
type Config struct {
	Image             []byte
	Writable          bool
	Em100FlashEmuPort uint16
}

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Flash device",
		Init: func(inst *device.Instance) error {
			cfg, _ := inst.Config.(Config)
			st := &state{image: cfg.Image, writable: cfg.Writable}
			if cfg.Em100FlashEmuPort != 0 {
				log.WithField("port", cfg.Em100FlashEmuPort).
					Warn("em100 network flash emulation requested but not implemented; writes accepted locally instead")
				st.writable = true
			}
			inst.State = st
			return nil
		},
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			st := inst.State.(*state)
			if int(offset)+size > len(st.image) {
				log.WithField("offset", offset).WithField("size", size).
					Warn("out of bounds flash read ignored")
				return 0, nil
			}
			return littleEndian(st.image[offset : offset+uint32(size)]), nil
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			st := inst.State.(*state)
			if !st.writable {
				log.WithField("offset", offset).Warn("write to read-only flash ignored")
				return nil
			}
			if int(offset)+size > len(st.image) {
				log.WithField("offset", offset).WithField("size", size).
					Warn("out of bounds flash write ignored")
				return nil
			}
			putLittleEndian(st.image[offset:offset+uint32(size)], value)
			return nil
		},
	})
}

func littleEndian(b []byte) uint32 {
	var v uint32
	for i, c := range b {
		v |= uint32(c) << (8 * i)
	}
	return v
}

func putLittleEndian(b []byte, v uint32) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

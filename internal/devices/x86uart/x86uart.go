// Package x86uart is the x86-mapped UART sink the PSP firmware talks
// to for console output, grounded on
// original_source/psp-dev-x86-uart.c. Register offsets and behavior
// follow the 8250/16450-compatible layout the original hardcodes;
// only the bits the firmware's detection logic and line-discipline
// actually probe are implemented.
package x86uart

import (
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("devices.x86uart")

const (
	Name = "x86-uart"

	// Base is the x86 physical address the original observed this
	// device at on a Ryzen Pro system.
	Base = 0xfffdfc0003f8

	windowSize = 8

	regRBR = 0x0 // receiver buffer
	regTHR = 0x0 // transmit holding (write side of the same offset)
	regIER = 0x1
	regLSR = 0x5
	regLCR = 0x3
	regDLM = 0x1 // divisor latch MSB, aliases IER when DLAB is clear

	lcrDLAB = 1 << 7
	lcrPEN  = 1 << 3
	lcrSTB  = 1 << 2

	lsrTHRE = 1 << 5
	lsrTEMT = 1 << 6

	iirNotPending = 0x1
)

type state struct {
	lcr      uint8
	rbr      uint8
	divisor  uint16
	line     []byte
}

func init() {
	device.Register(&device.Descriptor{
		Name:        Name,
		Description: "Standard x86 UART",
		WindowSize:  windowSize,
		Init: func(inst *device.Instance) error {
			inst.State = &state{
				rbr:     1, // required for the UART detection logic
				divisor: 1, // 115200 baud
				lcr:     0x3, // 8 data bits, matching X86_UART_REG_LCR_WLS_8
			}
			return nil
		},
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			if size != 1 {
				log.WithField("offset", offset).WithField("size", size).Error("invalid register read size")
				return 0, nil
			}
			st := inst.State.(*state)
			switch offset {
			case regRBR:
				return uint32(st.rbr), nil
			case regLSR:
				return uint32(lsrTHRE | lsrTEMT), nil // we can always take data
			case regIER:
				return uint32(iirNotPending), nil
			case regLCR:
				return uint32(st.lcr), nil
			default:
				log.WithField("offset", offset).Error("register not implemented")
				return 0, nil
			}
		},
		WriteCB: func(inst *device.Instance, offset uint32, size int, value uint32) error {
			if size != 1 {
				log.WithField("offset", offset).WithField("size", size).Error("invalid register write size")
				return nil
			}
			st := inst.State.(*state)
			b := byte(value)
			switch offset {
			case regTHR:
				if st.lcr&lcrDLAB != 0 {
					st.divisor = (st.divisor & 0xff00) | uint16(b)
					break
				}
				if b == '\r' {
					break
				}
				st.line = append(st.line, b)
				if b == '\n' {
					log.Info(string(st.line[:len(st.line)-1]))
					st.line = st.line[:0]
				}
			case regLCR:
				st.lcr = b
			case regDLM:
				if st.lcr&lcrDLAB != 0 {
					st.divisor = (st.divisor & 0xff) | (uint16(b) << 8)
				}
				// else: access to IER, ignored.
			case regLSR:
				// ignored
			default:
				log.WithField("offset", offset).Error("register not implemented")
			}
			return nil
		},
	})
}

// Package ccd implements the CCD component: one assembled PSP core
// plus its I/O manager, device set and (in App mode) SVC state.
// Grounded on original_source/psp-ccd.c's PSPEmuCcdCreate/Destroy/
// Run/QueryCore, generalized from the original's manually linked
// device list (g_apDevs) to device.Registry lookups and from its
// intrusive linked list of devices to a plain slice.
package ccd

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/amdpsp/pspemu/internal/armcore"
	"github.com/amdpsp/pspemu/internal/config"
	"github.com/amdpsp/pspemu/internal/cpucore"
	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/devices/ccp"
	"github.com/amdpsp/pspemu/internal/devices/flash"
	"github.com/amdpsp/pspemu/internal/devices/smn5d0cc"
	"github.com/amdpsp/pspemu/internal/devices/smn5e000"
	"github.com/amdpsp/pspemu/internal/devices/smnunknown"
	"github.com/amdpsp/pspemu/internal/devices/timer"
	"github.com/amdpsp/pspemu/internal/devices/unk03010000"
	"github.com/amdpsp/pspemu/internal/devices/x86uart"
	"github.com/amdpsp/pspemu/internal/iomgr"
	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/proxy"
	"github.com/amdpsp/pspemu/internal/psperr"
	"github.com/amdpsp/pspemu/internal/svc"
)

var log = logging.For("ccd")

// ccdIDRegisterAddr is the SMN register every CCD exposes at the same
// address, grounded on pspEmuCcdIdRead / PSPEmuIoMgrSmnRegister's
// 0x5a870 registration in psp-ccd.c.
const ccdIDRegisterAddr = 0x5a870

// defaultDeviceSet is the device.Registry names instantiated absent a
// config.Config.Devices override: psp-emu.c's minimal default
// registration (CCPv5 plus the 0x03010000 sentinel the on-chip
// bootloader spins on) plus flash, the x86 UART and the two fixed SMN
// registers. It is not psp-ccd.c's larger g_apDevs list: that list
// also registers devices/timer at
// 0x03010424, which falls inside unk03010000's own 4 KiB window and
// would trip this emulator's overlap check (an invariant the
// original's IO manager never enforced). timer stays available via
// an explicit --dev flag instead of defaulting on.
//
// See SPEC_FULL.md §4.3 for the devices the original lists that have
// no Go counterpart here: fuse, smu, mp2, sts, acpi, x86mem and the
// debug-only "test" device never got a concrete package since nothing
// in the component design exercises them beyond logging a register
// access.
var defaultDeviceSet = []string{
	ccp.Name,
	unk03010000.Name,
	flash.Name,
	x86uart.Name,
	smn5e000.Name,
	smn5d0cc.Name,
}

// CCD is one assembled PSP: a core, its I/O manager, instantiated
// devices, and — in App mode — an SVC dispatcher.
type CCD struct {
	socketID uint32
	ccdID    uint32

	core *cpucore.Core
	iom  *iomgr.Manager
	svc  *svc.State

	devices []*device.Instance

	proxyClient proxy.Client
}

// Registry resolves the x86-mapping-slot-to-CPU-core cyclic reference
// (spec.md §9's design note) by CCD-scoped integer id rather than a
// Go pointer cycle between svc.State and cpucore.Core: the svc layer
// stores nothing back-referencing its owning CCD, and any future
// cross-CCD lookup (e.g. a debugger attaching to CCD N) goes through
// this table instead of a field on CCD itself.
type Registry struct {
	mu       sync.Mutex
	byCCDID  map[uint32]*cpucore.Core
}

var defaultRegistry = &Registry{byCCDID: make(map[uint32]*cpucore.Core)}

// CoreByID looks up a previously created CCD's core by its
// socket-scoped id (idCcd, matching the original's uint32_t idCcd).
func CoreByID(ccdID uint32) (*cpucore.Core, bool) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	c, ok := defaultRegistry.byCCDID[ccdID]
	return c, ok
}

func registerCore(ccdID uint32, core *cpucore.Core) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.byCCDID[ccdID] = core
}

func unregisterCore(ccdID uint32) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	delete(defaultRegistry.byCCDID, ccdID)
}

// Create assembles one CCD for (socketID, ccdID) per cfg, following
// pspEmuCcdMemoryInit / pspEmuCcdMmioSmnInit / pspEmuCcdProxyInit /
// pspEmuCcdExecEnvInit's sequence: core, I/O manager, devices, initial
// memory, the CCD-id SMN register, the proxy bridge (or a Loopback
// default), then the SVC state in App mode.
func Create(socketID, ccdID uint32, cfg *config.Config) (*CCD, error) {
	core, err := cpucore.Create(cfg.Mode, nil)
	if err != nil {
		return nil, err
	}
	core.SetCCDID(ccdID)

	iom := iomgr.New()

	c := &CCD{
		socketID: socketID,
		ccdID:    ccdID,
		core:     core,
		iom:      iom,
	}

	if err := c.instantiateDevices(cfg); err != nil {
		_ = core.Destroy()
		return nil, err
	}

	if err := config.PopulateInitialMemory(core, cfg); err != nil {
		_ = core.Destroy()
		return nil, err
	}

	if err := c.registerCCDIDRegister(); err != nil {
		_ = core.Destroy()
		return nil, err
	}

	c.wireDefaultFallbacks()
	c.wireProxy(cfg)

	if cfg.Mode == cpucore.ModeApp {
		c.svc = svc.New(core, iom, c.proxyClient)
		core.Executor().SetSvcHandler(c.svc.Call)
	}

	registerCore(ccdID, core)

	log.WithField("socket", socketID).WithField("ccd", ccdID).WithField("mode", cfg.Mode).
		Info("ccd created")
	return c, nil
}

// instantiateDevices builds cfg.Devices (or defaultDeviceSet) from
// device.Registry and registers each at the PSP MMIO/SMN address its
// own package names, mirroring pspEmuCcdDevicesInstantiate(Default)'s
// lookup-then-register loop. Unlike the x86 cached-mapping slots in
// svc.go, these windows are static for the CCD's lifetime, so each
// gets one RegisterMMIODevice/RegisterSMNDevice call plus one
// matching armcore.Executor.MapMMIO for MMIO devices (SMN and x86
// devices are never mapped into the ARM executor's own address space,
// per iomgr's own design note).
func (c *CCD) instantiateDevices(cfg *config.Config) error {
	names := cfg.Devices
	if len(names) == 0 {
		names = defaultDeviceSet
	}

	for _, name := range names {
		desc, ok := device.Lookup(name)
		if !ok {
			return errors.Wrapf(psperr.ErrConfigurationError, "unknown device %q", name)
		}

		devCfg, base, space := deviceConstruction(name, cfg)
		if space == spaceUnknown {
			return errors.Wrapf(psperr.ErrConfigurationError, "device %q has no known address-space wiring", name)
		}

		inst, err := device.NewInstance(desc, base, devCfg)
		if err != nil {
			return errors.Wrapf(psperr.ErrConfigurationError, "instantiating device %q: %s", name, err.Error())
		}

		if err := c.registerDevice(inst, desc, uint32(base), space); err != nil {
			return err
		}

		c.devices = append(c.devices, inst)
	}

	return nil
}

type addressSpace int

const (
	spaceUnknown addressSpace = iota
	spaceMMIO
	spaceSMN
	spaceX86
)

// deviceConstruction returns the per-device Config payload, base
// address and address space, keyed by the same name each devices/*
// package exports. ccp has no fixed base in the original beyond what
// psp-emu.c's caller happens to register it at (0x03000000); the rest
// export their own Base/Addr constant.
func deviceConstruction(name string, cfg *config.Config) (interface{}, uint64, addressSpace) {
	switch name {
	case ccp.Name:
		return nil, 0x03000000, spaceMMIO
	case timer.Name:
		return nil, timer.Base, spaceMMIO
	case unk03010000.Name:
		return nil, unk03010000.Base, spaceMMIO
	case x86uart.Name:
		return nil, x86uart.Base, spaceX86
	case smn5e000.Name:
		return nil, smn5e000.Addr, spaceSMN
	case smn5d0cc.Name:
		return nil, smn5d0cc.Addr, spaceSMN
	case smnunknown.Name:
		return nil, 0, spaceSMN
	case flash.Name:
		base := uint64(flash.SMNBaseDefault)
		if cfg.MicroArch == proxy.MicroArchZen2 {
			base = flash.SMNBaseZen2
		}
		return flash.Config{Image: cfg.FlashImage, Em100FlashEmuPort: cfg.Em100FlashEmuPort}, base, spaceSMN
	default:
		return nil, 0, spaceUnknown
	}
}

func (c *CCD) registerDevice(inst *device.Instance, desc *device.Descriptor, base uint32, space addressSpace) error {
	size := desc.WindowSize
	if size == 0 {
		if img, ok := inst.Config.(flash.Config); ok {
			size = uint32(len(img.Image))
		}
	}

	switch space {
	case spaceMMIO:
		if err := c.iom.RegisterMMIODevice(base, size, inst); err != nil {
			return err
		}
		iom := c.iom
		readFn := func(offset uint32, sz int) (uint32, error) { return iom.PSPAddrRead(base+offset, sz) }
		writeFn := func(offset uint32, sz int, value uint32) error { return iom.PSPAddrWrite(base+offset, sz, value) }
		if err := c.core.Executor().MapMMIO(base, size, readFn, writeFn); err != nil {
			c.iom.Unregister(inst)
			return err
		}
		return nil
	case spaceSMN:
		return c.iom.RegisterSMNDevice(c.ccdID, base, size, inst)
	case spaceX86:
		return c.iom.RegisterX86Device(inst.Base, uint64(size), inst)
	default:
		return errors.Wrap(psperr.ErrConfigurationError, "unreachable address space")
	}
}

// registerCCDIDRegister installs the read-only SMN register firmware
// uses to learn which die/socket it is running on, grounded on
// pspEmuCcdIdRead's bit layout: bits 0-1 physical die id, bit 5 socket
// id, bits 2-4 a fixed "maximum supported" enumeration the original
// hardcodes to 0x4 (EPYC) with a `/** @todo Make configurable */`.
func (c *CCD) registerCCDIDRegister() error {
	val := c.ccdID & 0x3
	if c.socketID != 0 {
		val |= 1 << 5
	}
	val |= 0x4 << 2

	desc := &device.Descriptor{
		Name:       "ccd-id",
		WindowSize: 4,
		ReadCB: func(inst *device.Instance, offset uint32, size int) (uint32, error) {
			return val, nil
		},
	}
	inst, err := device.NewInstance(desc, 0, nil)
	if err != nil {
		return err
	}
	return c.iom.RegisterSMNDevice(c.ccdID, ccdIDRegisterAddr, 4, inst)
}

// wireDefaultFallbacks installs smnunknown's zero-fill-read/logged-write
// behavior as the MMIO and SMN unassigned-region handlers, matching
// the original's g_DevRegMmioUnk/g_DevRegSmnUnk acting as generic
// catch-alls for any register firmware probes that has no dedicated
// device — wireProxy may override these afterward if a proxy address
// is configured.
func (c *CCD) wireDefaultFallbacks() {
	fallback, _ := device.Lookup(smnunknown.Name)
	if fallback == nil {
		return
	}
	c.iom.SetMMIOUnassigned(fallback.ReadCB, fallback.WriteCB)
	c.iom.SetSMNUnassigned(fallback.ReadCB, fallback.WriteCB)
}

// wireProxy connects to cfg.ProxyAddr if configured, or falls back to
// a Loopback so System-mode runs and tests always have a proxy.Client
// to forward through, per pspEmuCcdProxyInit — except the original
// has no Loopback concept at all (an unconfigured proxy simply means
// every unassigned-region access is dropped); defaulting to Loopback
// here keeps svc.State's forwarding paths exercised without a real
// PSP attached, which the original never needed since it only ever
// ran against connected hardware or none.
func (c *CCD) wireProxy(cfg *config.Config) {
	if cfg.ProxyAddr == "" {
		c.proxyClient = proxy.NewLoopback()
		return
	}

	// The wire transport to a real pspproxy-compatible endpoint is an
	// out-of-scope external collaborator (spec.md §1); this emulator
	// has nothing to dial, so it falls back to Loopback and logs that
	// the configured address was ignored.
	log.WithField("addr", cfg.ProxyAddr).
		Warn("proxy address configured but no wire transport is implemented; using an in-memory loopback instead")
	c.proxyClient = proxy.NewLoopback()

	stage := proxy.BLStageUnknown
	if cfg.Mode == cpucore.ModeSystemOnChipBl {
		stage = proxy.BLStageOnChip
	}
	arch := cfg.MicroArch

	c.iom.SetMMIOUnassigned(
		func(inst *device.Instance, addr uint32, size int) (uint32, error) {
			if allowed, blocked := proxy.IsMMIOAccessAllowed(addr, size, false, stage, arch); !allowed {
				return blocked, nil
			}
			var buf [4]byte
			if err := c.proxyClient.MemRead(addr, buf[:size]); err != nil {
				return 0, err
			}
			return leUint32(buf[:size]), nil
		},
		func(inst *device.Instance, addr uint32, size int, value uint32) error {
			if allowed, _ := proxy.IsMMIOAccessAllowed(addr, size, true, stage, arch); !allowed {
				return nil
			}
			buf := leBytes(value, size)
			return c.proxyClient.MemWrite(addr, buf)
		},
	)

	c.iom.SetSMNUnassigned(
		func(inst *device.Instance, addr uint32, size int) (uint32, error) {
			if allowed, blocked := proxy.IsSMNAccessAllowed(addr, size, false, stage, arch); !allowed {
				return blocked, nil
			}
			var buf [4]byte
			if err := c.proxyClient.MemRead(addr, buf[:size]); err != nil {
				return 0, err
			}
			return leUint32(buf[:size]), nil
		},
		func(inst *device.Instance, addr uint32, size int, value uint32) error {
			if allowed, _ := proxy.IsSMNAccessAllowed(addr, size, true, stage, arch); !allowed {
				return nil
			}
			buf := leBytes(value, size)
			return c.proxyClient.MemWrite(addr, buf)
		},
	)
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i, c := range b {
		v |= uint32(c) << (8 * i)
	}
	return v
}

func leBytes(v uint32, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// QueryCore returns the CCD's CPU core.
func (c *CCD) QueryCore() *cpucore.Core {
	return c.core
}

// Reset re-initializes every device (dropping per-device state and
// re-running Init, per device.Instance.Reset's contract) without
// tearing down the core or I/O manager.
func (c *CCD) Reset() error {
	var result *multierror.Error
	for _, inst := range c.devices {
		if err := inst.Reset(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Run resumes the CCD's core, matching PSPEmuCcdRun minus the
// debugger runloop branch (the GDB stub is an out-of-scope external
// collaborator per spec.md §1).
func (c *CCD) Run(maxInsns uint64, maxMs uint32) (armcore.RunResult, error) {
	return c.core.ExecRun(maxInsns, maxMs)
}

// Destroy tears down every device, the I/O manager and the core,
// aggregating every teardown failure with go-multierror instead of
// stopping at the first one, matching PSPEmuCcdDestroy's
// unconditional full teardown.
func (c *CCD) Destroy() error {
	var result *multierror.Error

	for _, inst := range c.devices {
		inst.Destroy()
	}

	if err := c.core.Destroy(); err != nil {
		result = multierror.Append(result, err)
	}

	unregisterCore(c.ccdID)

	return result.ErrorOrNil()
}

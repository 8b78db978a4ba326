// Package iomgr implements the I/O Manager: the three region tables
// (PSP MMIO, SMN keyed by (ccdTarget, addr), x86 mapping slots) that
// demultiplex guest memory accesses to devices, adapted from the
// teacher's internal/bus.Bus address-range dispatch. Unlike the GBA's
// fixed memory map, the PSP's device set is registration-driven: there
// is no compile-time switch over address ranges, only a dynamically
// maintained, sorted region table probed on every access — mirroring
// PSPEmuIoMgrMmioRegister/SmnRegister/X86MmioRegister/Deregister in
// original_source/include/psp-iom.h.
package iomgr

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/amdpsp/pspemu/internal/device"
	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/psperr"
)

var log = logging.For("iomgr")

// region is one entry of the PSP MMIO or SMN region tables:
// [base, base+size), bound to one device Instance. PSP and SMN
// addresses are both 32-bit (spec.md §3), unlike x86 physical
// addresses which need their own wider region type below.
type region struct {
	base uint32
	size uint32
	inst *device.Instance
}

func (r *region) contains(addr uint32) bool {
	return addr >= r.base && addr < r.base+r.size
}

// x86Region is one entry of the x86 MMIO/mem table: x86 physical
// addresses are 64-bit (spec.md §3's "x86 physical address space:
// 64-bit; reachable only via a mapping window").
type x86Region struct {
	base uint64
	size uint64
	inst *device.Instance
}

func (r *x86Region) contains(addr uint64) bool {
	return addr >= r.base && addr < r.base+r.size
}

// smnKey identifies an SMN target: the original scopes SMN addresses
// per target CCD (SmnAddrStart is only unique within one CCD's SMN
// fabric), so regions are grouped by ccdTarget rather than addr alone.
// Each target owns its own range-checked region list (not a single
// exact-match slot) since SMN devices range from single fixed
// registers (smn5e000, the CCD-id register) up to a multi-megabyte
// flash image window, mirroring PSPEmuIoMgrSmnRegister's
// (addr, size) pair in the original.
type smnKey = uint32

// Manager is the I/O Manager attached to one CPU core. It owns three
// independent region tables; PSP MMIO accesses are routed by the CPU
// core's own armcore.Executor.MapMMIO hook pointed at Manager's
// PSPAddrRead/Write, while SMN and x86 windows are addressed directly
// by svc/proxy callers since neither space is mapped into the ARM
// executor's own address space.
type Manager struct {
	mu sync.Mutex

	mmio []*region
	smn  map[smnKey][]*region
	x86  []*x86Region

	mmioUnassignedRead  device.ReadCBFunc
	mmioUnassignedWrite device.WriteCBFunc
	smnUnassignedRead   device.ReadCBFunc
	smnUnassignedWrite  device.WriteCBFunc
	x86UnassignedRead   device.ReadCBFunc
	x86UnassignedWrite  device.WriteCBFunc
}

// New creates an I/O Manager. hCore in the original is the PSP core
// the manager is bound to; this Manager is address-space agnostic and
// is wired to a core by the caller (ccd.Create) registering its
// regions against the core's armcore.Executor, so no core handle is
// threaded through here.
func New() *Manager {
	return &Manager{
		smn: make(map[smnKey][]*region),
	}
}

// SetMMIOUnassigned installs the fallback invoked for an access that
// hits no registered MMIO region. By default there is no callback and
// reads return all bits 0, writes are ignored — PSPEmuIoMgrMmioUnassignedSet's
// documented default behavior.
func (m *Manager) SetMMIOUnassigned(read device.ReadCBFunc, write device.WriteCBFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mmioUnassignedRead = read
	m.mmioUnassignedWrite = write
}

// SetSMNUnassigned installs the fallback for an SMN access that hits
// no registered region, e.g. devices/smnunknown.
func (m *Manager) SetSMNUnassigned(read device.ReadCBFunc, write device.WriteCBFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.smnUnassignedRead = read
	m.smnUnassignedWrite = write
}

// SetX86Unassigned installs the fallback for an x86 MMIO access that
// hits no registered region.
func (m *Manager) SetX86Unassigned(read device.ReadCBFunc, write device.WriteCBFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.x86UnassignedRead = read
	m.x86UnassignedWrite = write
}

// RegisterMMIODevice registers inst's window at [base, base+size) in
// the PSP MMIO table. Fails with ErrMemoryAccess if the range overlaps
// an existing registration.
func (m *Manager) RegisterMMIODevice(base, size uint32, inst *device.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &region{base: base, size: size, inst: inst}
	if overlaps(m.mmio, r) {
		return errors.Wrapf(psperr.ErrMemoryAccess, "mmio region [%#x, %#x) overlaps an existing registration", base, base+size)
	}
	m.mmio = append(m.mmio, r)
	sort.Slice(m.mmio, func(i, j int) bool { return m.mmio[i].base < m.mmio[j].base })
	log.WithField("base", base).WithField("size", size).Debug("mmio device registered")
	return nil
}

// RegisterSMNDevice registers inst at [addr, addr+size) on ccdTarget's
// SMN fabric, ranged exactly like RegisterMMIODevice — SMN windows
// span from a single fixed register (the CCD-id register, 4 bytes) up
// to a multi-megabyte flash image, per PSPEmuIoMgrSmnRegister.
func (m *Manager) RegisterSMNDevice(ccdTarget, addr, size uint32, inst *device.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &region{base: addr, size: size, inst: inst}
	if overlaps(m.smn[ccdTarget], r) {
		return errors.Wrapf(psperr.ErrMemoryAccess, "smn region [%#x, %#x) on ccd %d overlaps an existing registration", addr, addr+size, ccdTarget)
	}
	m.smn[ccdTarget] = append(m.smn[ccdTarget], r)
	sort.Slice(m.smn[ccdTarget], func(i, j int) bool { return m.smn[ccdTarget][i].base < m.smn[ccdTarget][j].base })
	log.WithField("ccd", ccdTarget).WithField("addr", addr).Debug("smn device registered")
	return nil
}

// RegisterX86Device registers inst's window at x86 physical address
// base. x86 windows are always addressed directly (via X86Read/Write),
// never through the ARM executor's own MMIO hook, matching the
// original's separate PSPEmuIoMgrX86MmioRegister table.
func (m *Manager) RegisterX86Device(base, size uint64, inst *device.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &x86Region{base: base, size: size, inst: inst}
	if overlapsX86(m.x86, r) {
		return errors.Wrapf(psperr.ErrMemoryAccess, "x86 region [%#x, %#x) overlaps an existing registration", base, base+size)
	}
	m.x86 = append(m.x86, r)
	sort.Slice(m.x86, func(i, j int) bool { return m.x86[i].base < m.x86[j].base })
	return nil
}

// Unregister removes inst from every table it appears in.
func (m *Manager) Unregister(inst *device.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mmio = removeInstance(m.mmio, inst)
	m.x86 = removeInstanceX86(m.x86, inst)
	for k, regions := range m.smn {
		m.smn[k] = removeInstance(regions, inst)
	}
}

// PSPAddrRead reads size bytes (1, 2 or 4) at addr, routing through
// whichever MMIO device's window contains addr, or the unassigned
// fallback (or zero-fill, absent a fallback) if none does.
func (m *Manager) PSPAddrRead(addr uint32, size int) (uint32, error) {
	m.mu.Lock()
	r := findRegion(m.mmio, addr)
	fallback := m.mmioUnassignedRead
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, addr, size)
		}
		log.WithField("addr", addr).Trace("read from unassigned mmio region")
		return 0, nil
	}

	return r.inst.Descriptor.ReadCB(r.inst, addr-r.base, size)
}

// PSPAddrWrite writes size bytes at addr. Fire-and-forget per the
// component design: the device callback must not block, and a write
// hitting no region is silently dropped (after the unassigned
// fallback, if any, is given a chance to observe it).
func (m *Manager) PSPAddrWrite(addr uint32, size int, value uint32) error {
	m.mu.Lock()
	r := findRegion(m.mmio, addr)
	fallback := m.mmioUnassignedWrite
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, addr, size, value)
		}
		log.WithField("addr", addr).Trace("write to unassigned mmio region ignored")
		return nil
	}

	if r.inst.Descriptor.WriteCB == nil {
		return nil // read-only device window
	}
	return r.inst.Descriptor.WriteCB(r.inst, addr-r.base, size, value)
}

// SMNRead reads size bytes from SMN address addr on ccdTarget.
func (m *Manager) SMNRead(ccdTarget, addr uint32, size int) (uint32, error) {
	m.mu.Lock()
	r := findRegion(m.smn[ccdTarget], addr)
	fallback := m.smnUnassignedRead
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, addr, size)
		}
		return 0, nil
	}
	return r.inst.Descriptor.ReadCB(r.inst, addr-r.base, size)
}

// SMNWrite writes size bytes to SMN address addr on ccdTarget.
func (m *Manager) SMNWrite(ccdTarget, addr uint32, size int, value uint32) error {
	m.mu.Lock()
	r := findRegion(m.smn[ccdTarget], addr)
	fallback := m.smnUnassignedWrite
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, addr, size, value)
		}
		return nil
	}
	if r.inst.Descriptor.WriteCB == nil {
		return nil
	}
	return r.inst.Descriptor.WriteCB(r.inst, addr-r.base, size, value)
}

// X86Read reads size bytes from x86 physical address addr.
func (m *Manager) X86Read(addr uint64, size int) (uint32, error) {
	m.mu.Lock()
	r := findRegionX86(m.x86, addr)
	fallback := m.x86UnassignedRead
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, uint32(addr), size)
		}
		return 0, nil
	}
	return r.inst.Descriptor.ReadCB(r.inst, uint32(addr-r.base), size)
}

// X86Write writes size bytes to x86 physical address addr.
func (m *Manager) X86Write(addr uint64, size int, value uint32) error {
	m.mu.Lock()
	r := findRegionX86(m.x86, addr)
	fallback := m.x86UnassignedWrite
	m.mu.Unlock()

	if r == nil {
		if fallback != nil {
			return fallback(nil, uint32(addr), size, value)
		}
		return nil
	}
	if r.inst.Descriptor.WriteCB == nil {
		return nil
	}
	return r.inst.Descriptor.WriteCB(r.inst, uint32(addr-r.base), size, value)
}

// HasX86Device reports whether a registered x86 device covers addr,
// letting a caller (the SVC layer's x86 cached-mapping protocol)
// distinguish "route locally" from "forward to the proxy" before
// reading or writing a byte, rather than relying on X86Read/Write's
// zero-fill fallback to mean "unmapped".
func (m *Manager) HasX86Device(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return findRegionX86(m.x86, addr) != nil
}

func findRegion(regions []*region, addr uint32) *region {
	for _, r := range regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func findRegionX86(regions []*x86Region, addr uint64) *x86Region {
	for _, r := range regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func overlaps(regions []*region, cand *region) bool {
	for _, r := range regions {
		if cand.base < r.base+r.size && r.base < cand.base+cand.size {
			return true
		}
	}
	return false
}

func overlapsX86(regions []*x86Region, cand *x86Region) bool {
	for _, r := range regions {
		if cand.base < r.base+r.size && r.base < cand.base+cand.size {
			return true
		}
	}
	return false
}

func removeInstance(regions []*region, inst *device.Instance) []*region {
	out := regions[:0]
	for _, r := range regions {
		if r.inst != inst {
			out = append(out, r)
		}
	}
	return out
}

func removeInstanceX86(regions []*x86Region, inst *device.Instance) []*x86Region {
	out := regions[:0]
	for _, r := range regions {
		if r.inst != inst {
			out = append(out, r)
		}
	}
	return out
}

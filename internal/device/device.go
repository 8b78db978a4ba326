// Package device defines the pluggable peripheral contract: a
// Descriptor template shared by every concrete device package under
// internal/devices, and the package-level Registry they are looked up in.
// Grounded on PSPMMIODEVREG/PSPMMIODEV in
// original_source/include/psp-mmio-dev.h, generalized from a C
// link-time static table to Go's init()-populated package registry
// idiom.
package device

import (
	"fmt"

	"github.com/amdpsp/pspemu/internal/logging"
)

var log = logging.For("device")

// ReadCBFunc services a read of size bytes (1, 2 or 4) at offset,
// relative to the device's MMIO window base.
type ReadCBFunc func(inst *Instance, offset uint32, size int) (uint32, error)

// WriteCBFunc services a write. Per the I/O Manager's routing
// discipline, writes are fire-and-forget and must not block.
type WriteCBFunc func(inst *Instance, offset uint32, size int, value uint32) error

// InitFunc runs right after an Instance is allocated and before it is
// registered with the I/O Manager, and again on every Instance.Reset.
// State is whatever the concrete device package chooses to stash in
// Instance.State.
type InitFunc func(inst *Instance) error

// DestructFunc runs on CCD teardown (Instance.Destroy). Instance.Reset
// does not call it: Reset clears State and re-runs Init.
type DestructFunc func(inst *Instance)

// Descriptor is a device template: the Go analogue of PSPMMIODEVREG.
// One Descriptor is registered once per device kind (in the owning
// devices/* package's init()); many Instances may be created from it
// (one per CCD that selects the device).
type Descriptor struct {
	Name        string
	Description string

	// InstanceSize mirrors PSPMMIODEVREG.cbInstance; Go instances size
	// themselves via Instance.State instead of a variable-length
	// trailing array, so this is carried for parity with the original
	// record shape rather than consulted by NewInstance.
	InstanceSize uint32

	// WindowSize is the size in bytes of the MMIO (or SMN, or x86)
	// window the device occupies, mirroring PSPMMIODEVREG.cbMmio.
	WindowSize uint32

	Init     InitFunc
	Destruct DestructFunc
	ReadCB   ReadCBFunc
	WriteCB  WriteCBFunc
}

// Instance is one live device attached to one CCD, the analogue of
// PSPMMIODEV. State is opaque to this package; each devices/* package
// type-asserts it back to its own concrete struct.
type Instance struct {
	Descriptor *Descriptor
	// Base is the window's starting address. Its unit depends on which
	// table the Instance is registered in (PSP or SMN address, both
	// 32-bit, widened here so one field serves every address space
	// including 64-bit x86 physical addresses).
	Base  uint64
	State interface{}

	// Config is caller-supplied construction-time configuration (e.g.
	// a flash image, an EM100 port) a device's Init reads to build its
	// real State. Unlike State, Reset does not clear it, since the
	// backing configuration does not change across a firmware reset.
	Config interface{}
}

// Registry is the set of Descriptors known by name, populated by each
// devices/* package's init() calling Register. ccd.Create resolves
// config.Config.Devices against this registry through Lookup.
type Registry struct {
	byName map[string]*Descriptor
}

var defaultRegistry = &Registry{byName: make(map[string]*Descriptor)}

// Register adds desc to the default registry. Panics on a duplicate
// name — that is a build-time programming error, not a runtime one,
// matching the teacher's pattern of failing fast on a duplicate
// table entry during package init.
func Register(desc *Descriptor) {
	if _, exists := defaultRegistry.byName[desc.Name]; exists {
		panic(fmt.Sprintf("device: duplicate registration for %q", desc.Name))
	}
	defaultRegistry.byName[desc.Name] = desc
	log.WithField("device", desc.Name).Debug("device descriptor registered")
}

// Lookup finds a Descriptor by name in the default registry.
func Lookup(name string) (*Descriptor, bool) {
	d, ok := defaultRegistry.byName[name]
	return d, ok
}

// Names returns every registered device name, for config validation
// and --list-devices style tooling.
func Names() []string {
	names := make([]string, 0, len(defaultRegistry.byName))
	for n := range defaultRegistry.byName {
		names = append(names, n)
	}
	return names
}

// NewInstance allocates an Instance at base and runs its Init hook.
// config, if non-nil, is stashed in Instance.Config before Init runs,
// so a device descriptor that needs construction-time parameters
// (flash's image bytes, an EM100 port) can read it back.
func NewInstance(desc *Descriptor, base uint64, config interface{}) (*Instance, error) {
	inst := &Instance{Descriptor: desc, Base: base, Config: config}
	if desc.Init != nil {
		if err := desc.Init(inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Reset re-runs Init against the existing Instance, matching spec.md
// §4.3's reset semantics (drop per-device state, re-run init).
func (inst *Instance) Reset() error {
	inst.State = nil
	if inst.Descriptor.Init != nil {
		return inst.Descriptor.Init(inst)
	}
	return nil
}

// Destroy runs the Destruct hook, if any.
func (inst *Instance) Destroy() {
	if inst.Descriptor.Destruct != nil {
		inst.Descriptor.Destruct(inst)
	}
}

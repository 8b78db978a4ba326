// Package cpucore implements the CPU Core component: one ARM executor
// plus its owned SRAM. The x86 mapping slots and the App-mode SVC state
// live in the svc package, not here. Grounded on the original's PSPEmuCoreCreate/Destroy/
// MemRead/MemWrite/MemAddRegion/SetReg/QueryReg/ExecSetStartAddr/
// ExecRun/ExecStop in psp-core.c, with the concrete Unicorn engine
// handle (pUcEngine) replaced by the armcore.Executor trait.
package cpucore

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/amdpsp/pspemu/internal/armcore"
	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/metrics"
	"github.com/amdpsp/pspemu/internal/psperr"
)

var log = logging.For("cpucore")

// Mode is the emulation mode a Core was created in.
type Mode int

const (
	ModeApp Mode = iota
	ModeSystem
	ModeSystemOnChipBl
)

func (m Mode) String() string {
	switch m {
	case ModeApp:
		return "app"
	case ModeSystem:
		return "system"
	case ModeSystemOnChipBl:
		return "system-on-chip-bl"
	default:
		return "unknown"
	}
}

// Register re-exports armcore.Register under the name the rest of the
// component design (and spec.md §4.1's set_reg/query_reg) uses.
type Register = armcore.Register

const (
	R0  = armcore.R0
	R1  = armcore.R1
	R2  = armcore.R2
	R3  = armcore.R3
	R4  = armcore.R4
	R5  = armcore.R5
	R6  = armcore.R6
	R7  = armcore.R7
	R8  = armcore.R8
	R9  = armcore.R9
	R10 = armcore.R10
	R11 = armcore.R11
	R12 = armcore.R12
	SP  = armcore.SP
	LR  = armcore.LR
	PC  = armcore.PC
)

// sramSize is the fixed PSP on-chip SRAM size, mapped R/W at PSP
// address 0 on every Core regardless of mode.
const sramSize = 256 * 1024

// maxX86MappingSlots bounds the fixed array of temporary x86 cached
// mappings a Core owns (the svc package's X86CachedMapping pool lives
// logically inside this budget; the slots themselves are tracked in
// the svc package since they are reused across SVC calls, not the
// core's own state).
const maxX86MappingSlots = 8

// Core is one PSP CPU core: an ARM executor, its SRAM, and the
// bookkeeping spec.md §3's CpuCore attributes describe. It owns no
// devices and no SVC dispatch logic directly — those are layered on
// top by ccd.CCD and the svc package, which is why X86CachedMapping
// slot accounting is not duplicated here.
type Core struct {
	mode Mode

	exec armcore.Executor

	ccdID uint32

	execAddrNext uint32

	// x86MappingSlotsUsed is advisory slot-pressure bookkeeping. Nothing
	// writes it: the svc package counts its own slots and reports them
	// through metrics.X86MappingSlotsInUse.
	x86MappingSlotsUsed int
}

// Create allocates 256 KiB SRAM, opens an ARM executor and maps the
// SRAM at PSP address 0 as R/W, per spec.md §4.1's create(mode).
func Create(mode Mode, exec armcore.Executor) (*Core, error) {
	if exec == nil {
		exec = armcore.NewInterpreter()
	}

	if err := exec.Open(); err != nil {
		return nil, errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}

	if err := exec.MapRAM(0, sramSize); err != nil {
		_ = exec.Close()
		return nil, errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}

	log.WithField("mode", mode).Info("cpu core created")

	return &Core{
		mode: mode,
		exec: exec,
	}, nil
}

// Destroy releases the executor. Idempotent: calling Destroy twice, or
// on a Core whose Create failed partway, is safe.
func (c *Core) Destroy() error {
	if c == nil || c.exec == nil {
		return nil
	}
	err := c.exec.Close()
	c.exec = nil
	if err != nil {
		return errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}
	return nil
}

// Mode returns the emulation mode this Core was created with.
func (c *Core) Mode() Mode {
	return c.mode
}

// Executor exposes the underlying armcore.Executor so the I/O Manager
// and SVC layer can install MMIO windows and an SVC handler on it.
func (c *Core) Executor() armcore.Executor {
	return c.exec
}

// SetCCDID records which CCD this core belongs to.
func (c *Core) SetCCDID(id uint32) {
	c.ccdID = id
}

// QueryCCDID returns the CCD id set by SetCCDID.
func (c *Core) QueryCCDID() uint32 {
	return c.ccdID
}

// MemWrite writes guest memory through the executor.
func (c *Core) MemWrite(addr uint32, data []byte) error {
	if err := c.exec.MemWrite(addr, data); err != nil {
		return errors.Wrap(psperr.ErrMemoryAccess, err.Error())
	}
	return nil
}

// MemRead reads guest memory through the executor.
func (c *Core) MemRead(addr uint32, buf []byte) error {
	if err := c.exec.MemRead(addr, buf); err != nil {
		return errors.Wrap(psperr.ErrMemoryAccess, err.Error())
	}
	return nil
}

// MemAddRegion adds a plain RAM region, failing if it overlaps an
// existing mapping. The original leaves this as a stub
// (`/** @todo */` returning -1); this emulator implements it fully
// since svc's app_init (SVC 0x01) and the SEV state-save path both
// depend on dynamically growing the RAM map at runtime.
func (c *Core) MemAddRegion(base, size uint32) error {
	if err := c.exec.MapRAM(base, size); err != nil {
		return errors.Wrap(psperr.ErrMemoryAccess, err.Error())
	}
	return nil
}

// SetReg writes one register.
func (c *Core) SetReg(reg Register, val uint32) error {
	if err := c.exec.RegWrite(reg, val); err != nil {
		return errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}
	return nil
}

// QueryReg reads one register.
func (c *Core) QueryReg(reg Register) (uint32, error) {
	val, err := c.exec.RegRead(reg)
	if err != nil {
		return 0, errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}
	return val, nil
}

// ExecSetStartAddr records the address the next ExecRun resumes from.
func (c *Core) ExecSetStartAddr(addr uint32) {
	c.execAddrNext = addr
	c.exec.SetStartAddr(addr)
}

// ExecRun resumes execution from the stored start address. maxInsns
// or maxMs of 0 means no ceiling on that axis, matching the original's
// uc_emu_start(pc, 0xffffffff, msExec, cInsnExec) call with the
// end-address ceiling dropped — this emulator has no notion of a
// fixed exit address, only instruction/time/cooperative-stop limits.
func (c *Core) ExecRun(maxInsns uint64, maxMs uint32) (armcore.RunResult, error) {
	res, err := c.exec.Start(maxInsns, time.Duration(maxMs)*time.Millisecond)
	metrics.InstructionsRetired.WithLabelValues(fmt.Sprintf("%d", c.ccdID)).Add(float64(res.InstructionsRetired))
	if err != nil {
		return res, errors.Wrap(psperr.ErrExecutorFailure, err.Error())
	}
	return res, nil
}

// ExecStop is the cooperative cancellation primitive; callable from an
// MMIO or SVC callback running on the same goroutine as ExecRun.
func (c *Core) ExecStop() {
	c.exec.Stop()
}

// Package armcore hides the instruction-emulation engine behind a
// narrow trait, per the "black-box CPU executor" design note: the
// rest of the emulator only ever sees Executor, never the concrete
// ARM decode/execute loop. This keeps the emulator portable across
// instruction-emulation engines (a real build might swap Interpreter
// for a binding to Unicorn or QEMU's TCG) without touching cpucore,
// iomgr, svc, or ccd.
//
// The register file, decode tables and condition-code logic are
// adapted from the teacher's internal/cpu/{registers,arm_decode,
// arm_exec}.go, stripped of GBA-specific register banking and
// pipeline modeling: the PSP core this emulator targets exposes only
// the flat {R0..R12, SP, LR, PC} register file the component design
// calls for, and cycle accuracy is an explicit Non-goal.
package armcore

import (
	"time"

	"github.com/pkg/errors"
)

// Register identifies one entry of the flat 16-register file.
type Register int

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	NumRegisters
)

// MMIOReadFunc services a load that falls inside a mapped MMIO window.
// offset is relative to the window's base; size is 1, 2 or 4.
type MMIOReadFunc func(offset uint32, size int) (uint32, error)

// MMIOWriteFunc services a store that falls inside a mapped MMIO
// window. Per the I/O Manager's routing discipline, writes are
// fire-and-forget: the callback must not block.
type MMIOWriteFunc func(offset uint32, size int, value uint32) error

// SvcFunc is invoked synchronously when the interpreter traps an
// `svc #imm` instruction. num is the immediate field. The handler may
// freely read/write registers and memory through the same Executor
// before returning; R0 is expected to already hold the status the
// handler wants the guest to observe.
type SvcFunc func(num uint32) error

// StopReason explains why Start returned.
type StopReason int

const (
	// StopInstructionLimit means maxInsns instructions were retired.
	StopInstructionLimit StopReason = iota
	// StopTimeLimit means the wall-clock ceiling was reached.
	StopTimeLimit
	// StopCooperative means Stop() was called from a callback.
	StopCooperative
	// StopFault means execution hit an unrecoverable error; Err on
	// the returned RunResult describes it.
	StopFault
)

// RunResult is returned by Start.
type RunResult struct {
	Reason              StopReason
	InstructionsRetired uint64
	Err                 error
}

// Executor is the narrow trait the rest of the emulator programs
// against. One PSP core owns exactly one Executor.
type Executor interface {
	// Open allocates whatever engine-internal state is needed.
	Open() error
	// Close releases engine-internal state. Idempotent.
	Close() error

	// MapRAM backs [base, base+size) with a flat, read/write byte
	// buffer. Fails if the range overlaps an existing mapping.
	MapRAM(base, size uint32) error

	// MapMMIO routes loads/stores inside [base, base+size) to read
	// and write instead of a backing buffer. write may be nil for a
	// read-only window (writes are then silently dropped, matching
	// the I/O Manager's unmapped-write fallback).
	MapMMIO(base, size uint32, read MMIOReadFunc, write MMIOWriteFunc) error
	// UnmapMMIO removes a window previously installed with MapMMIO.
	UnmapMMIO(base uint32) error

	// SetSvcHandler installs the callback invoked on `svc #imm` traps.
	SetSvcHandler(fn SvcFunc)

	RegRead(reg Register) (uint32, error)
	RegWrite(reg Register, val uint32) error

	MemRead(addr uint32, buf []byte) error
	MemWrite(addr uint32, data []byte) error

	// SetStartAddr sets the PC used by the next Start call.
	SetStartAddr(addr uint32)

	// Start resumes execution from the address set by SetStartAddr.
	// maxInsns == 0 or maxDuration == 0 means "no ceiling" on that
	// axis. Start never runs concurrently with itself on one Executor.
	Start(maxInsns uint64, maxDuration time.Duration) (RunResult, error)
	// Stop is the cooperative cancellation primitive; callable from
	// an MMIO or SVC callback invoked on the same goroutine as Start.
	Stop()
}

// ErrOverlap is returned by MapRAM/MapMMIO when the requested range
// overlaps an existing mapping (invariant 5 of the data model).
var ErrOverlap = errors.New("armcore: region overlaps an existing mapping")

// ErrUnmapped is returned by MemRead/MemWrite/fetch for an address
// not covered by any RAM or MMIO mapping.
var ErrUnmapped = errors.New("armcore: unmapped address")

// ErrRecursiveRun is returned by Start if called while a prior Start
// on the same Executor has not yet returned.
var ErrRecursiveRun = errors.New("armcore: recursive exec_run")

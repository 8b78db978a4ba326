package armcore

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/amdpsp/pspemu/internal/psperr"
)

type ramRegion struct {
	base, size uint32
	data       []byte
}

func (r *ramRegion) contains(addr uint32) bool {
	return addr >= r.base && addr < r.base+r.size
}

type mmioRegion struct {
	base, size uint32
	read       MMIOReadFunc
	write      MMIOWriteFunc
}

func (r *mmioRegion) contains(addr uint32) bool {
	return addr >= r.base && addr < r.base+r.size
}

func regionsOverlap(base1, size1, base2, size2 uint32) bool {
	end1 := base1 + size1
	end2 := base2 + size2
	return base1 < end2 && base2 < end1
}

// Interpreter is the default Executor: a small, deliberately
// incomplete ARMv4T interpreter adapted from the teacher's
// internal/cpu decode/exec pair. It supports the subset of the ISA
// needed to drive SVC traps, stack-relative load/store and
// straight-line control flow: data processing, single word/byte
// load-store, B/BL/BX and SVC. Anything else decodes to kindUndefined
// and is reported as psperr.ErrExecutorFailure.
type Interpreter struct {
	regs registerFile

	ram  []*ramRegion
	mmio []*mmioRegion

	svcHandler SvcFunc
	startAddr  uint32

	running atomic.Bool
	stopReq atomic.Bool
}

var _ Executor = (*Interpreter)(nil)

// NewInterpreter constructs an unopened Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

func (it *Interpreter) Open() error  { return nil }
func (it *Interpreter) Close() error { it.ram = nil; it.mmio = nil; return nil }

func (it *Interpreter) MapRAM(base, size uint32) error {
	for _, r := range it.ram {
		if regionsOverlap(r.base, r.size, base, size) {
			return errors.Wrapf(ErrOverlap, "ram region [%#x, %#x)", base, base+size)
		}
	}
	for _, r := range it.mmio {
		if regionsOverlap(r.base, r.size, base, size) {
			return errors.Wrapf(ErrOverlap, "ram region [%#x, %#x) collides with mmio", base, base+size)
		}
	}
	it.ram = append(it.ram, &ramRegion{base: base, size: size, data: make([]byte, size)})
	return nil
}

func (it *Interpreter) MapMMIO(base, size uint32, read MMIOReadFunc, write MMIOWriteFunc) error {
	for _, r := range it.mmio {
		if regionsOverlap(r.base, r.size, base, size) {
			return errors.Wrapf(ErrOverlap, "mmio region [%#x, %#x)", base, base+size)
		}
	}
	for _, r := range it.ram {
		if regionsOverlap(r.base, r.size, base, size) {
			return errors.Wrapf(ErrOverlap, "mmio region [%#x, %#x) collides with ram", base, base+size)
		}
	}
	it.mmio = append(it.mmio, &mmioRegion{base: base, size: size, read: read, write: write})
	return nil
}

func (it *Interpreter) UnmapMMIO(base uint32) error {
	for i, r := range it.mmio {
		if r.base == base {
			it.mmio = append(it.mmio[:i], it.mmio[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrUnmapped, "no mmio region at %#x", base)
}

func (it *Interpreter) SetSvcHandler(fn SvcFunc) { it.svcHandler = fn }

func (it *Interpreter) RegRead(reg Register) (uint32, error) {
	if reg < 0 || reg >= NumRegisters {
		return 0, errors.Errorf("armcore: register index %d out of range", reg)
	}
	return it.regs.get(reg), nil
}

func (it *Interpreter) RegWrite(reg Register, val uint32) error {
	if reg < 0 || reg >= NumRegisters {
		return errors.Errorf("armcore: register index %d out of range", reg)
	}
	it.regs.set(reg, val)
	return nil
}

func (it *Interpreter) findRAM(addr uint32) *ramRegion {
	for _, r := range it.ram {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func (it *Interpreter) findMMIO(addr uint32) *mmioRegion {
	for _, r := range it.mmio {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

func (it *Interpreter) MemRead(addr uint32, buf []byte) error {
	for i := range buf {
		b, err := it.readByte(addr + uint32(i))
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

func (it *Interpreter) MemWrite(addr uint32, data []byte) error {
	for i, b := range data {
		if err := it.writeByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interpreter) readByte(addr uint32) (byte, error) {
	if r := it.findRAM(addr); r != nil {
		return r.data[addr-r.base], nil
	}
	if m := it.findMMIO(addr); m != nil {
		v, err := m.read(addr-m.base, 1)
		if err != nil {
			return 0, err
		}
		return byte(v), nil
	}
	return 0, errors.Wrapf(ErrUnmapped, "read byte at %#x", addr)
}

func (it *Interpreter) writeByte(addr uint32, val byte) error {
	if r := it.findRAM(addr); r != nil {
		r.data[addr-r.base] = val
		return nil
	}
	if m := it.findMMIO(addr); m != nil {
		if m.write == nil {
			return nil
		}
		return m.write(addr-m.base, 1, uint32(val))
	}
	return errors.Wrapf(ErrUnmapped, "write byte at %#x", addr)
}

func (it *Interpreter) readWord(addr uint32) (uint32, error) {
	if r := it.findRAM(addr); r != nil && r.contains(addr+3) {
		off := addr - r.base
		return uint32(r.data[off]) | uint32(r.data[off+1])<<8 | uint32(r.data[off+2])<<16 | uint32(r.data[off+3])<<24, nil
	}
	if m := it.findMMIO(addr); m != nil {
		return m.read(addr-m.base, 4)
	}
	var buf [4]byte
	if err := it.MemRead(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func (it *Interpreter) writeWord(addr, val uint32) error {
	if r := it.findRAM(addr); r != nil && r.contains(addr+3) {
		off := addr - r.base
		r.data[off] = byte(val)
		r.data[off+1] = byte(val >> 8)
		r.data[off+2] = byte(val >> 16)
		r.data[off+3] = byte(val >> 24)
		return nil
	}
	if m := it.findMMIO(addr); m != nil {
		if m.write == nil {
			return nil
		}
		return m.write(addr-m.base, 4, val)
	}
	var buf [4]byte
	buf[0], buf[1], buf[2], buf[3] = byte(val), byte(val>>8), byte(val>>16), byte(val>>24)
	return it.MemWrite(addr, buf[:])
}

func (it *Interpreter) SetStartAddr(addr uint32) { it.startAddr = addr }

// Start implements the fetch/decode/execute loop. Instruction N's side
// effects (register and memory mutations from MMIO/SVC callbacks) are
// fully visible to instruction N+1, since both run on the calling
// goroutine with no intervening yield.
func (it *Interpreter) Start(maxInsns uint64, maxDuration time.Duration) (RunResult, error) {
	if !it.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRecursiveRun
	}
	defer it.running.Store(false)

	it.stopReq.Store(false)
	it.regs.set(PC, it.startAddr)

	var deadline time.Time
	if maxDuration > 0 {
		deadline = time.Now().Add(maxDuration)
	}

	var retired uint64
	for {
		if it.stopReq.Load() {
			return RunResult{Reason: StopCooperative, InstructionsRetired: retired}, nil
		}
		if maxInsns > 0 && retired >= maxInsns {
			return RunResult{Reason: StopInstructionLimit, InstructionsRetired: retired}, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return RunResult{Reason: StopTimeLimit, InstructionsRetired: retired}, nil
		}

		pc := it.regs.get(PC)
		raw, err := it.readWord(pc)
		if err != nil {
			werr := errors.Wrapf(err, "fetch at %#x", pc)
			return RunResult{Reason: StopFault, InstructionsRetired: retired, Err: werr}, werr
		}
		it.regs.set(PC, pc+4)

		if err := it.step(raw, pc); err != nil {
			return RunResult{Reason: StopFault, InstructionsRetired: retired, Err: err}, err
		}
		retired++
	}
}

func (it *Interpreter) Stop() { it.stopReq.Store(true) }

func (it *Interpreter) step(raw uint32, pc uint32) error {
	d := decode(raw)
	if !checkCond(d.cond, &it.regs) {
		return nil
	}

	switch d.kind {
	case kindSvc:
		if it.svcHandler == nil {
			return errors.Errorf("armcore: svc #%#x trapped with no handler installed", d.svcNumber)
		}
		return it.svcHandler(d.svcNumber)

	case kindDataProcessing:
		return it.execDataProcessing(d)

	case kindLoadStore:
		return it.execLoadStore(d)

	case kindBranch:
		target := uint32(int64(pc) + 8 + int64(d.branchOffset))
		if d.link {
			it.regs.set(LR, pc+4)
		}
		it.regs.set(PC, target)
		return nil

	case kindBranchExchange:
		target := it.regs.get(Register(d.rm))
		if d.link {
			it.regs.set(LR, pc+4)
		}
		it.regs.set(PC, target &^ 1)
		return nil

	default:
		return errors.Wrapf(psperr.ErrExecutorFailure, "undefined instruction %#08x at %#x", raw, pc)
	}
}

func (it *Interpreter) operand2(d decoded) (uint32, bool) {
	if d.immOp2 {
		return d.immediate, it.regs.flagC
	}
	rm := it.regs.get(Register(d.rm))
	return shift(d.shiftTy, rm, d.shiftImm, it.regs.flagC)
}

func (it *Interpreter) execDataProcessing(d decoded) error {
	op2, carryOut := it.operand2(d)
	rnVal := it.regs.get(Register(d.rn))

	var result uint32
	writesRd := true
	var overflow bool

	switch d.op {
	case dpAND:
		result = rnVal & op2
	case dpEOR:
		result = rnVal ^ op2
	case dpSUB:
		result = rnVal - op2
		carryOut = rnVal >= op2
		overflow = subOverflow(rnVal, op2, result)
	case dpRSB:
		result = op2 - rnVal
		carryOut = op2 >= rnVal
		overflow = subOverflow(op2, rnVal, result)
	case dpADD:
		result = rnVal + op2
		carryOut = result < rnVal
		overflow = addOverflow(rnVal, op2, result)
	case dpADC:
		carryIn := uint32(0)
		if it.regs.flagC {
			carryIn = 1
		}
		wide := uint64(rnVal) + uint64(op2) + uint64(carryIn)
		result = uint32(wide)
		carryOut = wide > 0xFFFFFFFF
		overflow = addOverflow(rnVal, op2, result)
	case dpSBC:
		borrow := uint32(1)
		if it.regs.flagC {
			borrow = 0
		}
		wide := int64(rnVal) - int64(op2) - int64(borrow)
		result = uint32(wide)
		carryOut = wide >= 0
		overflow = subOverflow(rnVal, op2, result)
	case dpRSC:
		borrow := uint32(1)
		if it.regs.flagC {
			borrow = 0
		}
		wide := int64(op2) - int64(rnVal) - int64(borrow)
		result = uint32(wide)
		carryOut = wide >= 0
		overflow = subOverflow(op2, rnVal, result)
	case dpTST:
		result = rnVal & op2
		writesRd = false
	case dpTEQ:
		result = rnVal ^ op2
		writesRd = false
	case dpCMP:
		result = rnVal - op2
		carryOut = rnVal >= op2
		overflow = subOverflow(rnVal, op2, result)
		writesRd = false
	case dpCMN:
		result = rnVal + op2
		carryOut = result < rnVal
		overflow = addOverflow(rnVal, op2, result)
		writesRd = false
	case dpORR:
		result = rnVal | op2
	case dpMOV:
		result = op2
	case dpBIC:
		result = rnVal &^ op2
	case dpMVN:
		result = ^op2
	default:
		return errors.Wrapf(psperr.ErrExecutorFailure, "unhandled data processing opcode %#x", d.op)
	}

	if writesRd {
		it.regs.set(Register(d.rd), result)
	}
	if d.s {
		it.regs.flagN = result&0x80000000 != 0
		it.regs.flagZ = result == 0
		it.regs.flagC = carryOut
		switch d.op {
		case dpADD, dpADC, dpSUB, dpSBC, dpRSB, dpRSC, dpCMP, dpCMN:
			it.regs.flagV = overflow
		}
	}
	return nil
}

func addOverflow(a, b, result uint32) bool {
	return (a^result)&(b^result)&0x80000000 != 0
}

func subOverflow(a, b, result uint32) bool {
	return (a^b)&(a^result)&0x80000000 != 0
}

func (it *Interpreter) execLoadStore(d decoded) error {
	base := it.regs.get(Register(d.rn))

	offset := d.offsetImm
	if d.offsetIsReg {
		offset = it.regs.get(Register(d.rm))
	}

	addr := base
	if d.preIndex {
		if d.addOffset {
			addr = base + offset
		} else {
			addr = base - offset
		}
	}

	var err error
	if d.load {
		if d.byteAccess {
			var v byte
			v, err = it.readByte(addr)
			if err == nil {
				it.regs.set(Register(d.rd), uint32(v))
			}
		} else {
			var v uint32
			v, err = it.readWord(addr)
			if err == nil {
				it.regs.set(Register(d.rd), v)
			}
		}
	} else {
		val := it.regs.get(Register(d.rd))
		if d.byteAccess {
			err = it.writeByte(addr, byte(val))
		} else {
			err = it.writeWord(addr, val)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "load/store at %#x", addr)
	}

	if !d.preIndex {
		if d.addOffset {
			addr = base + offset
		} else {
			addr = base - offset
		}
		it.regs.set(Register(d.rn), addr)
	} else if d.writeback {
		it.regs.set(Register(d.rn), addr)
	}
	return nil
}

package armcore

// instrKind is the broad category of a decoded instruction, trimmed
// from the teacher's ARMInstructionType to the subset this
// interpreter executes: enough to drive SVC traps, stack/heap
// load-store traffic and straight-line control flow deterministically.
// Multiply, block transfer and PSR transfer are left undecoded —
// nothing in the SVC surface or the sample firmware images this
// emulator targets needs them, and cycle/ISA completeness is an
// explicit Non-goal.
type instrKind uint8

const (
	kindUndefined instrKind = iota
	kindDataProcessing
	kindLoadStore
	kindBranch
	kindBranchExchange
	kindSvc
)

// condCode is the 4-bit condition field (bits 31-28).
type condCode uint8

const (
	condEQ condCode = 0x0
	condNE condCode = 0x1
	condCS condCode = 0x2
	condCC condCode = 0x3
	condMI condCode = 0x4
	condPL condCode = 0x5
	condVS condCode = 0x6
	condVC condCode = 0x7
	condHI condCode = 0x8
	condLS condCode = 0x9
	condGE condCode = 0xA
	condLT condCode = 0xB
	condGT condCode = 0xC
	condLE condCode = 0xD
	condAL condCode = 0xE
	condNV condCode = 0xF
)

// dpOp is the data-processing opcode (bits 24-21).
type dpOp uint8

const (
	dpAND dpOp = 0x0
	dpEOR dpOp = 0x1
	dpSUB dpOp = 0x2
	dpRSB dpOp = 0x3
	dpADD dpOp = 0x4
	dpADC dpOp = 0x5
	dpSBC dpOp = 0x6
	dpRSC dpOp = 0x7
	dpTST dpOp = 0x8
	dpTEQ dpOp = 0x9
	dpCMP dpOp = 0xA
	dpCMN dpOp = 0xB
	dpORR dpOp = 0xC
	dpMOV dpOp = 0xD
	dpBIC dpOp = 0xE
	dpMVN dpOp = 0xF
)

// shiftType is the operand-2 shift kind (bits 6-5).
type shiftType uint8

const (
	shiftLSL shiftType = 0x0
	shiftLSR shiftType = 0x1
	shiftASR shiftType = 0x2
	shiftROR shiftType = 0x3
)

// decoded is a flattened decode result covering data processing,
// single-word/byte load-store, branch and SVC — the bit layouts are
// lifted from the teacher's DecodeInstruction_Arm.
type decoded struct {
	kind instrKind
	cond condCode

	// data processing
	op        dpOp
	s         bool
	rn, rd    uint8
	immOp2    bool
	rm        uint8
	shiftTy   shiftType
	shiftImm  uint8
	immediate uint32

	// load/store
	load, preIndex, addOffset, byteAccess, writeback bool
	offsetImm                                        uint32
	offsetIsReg                                      bool

	// branch
	link, exchange bool
	branchOffset   int32

	// svc
	svcNumber uint32
}

func decode(instr uint32) decoded {
	d := decoded{cond: condCode((instr >> 28) & 0xF)}
	top4 := (instr >> 24) & 0xF

	switch {
	case top4 == 0xF:
		d.kind = kindSvc
		d.svcNumber = instr & 0xFFFFFF

	case instr&0x0FFFFFF0 == 0x012FFF10:
		d.kind = kindBranchExchange
		d.rm = uint8(instr & 0xF)
		d.exchange = true

	case top4&0xE == 0xA: // bits 27-25 == 101
		d.kind = kindBranch
		d.link = (instr>>24)&0x1 == 1
		off := int32(instr & 0xFFFFFF)
		if off&(1<<23) != 0 {
			off |= ^0xFFFFFF
		}
		d.branchOffset = off << 2

	case top4&0xC == 0x4: // bits 27-26 == 01
		d.kind = kindLoadStore
		d.preIndex = (instr>>24)&0x1 == 1
		d.addOffset = (instr>>23)&0x1 == 1
		d.byteAccess = (instr>>22)&0x1 == 1
		d.writeback = (instr>>21)&0x1 == 1
		d.load = (instr>>20)&0x1 == 1
		d.rn = uint8((instr >> 16) & 0xF)
		d.rd = uint8((instr >> 12) & 0xF)
		if (instr>>25)&0x1 == 0 {
			d.offsetImm = instr & 0xFFF
		} else {
			d.offsetIsReg = true
			d.rm = uint8(instr & 0xF)
		}

	case top4&0xC == 0x0: // bits 27-26 == 00
		d.kind = kindDataProcessing
		d.immOp2 = (instr>>25)&0x1 == 1
		d.op = dpOp((instr >> 21) & 0xF)
		d.s = (instr>>20)&0x1 == 1
		d.rn = uint8((instr >> 16) & 0xF)
		d.rd = uint8((instr >> 12) & 0xF)
		if d.immOp2 {
			rot := (instr >> 8) & 0xF
			imm8 := instr & 0xFF
			shift := rot * 2
			if shift == 0 {
				d.immediate = imm8
			} else {
				d.immediate = (imm8 >> shift) | (imm8 << (32 - shift))
			}
		} else {
			d.rm = uint8(instr & 0xF)
			d.shiftTy = shiftType((instr >> 5) & 0x3)
			d.shiftImm = uint8((instr >> 7) & 0x1F)
		}

	default:
		d.kind = kindUndefined
	}

	return d
}

func checkCond(cond condCode, rf *registerFile) bool {
	n, z, c, v := rf.flagN, rf.flagZ, rf.flagC, rf.flagV
	switch cond {
	case condEQ:
		return z
	case condNE:
		return !z
	case condCS:
		return c
	case condCC:
		return !c
	case condMI:
		return n
	case condPL:
		return !n
	case condVS:
		return v
	case condVC:
		return !v
	case condHI:
		return c && !z
	case condLS:
		return !c || z
	case condGE:
		return n == v
	case condLT:
		return n != v
	case condGT:
		return !z && n == v
	case condLE:
		return z || n != v
	case condAL:
		return true
	case condNV:
		return false
	default:
		return false
	}
}

// shift applies a barrel-shifter operation and returns the result and
// carry-out, the same two values the teacher's calcOp2 produces.
func shift(ty shiftType, value uint32, amount uint8, carryIn bool) (uint32, bool) {
	if amount == 0 {
		switch ty {
		case shiftLSL:
			return value, carryIn
		case shiftROR:
			// ROR #0 is encoded as RRX: rotate right through carry.
			out := value&1 == 1
			res := value >> 1
			if carryIn {
				res |= 1 << 31
			}
			return res, out
		default:
			amount = 32
		}
	}
	switch ty {
	case shiftLSL:
		if amount >= 32 {
			if amount == 32 {
				return 0, value&1 == 1
			}
			return 0, false
		}
		return value << amount, (value>>(32-amount))&1 == 1
	case shiftLSR:
		if amount >= 32 {
			if amount == 32 {
				return 0, value>>31 == 1
			}
			return 0, false
		}
		return value >> amount, (value>>(amount-1))&1 == 1
	case shiftASR:
		sv := int32(value)
		if amount >= 32 {
			if sv < 0 {
				return 0xFFFFFFFF, true
			}
			return 0, false
		}
		return uint32(sv >> amount), (value>>(amount-1))&1 == 1
	case shiftROR:
		amount %= 32
		if amount == 0 {
			return value, carryIn
		}
		return (value >> amount) | (value << (32 - amount)), (value>>(amount-1))&1 == 1
	default:
		return value, carryIn
	}
}

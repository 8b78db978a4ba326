package armcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeMovImm(rd uint8, imm uint8, cond condCode) uint32 {
	// Cond | 00 | 1 | 1101 (MOV) | 0 | 0000 | Rd | 0000 | imm8
	return uint32(cond)<<28 | 0x3A0<<16 | uint32(rd)<<12 | uint32(imm)
}

func encodeSvc(num uint32) uint32 {
	return uint32(condAL)<<28 | 0xF<<24 | (num & 0xFFFFFF)
}

func encodeB(offsetWords int32) uint32 {
	return uint32(condAL)<<28 | 0xA<<24 | uint32(offsetWords)&0xFFFFFF
}

func TestRegRoundTrip(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())

	for _, reg := range []Register{R0, R5, R12, SP, LR, PC} {
		require.NoError(t, it.RegWrite(reg, 0xdeadbeef))
		v, err := it.RegRead(reg)
		require.NoError(t, err)
		require.Equal(t, uint32(0xdeadbeef), v)
	}
}

func TestMemReadWriteRoundTrip(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())
	require.NoError(t, it.MapRAM(0x1000, 0x100))

	want := []byte{1, 2, 3, 4, 5}
	require.NoError(t, it.MemWrite(0x1010, want))

	got := make([]byte, len(want))
	require.NoError(t, it.MemRead(0x1010, got))
	require.Equal(t, want, got)
}

func TestMapRAMOverlapRejected(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())
	require.NoError(t, it.MapRAM(0x1000, 0x100))
	require.Error(t, it.MapRAM(0x1080, 0x100))
}

func TestRunRetiresMovAndStops(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())
	require.NoError(t, it.MapRAM(0, 0x1000))

	require.NoError(t, it.MemWrite(0, wordsToBytes(
		encodeMovImm(0, 7, condAL),
		encodeMovImm(1, 9, condAL),
	)))

	it.SetStartAddr(0)
	res, err := it.Start(2, 0)
	require.NoError(t, err)
	require.Equal(t, StopInstructionLimit, res.Reason)
	require.EqualValues(t, 2, res.InstructionsRetired)

	r0, _ := it.RegRead(R0)
	r1, _ := it.RegRead(R1)
	require.Equal(t, uint32(7), r0)
	require.Equal(t, uint32(9), r1)
}

func TestSvcTrapInvokesHandler(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())
	require.NoError(t, it.MapRAM(0, 0x1000))
	require.NoError(t, it.MemWrite(0, wordsToBytes(encodeSvc(0x6))))

	var seen uint32 = 0xFFFFFFFF
	it.SetSvcHandler(func(num uint32) error {
		seen = num
		return it.RegWrite(R0, 0)
	})

	it.SetStartAddr(0)
	res, err := it.Start(1, 0)
	require.NoError(t, err)
	require.Equal(t, StopInstructionLimit, res.Reason)
	require.EqualValues(t, 0x6, seen)
}

func TestStopTakesEffectAtNextBoundary(t *testing.T) {
	it := NewInterpreter()
	require.NoError(t, it.Open())
	require.NoError(t, it.MapRAM(0, 0x1000))

	var reads int
	require.NoError(t, it.MapMMIO(0x2000, 0x10, func(offset uint32, size int) (uint32, error) {
		reads++
		it.Stop()
		return 0, nil
	}, nil))

	// Build: LDR R0, [R1] ; B back to self (never reached once stopped)
	ldr := encodeLdrWord(0, 1, 0)
	require.NoError(t, it.MemWrite(0, wordsToBytes(ldr, encodeB(-2))))
	require.NoError(t, it.RegWrite(R1, 0x2000))

	it.SetStartAddr(0)
	res, err := it.Start(0, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StopCooperative, res.Reason)
	require.Equal(t, 1, reads)
}

func encodeLdrWord(rd, rn uint8, offset uint32) uint32 {
	return uint32(condAL)<<28 | 0x59<<20 | uint32(rn)<<16 | uint32(rd)<<12 | (offset & 0xFFF)
}

func wordsToBytes(words ...uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return buf
}

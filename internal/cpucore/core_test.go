package cpucore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateMapsSramAtZero(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.NoError(t, c.MemWrite(0, []byte{1, 2, 3, 4}))
	got := make([]byte, 4)
	require.NoError(t, c.MemRead(0, got))
	require.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestCreateFallsBackToInterpreterOnNilExecutor(t *testing.T) {
	c, err := Create(ModeSystem, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Executor())
	require.NoError(t, c.Destroy())
}

func TestDestroyIsIdempotent(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())
}

func TestCCDIDRoundTrip(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	c.SetCCDID(3)
	require.EqualValues(t, 3, c.QueryCCDID())
}

func TestRegRoundTrip(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.NoError(t, c.SetReg(R2, 0x10000))
	v, err := c.QueryReg(R2)
	require.NoError(t, err)
	require.Equal(t, uint32(0x10000), v)
}

func TestMemAddRegionRejectsOverlapWithSram(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.Error(t, c.MemAddRegion(0, 0x100))
}

func TestMemAddRegionThenWrite(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	require.NoError(t, c.MemAddRegion(0x50000, 0x2000))
	require.NoError(t, c.MemWrite(0x50000, []byte{0xAA}))
}

func TestExecRunRetiresInstructionLimit(t *testing.T) {
	c, err := Create(ModeApp, nil)
	require.NoError(t, err)
	defer c.Destroy()

	// MOV R0, #7 ; MOV R1, #9 encoded directly since cpucore has no
	// assembler of its own — mirrors armcore's interpreter_test style.
	movR0 := uint32(0xE3A00007)
	movR1 := uint32(0xE3A01009)
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = byte(movR0), byte(movR0>>8), byte(movR0>>16), byte(movR0>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(movR1), byte(movR1>>8), byte(movR1>>16), byte(movR1>>24)
	require.NoError(t, c.MemWrite(0, buf))

	c.ExecSetStartAddr(0)
	res, err := c.ExecRun(2, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.InstructionsRetired)

	r0, err := c.QueryReg(R0)
	require.NoError(t, err)
	require.Equal(t, uint32(7), r0)
}

package ccd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspemu/internal/armcore"
	"github.com/amdpsp/pspemu/internal/config"
	"github.com/amdpsp/pspemu/internal/cpucore"
	"github.com/amdpsp/pspemu/internal/devices/ccp"
)

// TestRunStopsAtNextInstructionBoundary covers the run/stop cooperation
// scenario end to end through CCD.Run: an MMIO device's read callback
// calls ExecStop from the emulated core's own goroutine, and the run
// must retire at most one more instruction before returning. Mirrors
// armcore.TestStopTakesEffectAtNextBoundary one layer up, through the
// CCD's own MapMMIO wiring instead of a bare armcore.Interpreter.
func TestRunStopsAtNextInstructionBoundary(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = cpucore.ModeSystem
	cfg.Devices = []string{ccp.Name}

	c, err := Create(0, 0, cfg)
	require.NoError(t, err)
	defer c.Destroy()

	// Outside the 256 KiB SRAM mapped at 0 and every device window.
	const probeAddr = 0x01000000
	var reads int
	require.NoError(t, c.core.Executor().MapMMIO(probeAddr, 0x10,
		func(offset uint32, size int) (uint32, error) {
			reads++
			c.core.ExecStop()
			return 0, nil
		}, nil))

	// LDR R0, [R1] ; B back to self (never reached once stopped).
	const ldrR0R1 = 0xE5910000
	const bSelf = 0xEAFFFFFE
	buf := wordsToBytes(ldrR0R1, bSelf)
	require.NoError(t, c.core.MemWrite(0, buf))
	require.NoError(t, c.core.SetReg(cpucore.R1, probeAddr))

	c.core.ExecSetStartAddr(0)
	res, err := c.Run(0, 200)
	require.NoError(t, err)
	require.Equal(t, armcore.StopCooperative, res.Reason)
	require.Equal(t, 1, reads)
}

func wordsToBytes(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		buf[4*i] = byte(w)
		buf[4*i+1] = byte(w >> 8)
		buf[4*i+2] = byte(w >> 16)
		buf[4*i+3] = byte(w >> 24)
	}
	return buf
}

package proxy

import "testing"

import "github.com/stretchr/testify/require"

func TestMMIOBlacklistBlocksZenOnChipWrite(t *testing.T) {
	allowed, _ := IsMMIOAccessAllowed(0x0320001c, 4, true, BLStageOnChip, MicroArchZen)
	require.False(t, allowed)
}

func TestMMIOBlacklistAllowsReadOfBlacklistedWriteAddr(t *testing.T) {
	allowed, _ := IsMMIOAccessAllowed(0x0320001c, 4, false, BLStageOnChip, MicroArchZen)
	require.True(t, allowed)
}

func TestMMIOBlacklistIgnoredOffZen(t *testing.T) {
	allowed, _ := IsMMIOAccessAllowed(0x0320001c, 4, true, BLStageOnChip, MicroArchZen2)
	require.True(t, allowed)
}

func TestSMNBlacklistBlocksZenOffChipReadAndWrite(t *testing.T) {
	allowed, _ := IsSMNAccessAllowed(0x00000c00, 4, false, BLStageOffChip, MicroArchZen)
	require.False(t, allowed)

	allowed, _ = IsSMNAccessAllowed(0x00000c0c, 4, true, BLStageOffChip, MicroArchZen)
	require.False(t, allowed)
}

func TestSMNBlacklistIgnoredOnUnrelatedAddress(t *testing.T) {
	allowed, _ := IsSMNAccessAllowed(0x00001000, 4, true, BLStageOffChip, MicroArchZen)
	require.True(t, allowed)
}

func TestX86AccessAlwaysAllowed(t *testing.T) {
	allowed, _ := IsX86AccessAllowed(0x100000000, 4, true, BLStageOffChip, MicroArchZen)
	require.True(t, allowed)
}

// Package proxy defines the egress point to a connected PSP, real or
// emulated: the SVC layer's sole way to forward a syscall or sync
// guest memory with hardware it cannot model locally.
//
// The allow/deny-by-stage checks are ported from the original's
// psp-proxy.c: a handful of addresses hang a real proxy stub when
// accessed at the wrong bootloader stage, so raw MMIO/SMN passthrough
// (not syscall forwarding) consults them before ever reaching the
// wire.
package proxy

// BLStage is the bootloader stage the guest is currently executing,
// mirroring PSPPROXYBLSTAGE.
type BLStage int

const (
	BLStageInvalid BLStage = iota
	BLStageUnknown
	BLStageOnChip
	BLStageOffChip
)

// MicroArch gates the blacklist: only Zen on-chip/off-chip bootloaders
// hit the known-hanging addresses psp-proxy.c special-cases.
type MicroArch int

const (
	MicroArchUnknown MicroArch = iota
	MicroArchZen
	MicroArchZenPlus
	MicroArchZen2
)

// Client is the sole egress to a connected PSP. idx is the syscall
// number, a0..a3 the guest's R0..R3 at trap time; the returned value
// is whatever the real PSP deposited in its own R0 (or the single
// output value the original's PSPProxyCtxPspSvcCall fills in via its
// out-parameter).
type Client interface {
	SvcCall(idx uint32, a0, a1, a2, a3 uint32) (uint32, error)
	MemRead(addr uint32, buf []byte) error
	MemWrite(addr uint32, data []byte) error
}

// mmioBlacklistEntry mirrors PSPMMIOBLACKLISTDESC.
type mmioBlacklistEntry struct {
	addr          uint32
	size          int // 0 means "any size"
	writes, reads bool
	readVal       uint32
}

// g_aMmioBlacklistedZenOnChip verbatim: writing 0x320001c hangs the
// proxy stub on the Zen on-chip bootloader.
var mmioBlacklistZenOnChip = []mmioBlacklistEntry{
	{addr: 0x0320001c, writes: true, reads: false},
}

// smnBlacklistEntry mirrors PSPSMNBLACKLISTDESC.
type smnBlacklistEntry struct {
	addr          uint32
	size          int
	writes, reads bool
	readVal       uint32
}

// g_aSmnBlacklistedZenOffChip verbatim: reading either address hangs
// the proxy stub on the Zen off-chip bootloader.
var smnBlacklistZenOffChip = []smnBlacklistEntry{
	{addr: 0x00000c00, writes: true, reads: true},
	{addr: 0x00000c0c, writes: true, reads: true},
}

// IsMMIOAccessAllowed reports whether a raw MMIO access at addr should
// reach the proxy at all. When it returns false for a read, blockedVal
// is the value the caller should synthesize instead.
func IsMMIOAccessAllowed(addr uint32, size int, write bool, stage BLStage, arch MicroArch) (allowed bool, blockedVal uint32) {
	if (stage == BLStageOnChip || stage == BLStageUnknown) && arch == MicroArchZen {
		for _, e := range mmioBlacklistZenOnChip {
			if e.addr != addr {
				continue
			}
			if (e.size == size || e.size == 0) && ((write && e.writes) || (!write && e.reads)) {
				return false, e.readVal
			}
			break
		}
	}
	return true, 0
}

// IsSMNAccessAllowed is IsMMIOAccessAllowed's SMN-address-space
// counterpart, gated on the off-chip stage instead.
func IsSMNAccessAllowed(addr uint32, size int, write bool, stage BLStage, arch MicroArch) (allowed bool, blockedVal uint32) {
	if (stage == BLStageOffChip || stage == BLStageUnknown) && arch == MicroArchZen {
		for _, e := range smnBlacklistZenOffChip {
			if e.addr != addr {
				continue
			}
			if (e.size == size || e.size == 0) && ((write && e.writes) || (!write && e.reads)) {
				return false, e.readVal
			}
			break
		}
	}
	return true, 0
}

// IsX86AccessAllowed always allows, matching PSPProxyIsX86AccessAllowed
// which the original never populated with a blacklist.
func IsX86AccessAllowed(addr uint64, size int, write bool, stage BLStage, arch MicroArch) (allowed bool, blockedVal uint32) {
	return true, 0
}

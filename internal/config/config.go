// Package config implements the Configuration & loading component:
// the frozen settings blob ccd.Create consumes, plus the initial
// memory population spec.md's component table assigns to this layer.
// Grounded on original_source/include/psp-cfg.h's PSPEMUCFG struct and
// the loading sequence in original_source/psp-ccd.c's
// pspEmuCcdMemoryInit/pspEmuCcdExecEnvInit.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/amdpsp/pspemu/internal/cpucore"
	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/proxy"
	"github.com/amdpsp/pspemu/internal/psperr"
)

var log = logging.For("config")

// CPUSegment mirrors PSPEMUAMDCPUSEGMENT, minus the legacy
// 32-bit-hack segment: this emulator always runs a 32-bit ARM core,
// so that compatibility value has nothing to select between.
type CPUSegment int

const (
	CPUSegmentInvalid CPUSegment = iota
	CPUSegmentRyzen
	CPUSegmentRyzenPro
	CPUSegmentThreadripper
	CPUSegmentEpyc
)

// ACPIState mirrors PSPEMUACPISTATE.
type ACPIState int

const (
	ACPIStateInvalid ACPIState = iota
	ACPIStateS0
	ACPIStateS1
	ACPIStateS2
	ACPIStateS3
	ACPIStateS4
	ACPIStateS5
)

// Config is the frozen settings blob PSPEMUCFG, translated field for
// field into Go idiom. Image bytes are loaded separately by
// Finalize once every path field is final (a TOML file merged with
// CLI overrides), rather than eagerly inside Load, since cmd/pspemu
// may still override a path after parsing the file.
type Config struct {
	Mode       cpucore.Mode
	MicroArch  proxy.MicroArch
	CPUSegment CPUSegment
	ACPIState  ACPIState

	FlashROMPath       string `toml:"flash_rom"`
	OnChipBLPath       string `toml:"on_chip_bl"`
	BinLoadPath        string `toml:"bin_load"`
	BootROMSvcPagePath string `toml:"boot_rom_svc_page"`
	AppPreloadPath     string `toml:"app_preload"`

	BinContainsHeader bool `toml:"bin_contains_header"`
	LoadPSPDir        bool `toml:"load_psp_dir"`
	PSPDebugMode      bool `toml:"psp_debug_mode"`
	InterceptSvc6     bool `toml:"intercept_svc6"`
	TraceSvcs         bool `toml:"trace_svcs"`
	TimerRealtime     bool `toml:"timer_realtime"`

	DebugPort         uint16 `toml:"debug_port"`
	Em100FlashEmuPort uint16 `toml:"em100_port"`

	Sockets       uint32 `toml:"sockets"`
	CCDsPerSocket uint32 `toml:"ccds_per_socket"`

	// Devices is the subset of device.Registry names to instantiate,
	// matching papszDevs. nil selects ccd's default device set, which
	// is not every registered device: timer and the "unknown" fallback
	// device are only instantiated when named here.
	Devices []string `toml:"devices"`

	ProxyAddr string `toml:"proxy_addr"`

	// UartRemoteAddr names a remote endpoint the original's x86 UART
	// device can optionally bridge to. The wire side of that bridge
	// is an out-of-scope external collaborator (spec.md §1); the
	// field is carried for config-file compatibility but
	// devices/x86uart never reads it.
	UartRemoteAddr string `toml:"uart_remote_addr"`

	TraceLogPath string `toml:"trace_log"`

	// RunID tags every log line this Config's run produces, minted
	// once when the Config is finalized.
	RunID uuid.UUID `toml:"-"`

	FlashImage          []byte `toml:"-"`
	OnChipBLImage       []byte `toml:"-"`
	BinImage            []byte `toml:"-"`
	BootROMSvcPageImage []byte `toml:"-"`
	AppPreloadImage     []byte `toml:"-"`
}

// Default returns a Config with the same defaults the original's CLI
// falls back to absent any flag or file: App mode, one socket, one
// CCD per socket.
func Default() *Config {
	return &Config{
		Mode:          cpucore.ModeApp,
		Sockets:       1,
		CCDsPerSocket: 1,
	}
}

// Load reads a TOML file into a fresh Config layered over Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(psperr.ErrConfigurationError, "decoding %s: %s", path, err.Error())
	}
	return cfg, nil
}

// MergeFrom layers every non-zero field of other onto a copy of cfg,
// the mechanism cmd/pspemu uses to let CLI flags override a loaded
// TOML file without config importing urfave/cli.
func (cfg *Config) MergeFrom(other *Config) *Config {
	merged := *cfg
	if other == nil {
		return &merged
	}

	if other.Mode != 0 {
		merged.Mode = other.Mode
	}
	if other.MicroArch != proxy.MicroArchUnknown {
		merged.MicroArch = other.MicroArch
	}
	if other.CPUSegment != CPUSegmentInvalid {
		merged.CPUSegment = other.CPUSegment
	}
	if other.ACPIState != ACPIStateInvalid {
		merged.ACPIState = other.ACPIState
	}
	if other.FlashROMPath != "" {
		merged.FlashROMPath = other.FlashROMPath
	}
	if other.OnChipBLPath != "" {
		merged.OnChipBLPath = other.OnChipBLPath
	}
	if other.BinLoadPath != "" {
		merged.BinLoadPath = other.BinLoadPath
	}
	if other.BootROMSvcPagePath != "" {
		merged.BootROMSvcPagePath = other.BootROMSvcPagePath
	}
	if other.AppPreloadPath != "" {
		merged.AppPreloadPath = other.AppPreloadPath
	}
	if other.DebugPort != 0 {
		merged.DebugPort = other.DebugPort
	}
	if other.Em100FlashEmuPort != 0 {
		merged.Em100FlashEmuPort = other.Em100FlashEmuPort
	}
	if other.Sockets != 0 {
		merged.Sockets = other.Sockets
	}
	if other.CCDsPerSocket != 0 {
		merged.CCDsPerSocket = other.CCDsPerSocket
	}
	if len(other.Devices) != 0 {
		merged.Devices = other.Devices
	}
	if other.ProxyAddr != "" {
		merged.ProxyAddr = other.ProxyAddr
	}
	if other.UartRemoteAddr != "" {
		merged.UartRemoteAddr = other.UartRemoteAddr
	}
	if other.TraceLogPath != "" {
		merged.TraceLogPath = other.TraceLogPath
	}

	merged.BinContainsHeader = merged.BinContainsHeader || other.BinContainsHeader
	merged.LoadPSPDir = merged.LoadPSPDir || other.LoadPSPDir
	merged.PSPDebugMode = merged.PSPDebugMode || other.PSPDebugMode
	merged.InterceptSvc6 = merged.InterceptSvc6 || other.InterceptSvc6
	merged.TraceSvcs = merged.TraceSvcs || other.TraceSvcs
	merged.TimerRealtime = merged.TimerRealtime || other.TimerRealtime

	return &merged
}

// Finalize mints a run id and loads every image path into memory,
// failing only if a path was given and couldn't be read (a missing
// path field is simply skipped, matching the original's "if
// (pCfg->pszPathXxx)" guards).
func (cfg *Config) Finalize() error {
	cfg.RunID = uuid.New()

	var err error
	if cfg.FlashImage, err = readIfSet(cfg.FlashROMPath); err != nil {
		return errors.Wrap(psperr.ErrConfigurationError, err.Error())
	}
	if cfg.OnChipBLImage, err = readIfSet(cfg.OnChipBLPath); err != nil {
		return errors.Wrap(psperr.ErrConfigurationError, err.Error())
	}
	if cfg.BinImage, err = readIfSet(cfg.BinLoadPath); err != nil {
		return errors.Wrap(psperr.ErrConfigurationError, err.Error())
	}
	if cfg.BootROMSvcPageImage, err = readIfSet(cfg.BootROMSvcPagePath); err != nil {
		return errors.Wrap(psperr.ErrConfigurationError, err.Error())
	}
	if cfg.AppPreloadImage, err = readIfSet(cfg.AppPreloadPath); err != nil {
		return errors.Wrap(psperr.ErrConfigurationError, err.Error())
	}

	log.WithField("run_id", cfg.RunID).WithField("mode", cfg.Mode).Info("configuration finalized")
	return nil
}

func readIfSet(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// StartAddr is the address ExecSetStartAddr resumes from, chosen by
// mode per pspEmuCcdExecEnvInit: 0xffff0000 for the on-chip
// bootloader, 0x15100 for an App-mode binary, 0x100 for System mode.
func (cfg *Config) StartAddr() uint32 {
	switch cfg.Mode {
	case cpucore.ModeSystemOnChipBl:
		return 0xffff0000
	case cpucore.ModeApp:
		return 0x15100
	default:
		return 0x100
	}
}

// binLoadAddr mirrors pspEmuCcdMemoryInit's PspAddrWrite switch: 0x0
// for System mode, 0x15000 for App mode (the on-chip bootloader mode
// never loads a separate binary — it runs straight from the on-chip
// ROM image instead).
func (cfg *Config) binLoadAddr() (uint32, error) {
	switch cfg.Mode {
	case cpucore.ModeSystem:
		return 0x0, nil
	case cpucore.ModeApp:
		return 0x15000, nil
	default:
		return 0, errors.Wrap(psperr.ErrConfigurationError, "no binary load address for this mode")
	}
}

// bootROMSvcPageAddr is PspAddrBrsp: 0x4f000 on Zen2 (which ships a
// larger on-chip SRAM), 0x3f000 otherwise.
func (cfg *Config) bootROMSvcPageAddr() uint32 {
	if cfg.MicroArch == proxy.MicroArchZen2 {
		return 0x4f000
	}
	return 0x3f000
}

// onChipBLLoadAddr is where the on-chip bootloader ROM image is
// mapped: the same address PSPEmuCoreExecSetStartAddr resumes from in
// SystemOnChipBl mode, since the original's separate "ROM" concept
// (PSPEmuCoreSetOnChipBl) has no analogue here beyond a plain memory
// region.
const onChipBLLoadAddr = 0xffff0000

// appPreloadAddr is fixed regardless of mode, matching the original.
const appPreloadAddr = 0x15000

// sramSize mirrors the original's enmMicroArch-gated core size
// (320 KiB on Zen2, 256 KiB otherwise); cpucore.Core always allocates
// the smaller 256 KiB SRAM at Create, so PopulateInitialMemory grows
// it with an extra region on Zen2 before writing anything past that
// boundary.
const (
	sramSizeDefault = 256 * 1024
	sramSizeZen2    = 320 * 1024
)

// PopulateInitialMemory loads every configured image into core's
// address space, following pspEmuCcdMemoryInit/pspEmuCcdExecEnvInit's
// load-then-set-start-address sequence. Boot-ROM service page
// field-level construction (patching u32BootMode, the FFS directory,
// per-CCD die/socket identifiers into the struct) stays an external
// collaborator per spec.md §1 — the page's internal layout is not
// modeled, so it is copied as the flat byte blob the original treats
// it as at its simplest ("no modification allowed, just copy it").
func PopulateInitialMemory(core *cpucore.Core, cfg *Config) error {
	if cfg.MicroArch == proxy.MicroArchZen2 {
		if err := core.MemAddRegion(sramSizeDefault, sramSizeZen2-sramSizeDefault); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
	}

	if cfg.Mode == cpucore.ModeSystemOnChipBl && len(cfg.OnChipBLImage) > 0 {
		if err := core.MemAddRegion(onChipBLLoadAddr, roundUp4K(uint32(len(cfg.OnChipBLImage)))); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
		if err := core.MemWrite(onChipBLLoadAddr, cfg.OnChipBLImage); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
	}

	if len(cfg.BootROMSvcPageImage) > 0 {
		if cfg.PSPDebugMode || cfg.LoadPSPDir {
			log.Warn("boot ROM service page field patching (debug mode / PSP directory) requested but not modeled; copying the page unmodified")
		}
		addr := cfg.bootROMSvcPageAddr()
		if err := core.MemWrite(addr, cfg.BootROMSvcPageImage); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
	}

	if len(cfg.BinImage) > 0 {
		addr, err := cfg.binLoadAddr()
		if err != nil {
			return err
		}
		if !cfg.BinContainsHeader {
			addr += 256
		}
		if err := core.MemWrite(addr, cfg.BinImage); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
	}

	if len(cfg.AppPreloadImage) > 0 {
		if err := core.MemWrite(appPreloadAddr, cfg.AppPreloadImage); err != nil {
			return errors.Wrap(psperr.ErrConfigurationError, err.Error())
		}
	}

	core.ExecSetStartAddr(cfg.StartAddr())
	return nil
}

func roundUp4K(n uint32) uint32 {
	const page = 4096
	return (n + page - 1) &^ (page - 1)
}

// Command pspemu is the CLI front end for the PSP functional emulator:
// it turns command-line flags (and an optional TOML file) into a
// config.Config, assembles one ccd.CCD per socket/CCD slot, and runs
// each to completion. Grounded on original_source/psp-emu.c's flag
// surface and run loop, with the hand-rolled getopt table replaced by
// urfave/cli.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/amdpsp/pspemu/internal/ccd"
	"github.com/amdpsp/pspemu/internal/config"
	"github.com/amdpsp/pspemu/internal/cpucore"
	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/proxy"
)

var log = logging.For("cmd")

func main() {
	app := cli.NewApp()
	app.Name = "pspemu"
	app.Usage = "run an AMD PSP functional emulator"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "TOML config file, merged with and overridden by the flags below"},
		cli.StringFlag{Name: "mode", Usage: "emulation mode: app, system, system-on-chip-bl (defaults to app, or the config file's value)"},
		cli.StringFlag{Name: "micro-arch", Usage: "micro-architecture: zen, zen-plus, zen2"},
		cli.StringFlag{Name: "cpu-segment", Usage: "cpu segment: ryzen, ryzen-pro, threadripper, epyc"},
		cli.StringFlag{Name: "acpi-state", Usage: "initial ACPI power state: s0..s5"},

		cli.StringFlag{Name: "flash", Usage: "path to a flash ROM image"},
		cli.StringFlag{Name: "on-chip-bl", Usage: "path to an on-chip bootloader image"},
		cli.StringFlag{Name: "binary", Usage: "path to a raw binary to load and execute"},
		cli.StringFlag{Name: "boot-rom-svc-page", Usage: "path to a boot ROM service page image"},
		cli.StringFlag{Name: "app-preload", Usage: "path to an app-mode preload image"},

		cli.BoolFlag{Name: "header256", Usage: "binary starts with the 256 byte AMD firmware header"},
		cli.BoolFlag{Name: "load-psp-dir", Usage: "load the PSP directory from the flash image (not modeled; logs a warning)"},
		cli.BoolFlag{Name: "psp-dbg-mode", Usage: "boot ROM service page requests PSP debug mode (not modeled; logs a warning)"},
		cli.BoolFlag{Name: "intercept-svc6", Usage: "accepted for config-file compatibility; SVC 6 (debug log) is always handled locally"},
		cli.BoolFlag{Name: "trace-svcs", Usage: "raise the log level to debug"},
		cli.BoolFlag{Name: "realtime-timer", Usage: "accepted for config-file compatibility; the timer device does not read it"},

		cli.IntFlag{Name: "dbg-port", Usage: "GDB stub listen port (not modeled; accepted for config-file compatibility)"},
		cli.IntFlag{Name: "em100-port", Usage: "EM100 flash emulator listen port (not modeled; accepted for config-file compatibility)"},

		cli.UintFlag{Name: "sockets", Usage: "number of sockets to emulate (defaults to 1, or the config file's value)"},
		cli.UintFlag{Name: "ccds-per-socket", Usage: "number of CCDs per socket to emulate (defaults to 1, or the config file's value)"},

		cli.StringSliceFlag{Name: "dev", Usage: "device name to instantiate (repeatable); defaults to the built-in set when omitted"},

		cli.StringFlag{Name: "proxy-addr", Usage: "address of a pspproxy-compatible endpoint (no wire transport is implemented; always falls back to an in-memory loopback)"},
		cli.StringFlag{Name: "trace-log", Usage: "append-only trace log path; defaults to stdout"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("pspemu exited with an error")
	}
}

func run(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}

	if cfg.TraceSvcs || cfg.PSPDebugMode {
		logging.SetLevel(logrus.DebugLevel)
	}
	if cfg.TraceLogPath != "" {
		f, err := os.OpenFile(cfg.TraceLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening trace log: %w", err)
		}
		defer f.Close()
		logging.SetOutput(f)
	}

	if err := cfg.Finalize(); err != nil {
		return err
	}

	log.WithField("run", cfg.RunID).
		WithField("mode", cfg.Mode).
		WithField("sockets", cfg.Sockets).
		WithField("ccds_per_socket", cfg.CCDsPerSocket).
		Info("starting emulator run")

	var ccds []*ccd.CCD
	defer func() {
		for _, inst := range ccds {
			_ = inst.Destroy()
		}
	}()

	for socket := uint32(0); socket < cfg.Sockets; socket++ {
		for ccdIdx := uint32(0); ccdIdx < cfg.CCDsPerSocket; ccdIdx++ {
			ccdID := socket*cfg.CCDsPerSocket + ccdIdx
			inst, err := ccd.Create(socket, ccdID, cfg)
			if err != nil {
				return fmt.Errorf("creating ccd (socket %d, ccd %d): %w", socket, ccdID, err)
			}
			ccds = append(ccds, inst)
		}
	}

	for i, inst := range ccds {
		res, err := inst.Run(0, 0)
		if err != nil {
			return fmt.Errorf("running ccd %d: %w", i, err)
		}
		log.WithField("ccd", i).WithField("reason", res.Reason).
			WithField("instructions", res.InstructionsRetired).
			Info("ccd run returned")
	}

	return nil
}

func configFromContext(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()

	if path := c.String("config"); path != "" {
		fromFile, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fromFile
	}

	// flags starts zero-valued rather than from config.Default() so
	// MergeFrom only overrides what was actually passed on the command
	// line, leaving the loaded file's (or Default()'s) values intact
	// for everything else.
	flags := &config.Config{}

	if v := c.String("mode"); v != "" {
		mode, err := parseMode(v)
		if err != nil {
			return nil, err
		}
		flags.Mode = mode
	}
	if v := c.String("micro-arch"); v != "" {
		arch, err := parseMicroArch(v)
		if err != nil {
			return nil, err
		}
		flags.MicroArch = arch
	}
	if v := c.String("cpu-segment"); v != "" {
		seg, err := parseCPUSegment(v)
		if err != nil {
			return nil, err
		}
		flags.CPUSegment = seg
	}
	if v := c.String("acpi-state"); v != "" {
		state, err := parseACPIState(v)
		if err != nil {
			return nil, err
		}
		flags.ACPIState = state
	}

	flags.FlashROMPath = c.String("flash")
	flags.OnChipBLPath = c.String("on-chip-bl")
	flags.BinLoadPath = c.String("binary")
	flags.BootROMSvcPagePath = c.String("boot-rom-svc-page")
	flags.AppPreloadPath = c.String("app-preload")

	flags.BinContainsHeader = c.Bool("header256")
	flags.LoadPSPDir = c.Bool("load-psp-dir")
	flags.PSPDebugMode = c.Bool("psp-dbg-mode")
	flags.InterceptSvc6 = c.Bool("intercept-svc6")
	flags.TraceSvcs = c.Bool("trace-svcs")
	flags.TimerRealtime = c.Bool("realtime-timer")

	flags.DebugPort = uint16(c.Int("dbg-port"))
	flags.Em100FlashEmuPort = uint16(c.Int("em100-port"))

	if v := c.Uint("sockets"); v != 0 {
		flags.Sockets = uint32(v)
	}
	if v := c.Uint("ccds-per-socket"); v != 0 {
		flags.CCDsPerSocket = uint32(v)
	}

	if devs := c.StringSlice("dev"); len(devs) > 0 {
		flags.Devices = devs
	}

	flags.ProxyAddr = c.String("proxy-addr")
	flags.TraceLogPath = c.String("trace-log")

	cfg = cfg.MergeFrom(flags)

	// MergeFrom skips zero-valued fields and ModeApp is the zero Mode,
	// so an explicit --mode is applied after the merge.
	if c.String("mode") != "" {
		cfg.Mode = flags.Mode
	}

	return cfg, nil
}

func parseMode(s string) (cpucore.Mode, error) {
	switch strings.ToLower(s) {
	case "app":
		return cpucore.ModeApp, nil
	case "system":
		return cpucore.ModeSystem, nil
	case "system-on-chip-bl", "system_on_chip_bl", "onchipbl":
		return cpucore.ModeSystemOnChipBl, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func parseMicroArch(s string) (proxy.MicroArch, error) {
	switch strings.ToLower(s) {
	case "zen":
		return proxy.MicroArchZen, nil
	case "zen-plus", "zenplus":
		return proxy.MicroArchZenPlus, nil
	case "zen2":
		return proxy.MicroArchZen2, nil
	default:
		return 0, fmt.Errorf("unknown micro-arch %q", s)
	}
}

func parseCPUSegment(s string) (config.CPUSegment, error) {
	switch strings.ToLower(s) {
	case "ryzen":
		return config.CPUSegmentRyzen, nil
	case "ryzen-pro", "ryzenpro":
		return config.CPUSegmentRyzenPro, nil
	case "threadripper":
		return config.CPUSegmentThreadripper, nil
	case "epyc":
		return config.CPUSegmentEpyc, nil
	default:
		return 0, fmt.Errorf("unknown cpu-segment %q", s)
	}
}

func parseACPIState(s string) (config.ACPIState, error) {
	switch strings.ToLower(s) {
	case "s0":
		return config.ACPIStateS0, nil
	case "s1":
		return config.ACPIStateS1, nil
	case "s2":
		return config.ACPIStateS2, nil
	case "s3":
		return config.ACPIStateS3, nil
	case "s4":
		return config.ACPIStateS4, nil
	case "s5":
		return config.ACPIStateS5, nil
	default:
		return 0, fmt.Errorf("unknown acpi-state %q", s)
	}
}

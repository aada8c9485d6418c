package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jamesprial/drive-monitor/internal/config"
	"github.com/jamesprial/drive-monitor/internal/device"
	"github.com/jamesprial/drive-monitor/internal/diskutil"
	"github.com/jamesprial/drive-monitor/internal/execute"
	"github.com/jamesprial/drive-monitor/internal/logging"
	"github.com/jamesprial/drive-monitor/internal/manufacturer"
	"github.com/jamesprial/drive-monitor/internal/safety"
	"github.com/jamesprial/drive-monitor/internal/smartctl"
	"github.com/jamesprial/drive-monitor/internal/source"
)

const name = "drivemon"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app carries state shared by the subcommands. runner and sources are
// replaced in tests.
type app struct {
	runner  execute.Runner
	sources *source.Registry
	cfg     *config.Config
}

// newApp returns the root command. A nil runner runs the real tools.
func newApp(runner execute.Runner) *cli.Command {
	a := &app{runner: runner, sources: source.DefaultRegistry()}
	return &cli.Command{
		Name:    name,
		Usage:   "Monitor drive and RAID health",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML config file",
				Sources: cli.EnvVars(config.PathEnv),
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error); overrides the config file",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.serveCmd(),
			a.snapshotCmd(),
			versionCmd(),
		},
	}
}

// before loads the configuration and installs the logger. A config file
// that cannot be read falls back to the defaults.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	cfg, loadErr := config.LoadConfig(path)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}
	config.ApplyEnvOverrides(cfg)
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = cmd.String("log-level")
	}

	logging.SetDefaultStructuredLoggerWithLevel(name, version, cfg.Logging.Level)
	if loadErr != nil {
		slog.Warn("could not load config, using defaults", "path", path, "error", loadErr)
	} else {
		slog.Debug("loaded config", "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return ctx, fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	return ctx, nil
}

// registry builds the device registry for the configured platform.
func (a *app) registry() (*device.Registry, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	m := a.cfg.Monitor

	table, err := manufacturer.Default()
	if err != nil {
		return nil, err
	}
	runner := a.runner
	if runner == nil {
		runner = execute.NewCommandRunner(m.ToolTimeout.Std())
	}

	src, err := a.sources.Resolve(m.Platform, source.Deps{
		Runner:        runner,
		Manufacturers: table,
		Diskutil: diskutil.Config{
			Path:           a.cfg.Tools.DiskutilPath,
			TTL:            m.CacheTTL.Std(),
			PurgeOnFailure: m.PurgeOnFailure,
		},
		Smartctl: smartctl.Config{
			Path:           a.cfg.Tools.SmartctlPath,
			TTL:            m.CacheTTL.Std(),
			PurgeOnFailure: m.PurgeOnFailure,
		},
	})
	if err != nil {
		return nil, err
	}
	slog.Info("resolved device source", "platform", m.Platform)

	return device.NewRegistry(src, device.Options{
		UpdateTTL:      m.CacheTTL.Std(),
		PurgeOnFailure: m.PurgeOnFailure,
		Filter:         safety.NewFilter(a.cfg.Filter.Allowlist, a.cfg.Filter.Denylist),
	}), nil
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "%s %s (commit %s, built %s)\n", name, version, commit, date)
			return err
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mpifleet/internal/adapter"
	"mpifleet/internal/config"
	"mpifleet/internal/service"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "mpifleet",
		Short:         "Discover machines and provision OpenMPI over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: search standard locations)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json")

	cmd.AddCommand(newScanCmd(a))
	cmd.AddCommand(newInstallCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// init loads the config file and applies flag overrides
func (a *app) init(logOut io.Writer) error {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if a.configPath != "" {
		cfg, path, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	log, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log

	if path != "" {
		a.log.Debug().Str("path", path).Msg("Loaded config")
	}
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	switch cfg.Format {
	case config.LogFormatJSON:
	case config.LogFormatConsole, "":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// scanRange returns the sweep range, flags first then config. "auto" is
// resolved from the local interfaces.
func (a *app) scanRange(base string, count int, countSet bool) (string, int, error) {
	if base == "" {
		base = a.cfg.Scan.Base
	}
	if !countSet {
		count = a.cfg.Scan.Count
	}
	resolved, err := resolveBase(base)
	return resolved, count, err
}

func resolveBase(base string) (string, error) {
	if base == "" || base == config.BaseAuto {
		return adapter.LocalBaseAddress()
	}
	return base, nil
}

func (a *app) newProber() (adapter.Prober, error) {
	switch a.cfg.Probe.Method {
	case config.ProbeMethodNmap:
		var opts []adapter.NmapOption
		if a.cfg.Probe.NmapPath != "" {
			opts = append(opts, adapter.WithNmapBinary(a.cfg.Probe.NmapPath))
		}
		opts = append(opts, adapter.WithPrivilegedScan(a.cfg.Probe.Privileged))
		prober := adapter.NewNmapProber(a.log, opts...)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !prober.Available(ctx) {
			return nil, fmt.Errorf("nmap cannot be run; install it or set probe.method: %s", config.ProbeMethodTCP)
		}
		return prober, nil
	case config.ProbeMethodTCP, "":
		return adapter.NewTCPProber(a.cfg.Probe.Ports), nil
	}
	return nil, fmt.Errorf("unknown probe method %q", a.cfg.Probe.Method)
}

func (a *app) newExecutor() (*adapter.SSHExecutor, error) {
	keyPath := config.ExpandHome(a.cfg.SSH.KeyPath)
	if keyPath == "" {
		keyPath = config.DefaultKeyPath()
	}
	if keyPath == "" {
		return nil, fmt.Errorf("no ssh key found; set ssh.key_path")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	sshCfg := a.cfg.SSHExecutorConfig()
	sshCfg.PrivateKey = key
	return adapter.NewSSHExecutor(sshCfg, a.log)
}

// newOrchestrator builds the orchestrator with the configured prober and
// SSH executor. bus may be nil.
func (a *app) newOrchestrator(bus *service.EventBus) (*service.Orchestrator, error) {
	prober, err := a.newProber()
	if err != nil {
		return nil, err
	}
	exec, err := a.newExecutor()
	if err != nil {
		return nil, err
	}
	return service.NewOrchestrator(prober, exec, a.cfg.OrchestratorConfig(), bus, a.log), nil
}

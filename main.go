package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"rootfs-meta/meta"
)

type Globals struct {
	Config      string       `short:"c" help:"Path to configuration file." default:"${defaultConfig}"`
	KeyFile     string       `short:"k" help:"Public key verifying the metadata signature, overrides the config file."`
	LogLevel    logrus.Level `help:"Log level." default:"info"`
	LogFormat   string       `help:"Log format." default:"json" enum:"json,text"`
	MetricsFile string       `help:"Write Prometheus metrics to this file when done, overrides the config file."`
}

type CLI struct {
	Globals Globals `embed:""`

	Verify   VerifyCmd   `cmd:"" help:"Verify the trust metadata of a rootfs partition."`
	Setup    SetupCmd    `cmd:"" help:"Verify a rootfs partition, create its device mapper target and mount it."`
	Teardown TeardownCmd `cmd:"" help:"Unmount a rootfs and remove its device mapper target."`
}

// App carries what every command needs.
type App struct {
	ctx      context.Context
	logger   *logrus.Logger
	config   *Config
	security *SecurityConfig
	out      io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rootfs-meta"),
		kong.Description("Verify signed rootfs metadata and set up dm-verity or dm-integrity targets from it."),
		kong.UsageOnError(),
		kong.Vars{"defaultConfig": DefaultConfigPath},
	)

	logger := newLogger(cli.Globals.LogLevel, cli.Globals.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = WithLogger(ctx, logger)

	app, err := newApp(ctx, &cli.Globals, logger)
	if err != nil {
		cancel()
		logger.WithError(err).Fatal("failed to load configuration")
	}

	err = kctx.Run(app)
	app.writeMetrics()
	cancel()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "FAILED: %v\n", err)
		logger.WithError(err).WithField("kind", meta.Kind(err)).Error("command failed")
		os.Exit(1)
	}
}

func newLogger(level logrus.Level, format string) *logrus.Logger {
	logger := logrus.New()
	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetLevel(level)
	return logger
}

func newApp(ctx context.Context, g *Globals, logger *logrus.Logger) (*App, error) {
	cfg, err := LoadConfig(g.Config, g.Config != DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	if g.KeyFile != "" {
		cfg.KeyFile = g.KeyFile
	}
	if g.MetricsFile != "" {
		cfg.MetricsFile = g.MetricsFile
	}

	return &App{
		ctx:      ctx,
		logger:   logger,
		config:   cfg,
		security: NewSecurityConfig(cfg),
		out:      os.Stdout,
	}, nil
}

func (a *App) pipeline() *meta.Pipeline {
	return meta.NewPipeline(meta.KeyFileVerifier{}, meta.KeyringResolver{
		Keyring:    a.config.Keyring,
		MaxPayload: meta.KeyPayloadMax,
	}, a.logger)
}

// load validates the paths involved and runs the verification pipeline on device.
func (a *App) load(device string) (*meta.RootfsMetadata, error) {
	if err := a.security.ValidateDevicePath(device); err != nil {
		return nil, err
	}
	if err := a.security.ValidateKeyFile(a.config.KeyFile); err != nil {
		return nil, err
	}
	return a.pipeline().Load(a.ctx, device, a.config.KeyFile)
}

func (a *App) writeMetrics() {
	if a == nil || a.config.MetricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(a.config.MetricsFile, prometheus.DefaultGatherer); err != nil {
		a.logger.WithError(err).WithField("metrics_file", a.config.MetricsFile).Warn("failed to write metrics")
	}
}

// printRecord writes a human-readable summary of m.
func printRecord(w io.Writer, m *meta.RootfsMetadata) {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "SUCCESS: %s verified\n", m.DevicePath)
	fmt.Fprintf(w, "  fs type:   %s (%s)\n", m.FSType, m.Mode())
	fmt.Fprintf(w, "  features:  %s\n", m.Crypt)
	if m.VerintTable != "" {
		fmt.Fprintf(w, "  data size: %s\n", humanize.IBytes(m.DataSizeBytes))
		fmt.Fprintf(w, "  table:     %s\n", SanitizeLogOutput(m.VerintTable))
	}
}

type VerifyCmd struct {
	Device string `arg:"" help:"Rootfs partition to verify."`
}

func (c *VerifyCmd) Run(app *App) error {
	m, err := app.load(c.Device)
	if err != nil {
		return err
	}
	printRecord(app.out, m)
	return nil
}

type SetupCmd struct {
	Device     string `arg:"" help:"Rootfs partition to set up."`
	Name       string `help:"Device mapper name, overrides the config file."`
	Mountpoint string `help:"Where to mount the rootfs, overrides the config file."`
}

func (c *SetupCmd) Run(app *App) error {
	if err := CheckPrivileges(app.ctx); err != nil {
		return err
	}
	m, err := app.load(c.Device)
	if err != nil {
		return err
	}

	name := firstNonEmpty(c.Name, app.config.MapperName)
	mountpoint := firstNonEmpty(c.Mountpoint, app.config.Mountpoint)
	res, err := NewDeviceMapper(app.security).SetupRootfs(app.ctx, name, mountpoint, m)
	if err != nil {
		return err
	}

	printRecord(app.out, m)
	fmt.Fprintf(app.out, "  mounted:   %s on %s\n", res.Device, res.Mountpoint)
	return nil
}

type TeardownCmd struct {
	Name       string `arg:"" optional:"" help:"Device mapper name, defaults to the configured one."`
	Mountpoint string `help:"Mountpoint to release, overrides the config file."`
}

func (c *TeardownCmd) Run(app *App) error {
	if err := CheckPrivileges(app.ctx); err != nil {
		return err
	}
	name := firstNonEmpty(c.Name, app.config.MapperName)
	mountpoint := firstNonEmpty(c.Mountpoint, app.config.Mountpoint)
	return NewDeviceMapper(app.security).Teardown(app.ctx, name, mountpoint)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

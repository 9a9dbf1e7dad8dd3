// Package main provides pushctl, a command line driver for push activation.
// It plays the role of the app and the OS: it asks the controller to activate
// or deactivate and delivers push tokens to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/config"
	"github.com/relaypush/relaypush/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage: pushctl [-config file] [-timeout d] <command> [args]

commands:
  activate [-token hex]   register this device for push
  deactivate              remove the push registration
  status                  print the persisted activation state
  token <hex>             deliver a new OS push token
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	const serviceName = "pushctl"

	fs := flag.NewFlagSet("pushctl", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(config.EnvConfigPath), "YAML configuration file")
	timeout := fs.Duration("timeout", time.Minute, "how long to wait for the operation")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := zerolog.New(os.Stderr).
		Level(cfg.Level()).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := cfg.Telemetry.Environment
	if env == "" {
		env = telemetry.EnvironmentFromRelease(Version)
	}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	var reporter *telemetry.Reporter
	if cfg.Telemetry.SentryDSN != "" {
		reporter, err = telemetry.NewReporter(telemetry.ReporterConfig{
			DSN:         cfg.Telemetry.SentryDSN,
			Environment: env,
			Release:     serviceName + "@" + Version,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize crash reporting")
			return 1
		}
		log = log.Hook(reporter.LogHook())
		defer reporter.Close()
	}

	log.Debug().Str("build_time", BuildTime).Str("command", fs.Arg(0)).Msg("starting pushctl")

	app := &app{
		cfg:      cfg,
		log:      log,
		reporter: reporter,
		meter:    tp.Meter,
		out:      os.Stdout,
	}

	cmdCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := app.dispatch(cmdCtx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		log.Error().Err(err).Str("command", fs.Arg(0)).Msg("command failed")
		fmt.Fprintln(os.Stderr, "pushctl:", err)
		return 1
	}
	return 0
}

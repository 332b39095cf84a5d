package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/modoterra/logrelay/internal/buildinfo"
	"github.com/modoterra/logrelay/pkg/codec"
	"github.com/modoterra/logrelay/pkg/config"
	"github.com/modoterra/logrelay/pkg/daemon"
	"github.com/modoterra/logrelay/pkg/enrich"
	"github.com/modoterra/logrelay/pkg/listener"
	"github.com/modoterra/logrelay/pkg/metrics"
	"github.com/modoterra/logrelay/pkg/transport"
	"github.com/modoterra/logrelay/pkg/transport/resolve"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("logrelayd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return
	}

	flags := pflag.NewFlagSet("logrelayd", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "logrelay.yaml", "path to the configuration file")
	logLevel := flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, *configPath, logger); err != nil {
		logger.Error("logrelayd failed", "err", err)
		os.Exit(1)
	}
}

// run starts the distributor described by the config file and blocks until
// ctx is cancelled or the transport cannot be opened.
func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(f); len(errs) > 0 {
		return fmt.Errorf("%s: %w", configPath, errors.Join(errs...))
	}
	settings, err := config.GetSettings(f)
	if err != nil {
		return err
	}
	cd, err := codec.New(codec.Format(f.Codec.Format), codec.Compression(f.Codec.Compression))
	if err != nil {
		return err
	}

	listeners, err := listener.Build(f.Listeners)
	if err != nil {
		return err
	}
	defer func() {
		if err := listeners.Close(); err != nil {
			logger.Error("close listeners", "err", err)
		}
	}()

	var registry *enrich.Registry
	if f.Distributor.Enrich {
		registry = enrich.NewRegistry(enrich.NewMachineProvider())
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dist := daemon.NewDistributor(settings, resolve.Open, daemon.Options{
		Decoder:        cd,
		Listeners:      listeners.Listeners,
		Registry:       registry,
		Metrics:        metrics.New(promReg),
		Redelivery:     f.Distributor.Redelivery,
		ReceiveTimeout: time.Duration(f.Distributor.ReceiveTimeoutMs) * time.Millisecond,
		MaxPerTick:     f.Distributor.MaxPerTick,
		Logger:         logger,
	})

	ctl := daemon.New(f.Control.Socket, dist, buildinfo.Version, logger)
	if f.Distributor.Redelivery.DeadLetter {
		ctl.SetDeadLetters(func(ctx context.Context, limit int) ([]transport.DeadRecord, error) {
			return resolve.DeadLetters(ctx, settings.TransportPath(), limit)
		})
	}
	defer ctl.Shutdown()
	go func() {
		if err := ctl.Run(ctx); err != nil {
			logger.Error("control socket", "err", err)
		}
	}()

	if f.Control.MetricsAddr != "" {
		go func() {
			router := metrics.NewRouter(promReg, dist.Healthy)
			if err := metrics.Serve(ctx, f.Control.MetricsAddr, router, logger); err != nil {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	go func() {
		select {
		case <-dist.Ready():
			notify(logger, sddaemon.SdNotifyReady)
		case <-ctx.Done():
		}
	}()
	defer notify(logger, sddaemon.SdNotifyStopping)

	logger.Info("starting logrelayd", "version", buildinfo.Version, "config", configPath)
	return dist.Run(ctx)
}

func notify(logger *slog.Logger, state string) {
	if _, err := sddaemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify", "state", state, "err", err)
	}
}

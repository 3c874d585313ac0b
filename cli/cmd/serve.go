package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/pixelport/bridge"
	"github.com/pithecene-io/pixelport/capture"
	"github.com/pithecene-io/pixelport/iox"
	"github.com/pithecene-io/pixelport/metrics"
	"github.com/pithecene-io/pixelport/runtime"
	"github.com/pithecene-io/pixelport/transfer"
)

// Exit codes for serve.
const (
	exitServeFailed = 1
	exitServeConfig = 3
)

// ServeCommand returns the serve command: the long-running device host.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the device host behind the websocket bridge",
		Flags: append(DeviceFlags(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Bridge listen address (enables the bridge)",
			},
			&cli.StringFlag{
				Name:  "record",
				Usage: "Record every fragment to a capture file",
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitServeConfig)
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Bridge.Enabled = true
		cfg.Bridge.Addr = addr
	}
	if !cfg.Bridge.Enabled {
		return cli.Exit(errNoSource.Error(), exitServeConfig)
	}
	devCfg, err := deviceConfig(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitServeConfig)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitServeConfig)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.DeviceID, storageBackend(cfg), adapterName(cfg))

	ad, err := buildAdapter(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitServeConfig)
	}
	var events transfer.EventSink
	if ad != nil {
		pub, err := runtime.NewPublisher(ad, cfg.DeviceID, runtime.PublisherOptions{
			QueueSize: cfg.Adapter.QueueSize,
			Logger:    logger,
			Metrics:   collector,
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("adapter: %v", err), exitServeConfig)
		}
		pub.Start(ctx)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("publisher close failed", map[string]any{"error": err.Error()})
			}
		}()
		events = pub
	}

	archiver, err := buildArchiver(ctx, cfg, false, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitServeFailed)
	}
	if archiver != nil {
		defer func() { _ = archiver.Close() }()
	}

	liveness := runtime.NewLiveness(time.Now)
	dev, err := runtime.NewDevice(devCfg, runtime.DeviceOptions{
		Events:   events,
		Yielder:  liveness.Yielder(),
		Archiver: archiver,
		Logger:   logger,
		Metrics:  collector,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("device: %v", err), exitServeConfig)
	}

	var recorder *capture.Recorder
	if path := c.String("record"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("record: %v", err), exitServeFailed)
		}
		defer iox.DiscardClose(f)
		recorder, err = capture.NewRecorder(f, capture.NewHeader(cfg.Transfer.MTU, cfg.DeviceID), time.Now)
		if err != nil {
			return cli.Exit(fmt.Sprintf("record: %v", err), exitServeFailed)
		}
	}

	host, err := runtime.NewHost(dev.Engine, runtime.HostConfig{
		TickInterval: cfg.Host.TickInterval.Duration,
		QueueSize:    cfg.Host.QueueSize,
	}, runtime.HostOptions{Liveness: liveness, Recorder: recorder, Logger: logger})
	if err != nil {
		return cli.Exit(fmt.Sprintf("host: %v", err), exitServeConfig)
	}

	srv, err := bridge.New(cfg.Bridge.Bridge(), host, bridge.Options{
		Logger:  logger,
		Metrics: collector,
		Health:  healthCheck(liveness, cfg.Host.StallAfter.Duration),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("bridge: %v", err), exitServeConfig)
	}

	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()

	logger.Info("serving", map[string]any{
		"addr":    cfg.Bridge.Addr,
		"path":    cfg.Bridge.Path,
		"adapter": adapterName(cfg),
		"archive": archiver != nil,
	})
	serveErr := srv.ListenAndServe(ctx)
	stop()

	hostErr := <-hostDone
	if err := dev.Close(); err != nil {
		logger.Warn("device close failed", map[string]any{"error": err.Error()})
	}
	logger.Info("stopped", map[string]any{"metrics": collector.Snapshot()})

	if serveErr != nil {
		return cli.Exit(fmt.Sprintf("bridge: %v", serveErr), exitServeFailed)
	}
	if hostErr != nil && !errors.Is(hostErr, context.Canceled) {
		return cli.Exit(fmt.Sprintf("host: %v", hostErr), exitServeFailed)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/server"
	"github.com/skypro1111/handsfree-vad/internal/session"
)

type serveOptions struct {
	handsFree bool
	calibrate bool
}

func newServeCmd(configPath *string) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with its HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, *configPath, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.handsFree, "hands-free", false, "enable hands-free mode at startup (needs a saved profile)")
	cmd.Flags().BoolVar(&opts.calibrate, "calibrate", false, "start a calibration run at startup")
	cmd.MarkFlagsMutuallyExclusive("hands-free", "calibrate")

	return cmd
}

func runServe(ctx context.Context, configPath string, opts serveOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, closer := initLogger(cfg.Logging)
	defer closer.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", server.Version),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("capture", cfg.Capture.Type),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.String("backend_url", cfg.Backend.URL),
		slog.String("playback", cfg.Playback.Type),
		slog.String("profile_path", cfg.Calibration.ProfilePath),
		slog.String("log_level", cfg.Logging.Level),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)

	source, err := newSource(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		return err
	}

	client, err := newClient(cfg.Backend, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create upload client", slog.String("error", err.Error()))
		return err
	}
	defer client.Close()

	player, err := newPlayer(cfg.Playback, logger)
	if err != nil {
		logger.Error("Failed to create player", slog.String("error", err.Error()))
		return err
	}

	hub := server.NewHub(logger)
	engine, err := session.NewEngine(session.NewConfig(cfg), source, client, player, logger, appMetrics,
		session.WithNotifier(hub))
	if err != nil {
		logger.Error("Failed to create engine", slog.String("error", err.Error()))
		return err
	}
	hub.Attach(engine)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, logger, engine, client, hub, reg, appMetrics)
		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	if opts.calibrate || opts.handsFree {
		g.Go(func() error {
			startup(gctx, engine, opts, logger)
			return nil
		})
	}

	logger.Info("Service started, waiting for signals...")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := engine.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("calibrations", stats.Calibrations),
		slog.Uint64("utterances", stats.Utterances),
		slog.Uint64("replies", stats.Replies),
		slog.Uint64("upload_errors", stats.UploadErrors),
		slog.Uint64("playback_errors", stats.PlaybackErrors),
	)

	if err != nil {
		logger.Error("Service stopped with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Service stopped")
	return nil
}

// startup issues the command requested on the command line. Failures are
// logged and leave the daemon running for control over HTTP.
func startup(ctx context.Context, engine *session.Engine, opts serveOptions, logger *slog.Logger) {
	var err error
	if opts.calibrate {
		err = engine.StartCalibration(ctx)
	} else {
		err = engine.StartHandsFree(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotCalibrated):
		logger.Warn("Hands-free not started: no saved profile")
	case errors.Is(err, context.Canceled), errors.Is(err, session.ErrEngineStopped):
	default:
		logger.Warn("Startup command failed", slog.String("error", err.Error()))
	}
}

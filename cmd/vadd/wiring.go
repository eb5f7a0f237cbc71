package main

import (
	"fmt"
	"log/slog"

	"github.com/skypro1111/handsfree-vad/internal/capture"
	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/playback"
	"github.com/skypro1111/handsfree-vad/internal/transport"
)

// newSource builds the capture source named by the capture section
func newSource(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (capture.Source, error) {
	frameSize := cfg.Audio.FrameSize

	switch cfg.Capture.Type {
	case config.CaptureUDP:
		return capture.NewUDPSource(&cfg.Capture, frameSize, logger, m), nil
	case config.CaptureFile:
		return capture.NewFileSource(cfg.Capture.FilePath, frameSize, cfg.Capture.Realtime, clock.Real(), logger, m), nil
	case config.CaptureMicrophone:
		return capture.NewMicrophone(frameSize, cfg.Capture.QueueSize, clock.Real(), logger, m)
	default:
		return nil, fmt.Errorf("unknown capture type %q", cfg.Capture.Type)
	}
}

// newPlayer builds the reply audio sink named by the playback section
func newPlayer(cfg config.PlaybackConfig, logger *slog.Logger) (playback.Player, error) {
	switch cfg.Type {
	case config.PlaybackSpool:
		return playback.NewSpool(cfg.Dir, logger)
	case config.PlaybackCommand:
		return playback.NewCommand(cfg.Command, logger)
	case config.PlaybackDiscard:
		return playback.NewDiscard(), nil
	default:
		return nil, fmt.Errorf("unknown playback type %q", cfg.Type)
	}
}

// newClient builds the voice service upload client
func newClient(cfg config.BackendConfig, logger *slog.Logger, m *metrics.Metrics) (*transport.Client, error) {
	return transport.NewClient(transport.Config{
		BaseURL:       cfg.URL,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
	}, logger, m)
}

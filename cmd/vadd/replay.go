package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/capture"
	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/playback"
	"github.com/skypro1111/handsfree-vad/internal/session"
	"github.com/skypro1111/handsfree-vad/internal/transport"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

type replayOptions struct {
	profilePath string
	outDir      string
	upload      bool
}

func newReplayCmd(configPath *string) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Cut a recording into utterances with a saved profile",
		Long: "Replay runs the speech gate over a WAV recording, writes every detected\n" +
			"utterance to the output directory and optionally uploads each one to the\n" +
			"voice service. Reply audio is spooled next to the utterances.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			logger, closer := initLogger(cfg.Logging)
			defer closer.Close()

			return runReplay(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&opts.profilePath, "profile", "", "voice profile file (default: calibration.profile_path)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "utterances", "directory for utterance WAV files")
	cmd.Flags().BoolVar(&opts.upload, "upload", false, "upload each utterance to the voice service")

	return cmd
}

func runReplay(ctx context.Context, cfg *config.Config, input string, opts replayOptions, out io.Writer, logger *slog.Logger) error {
	profilePath := opts.profilePath
	if profilePath == "" {
		profilePath = cfg.Calibration.ProfilePath
	}
	if profilePath == "" {
		return fmt.Errorf("no profile: pass --profile or set calibration.profile_path")
	}

	profile, err := vad.LoadProfile(profilePath)
	if err != nil {
		return err
	}

	start := time.Now()
	frames, inputRate, err := capture.LoadFrames(input, cfg.Audio.FrameSize, start)
	if err != nil {
		return err
	}

	processor, err := vad.NewProcessor(cfg.VAD.ExtractorConfig(cfg.Audio.SampleRate), cfg.VAD.GateConfig(), cfg.Audio.FrameSize)
	if err != nil {
		return err
	}

	utterances, err := session.SegmentFrames(processor, profile, frames, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}

	logger.Info("Recording segmented",
		slog.String("input", input),
		slog.Int("input_rate", inputRate),
		slog.Int("frames", len(frames)),
		slog.Int("utterances", len(utterances)),
	)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		client *transport.Client
		player playback.Player
	)
	if opts.upload {
		client, err = newClient(cfg.Backend, logger, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		if player, err = playback.NewSpool(opts.outDir, logger); err != nil {
			return err
		}
	}

	for i, utt := range utterances {
		wav, err := audio.EncodeUtterance(utt.Frames, utt.SampleRate)
		if err != nil {
			return fmt.Errorf("utterance %d: %w", i+1, err)
		}

		path := filepath.Join(opts.outDir, fmt.Sprintf("utterance-%03d.wav", i+1))
		if err := os.WriteFile(path, wav, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Fprintf(out, "%s  at %6.2fs  %5.2fs\n",
			path, utt.StartedAt.Sub(start).Seconds(), utt.Duration().Seconds())

		if client == nil {
			continue
		}

		reply, err := client.Send(ctx, &transport.Upload{
			UtteranceID: utt.ID,
			WAV:         wav,
			Duration:    utt.Duration(),
			SampleRate:  utt.SampleRate,
		})
		switch {
		case errors.Is(err, transport.ErrEmptyTranscript):
			fmt.Fprintln(out, "  Nothing recognized")
			continue
		case err != nil:
			fmt.Fprintf(out, "  Upload error: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "  User → %s\n", reply.UserText)
		fmt.Fprintf(out, "  AI → %s\n", reply.ReplyText)
		if reply.HasAudio() {
			if err := player.Play(ctx, reply.Audio, reply.AudioMIME); err != nil {
				fmt.Fprintf(out, "  TTS play error: %v\n", err)
			}
		}
	}

	fmt.Fprintf(out, "%d utterance(s) written to %s\n", len(utterances), opts.outDir)
	return nil
}

// Command mockbackend serves a local stand-in for the voice service so the
// daemon can be exercised without speech recognition or synthesis accounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/handsfree-vad/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr string
		cfg  handlerConfig
	)

	cmd := &cobra.Command{
		Use:          "mockbackend",
		Short:        "Serve a fake /api/voice endpoint for local testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, addr, newVoiceHandler(cfg, logger), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	cmd.Flags().DurationVar(&cfg.MinDuration, "min-duration", 300*time.Millisecond, "uploads shorter than this return empty_transcript")
	cmd.Flags().IntVar(&cfg.Turns, "turns", 0, "end the session after this many replies (0 = never)")
	cmd.Flags().BoolVar(&cfg.Audio, "audio", true, "attach a synthesized reply tone")
	cmd.Flags().DurationVar(&cfg.Delay, "delay", 200*time.Millisecond, "simulated processing time")

	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(transport.VoicePath, handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock voice service starting",
			slog.String("address", addr),
			slog.String("endpoint", transport.VoicePath),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

//go:build !portaudio

package capture

import (
	"fmt"
	"log/slog"

	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
)

// NewMicrophone reports that microphone capture needs the portaudio build tag
func NewMicrophone(frameSize, queueSize int, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) (Source, error) {
	return nil, fmt.Errorf("microphone capture: %w (rebuild with -tags portaudio)", ErrUnsupported)
}

//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
)

// Microphone captures the default input device through PortAudio
type Microphone struct {
	frameSize int
	queueSize int
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	stream *portaudio.Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running         bool
	framesDelivered uint64
	framesDropped   uint64
	mu              sync.RWMutex
}

// NewMicrophone creates a microphone source
func NewMicrophone(frameSize, queueSize int, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) (Source, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Microphone{
		frameSize: frameSize,
		queueSize: queueSize,
		clock:     clk,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Name identifies the source in logs and stats
func (s *Microphone) Name() string {
	return "microphone"
}

// Start opens the default input stream at 16 kHz mono
func (s *Microphone) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to init PortAudio: %w", err)
	}

	buf := make([]float32, s.frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	out := make(chan audio.Frame, s.queueSize)
	s.stream = stream
	s.cancel = cancel
	s.running = true

	s.logger.Info("Microphone capture started",
		slog.Int("sample_rate", audio.SampleRate),
		slog.Int("frame_size", s.frameSize),
	)

	s.wg.Add(1)
	go s.readLoop(readCtx, stream, buf, out)

	return out, nil
}

func (s *Microphone) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, out chan<- audio.Frame) {
	defer s.wg.Done()
	defer close(out)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			s.logger.Error("Failed to read input stream", slog.String("error", err.Error()))
			return
		}

		samples := make([]float32, len(buf))
		copy(samples, buf)
		frame := audio.Frame{Sequence: seq, Samples: samples, CapturedAt: s.clock.Now()}
		seq++

		select {
		case out <- frame:
			s.mu.Lock()
			s.framesDelivered++
			s.mu.Unlock()
			s.metrics.RecordCaptureFrame()
		default:
			s.mu.Lock()
			s.framesDropped++
			s.mu.Unlock()
			s.metrics.RecordCaptureDrop()
		}
	}
}

// Stop ends capture and releases PortAudio
func (s *Microphone) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	stream := s.stream
	s.mu.Unlock()

	s.wg.Wait()

	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop input stream: %w", err)
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close input stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	s.logger.Info("Microphone capture stopped")
	return firstErr
}

// Stats returns capture statistics
func (s *Microphone) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Source:          s.Name(),
		Running:         s.running,
		FramesDelivered: s.framesDelivered,
		FramesDropped:   s.framesDropped,
		InputSampleRate: audio.SampleRate,
	}
}

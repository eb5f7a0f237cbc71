package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/clock"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
)

// LoadFrames reads a 16-bit PCM WAV file, downmixes it to mono, resamples it
// to the pipeline rate and cuts it into frames. The last frame is zero-padded.
func LoadFrames(path string, frameSize int, start time.Time) ([]audio.Frame, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stream, err := audio.ReadWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	resampler, err := NewResampler(stream.SampleRate, audio.SampleRate)
	if err != nil {
		return nil, 0, err
	}

	samples, err := resampler.Process(stream.Mono())
	if err != nil {
		return nil, 0, err
	}

	return audio.SplitFrames(samples, frameSize, 0, start, audio.SampleRate), stream.SampleRate, nil
}

// FileSource plays a WAV file as a capture stream, optionally paced at the
// speed it would be captured live
type FileSource struct {
	path      string
	frameSize int
	realtime  bool
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup

	running         bool
	inputRate       int
	framesDelivered uint64
	mu              sync.RWMutex
}

// NewFileSource creates a file-backed source
func NewFileSource(path string, frameSize int, realtime bool, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *FileSource {
	if clk == nil {
		clk = clock.Real()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &FileSource{
		path:      path,
		frameSize: frameSize,
		realtime:  realtime,
		clock:     clk,
		logger:    logger,
		metrics:   m,
	}
}

// Name identifies the source in logs and stats
func (s *FileSource) Name() string {
	return "file"
}

// Start decodes the file and begins delivering frames. The channel is closed
// after the last frame.
func (s *FileSource) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	frames, rate, err := LoadFrames(s.path, s.frameSize, s.clock.Now())
	if err != nil {
		return nil, err
	}

	playCtx, cancel := context.WithCancel(ctx)
	out := make(chan audio.Frame)
	s.cancel = cancel
	s.running = true
	s.inputRate = rate

	s.logger.Info("File capture started",
		slog.String("path", s.path),
		slog.Int("input_sample_rate", rate),
		slog.Int("frames", len(frames)),
		slog.Bool("realtime", s.realtime),
	)

	s.wg.Add(1)
	go s.play(playCtx, frames, out)

	return out, nil
}

func (s *FileSource) play(ctx context.Context, frames []audio.Frame, out chan<- audio.Frame) {
	defer s.wg.Done()
	defer close(out)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, frame := range frames {
		if s.realtime {
			select {
			case <-s.clock.After(frame.Duration(audio.SampleRate)):
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- frame:
			s.mu.Lock()
			s.framesDelivered++
			s.mu.Unlock()
			s.metrics.RecordCaptureFrame()
		case <-ctx.Done():
			return
		}
	}

	s.logger.Info("File capture finished", slog.String("path", s.path))
}

// Stop cancels playback and waits for it to exit
func (s *FileSource) Stop() error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	return nil
}

// Stats returns capture statistics
func (s *FileSource) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Source:          s.Name(),
		Running:         s.running,
		FramesDelivered: s.framesDelivered,
		InputSampleRate: s.inputRate,
	}
}

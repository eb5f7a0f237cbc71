package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
)

var (
	// ErrAlreadyStarted is returned by Start on a running source
	ErrAlreadyStarted = errors.New("capture source already started")
	// ErrUnsupported is returned by sources the binary was built without
	ErrUnsupported = errors.New("capture source not supported in this build")
)

// Source delivers audio frames in capture order. The returned channel is
// closed when the source stops, either through Stop or because its input ended.
type Source interface {
	Start(ctx context.Context) (<-chan audio.Frame, error)
	Stop() error
	Name() string
	Stats() Stats
}

// Stats represents capture statistics for monitoring
type Stats struct {
	Source          string `json:"source"`
	Running         bool   `json:"running"`
	FramesDelivered uint64 `json:"frames_delivered"`
	FramesDropped   uint64 `json:"frames_dropped"`
	SequenceGaps    uint64 `json:"sequence_gaps"`
	ParseErrors     uint64 `json:"parse_errors"`
	InputSampleRate int    `json:"input_sample_rate"`
}

// Framer cuts arbitrarily sized sample blocks into fixed-size frames with
// consecutive sequence numbers
type Framer struct {
	frameSize  int
	sampleRate int

	pending []float32
	next    uint64
	base    time.Time
	emitted int // samples emitted since base

	mu sync.Mutex
}

// NewFramer creates a framer producing frames of frameSize samples
func NewFramer(frameSize, sampleRate int) *Framer {
	return &Framer{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		pending:    make([]float32, 0, frameSize*2),
	}
}

// Push appends samples and returns every complete frame. at is the capture
// time of the first pushed sample after a Reset.
func (f *Framer) Push(samples []float32, at time.Time) []audio.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.base.IsZero() {
		f.base = at
	}
	f.pending = append(f.pending, samples...)

	var frames []audio.Frame
	for len(f.pending) >= f.frameSize {
		chunk := make([]float32, f.frameSize)
		copy(chunk, f.pending[:f.frameSize])

		frames = append(frames, audio.Frame{
			Sequence:   f.next,
			Samples:    chunk,
			CapturedAt: f.base.Add(time.Duration(f.emitted) * time.Second / time.Duration(f.sampleRate)),
		})

		f.next++
		f.emitted += f.frameSize
		f.pending = f.pending[f.frameSize:]
	}

	// Compact so the backing array does not grow without bound
	if len(f.pending) == 0 {
		f.pending = f.pending[:0:cap(f.pending)]
	} else if cap(f.pending) > 4*f.frameSize {
		f.pending = append(make([]float32, 0, f.frameSize*2), f.pending...)
	}

	return frames
}

// Pending returns the number of samples waiting for a complete frame
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pending)
}

// Reset discards pending samples and restarts sequence numbering at zero
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = f.pending[:0]
	f.next = 0
	f.base = time.Time{}
	f.emitted = 0
}

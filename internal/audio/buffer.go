package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSequence is returned when a frame arrives with a sequence number at or
// below the last buffered one
var ErrSequence = errors.New("frame out of sequence")

// Buffer accumulates frames of one utterance in capture order and tracks
// sequence gaps left by lost frames
type Buffer struct {
	sampleRate int

	frames []Frame

	// Sequence tracking
	started bool
	lastSeq uint64

	// Timing and metadata
	lastUpdate   time.Time
	totalFrames  uint64 // frames appended since creation
	lostFrames   uint64 // frames skipped by sequence gaps
	rejectFrames uint64 // duplicate or reordered frames

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	BufferedFrames  int     `json:"buffered_frames"`
	BufferedSamples int     `json:"buffered_samples"`
	DurationSeconds float64 `json:"duration_seconds"`
	TotalFrames     uint64  `json:"total_frames"`
	LostFrames      uint64  `json:"lost_frames"`
	RejectedFrames  uint64  `json:"rejected_frames"`
	LossRate        float64 `json:"loss_rate"`
	LastSequence    uint64  `json:"last_sequence"`
}

// NewBuffer creates an empty frame buffer
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		frames:     make([]Frame, 0, 32),
	}
}

// Append adds a frame after the last buffered one. Frames whose sequence does
// not advance are rejected with ErrSequence; forward jumps are counted as loss.
func (b *Buffer) Append(frame Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && frame.Sequence <= b.lastSeq {
		b.rejectFrames++
		return fmt.Errorf("%w: got %d after %d", ErrSequence, frame.Sequence, b.lastSeq)
	}

	if b.started && frame.Sequence > b.lastSeq+1 {
		b.lostFrames += frame.Sequence - b.lastSeq - 1
	}

	b.frames = append(b.frames, frame)
	b.started = true
	b.lastSeq = frame.Sequence
	b.totalFrames++
	b.lastUpdate = time.Now()

	return nil
}

// Frames returns a copy of the buffered frames in order
func (b *Buffer) Frames() []Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Take returns the buffered frames and empties the buffer. Sequence tracking
// continues so the next utterance is still checked for ordering.
func (b *Buffer) Take() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.frames
	b.frames = make([]Frame, 0, cap(out))
	return out
}

// Reset discards buffered frames without touching sequence tracking
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = b.frames[:0:0]
}

// Len returns the number of buffered frames
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.frames)
}

// NumSamples returns the number of buffered samples
func (b *Buffer) NumSamples() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.numSamples()
}

func (b *Buffer) numSamples() int {
	n := 0
	for _, f := range b.frames {
		n += len(f.Samples)
	}
	return n
}

// Duration returns the audio length currently buffered
func (b *Buffer) Duration() time.Duration {
	return samplesDuration(b.NumSamples(), b.sampleRate)
}

// GetLastUpdate returns when a frame was last appended
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lastUpdate
}

// GetStats returns buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	samples := b.numSamples()
	lossRate := 0.0
	if expected := b.totalFrames + b.lostFrames; expected > 0 {
		lossRate = float64(b.lostFrames) / float64(expected)
	}

	return BufferStats{
		BufferedFrames:  len(b.frames),
		BufferedSamples: samples,
		DurationSeconds: samplesDuration(samples, b.sampleRate).Seconds(),
		TotalFrames:     b.totalFrames,
		LostFrames:      b.lostFrames,
		RejectedFrames:  b.rejectFrames,
		LossRate:        lossRate,
		LastSequence:    b.lastSeq,
	}
}

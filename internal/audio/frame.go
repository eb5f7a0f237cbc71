package audio

import (
	"time"
)

// Pipeline format
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	FrameSize     = 2048 // samples per capture frame (128ms at 16kHz)
)

// Frame is one fixed-length slice of mono audio with samples normalized to [-1, 1].
// Frames are treated as immutable once delivered.
type Frame struct {
	Sequence   uint64    `json:"sequence"`
	Samples    []float32 `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
}

// Duration returns the frame length at the given sample rate
func (f Frame) Duration(sampleRate int) time.Duration {
	return samplesDuration(len(f.Samples), sampleRate)
}

// Utterance is one continuous run of detected speech, from the rising-edge frame
// through the falling-edge frame
type Utterance struct {
	ID         string    `json:"id"`
	Frames     []Frame   `json:"-"`
	SampleRate int       `json:"sample_rate"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// NumSamples returns the total sample count across all frames
func (u *Utterance) NumSamples() int {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	return n
}

// Duration returns the audio length of the utterance
func (u *Utterance) Duration() time.Duration {
	return samplesDuration(u.NumSamples(), u.SampleRate)
}

// Samples concatenates the frames in order
func (u *Utterance) Samples() []float32 {
	return MergeFrames(u.Frames)
}

// MergeFrames concatenates frame samples into one flat sequence, preserving order
func MergeFrames(frames []Frame) []float32 {
	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}

	merged := make([]float32, 0, total)
	for _, f := range frames {
		merged = append(merged, f.Samples...)
	}
	return merged
}

// SplitFrames cuts a flat sample sequence into frames of frameSize samples.
// A trailing partial frame is zero-padded.
func SplitFrames(samples []float32, frameSize int, firstSeq uint64, start time.Time, sampleRate int) []Frame {
	if frameSize <= 0 || len(samples) == 0 {
		return nil
	}

	frames := make([]Frame, 0, (len(samples)+frameSize-1)/frameSize)
	for offset := 0; offset < len(samples); offset += frameSize {
		chunk := make([]float32, frameSize)
		copy(chunk, samples[offset:min(offset+frameSize, len(samples))])

		frames = append(frames, Frame{
			Sequence:   firstSeq + uint64(len(frames)),
			Samples:    chunk,
			CapturedAt: start.Add(samplesDuration(offset, sampleRate)),
		})
	}
	return frames
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

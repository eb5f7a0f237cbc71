package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SegmenterState is the recording state of a Segmenter
type SegmenterState int

const (
	// SegmenterIdle waits for a rising edge
	SegmenterIdle SegmenterState = iota
	// SegmenterRecording buffers every frame until a falling edge
	SegmenterRecording
	// SegmenterBusy ignores frames until the emitted utterance is released
	SegmenterBusy
)

func (s SegmenterState) String() string {
	switch s {
	case SegmenterIdle:
		return "idle"
	case SegmenterRecording:
		return "recording"
	case SegmenterBusy:
		return "busy"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SegmentEvent describes what a single Process call did
type SegmentEvent int

const (
	// EventNone means a non-speech frame arrived while idle
	EventNone SegmentEvent = iota
	// EventIgnored means the frame was dropped because an utterance is in flight
	EventIgnored
	// EventSpeechStarted marks the rising edge
	EventSpeechStarted
	// EventFrameBuffered means a speech frame was appended while recording
	EventFrameBuffered
	// EventUtteranceReady marks the falling edge; the utterance is returned alongside
	EventUtteranceReady
)

func (e SegmentEvent) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventIgnored:
		return "ignored"
	case EventSpeechStarted:
		return "speech_started"
	case EventFrameBuffered:
		return "frame_buffered"
	case EventUtteranceReady:
		return "utterance_ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// SegmenterStats represents segmenter statistics for monitoring
type SegmenterStats struct {
	State         string      `json:"state"`
	Utterances    uint64      `json:"utterances"`
	IgnoredFrames uint64      `json:"ignored_frames"`
	DroppedFrames uint64      `json:"dropped_frames"`
	LastUtterance string      `json:"last_utterance,omitempty"`
	Buffer        BufferStats `json:"buffer"`
}

// Segmenter turns per-frame speech verdicts into utterances. At most one
// utterance is in flight: after a falling edge every frame is ignored until
// Release is called.
type Segmenter struct {
	sampleRate int
	state      SegmenterState
	buffer     *Buffer

	utterances    uint64
	ignoredFrames uint64
	droppedFrames uint64 // cut short by Reset while recording
	lastID        string

	mu sync.Mutex
}

// NewSegmenter creates an idle segmenter for frames at the given sample rate
func NewSegmenter(sampleRate int) *Segmenter {
	return &Segmenter{
		sampleRate: sampleRate,
		buffer:     NewBuffer(sampleRate),
	}
}

// Process feeds one frame and its gate verdict. When the returned event is
// EventUtteranceReady the utterance holds the rising-edge frame through the
// falling-edge frame and the segmenter is busy until Release.
func (s *Segmenter) Process(frame Frame, isSpeech bool) (SegmentEvent, *Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SegmenterBusy:
		s.ignoredFrames++
		return EventIgnored, nil, nil

	case SegmenterIdle:
		if !isSpeech {
			return EventNone, nil, nil
		}
		s.buffer = NewBuffer(s.sampleRate)
		if err := s.buffer.Append(frame); err != nil {
			return EventNone, nil, err
		}
		s.state = SegmenterRecording
		return EventSpeechStarted, nil, nil

	default:
		if err := s.buffer.Append(frame); err != nil {
			return EventFrameBuffered, nil, err
		}
		if isSpeech {
			return EventFrameBuffered, nil, nil
		}
	}

	frames := s.buffer.Take()
	utt := &Utterance{
		ID:         uuid.NewString(),
		Frames:     frames,
		SampleRate: s.sampleRate,
		StartedAt:  frames[0].CapturedAt,
		EndedAt:    frames[len(frames)-1].CapturedAt.Add(frames[len(frames)-1].Duration(s.sampleRate)),
	}

	s.state = SegmenterBusy
	s.utterances++
	s.lastID = utt.ID

	return EventUtteranceReady, utt, nil
}

// Release ends the busy period after the in-flight utterance was handled
func (s *Segmenter) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SegmenterBusy {
		s.state = SegmenterIdle
	}
}

// Reset drops any partial utterance and returns to idle. Sequence tracking
// restarts so a new capture session may begin from any sequence number.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SegmenterRecording {
		s.droppedFrames += uint64(s.buffer.Len())
	}
	s.state = SegmenterIdle
	s.buffer = NewBuffer(s.sampleRate)
}

// State returns the current recording state
func (s *Segmenter) State() SegmenterState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Recording reports whether a speech run is being buffered
func (s *Segmenter) Recording() bool {
	return s.State() == SegmenterRecording
}

// BufferedDuration returns the audio length of the partial utterance
func (s *Segmenter) BufferedDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buffer.Duration()
}

// GetStats returns segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		State:         s.state.String(),
		Utterances:    s.utterances,
		IgnoredFrames: s.ignoredFrames,
		DroppedFrames: s.droppedFrames,
		LastUtterance: s.lastID,
		Buffer:        s.buffer.GetStats(),
	}
}

package session

import (
	"fmt"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

// SegmentFrames runs the gate and segmenter over a finished recording and
// returns every utterance it contains. Each utterance is released right away,
// so none of the input is ignored. A speech run still open at the end of the
// input has no falling edge and is not returned.
func SegmentFrames(processor *vad.Processor, profile vad.Profile, frames []audio.Frame, sampleRate int) ([]*audio.Utterance, error) {
	segmenter := audio.NewSegmenter(sampleRate)

	var utterances []*audio.Utterance
	for _, frame := range frames {
		result, err := processor.Process(frame.Samples, &profile)
		if err != nil {
			return utterances, fmt.Errorf("frame %d: %w", frame.Sequence, err)
		}

		event, utt, err := segmenter.Process(frame, result.IsSpeech)
		if err != nil {
			return utterances, fmt.Errorf("frame %d: %w", frame.Sequence, err)
		}

		if event == audio.EventUtteranceReady {
			utterances = append(utterances, utt)
			segmenter.Release()
		}
	}

	return utterances, nil
}

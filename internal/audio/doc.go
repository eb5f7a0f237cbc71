// Package audio handles audio frames, utterance buffering and segmentation, and
// encoding to WAV for transport. It turns a run of speech frames into a complete
// utterance and serializes it as 16-bit mono PCM.
package audio

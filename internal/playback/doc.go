// Package playback hands synthesized reply audio to an output. Play blocks
// until the output has finished with the audio.
package playback

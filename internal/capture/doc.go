// Package capture provides the audio sources that feed the engine with
// fixed-length 16 kHz mono frames: a UDP receiver for frames pushed by a
// remote capture process, a WAV file player and, when built with the
// portaudio tag, the default microphone.
package capture

// Package vad implements adaptive voice activity detection. It extracts per-frame
// energy and pitch features, holds the calibrated voice profile, and gates each frame
// into speech or non-speech relative to that profile.
package vad

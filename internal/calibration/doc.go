// Package calibration runs the two-phase timed procedure (room noise, then the
// speaker's voice) that produces a voice profile.
package calibration

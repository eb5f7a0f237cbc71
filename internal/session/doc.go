// Package session implements the hands-free engine: a single goroutine that
// owns the capture stream and routes every frame either to calibration or to
// the speech gate and segmenter, hands finished utterances to the voice
// service and plays the replies.
//
// Control methods (StartCalibration, StartHandsFree, StopHandsFree) are safe
// for concurrent use; they are executed by the engine goroutine in order with
// frame delivery. Status changes and log lines are published to Notifiers.
package session

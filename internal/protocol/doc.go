// Package protocol implements the frame datagram format used to stream
// captured audio into the engine over UDP. Each datagram carries an 8-byte
// header followed by either a control payload (capture start/stop) or a
// sequenced block of PCM16 or float32 samples.
package protocol

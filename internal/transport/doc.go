// Package transport uploads encoded utterances to the remote voice service
// and parses its structured reply: the recognized user text, the generated
// reply text, optional synthesized audio and the session termination flag.
package transport

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/skypro1111/handsfree-vad/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeControl = 0x01
	PacketTypeAudio   = 0x02

	// Sample encodings
	EncodingPCM16   = 0x01 // signed 16-bit little-endian
	EncodingFloat32 = 0x02 // IEEE 754 float32 little-endian

	// Control commands
	CommandStart = 0x01 // a capture session begins, sequence restarts
	CommandStop  = 0x02 // the capture session ended

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	ControlPayloadSize     = 9 // 1 + 4 + 4 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)

	// MaxPacketSize bounds a datagram so that PacketLen fits its field
	MaxPacketSize = math.MaxUint16
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][SourceID:4][Encoding:1]
type Header struct {
	PacketType uint8  // 0x01=Control, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SourceID   uint32 // Capture source identifier
	Encoding   uint8  // 0x01=PCM16, 0x02=Float32
}

// ControlPayload represents the 9-byte control packet payload
// Layout: [Command:1][SampleRate:4][Timestamp:4]
type ControlPayload struct {
	Command    uint8
	SampleRate uint32 // Sample rate of the audio that follows
	Timestamp  uint32 // Unix timestamp
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Frame sequence number
	AudioData []byte // Encoded samples (variable length)
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header  *Header
	Control *ControlPayload // Only set for control packets
	Audio   *AudioPayload   // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SourceID:   binary.BigEndian.Uint32(data[3:7]),
		Encoding:   data[7],
	}

	return header, nil
}

// ParseControlPayload parses the 9-byte control packet payload
func ParseControlPayload(data []byte) (*ControlPayload, error) {
	if len(data) < ControlPayloadSize {
		return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d",
			ControlPayloadSize, len(data))
	}

	payload := &ControlPayload{
		Command:    data[0],
		SampleRate: binary.BigEndian.Uint32(data[1:5]),
		Timestamp:  binary.BigEndian.Uint32(data[5:9]),
	}

	if payload.Command != CommandStart && payload.Command != CommandStop {
		return nil, fmt.Errorf("unknown control command: 0x%02x", payload.Command)
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeControl:
		payload, err := ParseControlPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse control payload: %w", err)
		}
		packet.Control = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketType == PacketTypeAudio && !IsValidEncoding(header.Encoding) {
		return fmt.Errorf("invalid encoding: 0x%02x", header.Encoding)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeControl:
		if expectedPayloadSize != ControlPayloadSize {
			return fmt.Errorf("control packet payload size mismatch: expected %d, got %d",
				ControlPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
		sampleBytes := expectedPayloadSize - AudioPayloadHeaderSize
		if width := SampleWidth(header.Encoding); sampleBytes%width != 0 {
			return fmt.Errorf("audio data length %d is not a multiple of sample width %d", sampleBytes, width)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeControl || ptype == PacketTypeAudio
}

// IsValidEncoding checks if the sample encoding is valid
func IsValidEncoding(enc uint8) bool {
	return enc == EncodingPCM16 || enc == EncodingFloat32
}

// SampleWidth returns the byte width of one sample in the given encoding
func SampleWidth(enc uint8) int {
	if enc == EncodingFloat32 {
		return 4
	}
	return 2
}

// DecodeSamples converts audio payload bytes into normalized samples
func DecodeSamples(data []byte, enc uint8) ([]float32, error) {
	switch enc {
	case EncodingPCM16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("odd PCM16 payload length: %d", len(data))
		}
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = audio.PCM16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
		return out, nil

	case EncodingFloat32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("invalid encoding: 0x%02x", enc)
	}
}

// EncodeAudioPacket builds an audio packet for the given samples
func EncodeAudioPacket(sourceID, sequence uint32, enc uint8, samples []float32) ([]byte, error) {
	if !IsValidEncoding(enc) {
		return nil, fmt.Errorf("invalid encoding: 0x%02x", enc)
	}

	size := HeaderSize + AudioPayloadHeaderSize + len(samples)*SampleWidth(enc)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, Header{PacketType: PacketTypeAudio, PacketLen: uint16(size), SourceID: sourceID, Encoding: enc})
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)

	data := buf[HeaderSize+AudioPayloadHeaderSize:]
	for i, s := range samples {
		if enc == EncodingFloat32 {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
			continue
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(audio.FloatToPCM16(s)))
	}

	return buf, nil
}

// EncodeControlPacket builds a control packet
func EncodeControlPacket(sourceID uint32, payload ControlPayload) []byte {
	buf := make([]byte, HeaderSize+ControlPayloadSize)
	putHeader(buf, Header{PacketType: PacketTypeControl, PacketLen: uint16(len(buf)), SourceID: sourceID})

	p := buf[HeaderSize:]
	p[0] = payload.Command
	binary.BigEndian.PutUint32(p[1:5], payload.SampleRate)
	binary.BigEndian.PutUint32(p[5:9], payload.Timestamp)

	return buf
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.PacketType
	binary.BigEndian.PutUint16(buf[1:3], h.PacketLen)
	binary.BigEndian.PutUint32(buf[3:7], h.SourceID)
	buf[7] = h.Encoding
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType, encoding string

	switch h.PacketType {
	case PacketTypeControl:
		packetType = "Control"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	switch h.Encoding {
	case EncodingPCM16:
		encoding = "PCM16"
	case EncodingFloat32:
		encoding = "Float32"
	default:
		encoding = fmt.Sprintf("Unknown(0x%02x)", h.Encoding)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SourceID:%d, Encoding:%s}",
		packetType, h.PacketLen, h.SourceID, encoding)
}

// String returns a human-readable representation of the control payload
func (c *ControlPayload) String() string {
	command := "Start"
	if c.Command == CommandStop {
		command = "Stop"
	}
	return fmt.Sprintf("ControlPayload{Command:%s, SampleRate:%d, Timestamp:%d}", command, c.SampleRate, c.Timestamp)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
